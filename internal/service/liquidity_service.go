package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/platform/custody"
)

// depositLookback bounds how far back the deposit confirmation check scans.
const depositLookback = 24 * time.Hour

// DepositSource lists confirmed deposits from the custody bridge.
type DepositSource interface {
	ListDeposits(ctx context.Context, since time.Time) ([]custody.Deposit, error)
}

// LiquidityService adds and removes spot liquidity and owns the LP
// position rows those operations create and retire.
type LiquidityService struct {
	venue     *VenueService
	positions domain.PositionStore
	bus       domain.SignalBus
	audit     domain.AuditStore
	logger    *slog.Logger

	custody DepositSource // optional
}

// NewLiquidityService creates a LiquidityService with all required
// dependencies.
func NewLiquidityService(
	venue *VenueService,
	positions domain.PositionStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *LiquidityService {
	return &LiquidityService{
		venue:     venue,
		positions: positions,
		bus:       bus,
		audit:     audit,
		logger:    logger,
	}
}

// WithCustody attaches the custody bridge for deposit confirmation checks.
func (s *LiquidityService) WithCustody(c DepositSource) *LiquidityService {
	s.custody = c
	return s
}

// AddLiquidityInput describes one add-liquidity request.
type AddLiquidityInput struct {
	MarketID string
	Owner    string
	AssetIn  uint64
	StableIn uint64
}

// AddLiquidity deposits reserves into the spot pool's live bucket and mints
// an LP position for the owner. Rejected while a proposal is attached.
func (s *LiquidityService) AddLiquidity(ctx context.Context, in AddLiquidityInput) (domain.LPPosition, error) {
	now := time.Now().UTC()
	s.checkDeposit(ctx, in)

	var lp uint64
	err := s.venue.withMarket(ctx, in.MarketID, func(h *marketHandle) error {
		var addErr error
		lp, addErr = h.eng.AddLiquidity(in.AssetIn, in.StableIn)
		if addErr != nil {
			return addErr
		}
		return s.venue.commit(ctx, h)
	})
	if err != nil {
		return domain.LPPosition{}, fmt.Errorf("liquidity_service: add on %q: %w", in.MarketID, err)
	}

	pos := domain.LPPosition{
		ID:        uuid.NewString(),
		MarketID:  in.MarketID,
		Owner:     in.Owner,
		Amount:    lp,
		Bucket:    domain.BucketLive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.positions.Create(ctx, pos); err != nil {
		return domain.LPPosition{}, fmt.Errorf("liquidity_service: create position for %q: %w", in.Owner, err)
	}

	evt, _ := json.Marshal(newEvent(domain.EventLiquidityAdded, in.MarketID, "", map[string]any{
		"position_id": pos.ID,
		"owner":       pos.Owner,
		"asset_in":    fmt.Sprintf("%d", in.AssetIn),
		"stable_in":   fmt.Sprintf("%d", in.StableIn),
		"lp_minted":   fmt.Sprintf("%d", lp),
	}))
	if pubErr := s.bus.Publish(ctx, EventsChannel, evt); pubErr != nil {
		s.logger.WarnContext(ctx, "liquidity_service: publish event failed",
			slog.String("position_id", pos.ID),
			slog.String("error", pubErr.Error()),
		)
	}
	if auditErr := s.audit.Log(ctx, "liquidity_added", map[string]any{
		"position_id": pos.ID,
		"market_id":   in.MarketID,
		"owner":       in.Owner,
		"asset_in":    in.AssetIn,
		"stable_in":   in.StableIn,
		"lp_minted":   lp,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "liquidity_service: audit log failed",
			slog.String("position_id", pos.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "liquidity_service: liquidity added",
		slog.String("position_id", pos.ID),
		slog.String("market_id", in.MarketID),
		slog.Uint64("lp_minted", lp),
	)
	return pos, nil
}

// RemoveLiquidityInput describes one immediate removal request. Amount zero
// removes the whole position.
type RemoveLiquidityInput struct {
	PositionID string
	Owner      string
	Amount     uint64
}

// RemoveLiquidity burns live position weight for its proportional reserves.
// Only legal without an attached proposal; marked positions exit through
// the withdrawal path instead.
func (s *LiquidityService) RemoveLiquidity(ctx context.Context, in RemoveLiquidityInput) (assetOut, stableOut uint64, err error) {
	pos, err := s.positions.GetByID(ctx, in.PositionID)
	if err != nil {
		return 0, 0, fmt.Errorf("liquidity_service: get position %q: %w", in.PositionID, err)
	}
	if in.Owner != "" && pos.Owner != in.Owner {
		return 0, 0, fmt.Errorf("liquidity_service: position %s owned by %s: %w", pos.ID, pos.Owner, domain.ErrUnauthorized)
	}
	if pos.Bucket != domain.BucketLive {
		return 0, 0, fmt.Errorf("liquidity_service: position %s is in bucket %s: %w", pos.ID, pos.Bucket, domain.ErrInvalidBucketTransition)
	}
	amount := in.Amount
	if amount == 0 {
		amount = pos.Amount
	}
	if amount > pos.Amount {
		return 0, 0, fmt.Errorf("liquidity_service: remove %d exceeds position %d: %w", amount, pos.Amount, domain.ErrInsufficientLiquidity)
	}

	err = s.venue.withMarket(ctx, pos.MarketID, func(h *marketHandle) error {
		var remErr error
		assetOut, stableOut, remErr = h.eng.RemoveLiquidity(amount)
		if remErr != nil {
			return remErr
		}
		return s.venue.commit(ctx, h)
	})
	if err != nil {
		return 0, 0, fmt.Errorf("liquidity_service: remove on %q: %w", pos.MarketID, err)
	}

	if amount == pos.Amount {
		if delErr := s.positions.Delete(ctx, pos.ID); delErr != nil {
			return 0, 0, fmt.Errorf("liquidity_service: delete position %s: %w", pos.ID, delErr)
		}
	} else {
		pos.Amount -= amount
		pos.UpdatedAt = time.Now().UTC()
		if updErr := s.positions.Update(ctx, pos); updErr != nil {
			return 0, 0, fmt.Errorf("liquidity_service: update position %s: %w", pos.ID, updErr)
		}
	}

	evt, _ := json.Marshal(newEvent(domain.EventLiquidityRemoved, pos.MarketID, "", map[string]any{
		"position_id": pos.ID,
		"owner":       pos.Owner,
		"lp_burned":   fmt.Sprintf("%d", amount),
		"asset_out":   fmt.Sprintf("%d", assetOut),
		"stable_out":  fmt.Sprintf("%d", stableOut),
	}))
	if pubErr := s.bus.Publish(ctx, EventsChannel, evt); pubErr != nil {
		s.logger.WarnContext(ctx, "liquidity_service: publish event failed",
			slog.String("position_id", pos.ID),
			slog.String("error", pubErr.Error()),
		)
	}
	if auditErr := s.audit.Log(ctx, "liquidity_removed", map[string]any{
		"position_id": pos.ID,
		"market_id":   pos.MarketID,
		"owner":       pos.Owner,
		"lp_burned":   amount,
		"asset_out":   assetOut,
		"stable_out":  stableOut,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "liquidity_service: audit log failed",
			slog.String("position_id", pos.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "liquidity_service: liquidity removed",
		slog.String("position_id", pos.ID),
		slog.String("market_id", pos.MarketID),
		slog.Uint64("lp_burned", amount),
	)
	return assetOut, stableOut, nil
}

// GetPosition returns one LP position row.
func (s *LiquidityService) GetPosition(ctx context.Context, id string) (domain.LPPosition, error) {
	pos, err := s.positions.GetByID(ctx, id)
	if err != nil {
		return domain.LPPosition{}, fmt.Errorf("liquidity_service: get position %q: %w", id, err)
	}
	return pos, nil
}

// ListByOwner returns an owner's LP positions with pagination.
func (s *LiquidityService) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.LPPosition, error) {
	out, err := s.positions.ListByOwner(ctx, owner, opts)
	if err != nil {
		return nil, fmt.Errorf("liquidity_service: list positions for %q: %w", owner, err)
	}
	return out, nil
}

// ListByMarket returns every LP position of one market.
func (s *LiquidityService) ListByMarket(ctx context.Context, marketID string) ([]domain.LPPosition, error) {
	out, err := s.positions.ListByMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("liquidity_service: list positions on %q: %w", marketID, err)
	}
	return out, nil
}

// checkDeposit flags adds with no matching custody deposit on record. The
// bridge is the enforcement point for actual funds; the venue only logs
// the mismatch for reconciliation.
func (s *LiquidityService) checkDeposit(ctx context.Context, in AddLiquidityInput) {
	if s.custody == nil {
		return
	}
	deposits, err := s.custody.ListDeposits(ctx, time.Now().UTC().Add(-depositLookback))
	if err != nil {
		s.logger.WarnContext(ctx, "liquidity_service: deposit lookup failed",
			slog.String("owner", in.Owner),
			slog.String("error", err.Error()),
		)
		return
	}
	var asset, stable uint64
	for _, d := range deposits {
		if d.Owner != in.Owner {
			continue
		}
		switch d.Side {
		case domain.SideAsset:
			asset += d.Amount
		case domain.SideStable:
			stable += d.Amount
		}
	}
	if asset < in.AssetIn || stable < in.StableIn {
		s.logger.WarnContext(ctx, "liquidity_service: add exceeds confirmed deposits",
			slog.String("owner", in.Owner),
			slog.Uint64("asset_in", in.AssetIn),
			slog.Uint64("stable_in", in.StableIn),
			slog.Uint64("asset_deposited", asset),
			slog.Uint64("stable_deposited", stable),
		)
		if auditErr := s.audit.Log(ctx, "deposit_unconfirmed", map[string]any{
			"market_id": in.MarketID,
			"owner":     in.Owner,
			"asset_in":  in.AssetIn,
			"stable_in": in.StableIn,
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "liquidity_service: audit log failed",
				slog.String("owner", in.Owner),
				slog.String("error", auditErr.Error()),
			)
		}
	}
}
