package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/praxismarkets/futarchyd/internal/crypto"
	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/platform/custody"
)

// VoucherSigner signs withdrawal claim vouchers. Implemented by
// crypto.Signer; defined here so tests can substitute one.
type VoucherSigner interface {
	SignVoucher(v crypto.VoucherPayload) (string, error)
	Address() common.Address
}

// PayoutBridge submits signed claims to the custody bridge.
type PayoutBridge interface {
	RequestPayout(ctx context.Context, req custody.PayoutRequest) (custody.Payout, error)
}

// WithdrawalService runs the two-step LP exit: mark a position for
// withdrawal, then claim its share once unlocked. Claims mint a signed
// voucher the custody bridge verifies before releasing funds.
type WithdrawalService struct {
	venue     *VenueService
	positions domain.PositionStore
	claims    domain.ClaimStore
	bus       domain.SignalBus
	audit     domain.AuditStore
	logger    *slog.Logger

	signer  VoucherSigner // optional; claims record unsigned without it
	custody PayoutBridge  // optional
}

// NewWithdrawalService creates a WithdrawalService with all required
// dependencies.
func NewWithdrawalService(
	venue *VenueService,
	positions domain.PositionStore,
	claims domain.ClaimStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *WithdrawalService {
	return &WithdrawalService{
		venue:     venue,
		positions: positions,
		claims:    claims,
		bus:       bus,
		audit:     audit,
		logger:    logger,
	}
}

// WithSigner attaches the claim voucher signer.
func (s *WithdrawalService) WithSigner(signer VoucherSigner) *WithdrawalService {
	s.signer = signer
	return s
}

// WithCustody attaches the custody bridge for automatic payout submission.
func (s *WithdrawalService) WithCustody(c PayoutBridge) *WithdrawalService {
	s.custody = c
	return s
}

// MarkInput describes one mark-for-withdrawal request. Amount zero marks
// the whole position.
type MarkInput struct {
	PositionID string
	Owner      string
	Amount     uint64
}

// Mark moves position weight onto the withdrawal path. A partial mark
// splits the row: the marked weight becomes its own position carrying the
// withdrawal flag. Returns the marked position.
func (s *WithdrawalService) Mark(ctx context.Context, in MarkInput) (domain.LPPosition, error) {
	pos, err := s.positions.GetByID(ctx, in.PositionID)
	if err != nil {
		return domain.LPPosition{}, fmt.Errorf("withdrawal_service: get position %q: %w", in.PositionID, err)
	}
	if in.Owner != "" && pos.Owner != in.Owner {
		return domain.LPPosition{}, fmt.Errorf("withdrawal_service: position %s owned by %s: %w", pos.ID, pos.Owner, domain.ErrUnauthorized)
	}
	if pos.Bucket != domain.BucketLive {
		return domain.LPPosition{}, fmt.Errorf("withdrawal_service: position %s already in bucket %s: %w", pos.ID, pos.Bucket, domain.ErrInvalidBucketTransition)
	}
	amount := in.Amount
	if amount == 0 {
		amount = pos.Amount
	}
	if amount > pos.Amount {
		return domain.LPPosition{}, fmt.Errorf("withdrawal_service: mark %d exceeds position %d: %w", amount, pos.Amount, domain.ErrInsufficientLiquidity)
	}

	now := time.Now().UTC()
	var (
		bucket   domain.Bucket
		lockedID *string
	)
	err = s.venue.withMarket(ctx, pos.MarketID, func(h *marketHandle) error {
		var markErr error
		bucket, markErr = h.eng.MarkForWithdrawal(amount)
		if markErr != nil {
			return markErr
		}
		if bucket == domain.BucketTransitioning && h.prop != nil {
			id := h.prop.ID
			lockedID = &id
		}
		return s.venue.commit(ctx, h)
	})
	if err != nil {
		return domain.LPPosition{}, fmt.Errorf("withdrawal_service: mark on %q: %w", pos.MarketID, err)
	}

	marked := pos
	if amount == pos.Amount {
		marked.Bucket = bucket
		marked.LockedProposalID = lockedID
		marked.UpdatedAt = now
		if updErr := s.positions.Update(ctx, marked); updErr != nil {
			return domain.LPPosition{}, fmt.Errorf("withdrawal_service: update position %s: %w", pos.ID, updErr)
		}
	} else {
		pos.Amount -= amount
		pos.UpdatedAt = now
		if updErr := s.positions.Update(ctx, pos); updErr != nil {
			return domain.LPPosition{}, fmt.Errorf("withdrawal_service: update position %s: %w", pos.ID, updErr)
		}
		marked = domain.LPPosition{
			ID:               uuid.NewString(),
			MarketID:         pos.MarketID,
			Owner:            pos.Owner,
			Amount:           amount,
			Bucket:           bucket,
			LockedProposalID: lockedID,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if createErr := s.positions.Create(ctx, marked); createErr != nil {
			return domain.LPPosition{}, fmt.Errorf("withdrawal_service: create marked position: %w", createErr)
		}
	}

	proposalID := ""
	if lockedID != nil {
		proposalID = *lockedID
	}
	evt, _ := json.Marshal(newEvent(domain.EventMarkedWithdraw, pos.MarketID, proposalID, map[string]any{
		"position_id": marked.ID,
		"owner":       marked.Owner,
		"lp_amount":   fmt.Sprintf("%d", amount),
		"bucket":      string(bucket),
	}))
	if pubErr := s.bus.Publish(ctx, EventsChannel, evt); pubErr != nil {
		s.logger.WarnContext(ctx, "withdrawal_service: publish event failed",
			slog.String("position_id", marked.ID),
			slog.String("error", pubErr.Error()),
		)
	}
	if auditErr := s.audit.Log(ctx, "withdrawal_marked", map[string]any{
		"position_id": marked.ID,
		"market_id":   pos.MarketID,
		"owner":       marked.Owner,
		"lp_amount":   amount,
		"bucket":      string(bucket),
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "withdrawal_service: audit log failed",
			slog.String("position_id", marked.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "withdrawal_service: position marked",
		slog.String("position_id", marked.ID),
		slog.String("market_id", pos.MarketID),
		slog.Uint64("lp_amount", amount),
		slog.String("bucket", string(bucket)),
	)
	return marked, nil
}

// ClaimInput describes one claim request.
type ClaimInput struct {
	PositionID string
	Owner      string
}

// Claim pays out a claimable position, retires it, and records a voucher
// receipt. The engine refuses claims still locked to an unresolved
// proposal.
func (s *WithdrawalService) Claim(ctx context.Context, in ClaimInput) (domain.WithdrawalClaim, error) {
	pos, err := s.positions.GetByID(ctx, in.PositionID)
	if err != nil {
		return domain.WithdrawalClaim{}, fmt.Errorf("withdrawal_service: get position %q: %w", in.PositionID, err)
	}
	if in.Owner != "" && pos.Owner != in.Owner {
		return domain.WithdrawalClaim{}, fmt.Errorf("withdrawal_service: position %s owned by %s: %w", pos.ID, pos.Owner, domain.ErrUnauthorized)
	}

	now := time.Now().UTC()
	claim := domain.WithdrawalClaim{
		ID:         uuid.NewString(),
		PositionID: pos.ID,
		MarketID:   pos.MarketID,
		Owner:      pos.Owner,
		LPAmount:   pos.Amount,
		CreatedAt:  now,
	}
	err = s.venue.withMarket(ctx, pos.MarketID, func(h *marketHandle) error {
		assetOut, stableOut, claimErr := h.eng.ClaimWithdrawal(pos)
		if claimErr != nil {
			return claimErr
		}
		claim.AssetOut = assetOut
		claim.StableOut = stableOut
		if s.signer != nil {
			sig, signErr := s.signer.SignVoucher(voucherPayload(claim, now))
			if signErr != nil {
				// The aggregate mutated without a commit; discard it so the
				// stores' pre-claim state stays authoritative.
				s.venue.discard(h, pos.MarketID)
				return fmt.Errorf("sign voucher: %v: %w", signErr, domain.ErrSigningFailed)
			}
			claim.VoucherSig = sig
		}
		return s.venue.commit(ctx, h)
	})
	if err != nil {
		return domain.WithdrawalClaim{}, fmt.Errorf("withdrawal_service: claim position %q: %w", pos.ID, err)
	}

	// Pool state is committed from here on. Receipt and row retirement
	// failures surface as errors; the audit trail is the recovery path.
	if err := s.claims.Create(ctx, claim); err != nil {
		s.logger.ErrorContext(ctx, "withdrawal_service: claim receipt lost after payout",
			slog.String("claim_id", claim.ID),
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
		return domain.WithdrawalClaim{}, fmt.Errorf("withdrawal_service: create claim %s: %w", claim.ID, err)
	}
	if err := s.positions.Delete(ctx, pos.ID); err != nil {
		s.logger.ErrorContext(ctx, "withdrawal_service: claimed position row not retired",
			slog.String("claim_id", claim.ID),
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
		return domain.WithdrawalClaim{}, fmt.Errorf("withdrawal_service: delete position %s: %w", pos.ID, err)
	}

	s.submitPayout(ctx, claim)

	evt, _ := json.Marshal(newEvent(domain.EventClaimed, pos.MarketID, "", map[string]any{
		"claim_id":    claim.ID,
		"position_id": pos.ID,
		"owner":       claim.Owner,
		"lp_amount":   fmt.Sprintf("%d", claim.LPAmount),
		"asset_out":   fmt.Sprintf("%d", claim.AssetOut),
		"stable_out":  fmt.Sprintf("%d", claim.StableOut),
	}))
	if pubErr := s.bus.Publish(ctx, EventsChannel, evt); pubErr != nil {
		s.logger.WarnContext(ctx, "withdrawal_service: publish event failed",
			slog.String("claim_id", claim.ID),
			slog.String("error", pubErr.Error()),
		)
	}
	if auditErr := s.audit.Log(ctx, "withdrawal_claimed", map[string]any{
		"claim_id":    claim.ID,
		"position_id": pos.ID,
		"market_id":   pos.MarketID,
		"owner":       claim.Owner,
		"lp_amount":   claim.LPAmount,
		"asset_out":   claim.AssetOut,
		"stable_out":  claim.StableOut,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "withdrawal_service: audit log failed",
			slog.String("claim_id", claim.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "withdrawal_service: withdrawal claimed",
		slog.String("claim_id", claim.ID),
		slog.String("position_id", pos.ID),
		slog.Uint64("asset_out", claim.AssetOut),
		slog.Uint64("stable_out", claim.StableOut),
	)
	return claim, nil
}

// WithdrawablePreview reports what a claim would pay right now.
type WithdrawablePreview struct {
	PositionID string
	Bucket     domain.Bucket
	Asset      uint64
	Stable     uint64
	Claimable  bool
}

// Withdrawable previews a position's current reserve share without
// mutating anything.
func (s *WithdrawalService) Withdrawable(ctx context.Context, positionID string) (WithdrawablePreview, error) {
	pos, err := s.positions.GetByID(ctx, positionID)
	if err != nil {
		return WithdrawablePreview{}, fmt.Errorf("withdrawal_service: get position %q: %w", positionID, err)
	}
	out := WithdrawablePreview{PositionID: pos.ID, Bucket: pos.Bucket}
	err = s.venue.withMarket(ctx, pos.MarketID, func(h *marketHandle) error {
		out.Asset, out.Stable, out.Claimable = h.eng.Withdrawable(pos)
		return nil
	})
	if err != nil {
		return WithdrawablePreview{}, fmt.Errorf("withdrawal_service: preview position %q: %w", positionID, err)
	}
	return out, nil
}

// GetClaim returns one claim receipt.
func (s *WithdrawalService) GetClaim(ctx context.Context, id string) (domain.WithdrawalClaim, error) {
	c, err := s.claims.GetByID(ctx, id)
	if err != nil {
		return domain.WithdrawalClaim{}, fmt.Errorf("withdrawal_service: get claim %q: %w", id, err)
	}
	return c, nil
}

// ListClaims returns an owner's claim receipts with pagination.
func (s *WithdrawalService) ListClaims(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.WithdrawalClaim, error) {
	out, err := s.claims.ListByOwner(ctx, owner, opts)
	if err != nil {
		return nil, fmt.Errorf("withdrawal_service: list claims for %q: %w", owner, err)
	}
	return out, nil
}

// submitPayout forwards a signed claim to the custody bridge. Best effort:
// the voucher on the receipt lets anyone resubmit, and duplicate
// submissions are idempotent bridge-side.
func (s *WithdrawalService) submitPayout(ctx context.Context, claim domain.WithdrawalClaim) {
	if s.custody == nil || claim.VoucherSig == "" {
		return
	}
	payout, err := s.custody.RequestPayout(ctx, custody.NewPayoutRequest(claim))
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			s.logger.DebugContext(ctx, "withdrawal_service: payout already submitted",
				slog.String("claim_id", claim.ID),
			)
			return
		}
		s.logger.WarnContext(ctx, "withdrawal_service: payout submission failed",
			slog.String("claim_id", claim.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.InfoContext(ctx, "withdrawal_service: payout submitted",
		slog.String("claim_id", claim.ID),
		slog.String("payout_state", string(payout.Status)),
	)
}

// voucherPayload renders a claim into the EIP-712 payload the bridge
// verifies. Amounts travel as decimal strings.
func voucherPayload(claim domain.WithdrawalClaim, now time.Time) crypto.VoucherPayload {
	return crypto.VoucherPayload{
		ClaimID:   claim.ID,
		MarketID:  claim.MarketID,
		Owner:     claim.Owner,
		LPAmount:  strconv.FormatUint(claim.LPAmount, 10),
		AssetOut:  strconv.FormatUint(claim.AssetOut, 10),
		StableOut: strconv.FormatUint(claim.StableOut, 10),
		IssuedAt:  strconv.FormatInt(now.Unix(), 10),
	}
}
