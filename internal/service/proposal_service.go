package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/engine"
)

// ProposalService handles the governance boundary: opening a proposal runs
// the quantum split, resolving one records the winner governance reported.
// The venue never decides outcomes itself.
type ProposalService struct {
	venue     *VenueService
	proposals domain.ProposalStore
	ledger    domain.LedgerStore
	cache     domain.ProposalCache
	bus       domain.SignalBus
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewProposalService creates a ProposalService with all required
// dependencies.
func NewProposalService(
	venue *VenueService,
	proposals domain.ProposalStore,
	ledger domain.LedgerStore,
	cache domain.ProposalCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *ProposalService {
	return &ProposalService{
		venue:     venue,
		proposals: proposals,
		ledger:    ledger,
		cache:     cache,
		bus:       bus,
		audit:     audit,
		logger:    logger,
	}
}

// OpenProposalInput describes one proposal open request. SplitRatioBps zero
// falls back to the market's default ratio.
type OpenProposalInput struct {
	MarketID      string
	Title         string
	OutcomeCount  int
	SplitRatioBps uint64
}

// Open attaches a proposal to the market, creates one conditional pool per
// outcome, and moves the split share of spot reserves into escrow. A
// market hosts one open proposal at a time, and the previous proposal's
// ledger must be fully settled first.
func (s *ProposalService) Open(ctx context.Context, in OpenProposalInput) (domain.Proposal, error) {
	if in.Title == "" {
		return domain.Proposal{}, fmt.Errorf("proposal_service: open: title required: %w", domain.ErrInvalidAmount)
	}
	// The ledger table holds one live row set per market. Rows still
	// present, trader or venue, belong to an earlier proposal awaiting
	// settlement and would collide with the new proposal's cells.
	for _, account := range []string{domain.AccountTrader, domain.AccountVenue} {
		leftover, err := s.ledger.ListByAccount(ctx, in.MarketID, account)
		if err != nil {
			return domain.Proposal{}, fmt.Errorf("proposal_service: check ledger for %q: %w", in.MarketID, err)
		}
		if len(leftover) > 0 {
			return domain.Proposal{}, fmt.Errorf("proposal_service: market %s has %d unsettled %s ledger rows from proposal %s: %w",
				in.MarketID, len(leftover), account, leftover[0].ProposalID, domain.ErrProposalStillActive)
		}
	}

	now := time.Now().UTC()
	prop := domain.Proposal{
		ID:            uuid.NewString(),
		MarketID:      in.MarketID,
		Title:         in.Title,
		OutcomeCount:  in.OutcomeCount,
		SplitRatioBps: in.SplitRatioBps,
		State:         domain.ProposalStateOpen,
		CreatedAt:     now,
	}
	err := s.venue.withMarket(ctx, in.MarketID, func(h *marketHandle) error {
		if openErr := h.eng.OpenProposal(prop, now); openErr != nil {
			return openErr
		}
		prop.EscrowAsset, prop.EscrowStable = h.eng.Escrow()
		trader, ledgerErr := engine.NewBalanceLedger(in.OutcomeCount)
		if ledgerErr != nil {
			s.venue.discard(h, in.MarketID)
			return ledgerErr
		}
		if createErr := s.proposals.Create(ctx, prop); createErr != nil {
			// Nothing persisted yet; drop the mutated aggregate so the
			// stores stay authoritative.
			s.venue.discard(h, in.MarketID)
			return createErr
		}
		h.prop = &prop
		h.trader = trader
		return s.venue.commit(ctx, h)
	})
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("proposal_service: open on %q: %w", in.MarketID, err)
	}

	if cacheErr := s.cache.Set(ctx, prop); cacheErr != nil {
		s.logger.WarnContext(ctx, "proposal_service: cache set failed",
			slog.String("proposal_id", prop.ID),
			slog.String("error", cacheErr.Error()),
		)
	}

	evt, _ := json.Marshal(newEvent(domain.EventProposalOpened, in.MarketID, prop.ID, map[string]any{
		"title":    prop.Title,
		"outcomes": prop.OutcomeCount,
	}))
	if pubErr := s.bus.Publish(ctx, EventsChannel, evt); pubErr != nil {
		s.logger.WarnContext(ctx, "proposal_service: publish event failed",
			slog.String("proposal_id", prop.ID),
			slog.String("error", pubErr.Error()),
		)
	}
	split, _ := json.Marshal(newEvent(domain.EventQuantumSplit, in.MarketID, prop.ID, map[string]any{
		"split_ratio_bps": prop.SplitRatioBps,
		"escrow_asset":    fmt.Sprintf("%d", prop.EscrowAsset),
		"escrow_stable":   fmt.Sprintf("%d", prop.EscrowStable),
	}))
	if pubErr := s.bus.Publish(ctx, EventsChannel, split); pubErr != nil {
		s.logger.WarnContext(ctx, "proposal_service: publish event failed",
			slog.String("proposal_id", prop.ID),
			slog.String("error", pubErr.Error()),
		)
	}
	if auditErr := s.audit.Log(ctx, "proposal_opened", map[string]any{
		"proposal_id":   prop.ID,
		"market_id":     in.MarketID,
		"title":         prop.Title,
		"outcomes":      prop.OutcomeCount,
		"escrow_asset":  prop.EscrowAsset,
		"escrow_stable": prop.EscrowStable,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "proposal_service: audit log failed",
			slog.String("proposal_id", prop.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "proposal_service: proposal opened",
		slog.String("proposal_id", prop.ID),
		slog.String("market_id", in.MarketID),
		slog.Int("outcomes", prop.OutcomeCount),
		slog.Uint64("escrow_asset", prop.EscrowAsset),
		slog.Uint64("escrow_stable", prop.EscrowStable),
	)
	return prop, nil
}

// Resolve records the winning outcome governance reported and freezes
// conditional trading. Resolving an already-resolved proposal with the
// same winner is a no-op so watchers can repeat themselves safely.
func (s *ProposalService) Resolve(ctx context.Context, proposalID string, winningOutcome int) error {
	prop, err := s.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return fmt.Errorf("proposal_service: get proposal %q: %w", proposalID, err)
	}
	if prop.State != domain.ProposalStateOpen {
		if prop.WinningOutcome != nil && *prop.WinningOutcome == winningOutcome {
			return nil
		}
		return fmt.Errorf("proposal_service: proposal %s already %s with winner %v: %w",
			prop.ID, prop.State, prop.WinningOutcome, domain.ErrAlreadyExists)
	}

	now := time.Now().UTC()
	err = s.venue.withMarket(ctx, prop.MarketID, func(h *marketHandle) error {
		if resErr := h.eng.ResolveProposal(winningOutcome, now); resErr != nil {
			return resErr
		}
		if h.prop != nil {
			h.prop.ResolvedAt = &now
		}
		return s.venue.commit(ctx, h)
	})
	if err != nil {
		return fmt.Errorf("proposal_service: resolve %q: %w", proposalID, err)
	}

	if cacheErr := s.cache.Invalidate(ctx, proposalID); cacheErr != nil && !errors.Is(cacheErr, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "proposal_service: cache invalidate failed",
			slog.String("proposal_id", proposalID),
			slog.String("error", cacheErr.Error()),
		)
	}

	evt, _ := json.Marshal(newEvent(domain.EventProposalResolved, prop.MarketID, prop.ID, map[string]any{
		"winning_outcome": winningOutcome,
	}))
	if pubErr := s.bus.Publish(ctx, EventsChannel, evt); pubErr != nil {
		s.logger.WarnContext(ctx, "proposal_service: publish event failed",
			slog.String("proposal_id", prop.ID),
			slog.String("error", pubErr.Error()),
		)
	}
	if auditErr := s.audit.Log(ctx, "proposal_resolved", map[string]any{
		"proposal_id":     prop.ID,
		"market_id":       prop.MarketID,
		"winning_outcome": winningOutcome,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "proposal_service: audit log failed",
			slog.String("proposal_id", prop.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "proposal_service: proposal resolved",
		slog.String("proposal_id", prop.ID),
		slog.String("market_id", prop.MarketID),
		slog.Int("winning_outcome", winningOutcome),
	)
	return nil
}

// Get returns a proposal row, preferring the cache.
func (s *ProposalService) Get(ctx context.Context, id string) (domain.Proposal, error) {
	if p, err := s.cache.Get(ctx, id); err == nil {
		return p, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "proposal_service: cache get failed",
			slog.String("proposal_id", id),
			slog.String("error", err.Error()),
		)
	}

	p, err := s.proposals.GetByID(ctx, id)
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("proposal_service: get proposal %q: %w", id, err)
	}
	if cacheErr := s.cache.Set(ctx, p); cacheErr != nil {
		s.logger.WarnContext(ctx, "proposal_service: cache set failed",
			slog.String("proposal_id", id),
			slog.String("error", cacheErr.Error()),
		)
	}
	return p, nil
}

// GetOpenByMarket returns the market's open proposal, preferring the cache.
func (s *ProposalService) GetOpenByMarket(ctx context.Context, marketID string) (domain.Proposal, error) {
	if p, err := s.cache.GetOpenByMarket(ctx, marketID); err == nil {
		return p, nil
	}
	p, err := s.proposals.GetOpenByMarket(ctx, marketID)
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("proposal_service: open proposal for %q: %w", marketID, err)
	}
	return p, nil
}

// List returns proposal rows with pagination.
func (s *ProposalService) List(ctx context.Context, opts domain.ListOpts) ([]domain.Proposal, error) {
	out, err := s.proposals.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("proposal_service: list proposals: %w", err)
	}
	return out, nil
}

// ListByState returns proposal rows in one lifecycle state.
func (s *ProposalService) ListByState(ctx context.Context, state domain.ProposalState, opts domain.ListOpts) ([]domain.Proposal, error) {
	out, err := s.proposals.ListByState(ctx, state, opts)
	if err != nil {
		return nil, fmt.Errorf("proposal_service: list proposals by state %s: %w", state, err)
	}
	return out, nil
}
