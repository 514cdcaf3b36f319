package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/engine"
)

// CrankService turns the venue cranks: recombination, the standalone
// pending transition, and TWAP refreshes. Cranks are permissionless, so a
// Redis lock keyed by market serializes callers across processes; within
// one process the market handle's mutex already does.
type CrankService struct {
	venue      *VenueService
	ledgerSvc  *LedgerService
	settlement *SettlementService
	prices     *PriceService
	proposals  domain.ProposalStore
	positions  domain.PositionStore
	propCache  domain.ProposalCache
	locks      domain.LockManager
	bus        domain.SignalBus
	audit      domain.AuditStore
	logger     *slog.Logger

	lockTTL time.Duration
	// maxPerCrank bounds how many conditional pools one batch tears down
	// before a durability checkpoint. Zero means no batching.
	maxPerCrank int
}

// NewCrankService creates a CrankService.
func NewCrankService(
	venue *VenueService,
	ledgerSvc *LedgerService,
	settlement *SettlementService,
	prices *PriceService,
	proposals domain.ProposalStore,
	positions domain.PositionStore,
	propCache domain.ProposalCache,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	lockTTL time.Duration,
	maxOutcomesPerStep int,
	logger *slog.Logger,
) *CrankService {
	return &CrankService{
		venue:       venue,
		ledgerSvc:   ledgerSvc,
		settlement:  settlement,
		prices:      prices,
		proposals:   proposals,
		positions:   positions,
		propCache:   propCache,
		locks:       locks,
		bus:         bus,
		audit:       audit,
		logger:      logger,
		lockTTL:     lockTTL,
		maxPerCrank: maxOutcomesPerStep,
	}
}

// RecombineOutcome reports one recombination crank run. Report is set when
// the run settled a proposal; a no-op run carries only Result.NoOp.
type RecombineOutcome struct {
	Result engine.RecombineResult
	Report *domain.SettlementReport
}

// Recombine runs the full recombination crank for a market: resolve the
// proposal if a winner is supplied and it is still open, tear down every
// conditional pool in batches with a checkpoint between batches, settle
// the proposal record, flip marked positions, settle the holder ledger,
// and archive the settlement report. Calling it on a market with no
// attached proposal is a no-op, so anyone may crank repeatedly.
func (s *CrankService) Recombine(ctx context.Context, marketID string, winner *int) (RecombineOutcome, error) {
	unlock, err := s.locks.Acquire(ctx, "crank:"+marketID, s.lockTTL)
	if err != nil {
		return RecombineOutcome{}, fmt.Errorf("crank_service: recombine %q: %w", marketID, err)
	}
	defer unlock()

	var (
		out          RecombineOutcome
		report       domain.SettlementReport
		propID       string
		resolvedHere bool
	)
	now := time.Now().UTC()
	err = s.venue.withMarket(ctx, marketID, func(h *marketHandle) error {
		if h.prop == nil {
			out.Result = engine.RecombineResult{NoOp: true}
			return nil
		}
		propID = h.prop.ID

		var w int
		switch {
		case h.prop.State == domain.ProposalStateOpen && winner == nil:
			return fmt.Errorf("crank_service: proposal %s still open, winner required: %w",
				h.prop.ID, domain.ErrProposalNotResolved)
		case h.prop.State == domain.ProposalStateOpen:
			if resolveErr := h.eng.ResolveProposal(*winner, now); resolveErr != nil {
				return resolveErr
			}
			h.prop.ResolvedAt = &now
			resolvedHere = true
			w = *winner
		default:
			if h.prop.WinningOutcome == nil {
				return fmt.Errorf("crank_service: proposal %s resolved without winner: %w",
					h.prop.ID, domain.ErrProposalNotResolved)
			}
			w = *h.prop.WinningOutcome
			if winner != nil && *winner != w {
				return fmt.Errorf("crank_service: proposal %s resolved with winner %d, caller sent %d: %w",
					h.prop.ID, w, *winner, domain.ErrInvalidOutcome)
			}
		}

		// Losing-pool reserves appear in no result field once drained, so
		// the report's forfeited amounts come from this snapshot.
		_, _, conds := h.eng.Snapshot(now)
		var forfeited domain.BucketAmounts
		for _, c := range conds {
			if c.Outcome == w {
				continue
			}
			forfeited.Asset += c.Live.Asset + c.Transitioning.Asset
			forfeited.Stable += c.Live.Stable + c.Transitioning.Stable
			forfeited.LP += c.Live.LP + c.Transitioning.LP
		}
		var winningTwap string
		if surface := h.eng.Prices(now); w < len(surface.Conditional) {
			winningTwap = surface.Conditional[w].Twap
		}

		pr, beginErr := h.eng.BeginRecombine(now)
		if beginErr != nil {
			return beginErr
		}
		for pr.Remaining() > 0 {
			n := pr.Remaining()
			if s.maxPerCrank > 0 && n > s.maxPerCrank {
				n = s.maxPerCrank
			}
			for i := 0; i < n; i++ {
				if stepErr := pr.Step(); stepErr != nil {
					return stepErr
				}
			}
			// Checkpoint between batches: a crash resumes over the
			// already-drained pools instead of redoing the teardown.
			if pr.Remaining() > 0 {
				if commitErr := s.venue.commit(ctx, h); commitErr != nil {
					return commitErr
				}
			}
		}
		res, finishErr := pr.Finish(now)
		if finishErr != nil {
			return finishErr
		}

		h.prop.State = domain.ProposalStateSettled
		h.prop.WinningOutcome = &w
		h.prop.SettledAt = &now
		h.prop.EscrowAsset = res.RemainingEscrowAsset
		h.prop.EscrowStable = res.RemainingEscrowStable

		// The aggregate detached the proposal, so commit below skips the
		// proposal tables; the settled row goes first. If it fails, the
		// reload resumes the teardown from the last checkpoint.
		if updErr := s.proposals.Update(ctx, *h.prop); updErr != nil {
			s.venue.discard(h, marketID)
			return fmt.Errorf("crank_service: persist settled proposal %s: %w", h.prop.ID, updErr)
		}
		if delErr := s.proposals.DeleteConditionals(ctx, h.prop.ID); delErr != nil {
			// Dead rows; a settled proposal never restores from them.
			s.logger.WarnContext(ctx, "crank_service: conditional rows not deleted",
				slog.String("proposal_id", h.prop.ID),
				slog.String("error", delErr.Error()),
			)
		}
		if commitErr := s.venue.commit(ctx, h); commitErr != nil {
			return commitErr
		}

		meta, _, _ := h.eng.Snapshot(now)
		report = domain.SettlementReport{
			MarketID:         marketID,
			ProposalID:       res.ProposalID,
			WinningOutcome:   res.Winner,
			OutcomeCount:     h.prop.OutcomeCount,
			ReturnedToLive:   res.ReturnedLive,
			ReturnedWithdraw: res.ReturnedWithdrawOnly,
			Forfeited:        forfeited,
			Dust:             res.ArbDust,
			SpotAfter:        meta.Spot,
			SpotTwap:         engine.PriceString(h.eng.SpotTwap()),
			WinningTwap:      winningTwap,
			SettledAt:        now,
		}
		out.Result = res
		out.Report = &report
		h.prop = nil
		h.trader = nil
		return nil
	})
	if err != nil {
		return RecombineOutcome{}, err
	}
	if out.Result.NoOp {
		return out, nil
	}
	res := out.Result

	// The market itself has settled; what follows is idempotent store and
	// side-channel work. Failures are logged for the settlement sweeper to
	// retry rather than surfaced as crank failures.
	moved, mvErr := s.positions.MoveBucket(ctx, marketID, propID, domain.BucketTransitioning, domain.BucketWithdrawOnly)
	if mvErr != nil {
		s.logger.ErrorContext(ctx, "crank_service: marked positions not flipped after settlement",
			slog.String("market_id", marketID),
			slog.String("proposal_id", propID),
			slog.String("error", mvErr.Error()),
		)
	}
	if _, _, settleErr := s.ledgerSvc.SettleProposal(ctx, propID); settleErr != nil {
		s.logger.ErrorContext(ctx, "crank_service: holder ledger not settled",
			slog.String("proposal_id", propID),
			slog.String("error", settleErr.Error()),
		)
	}
	if cacheErr := s.propCache.Invalidate(ctx, propID); cacheErr != nil && !errors.Is(cacheErr, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "crank_service: proposal cache invalidate failed",
			slog.String("proposal_id", propID),
			slog.String("error", cacheErr.Error()),
		)
	}
	if _, archErr := s.settlement.Archive(ctx, report); archErr != nil {
		s.logger.WarnContext(ctx, "crank_service: settlement report not archived",
			slog.String("proposal_id", propID),
			slog.String("error", archErr.Error()),
		)
	}

	if resolvedHere {
		evt, _ := json.Marshal(newEvent(domain.EventProposalResolved, marketID, propID, map[string]any{
			"winning_outcome": res.Winner,
		}))
		if pubErr := s.bus.Publish(ctx, EventsChannel, evt); pubErr != nil {
			s.logger.WarnContext(ctx, "crank_service: publish event failed",
				slog.String("proposal_id", propID),
				slog.String("error", pubErr.Error()),
			)
		}
	}
	evt, _ := json.Marshal(newEvent(domain.EventRecombined, marketID, propID, map[string]any{
		"winning_outcome":         res.Winner,
		"returned_live_asset":     fmt.Sprintf("%d", res.ReturnedLive.Asset),
		"returned_live_stable":    fmt.Sprintf("%d", res.ReturnedLive.Stable),
		"returned_wo_asset":       fmt.Sprintf("%d", res.ReturnedWithdrawOnly.Asset),
		"returned_wo_stable":      fmt.Sprintf("%d", res.ReturnedWithdrawOnly.Stable),
		"protocol_fee_asset":      fmt.Sprintf("%d", res.ProtocolFeeAsset),
		"protocol_fee_stable":     fmt.Sprintf("%d", res.ProtocolFeeStable),
		"remaining_escrow_asset":  fmt.Sprintf("%d", res.RemainingEscrowAsset),
		"remaining_escrow_stable": fmt.Sprintf("%d", res.RemainingEscrowStable),
		"flipped_weight":          fmt.Sprintf("%d", res.FlippedWeight),
		"positions_moved":         moved,
	}))
	if pubErr := s.bus.Publish(ctx, EventsChannel, evt); pubErr != nil {
		s.logger.WarnContext(ctx, "crank_service: publish event failed",
			slog.String("proposal_id", propID),
			slog.String("error", pubErr.Error()),
		)
	}
	if auditErr := s.audit.Log(ctx, "recombined", map[string]any{
		"market_id":       marketID,
		"proposal_id":     propID,
		"winning_outcome": res.Winner,
		"returned_live":   res.ReturnedLive.Asset + res.ReturnedLive.Stable,
		"flipped_weight":  res.FlippedWeight,
		"positions_moved": moved,
		"dust_cells":      len(res.ArbDust),
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "crank_service: audit log failed",
			slog.String("proposal_id", propID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "crank_service: proposal recombined",
		slog.String("market_id", marketID),
		slog.String("proposal_id", propID),
		slog.Int("winning_outcome", res.Winner),
		slog.Uint64("returned_live_asset", res.ReturnedLive.Asset),
		slog.Uint64("returned_live_stable", res.ReturnedLive.Stable),
		slog.Int64("positions_moved", moved),
	)
	return out, nil
}

// Transition runs the standalone pending-transition crank: every marked
// balance flips to withdraw_only without tearing down the conditional
// pools. Legal only after resolution.
func (s *CrankService) Transition(ctx context.Context, marketID string) (engine.TransitionResult, error) {
	unlock, err := s.locks.Acquire(ctx, "crank:"+marketID, s.lockTTL)
	if err != nil {
		return engine.TransitionResult{}, fmt.Errorf("crank_service: transition %q: %w", marketID, err)
	}
	defer unlock()

	var res engine.TransitionResult
	now := time.Now().UTC()
	err = s.venue.withMarket(ctx, marketID, func(h *marketHandle) error {
		r, trErr := h.eng.TransitionPending(now)
		if trErr != nil {
			return trErr
		}
		res = r
		return s.venue.commit(ctx, h)
	})
	if err != nil {
		return engine.TransitionResult{}, err
	}

	moved, mvErr := s.positions.MoveBucket(ctx, marketID, res.ProposalID, domain.BucketTransitioning, domain.BucketWithdrawOnly)
	if mvErr != nil {
		s.logger.ErrorContext(ctx, "crank_service: marked positions not flipped after transition",
			slog.String("market_id", marketID),
			slog.String("proposal_id", res.ProposalID),
			slog.String("error", mvErr.Error()),
		)
	}

	evt, _ := json.Marshal(newEvent(domain.EventTransitioned, marketID, res.ProposalID, map[string]any{
		"spot_moved_asset":    fmt.Sprintf("%d", res.SpotMoved.Asset),
		"spot_moved_stable":   fmt.Sprintf("%d", res.SpotMoved.Stable),
		"winner_moved_asset":  fmt.Sprintf("%d", res.WinnerMoved.Asset),
		"winner_moved_stable": fmt.Sprintf("%d", res.WinnerMoved.Stable),
		"flipped_weight":      fmt.Sprintf("%d", res.FlippedWeight),
		"positions_moved":     moved,
	}))
	if pubErr := s.bus.Publish(ctx, EventsChannel, evt); pubErr != nil {
		s.logger.WarnContext(ctx, "crank_service: publish event failed",
			slog.String("proposal_id", res.ProposalID),
			slog.String("error", pubErr.Error()),
		)
	}
	if auditErr := s.audit.Log(ctx, "transition_pending", map[string]any{
		"market_id":       marketID,
		"proposal_id":     res.ProposalID,
		"flipped_weight":  res.FlippedWeight,
		"positions_moved": moved,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "crank_service: audit log failed",
			slog.String("proposal_id", res.ProposalID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "crank_service: pending balances transitioned",
		slog.String("market_id", marketID),
		slog.String("proposal_id", res.ProposalID),
		slog.Uint64("flipped_weight", res.FlippedWeight),
		slog.Int64("positions_moved", moved),
	)
	return res, nil
}

// UpdateTwaps advances every due TWAP observation on a market and
// publishes the refreshed surface. Returns how many pools updated.
func (s *CrankService) UpdateTwaps(ctx context.Context, marketID string) (int, error) {
	unlock, err := s.locks.Acquire(ctx, "crank:"+marketID, s.lockTTL)
	if err != nil {
		return 0, fmt.Errorf("crank_service: twap %q: %w", marketID, err)
	}
	defer unlock()

	var (
		updated int
		surface domain.MarketPrices
	)
	now := time.Now().UTC()
	err = s.venue.withMarket(ctx, marketID, func(h *marketHandle) error {
		updated = h.eng.UpdateTwaps(now)
		if updated == 0 {
			return nil
		}
		surface = h.eng.Prices(now)
		return s.venue.commit(ctx, h)
	})
	if err != nil {
		return 0, err
	}
	if updated > 0 {
		s.prices.Publish(ctx, surface)
		s.logger.DebugContext(ctx, "crank_service: twaps updated",
			slog.String("market_id", marketID),
			slog.Int("pools", updated),
		)
	}
	return updated, nil
}
