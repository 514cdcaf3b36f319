package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/engine"
)

// ArbService executes arbitrage cycles against the venue ledger, records
// detected opportunities and finished executions, and owns the venue's
// arbitrage kill switch. The switch trips when realized profit falls short
// of simulated profit by more than a configured budget over the process
// lifetime; a restart rearms it.
type ArbService struct {
	venue  *VenueService
	arbs   domain.ArbStore
	execs  domain.ArbExecutionStore
	trades domain.TradeStore
	bus    domain.SignalBus
	audit  domain.AuditStore
	notify Notifier
	logger *slog.Logger

	killSwitchLoss uint64

	mu        sync.Mutex
	shortfall uint64
	tripped   bool
}

// NewArbService creates an ArbService. killSwitchLoss of zero disables the
// kill switch.
func NewArbService(
	venue *VenueService,
	arbs domain.ArbStore,
	execs domain.ArbExecutionStore,
	trades domain.TradeStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	killSwitchLoss uint64,
	logger *slog.Logger,
) *ArbService {
	return &ArbService{
		venue:          venue,
		arbs:           arbs,
		execs:          execs,
		trades:         trades,
		bus:            bus,
		audit:          audit,
		killSwitchLoss: killSwitchLoss,
		logger:         logger,
	}
}

// WithNotifier attaches an operator notifier for kill-switch alerts.
func (s *ArbService) WithNotifier(n Notifier) *ArbService {
	s.notify = n
	return s
}

// RecordOpportunity persists a detected cycle and queues it for the
// executor.
func (s *ArbService) RecordOpportunity(ctx context.Context, opp domain.ArbOpportunity) error {
	if err := s.arbs.Insert(ctx, opp); err != nil {
		return fmt.Errorf("arb_service: insert opportunity %s: %w", opp.ID, err)
	}
	payload, _ := json.Marshal(opp)
	if err := s.bus.StreamAppend(ctx, ArbStream, payload); err != nil {
		// The opportunity goes stale with the next price move anyway; a
		// missed queue entry costs one cycle, not correctness.
		s.logger.WarnContext(ctx, "arb_service: stream append failed",
			slog.String("opportunity_id", opp.ID),
			slog.String("error", err.Error()),
		)
	}
	s.logger.DebugContext(ctx, "arb_service: opportunity recorded",
		slog.String("opportunity_id", opp.ID),
		slog.String("market_id", opp.MarketID),
		slog.String("direction", string(opp.Direction)),
		slog.Uint64("input_amount", opp.InputAmount),
		slog.Uint64("expected_profit", opp.ExpectedProfit),
	)
	return nil
}

// MarkExecuted flags an opportunity as consumed by the executor.
func (s *ArbService) MarkExecuted(ctx context.Context, id string) error {
	if err := s.arbs.MarkExecuted(ctx, id); err != nil {
		return fmt.Errorf("arb_service: mark executed %s: %w", id, err)
	}
	return nil
}

// Detect runs the sizing search on a market's current pools and returns
// the best cycle as an unrecorded opportunity. Read-only on the aggregate;
// ErrNoProfitableCycle is the common, benign outcome.
func (s *ArbService) Detect(ctx context.Context, marketID string) (domain.ArbOpportunity, error) {
	var opp domain.ArbOpportunity
	err := s.venue.withMarket(ctx, marketID, func(h *marketHandle) error {
		if h.prop == nil {
			return fmt.Errorf("arb_service: market %s: %w", marketID, domain.ErrNoOpenProposal)
		}
		plan, detectErr := h.eng.DetectArbitrage()
		if detectErr != nil {
			return detectErr
		}
		opp = domain.ArbOpportunity{
			ID:             uuid.NewString(),
			MarketID:       marketID,
			ProposalID:     h.prop.ID,
			Direction:      plan.Direction,
			InputAmount:    plan.AmountIn,
			ExpectedProfit: plan.ExpectedProfit,
			SpotPrice:      engine.PriceString(h.eng.SpotPrice()),
			DetectedAt:     time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		return domain.ArbOpportunity{}, fmt.Errorf("arb_service: detect on %s: %w", marketID, err)
	}
	return opp, nil
}

// Execute runs the best cycle currently available on a market against the
// venue arbitrage ledger and records the outcome. The engine re-detects
// and re-sizes at execution time, so a stale opportunity trades whatever
// edge the pools still offer. opp supplies the queue identity and the
// simulated profit the kill switch measures against.
func (s *ArbService) Execute(ctx context.Context, opp domain.ArbOpportunity) (domain.ArbExecution, error) {
	started := time.Now().UTC()
	var (
		res       engine.ArbResult
		propID    string
		spotPrice string
	)
	err := s.venue.withMarket(ctx, opp.MarketID, func(h *marketHandle) error {
		if h.prop == nil {
			return fmt.Errorf("arb_service: market %s: %w", opp.MarketID, domain.ErrNoOpenProposal)
		}
		propID = h.prop.ID
		r, execErr := h.eng.ExecuteArbitrage(started)
		if execErr != nil {
			if !preCycle(execErr) {
				// A leg may already have traded; drop the half-mutated
				// aggregate so the stores' pre-cycle state stays
				// authoritative.
				s.venue.discard(h, opp.MarketID)
			}
			return execErr
		}
		if commitErr := s.venue.commit(ctx, h); commitErr != nil {
			return commitErr
		}
		res = r
		spotPrice = engine.PriceString(h.eng.SpotPrice())
		return nil
	})
	completed := time.Now().UTC()

	if err != nil {
		if errors.Is(err, domain.ErrNoProfitableCycle) {
			// The edge closed between detection and execution.
			exec := domain.ArbExecution{
				ID:            uuid.NewString(),
				OpportunityID: opp.ID,
				MarketID:      opp.MarketID,
				ProposalID:    opp.ProposalID,
				Direction:     opp.Direction,
				Status:        domain.ArbExecRejected,
				Reason:        "no profitable cycle at execution time",
				StartedAt:     started,
				CompletedAt:   &completed,
			}
			if recErr := s.RecordExecution(ctx, exec, 0); recErr != nil {
				return domain.ArbExecution{}, recErr
			}
			s.markConsumed(ctx, opp.ID)
			return exec, nil
		}
		return domain.ArbExecution{}, fmt.Errorf("arb_service: execute opportunity %s: %w", opp.ID, err)
	}

	exec := domain.ArbExecution{
		ID:            uuid.NewString(),
		OpportunityID: opp.ID,
		MarketID:      opp.MarketID,
		ProposalID:    propID,
		Direction:     res.Direction,
		InputAmount:   res.AmountIn,
		Profit:        res.Profit,
		Legs:          res.Legs,
		Status:        domain.ArbExecCommitted,
		StartedAt:     started,
		CompletedAt:   &completed,
	}
	if recErr := s.RecordExecution(ctx, exec, opp.ExpectedProfit); recErr != nil {
		// The cycle is committed; only its record is at risk.
		return exec, recErr
	}
	s.recordSpotLeg(ctx, exec, spotPrice)
	s.markConsumed(ctx, opp.ID)
	return exec, nil
}

// preCycle reports whether an ExecuteArbitrage error can only occur before
// any leg has traded.
func preCycle(err error) bool {
	return errors.Is(err, domain.ErrNoProfitableCycle) ||
		errors.Is(err, domain.ErrNoOpenProposal) ||
		errors.Is(err, domain.ErrMarketHalted)
}

// recordSpotLeg writes the cycle's spot leg onto the trade tape; the
// ledger legs live on the execution record only.
func (s *ArbService) recordSpotLeg(ctx context.Context, exec domain.ArbExecution, spotPrice string) {
	for _, leg := range exec.Legs {
		if leg.Outcome != domain.ArbLegSpot {
			continue
		}
		trade := domain.Trade{
			ID:        uuid.NewString(),
			MarketID:  exec.MarketID,
			Venue:     domain.TradeVenueSpot,
			Kind:      domain.TradeKindArbitrage,
			Trader:    domain.AccountVenue,
			SideIn:    leg.SideIn,
			AmountIn:  leg.AmountIn,
			AmountOut: leg.AmountOut,
			Price:     spotPrice,
			CreatedAt: exec.StartedAt,
		}
		if err := s.trades.Insert(ctx, trade); err != nil {
			s.logger.ErrorContext(ctx, "arb_service: spot leg not recorded on tape",
				slog.String("execution_id", exec.ID),
				slog.String("error", err.Error()),
			)
		}
		return
	}
}

func (s *ArbService) markConsumed(ctx context.Context, oppID string) {
	if err := s.arbs.MarkExecuted(ctx, oppID); err != nil {
		s.logger.WarnContext(ctx, "arb_service: opportunity not marked executed",
			slog.String("opportunity_id", oppID),
			slog.String("error", err.Error()),
		)
	}
}

// RecordExecution persists one finished cycle and feeds the kill switch
// with the gap between simulated and realized profit.
func (s *ArbService) RecordExecution(ctx context.Context, exec domain.ArbExecution, expectedProfit uint64) error {
	if err := s.execs.Create(ctx, exec); err != nil {
		return fmt.Errorf("arb_service: insert execution %s: %w", exec.ID, err)
	}

	if exec.Status == domain.ArbExecCommitted {
		evt, _ := json.Marshal(newEvent(domain.EventArbExecuted, exec.MarketID, exec.ProposalID, map[string]any{
			"execution_id": exec.ID,
			"direction":    string(exec.Direction),
			"input_amount": fmt.Sprintf("%d", exec.InputAmount),
			"profit":       fmt.Sprintf("%d", exec.Profit),
			"legs":         len(exec.Legs),
		}))
		if pubErr := s.bus.Publish(ctx, EventsChannel, evt); pubErr != nil {
			s.logger.WarnContext(ctx, "arb_service: publish event failed",
				slog.String("execution_id", exec.ID),
				slog.String("error", pubErr.Error()),
			)
		}
		s.trackShortfall(ctx, exec, expectedProfit)
	}

	if auditErr := s.audit.Log(ctx, "arb_execution_recorded", map[string]any{
		"execution_id":   exec.ID,
		"opportunity_id": exec.OpportunityID,
		"market_id":      exec.MarketID,
		"direction":      string(exec.Direction),
		"status":         string(exec.Status),
		"input_amount":   exec.InputAmount,
		"profit":         exec.Profit,
		"reason":         exec.Reason,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "arb_service: audit log failed",
			slog.String("execution_id", exec.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	if exec.Status == domain.ArbExecCommitted {
		s.logger.InfoContext(ctx, "arb_service: cycle committed",
			slog.String("execution_id", exec.ID),
			slog.String("market_id", exec.MarketID),
			slog.String("direction", string(exec.Direction)),
			slog.Uint64("input_amount", exec.InputAmount),
			slog.Uint64("profit", exec.Profit),
		)
	} else {
		s.logger.WarnContext(ctx, "arb_service: cycle rejected",
			slog.String("execution_id", exec.ID),
			slog.String("market_id", exec.MarketID),
			slog.String("reason", exec.Reason),
		)
	}
	return nil
}

// trackShortfall accumulates simulated-minus-realized profit and trips the
// kill switch when the budget is exhausted.
func (s *ArbService) trackShortfall(ctx context.Context, exec domain.ArbExecution, expected uint64) {
	if exec.Profit >= expected {
		return
	}
	miss := expected - exec.Profit

	s.mu.Lock()
	s.shortfall += miss
	total := s.shortfall
	trippedNow := !s.tripped && s.killSwitchLoss > 0 && total > s.killSwitchLoss
	if trippedNow {
		s.tripped = true
	}
	s.mu.Unlock()

	if !trippedNow {
		s.logger.DebugContext(ctx, "arb_service: profit shortfall",
			slog.String("execution_id", exec.ID),
			slog.Uint64("miss", miss),
			slog.Uint64("cumulative", total),
		)
		return
	}

	s.logger.ErrorContext(ctx, "arb_service: kill switch tripped",
		slog.Uint64("cumulative_shortfall", total),
		slog.Uint64("budget", s.killSwitchLoss),
	)
	if auditErr := s.audit.Log(ctx, "arb_kill_switch_tripped", map[string]any{
		"cumulative_shortfall": total,
		"budget":               s.killSwitchLoss,
		"execution_id":         exec.ID,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "arb_service: audit log failed",
			slog.String("execution_id", exec.ID),
			slog.String("error", auditErr.Error()),
		)
	}
	if s.notify != nil {
		msg := fmt.Sprintf("arbitrage halted: cumulative profit shortfall %d exceeds budget %d", total, s.killSwitchLoss)
		if notifyErr := s.notify.NotifyAll(ctx, "Arbitrage kill switch tripped", msg); notifyErr != nil {
			s.logger.WarnContext(ctx, "arb_service: notify failed",
				slog.String("error", notifyErr.Error()),
			)
		}
	}
}

// Tripped reports whether the kill switch has halted execution.
func (s *ArbService) Tripped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tripped
}

// Shortfall returns the cumulative simulated-minus-realized profit gap.
func (s *ArbService) Shortfall() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shortfall
}

// ListRecent returns the latest detected opportunities.
func (s *ArbService) ListRecent(ctx context.Context, limit int) ([]domain.ArbOpportunity, error) {
	if limit <= 0 {
		limit = 50
	}
	opps, err := s.arbs.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("arb_service: list opportunities: %w", err)
	}
	return opps, nil
}

// ListExecutions returns the latest executions with their legs.
func (s *ArbService) ListExecutions(ctx context.Context, limit int) ([]domain.ArbExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	execs, err := s.execs.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("arb_service: list executions: %w", err)
	}
	return execs, nil
}

// GetExecution returns one execution by ID.
func (s *ArbService) GetExecution(ctx context.Context, id string) (domain.ArbExecution, error) {
	exec, err := s.execs.GetByID(ctx, id)
	if err != nil {
		return domain.ArbExecution{}, fmt.Errorf("arb_service: get execution %q: %w", id, err)
	}
	return exec, nil
}

// TotalProfit sums committed-cycle profit since a cutoff.
func (s *ArbService) TotalProfit(ctx context.Context, since time.Time) (uint64, error) {
	total, err := s.execs.SumProfit(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("arb_service: sum profit: %w", err)
	}
	return total, nil
}
