package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/engine"
)

// LedgerService operates the flat conditional-balance ledger: complete-set
// mints and burns, via-balance swaps against outcome pools, and the lazy
// settlement that drains a settled proposal's ledger against its escrow.
type LedgerService struct {
	venue     *VenueService
	ledger    domain.LedgerStore
	proposals domain.ProposalStore
	trades    domain.TradeStore
	prices    *PriceService
	bus       domain.SignalBus
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewLedgerService creates a LedgerService with all required dependencies.
func NewLedgerService(
	venue *VenueService,
	ledger domain.LedgerStore,
	proposals domain.ProposalStore,
	trades domain.TradeStore,
	prices *PriceService,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *LedgerService {
	return &LedgerService{
		venue:     venue,
		ledger:    ledger,
		proposals: proposals,
		trades:    trades,
		prices:    prices,
		bus:       bus,
		audit:     audit,
		logger:    logger,
	}
}

// CompleteSetInput describes one mint or burn against the trader account.
type CompleteSetInput struct {
	MarketID string
	Side     domain.Side
	Amount   uint64
}

// Mint converts deposited underlying into one unit of conditional balance
// per outcome, growing the proposal escrow 1:1.
func (s *LedgerService) Mint(ctx context.Context, in CompleteSetInput) error {
	err := s.venue.withMarket(ctx, in.MarketID, func(h *marketHandle) error {
		if h.trader == nil {
			return fmt.Errorf("market %s: %w", in.MarketID, domain.ErrNoOpenProposal)
		}
		if mintErr := h.eng.MintCompleteSet(h.trader, in.Side, in.Amount); mintErr != nil {
			return mintErr
		}
		return s.venue.commit(ctx, h)
	})
	if err != nil {
		return fmt.Errorf("ledger_service: mint set on %q: %w", in.MarketID, err)
	}

	evt, _ := json.Marshal(newEvent(domain.EventCompleteSetMint, in.MarketID, "", map[string]any{
		"side":   string(in.Side),
		"amount": fmt.Sprintf("%d", in.Amount),
	}))
	if pubErr := s.bus.Publish(ctx, EventsChannel, evt); pubErr != nil {
		s.logger.WarnContext(ctx, "ledger_service: publish event failed",
			slog.String("market_id", in.MarketID),
			slog.String("error", pubErr.Error()),
		)
	}
	if auditErr := s.audit.Log(ctx, "complete_set_minted", map[string]any{
		"market_id": in.MarketID,
		"side":      string(in.Side),
		"amount":    in.Amount,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "ledger_service: audit log failed",
			slog.String("market_id", in.MarketID),
			slog.String("error", auditErr.Error()),
		)
	}
	s.logger.InfoContext(ctx, "ledger_service: complete set minted",
		slog.String("market_id", in.MarketID),
		slog.String("side", string(in.Side)),
		slog.Uint64("amount", in.Amount),
	)
	return nil
}

// Burn retires one unit of conditional balance per outcome and releases the
// underlying from escrow. Returns the released amount.
func (s *LedgerService) Burn(ctx context.Context, in CompleteSetInput) (uint64, error) {
	var payout uint64
	err := s.venue.withMarket(ctx, in.MarketID, func(h *marketHandle) error {
		if h.trader == nil {
			return fmt.Errorf("market %s: %w", in.MarketID, domain.ErrNoOpenProposal)
		}
		var burnErr error
		payout, burnErr = h.eng.BurnCompleteSet(h.trader, in.Side, in.Amount)
		if burnErr != nil {
			return burnErr
		}
		return s.venue.commit(ctx, h)
	})
	if err != nil {
		return 0, fmt.Errorf("ledger_service: burn set on %q: %w", in.MarketID, err)
	}

	evt, _ := json.Marshal(newEvent(domain.EventCompleteSetBurn, in.MarketID, "", map[string]any{
		"side":   string(in.Side),
		"amount": fmt.Sprintf("%d", in.Amount),
		"payout": fmt.Sprintf("%d", payout),
	}))
	if pubErr := s.bus.Publish(ctx, EventsChannel, evt); pubErr != nil {
		s.logger.WarnContext(ctx, "ledger_service: publish event failed",
			slog.String("market_id", in.MarketID),
			slog.String("error", pubErr.Error()),
		)
	}
	if auditErr := s.audit.Log(ctx, "complete_set_burned", map[string]any{
		"market_id": in.MarketID,
		"side":      string(in.Side),
		"amount":    in.Amount,
		"payout":    payout,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "ledger_service: audit log failed",
			slog.String("market_id", in.MarketID),
			slog.String("error", auditErr.Error()),
		)
	}
	s.logger.InfoContext(ctx, "ledger_service: complete set burned",
		slog.String("market_id", in.MarketID),
		slog.String("side", string(in.Side)),
		slog.Uint64("payout", payout),
	)
	return payout, nil
}

// BalanceSwapInput describes one via-balance swap against an outcome pool.
type BalanceSwapInput struct {
	MarketID string
	Trader   string
	Outcome  int
	SideIn   domain.Side
	AmountIn uint64
	MinOut   uint64
}

// BalanceSwap trades one outcome's conditional pool through the trader
// account: the input cell is debited, the opposite cell credited.
func (s *LedgerService) BalanceSwap(ctx context.Context, in BalanceSwapInput) (domain.Trade, error) {
	now := time.Now().UTC()
	var (
		res        engine.SwapResult
		surface    domain.MarketPrices
		proposalID string
	)
	err := s.venue.withMarket(ctx, in.MarketID, func(h *marketHandle) error {
		if h.trader == nil {
			return fmt.Errorf("market %s: %w", in.MarketID, domain.ErrNoOpenProposal)
		}
		var swapErr error
		res, swapErr = h.eng.SwapViaBalance(h.trader, in.Outcome, in.SideIn, in.AmountIn, in.MinOut, now)
		if swapErr != nil {
			return swapErr
		}
		proposalID = h.prop.ID
		if err := s.venue.commit(ctx, h); err != nil {
			return err
		}
		surface = h.eng.Prices(now)
		return nil
	})
	if err != nil {
		return domain.Trade{}, fmt.Errorf("ledger_service: balance swap on %q outcome %d: %w", in.MarketID, in.Outcome, err)
	}

	outcome := in.Outcome
	trade := domain.Trade{
		ID:          uuid.NewString(),
		MarketID:    in.MarketID,
		ProposalID:  &proposalID,
		Venue:       domain.TradeVenueConditional,
		Outcome:     &outcome,
		Kind:        domain.TradeKindUser,
		Trader:      in.Trader,
		SideIn:      in.SideIn,
		AmountIn:    in.AmountIn,
		AmountOut:   res.AmountOut,
		LPFee:       res.LPFee,
		ProtocolFee: res.ProtocolFee,
		Price:       engine.PriceString(res.Price),
		CreatedAt:   now,
	}
	if err := s.trades.Insert(ctx, trade); err != nil {
		return domain.Trade{}, fmt.Errorf("ledger_service: record swap %s: %w", trade.ID, err)
	}

	evt, _ := json.Marshal(newEvent(domain.EventSwap, in.MarketID, proposalID, map[string]any{
		"trade_id":   trade.ID,
		"trader":     trade.Trader,
		"outcome":    outcome,
		"side_in":    string(trade.SideIn),
		"amount_in":  fmt.Sprintf("%d", trade.AmountIn),
		"amount_out": fmt.Sprintf("%d", trade.AmountOut),
		"price":      trade.Price,
	}))
	if pubErr := s.bus.Publish(ctx, EventsChannel, evt); pubErr != nil {
		s.logger.WarnContext(ctx, "ledger_service: publish event failed",
			slog.String("trade_id", trade.ID),
			slog.String("error", pubErr.Error()),
		)
	}
	s.prices.Publish(ctx, surface)

	if auditErr := s.audit.Log(ctx, "balance_swap_executed", map[string]any{
		"trade_id":   trade.ID,
		"market_id":  in.MarketID,
		"outcome":    outcome,
		"trader":     trade.Trader,
		"side_in":    string(trade.SideIn),
		"amount_in":  trade.AmountIn,
		"amount_out": trade.AmountOut,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "ledger_service: audit log failed",
			slog.String("trade_id", trade.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "ledger_service: balance swap executed",
		slog.String("trade_id", trade.ID),
		slog.String("market_id", in.MarketID),
		slog.Int("outcome", outcome),
		slog.Uint64("amount_in", trade.AmountIn),
		slog.Uint64("amount_out", trade.AmountOut),
	)
	return trade, nil
}

// Balances returns a market's ledger rows for one account. Account defaults
// to the trader account.
func (s *LedgerService) Balances(ctx context.Context, marketID, account string) ([]domain.BalanceEntry, error) {
	if account == "" {
		account = domain.AccountTrader
	}
	rows, err := s.ledger.ListByAccount(ctx, marketID, account)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: balances for %q/%s: %w", marketID, account, err)
	}
	return rows, nil
}

// SettleProposal drains a settled proposal's remaining ledger against its
// escrow: winning balances redeem 1:1, losing residue is swept as dust, and
// the rows are deleted so the market can host its next proposal. Idempotent;
// settling an already-drained proposal is a no-op.
func (s *LedgerService) SettleProposal(ctx context.Context, proposalID string) (assetOut, stableOut uint64, err error) {
	prop, err := s.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return 0, 0, fmt.Errorf("ledger_service: get proposal %q: %w", proposalID, err)
	}
	if prop.State != domain.ProposalStateSettled {
		return 0, 0, fmt.Errorf("ledger_service: proposal %s in state %s: %w", prop.ID, prop.State, domain.ErrProposalNotResolved)
	}

	all, err := s.ledger.ListByAccount(ctx, prop.MarketID, domain.AccountTrader)
	if err != nil {
		return 0, 0, fmt.Errorf("ledger_service: list ledger for %q: %w", prop.MarketID, err)
	}
	rows := make([]domain.BalanceEntry, 0, len(all))
	for _, row := range all {
		if row.ProposalID == prop.ID {
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		// No trader balances left, but the venue account's redeemed rows
		// still occupy the table and would block the next proposal.
		if err := s.ledger.DeleteByProposal(ctx, prop.ID); err != nil {
			return 0, 0, fmt.Errorf("ledger_service: delete ledger rows for %q: %w", prop.ID, err)
		}
		return 0, 0, nil
	}

	l, err := engine.RestoreBalanceLedger(prop.OutcomeCount, rows)
	if err != nil {
		return 0, 0, fmt.Errorf("ledger_service: restore ledger for %q: %w", prop.ID, err)
	}
	assetOut, stableOut, dust, err := engine.SettleLedger(&prop, l)
	if err != nil {
		return 0, 0, fmt.Errorf("ledger_service: settle ledger for %q: %w", prop.ID, err)
	}

	if err := s.proposals.Update(ctx, prop); err != nil {
		return 0, 0, fmt.Errorf("ledger_service: persist drained escrow for %q: %w", prop.ID, err)
	}
	if err := s.ledger.DeleteByProposal(ctx, prop.ID); err != nil {
		return 0, 0, fmt.Errorf("ledger_service: delete ledger rows for %q: %w", prop.ID, err)
	}

	if len(dust) > 0 {
		detail := make([]map[string]any, 0, len(dust))
		for _, d := range dust {
			detail = append(detail, map[string]any{
				"outcome": d.Outcome,
				"side":    string(d.Side),
				"amount":  fmt.Sprintf("%d", d.Amount),
			})
		}
		evt, _ := json.Marshal(newEvent(domain.EventDustSwept, prop.MarketID, prop.ID, map[string]any{
			"dust": detail,
		}))
		if pubErr := s.bus.Publish(ctx, EventsChannel, evt); pubErr != nil {
			s.logger.WarnContext(ctx, "ledger_service: publish event failed",
				slog.String("proposal_id", prop.ID),
				slog.String("error", pubErr.Error()),
			)
		}
	}
	if auditErr := s.audit.Log(ctx, "ledger_settled", map[string]any{
		"proposal_id": prop.ID,
		"market_id":   prop.MarketID,
		"asset_out":   assetOut,
		"stable_out":  stableOut,
		"dust_cells":  len(dust),
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "ledger_service: audit log failed",
			slog.String("proposal_id", prop.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "ledger_service: proposal ledger settled",
		slog.String("proposal_id", prop.ID),
		slog.Uint64("asset_out", assetOut),
		slog.Uint64("stable_out", stableOut),
		slog.Int("dust_cells", len(dust)),
	)
	return assetOut, stableOut, nil
}
