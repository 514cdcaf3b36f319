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

// TradeService executes spot swaps and serves quotes and the trade tape.
// Conditional (via-balance) swaps live on the LedgerService; both record
// into the same trades table.
type TradeService struct {
	venue  *VenueService
	trades domain.TradeStore
	prices *PriceService
	bus    domain.SignalBus
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewTradeService creates a TradeService with all required dependencies.
func NewTradeService(
	venue *VenueService,
	trades domain.TradeStore,
	prices *PriceService,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		venue:  venue,
		trades: trades,
		prices: prices,
		bus:    bus,
		audit:  audit,
		logger: logger,
	}
}

// SwapInput describes one spot swap request.
type SwapInput struct {
	MarketID string
	Trader   string
	SideIn   domain.Side
	AmountIn uint64
	// MinOut bounds slippage; the engine rejects fills below it.
	MinOut uint64
}

// Swap trades against the market's spot pool, persists the pool state, and
// records the fill on the trade tape.
func (s *TradeService) Swap(ctx context.Context, in SwapInput) (domain.Trade, error) {
	now := time.Now().UTC()
	var (
		res     engine.SwapResult
		surface domain.MarketPrices
	)
	err := s.venue.withMarket(ctx, in.MarketID, func(h *marketHandle) error {
		var swapErr error
		res, swapErr = h.eng.Swap(in.SideIn, in.AmountIn, in.MinOut, now)
		if swapErr != nil {
			return swapErr
		}
		if err := s.venue.commit(ctx, h); err != nil {
			return err
		}
		surface = h.eng.Prices(now)
		return nil
	})
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trade_service: swap on %q: %w", in.MarketID, err)
	}

	trade := domain.Trade{
		ID:          uuid.NewString(),
		MarketID:    in.MarketID,
		Venue:       domain.TradeVenueSpot,
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
	// The pool state is already committed; a failed insert leaves a gap in
	// the tape, so it surfaces as an error rather than a warning.
	if err := s.trades.Insert(ctx, trade); err != nil {
		return domain.Trade{}, fmt.Errorf("trade_service: record swap %s: %w", trade.ID, err)
	}

	evt, _ := json.Marshal(newEvent(domain.EventSwap, in.MarketID, "", map[string]any{
		"trade_id":   trade.ID,
		"trader":     trade.Trader,
		"side_in":    string(trade.SideIn),
		"amount_in":  fmt.Sprintf("%d", trade.AmountIn),
		"amount_out": fmt.Sprintf("%d", trade.AmountOut),
		"price":      trade.Price,
	}))
	if pubErr := s.bus.Publish(ctx, EventsChannel, evt); pubErr != nil {
		s.logger.WarnContext(ctx, "trade_service: publish event failed",
			slog.String("trade_id", trade.ID),
			slog.String("error", pubErr.Error()),
		)
	}
	s.prices.Publish(ctx, surface)

	if auditErr := s.audit.Log(ctx, "swap_executed", map[string]any{
		"trade_id":   trade.ID,
		"market_id":  trade.MarketID,
		"trader":     trade.Trader,
		"side_in":    string(trade.SideIn),
		"amount_in":  trade.AmountIn,
		"amount_out": trade.AmountOut,
		"price":      trade.Price,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "trade_service: audit log failed",
			slog.String("trade_id", trade.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "trade_service: swap executed",
		slog.String("trade_id", trade.ID),
		slog.String("market_id", trade.MarketID),
		slog.String("side_in", string(trade.SideIn)),
		slog.Uint64("amount_in", trade.AmountIn),
		slog.Uint64("amount_out", trade.AmountOut),
	)
	return trade, nil
}

// QuoteSpot simulates a spot swap without mutating the pool.
func (s *TradeService) QuoteSpot(ctx context.Context, marketID string, sideIn domain.Side, amountIn uint64) (uint64, error) {
	var out uint64
	err := s.venue.withMarket(ctx, marketID, func(h *marketHandle) error {
		var simErr error
		out, simErr = h.eng.SimulateSwap(sideIn, amountIn)
		return simErr
	})
	if err != nil {
		return 0, fmt.Errorf("trade_service: quote spot on %q: %w", marketID, err)
	}
	return out, nil
}

// QuoteConditional simulates a via-balance swap against one outcome pool.
func (s *TradeService) QuoteConditional(ctx context.Context, marketID string, outcome int, sideIn domain.Side, amountIn uint64) (uint64, error) {
	var out uint64
	err := s.venue.withMarket(ctx, marketID, func(h *marketHandle) error {
		var simErr error
		out, simErr = h.eng.SimulateSwapViaBalance(outcome, sideIn, amountIn)
		return simErr
	})
	if err != nil {
		return 0, fmt.Errorf("trade_service: quote outcome %d on %q: %w", outcome, marketID, err)
	}
	return out, nil
}

// ListByMarket returns trades for one market with pagination.
func (s *TradeService) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	out, err := s.trades.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list by market %q: %w", marketID, err)
	}
	return out, nil
}

// ListByTrader returns trades for one trader with pagination.
func (s *TradeService) ListByTrader(ctx context.Context, trader string, opts domain.ListOpts) ([]domain.Trade, error) {
	out, err := s.trades.ListByTrader(ctx, trader, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list by trader %q: %w", trader, err)
	}
	return out, nil
}
