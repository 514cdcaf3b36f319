package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/service"
)

// TradeService defines the methods that the trade handler requires.
type TradeService interface {
	Swap(ctx context.Context, in service.SwapInput) (domain.Trade, error)
	QuoteSpot(ctx context.Context, marketID string, sideIn domain.Side, amountIn uint64) (uint64, error)
	QuoteConditional(ctx context.Context, marketID string, outcome int, sideIn domain.Side, amountIn uint64) (uint64, error)
	ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error)
	ListByTrader(ctx context.Context, trader string, opts domain.ListOpts) ([]domain.Trade, error)
}

// TradeHandler serves spot-swap and trade-tape HTTP endpoints.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler with the given service and logger.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades: trades,
		logger: logHandler(logger, "trade"),
	}
}

// swapRequest is the body for a spot swap.
type swapRequest struct {
	Trader   string `json:"trader"`
	SideIn   string `json:"side_in"`
	AmountIn uint64 `json:"amount_in"`
	MinOut   uint64 `json:"min_out"`
}

// Swap trades against the market's spot pool.
// POST /api/markets/{id}/swap
func (h *TradeHandler) Swap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	side, err := parseSide(req.SideIn)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	trade, err := h.trades.Swap(r.Context(), service.SwapInput{
		MarketID: pathParam(r, "id"),
		Trader:   req.Trader,
		SideIn:   side,
		AmountIn: req.AmountIn,
		MinOut:   req.MinOut,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "swap", err)
		return
	}

	writeJSON(w, http.StatusCreated, trade)
}

// quoteResponse reports a read-only fill estimate.
type quoteResponse struct {
	MarketID  string `json:"market_id"`
	Outcome   *int   `json:"outcome,omitempty"`
	SideIn    string `json:"side_in"`
	AmountIn  uint64 `json:"amount_in"`
	AmountOut uint64 `json:"amount_out"`
}

// Quote prices a swap without executing it. An outcome query parameter
// quotes the conditional pool instead of spot.
// GET /api/markets/{id}/quote?side=asset&amount=1000&outcome=0
func (h *TradeHandler) Quote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	side, err := parseSide(q.Get("side"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := strconv.ParseUint(q.Get("amount"), 10, 64)
	if err != nil || amount == 0 {
		writeError(w, http.StatusBadRequest, "amount must be a positive integer")
		return
	}

	marketID := pathParam(r, "id")
	resp := quoteResponse{
		MarketID: marketID,
		SideIn:   string(side),
		AmountIn: amount,
	}

	if v := q.Get("outcome"); v != "" {
		outcome, convErr := strconv.Atoi(v)
		if convErr != nil || outcome < 0 {
			writeError(w, http.StatusBadRequest, "outcome must be a non-negative integer")
			return
		}
		out, quoteErr := h.trades.QuoteConditional(r.Context(), marketID, outcome, side, amount)
		if quoteErr != nil {
			writeServiceError(w, r, h.logger, "quote", quoteErr)
			return
		}
		resp.Outcome = &outcome
		resp.AmountOut = out
	} else {
		out, quoteErr := h.trades.QuoteSpot(r.Context(), marketID, side, amount)
		if quoteErr != nil {
			writeServiceError(w, r, h.logger, "quote", quoteErr)
			return
		}
		resp.AmountOut = out
	}

	writeJSON(w, http.StatusOK, resp)
}

// listTradesResponse wraps the trade tape response.
type listTradesResponse struct {
	Trades []domain.Trade `json:"trades"`
}

// ListByMarket returns a market's trade tape, newest first.
// GET /api/markets/{id}/trades
func (h *TradeHandler) ListByMarket(w http.ResponseWriter, r *http.Request) {
	trades, err := h.trades.ListByMarket(r.Context(), pathParam(r, "id"), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list trades", err)
		return
	}

	if trades == nil {
		trades = []domain.Trade{}
	}

	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}

// ListByTrader returns one account's fills across all markets.
// GET /api/trades?trader=alice
func (h *TradeHandler) ListByTrader(w http.ResponseWriter, r *http.Request) {
	trader := r.URL.Query().Get("trader")
	if trader == "" {
		writeError(w, http.StatusBadRequest, "trader query parameter required")
		return
	}

	trades, err := h.trades.ListByTrader(r.Context(), trader, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list trades", err)
		return
	}

	if trades == nil {
		trades = []domain.Trade{}
	}

	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}
