package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/service"
)

// LedgerService defines the conditional-ledger methods the handler
// requires.
type LedgerService interface {
	Mint(ctx context.Context, in service.CompleteSetInput) error
	Burn(ctx context.Context, in service.CompleteSetInput) (uint64, error)
	BalanceSwap(ctx context.Context, in service.BalanceSwapInput) (domain.Trade, error)
	Balances(ctx context.Context, marketID, account string) ([]domain.BalanceEntry, error)
}

// LedgerHandler serves conditional-balance HTTP endpoints.
type LedgerHandler struct {
	ledger LedgerService
	logger *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler with the given service and
// logger.
func NewLedgerHandler(ledger LedgerService, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledger: ledger,
		logger: logHandler(logger, "ledger"),
	}
}

// completeSetRequest is the body for minting or burning complete sets
// against the venue trader account.
type completeSetRequest struct {
	Side   string `json:"side"`
	Amount uint64 `json:"amount"`
}

// Mint converts deposited underlying into one unit of conditional balance
// per outcome.
// POST /api/markets/{id}/complete-set/mint
func (h *LedgerHandler) Mint(w http.ResponseWriter, r *http.Request) {
	req, side, ok := h.decodeCompleteSet(w, r)
	if !ok {
		return
	}

	err := h.ledger.Mint(r.Context(), service.CompleteSetInput{
		MarketID: pathParam(r, "id"),
		Side:     side,
		Amount:   req.Amount,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "mint complete set", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]uint64{"minted": req.Amount})
}

// Burn redeems complete sets back into underlying. The burned amount is
// capped by the smallest per-outcome balance.
// POST /api/markets/{id}/complete-set/burn
func (h *LedgerHandler) Burn(w http.ResponseWriter, r *http.Request) {
	req, side, ok := h.decodeCompleteSet(w, r)
	if !ok {
		return
	}

	burned, err := h.ledger.Burn(r.Context(), service.CompleteSetInput{
		MarketID: pathParam(r, "id"),
		Side:     side,
		Amount:   req.Amount,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "burn complete set", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]uint64{"burned": burned})
}

func (h *LedgerHandler) decodeCompleteSet(w http.ResponseWriter, r *http.Request) (completeSetRequest, domain.Side, bool) {
	var req completeSetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return req, "", false
	}
	side, err := parseSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, "", false
	}
	return req, side, true
}

// balanceSwapRequest is the body for trading conditional balances through
// an outcome pool.
type balanceSwapRequest struct {
	Trader   string `json:"trader"`
	Outcome  int    `json:"outcome"`
	SideIn   string `json:"side_in"`
	AmountIn uint64 `json:"amount_in"`
	MinOut   uint64 `json:"min_out"`
}

// BalanceSwap trades one outcome's conditional pool from a trader account
// balance instead of fresh deposits.
// POST /api/markets/{id}/balance-swap
func (h *LedgerHandler) BalanceSwap(w http.ResponseWriter, r *http.Request) {
	var req balanceSwapRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	side, err := parseSide(req.SideIn)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	trade, err := h.ledger.BalanceSwap(r.Context(), service.BalanceSwapInput{
		MarketID: pathParam(r, "id"),
		Trader:   req.Trader,
		Outcome:  req.Outcome,
		SideIn:   side,
		AmountIn: req.AmountIn,
		MinOut:   req.MinOut,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "balance swap", err)
		return
	}

	writeJSON(w, http.StatusCreated, trade)
}

// listBalancesResponse wraps the balances response.
type listBalancesResponse struct {
	Balances []domain.BalanceEntry `json:"balances"`
}

// Balances returns an account's conditional balances on the market's open
// proposal.
// GET /api/markets/{id}/balances/{account}
func (h *LedgerHandler) Balances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.ledger.Balances(r.Context(), pathParam(r, "id"), pathParam(r, "account"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list balances", err)
		return
	}

	if balances == nil {
		balances = []domain.BalanceEntry{}
	}

	writeJSON(w, http.StatusOK, listBalancesResponse{Balances: balances})
}
