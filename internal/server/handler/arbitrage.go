package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// ArbService defines the methods that the arbitrage handler requires.
type ArbService interface {
	ListRecent(ctx context.Context, limit int) ([]domain.ArbOpportunity, error)
	ListExecutions(ctx context.Context, limit int) ([]domain.ArbExecution, error)
	GetExecution(ctx context.Context, id string) (domain.ArbExecution, error)
	TotalProfit(ctx context.Context, since time.Time) (uint64, error)
	Tripped() bool
	Shortfall() uint64
}

// ArbHandler serves arbitrage-related HTTP endpoints.
type ArbHandler struct {
	arb    ArbService
	logger *slog.Logger
}

// NewArbHandler creates an ArbHandler with the given service and logger.
func NewArbHandler(arb ArbService, logger *slog.Logger) *ArbHandler {
	return &ArbHandler{
		arb:    arb,
		logger: logHandler(logger, "arbitrage"),
	}
}

// parseLimit reads a bounded limit query parameter.
func parseLimit(r *http.Request, def, max int) int {
	limit := def
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

// listArbResponse wraps the list arbitrage opportunities response.
type listArbResponse struct {
	Opportunities []domain.ArbOpportunity `json:"opportunities"`
}

// ListRecent returns the most recent arbitrage opportunities.
// GET /api/arbitrage/recent?limit=20
func (h *ArbHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	opps, err := h.arb.ListRecent(r.Context(), parseLimit(r, 20, 200))
	if err != nil {
		writeServiceError(w, r, h.logger, "list arbitrage opportunities", err)
		return
	}

	if opps == nil {
		opps = []domain.ArbOpportunity{}
	}

	writeJSON(w, http.StatusOK, listArbResponse{Opportunities: opps})
}

// listExecutionsResponse wraps the list executions response.
type listExecutionsResponse struct {
	Executions []domain.ArbExecution `json:"executions"`
}

// ListExecutions returns recent arbitrage executions with their legs.
// GET /api/arbitrage/executions?limit=50
func (h *ArbHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	execs, err := h.arb.ListExecutions(r.Context(), parseLimit(r, 50, 200))
	if err != nil {
		writeServiceError(w, r, h.logger, "list arbitrage executions", err)
		return
	}

	if execs == nil {
		execs = []domain.ArbExecution{}
	}

	writeJSON(w, http.StatusOK, listExecutionsResponse{Executions: execs})
}

// GetExecution returns a single execution by ID.
// GET /api/arbitrage/executions/{id}
func (h *ArbHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := h.arb.GetExecution(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get arbitrage execution", err)
		return
	}

	writeJSON(w, http.StatusOK, exec)
}

// Profit summarizes realized arbitrage profit plus the kill-switch state.
// Profit is denominated in stable base units.
// GET /api/arbitrage/profit?since=2026-08-01T00:00:00Z
func (h *ArbHandler) Profit(w http.ResponseWriter, r *http.Request) {
	since := time.Now().UTC().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = t
	}

	total, err := h.arb.TotalProfit(r.Context(), since)
	if err != nil {
		writeServiceError(w, r, h.logger, "compute arbitrage profit", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"since":        since.Format(time.RFC3339),
		"total_profit": total,
		"tripped":      h.arb.Tripped(),
		"shortfall":    h.arb.Shortfall(),
	})
}
