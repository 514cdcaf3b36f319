package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// SettlementService defines the methods that the settlement handler
// requires.
type SettlementService interface {
	Get(ctx context.Context, marketID, proposalID string) (domain.SettlementReport, error)
	List(ctx context.Context, marketID string) ([]domain.BlobInfo, error)
}

// SettlementHandler serves archived settlement reports. Reports live in
// object storage; without an archive configured every lookup is a 404.
type SettlementHandler struct {
	settlements SettlementService
	logger      *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler with the given service
// and logger.
func NewSettlementHandler(settlements SettlementService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{
		settlements: settlements,
		logger:      logHandler(logger, "settlement"),
	}
}

// listSettlementsResponse wraps the archived report listing for one market.
type listSettlementsResponse struct {
	MarketID string            `json:"market_id"`
	Reports  []domain.BlobInfo `json:"reports"`
}

// List returns the archived settlement reports for a market.
// GET /api/settlements/{market}
func (h *SettlementHandler) List(w http.ResponseWriter, r *http.Request) {
	marketID := pathParam(r, "market")
	reports, err := h.settlements.List(r.Context(), marketID)
	if err != nil {
		writeServiceError(w, r, h.logger, "list settlements", err)
		return
	}

	if reports == nil {
		reports = []domain.BlobInfo{}
	}

	writeJSON(w, http.StatusOK, listSettlementsResponse{
		MarketID: marketID,
		Reports:  reports,
	})
}

// Get returns one settlement report.
// GET /api/settlements/{market}/{proposal}
func (h *SettlementHandler) Get(w http.ResponseWriter, r *http.Request) {
	report, err := h.settlements.Get(r.Context(), pathParam(r, "market"), pathParam(r, "proposal"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get settlement", err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}
