package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/service"
)

// ProposalService defines the methods that the proposal handler requires.
type ProposalService interface {
	Open(ctx context.Context, in service.OpenProposalInput) (domain.Proposal, error)
	Resolve(ctx context.Context, proposalID string, winningOutcome int) error
	Get(ctx context.Context, id string) (domain.Proposal, error)
	GetOpenByMarket(ctx context.Context, marketID string) (domain.Proposal, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.Proposal, error)
	ListByState(ctx context.Context, state domain.ProposalState, opts domain.ListOpts) ([]domain.Proposal, error)
}

// ProposalHandler serves proposal HTTP endpoints.
type ProposalHandler struct {
	proposals ProposalService
	logger    *slog.Logger
}

// NewProposalHandler creates a ProposalHandler with the given service and
// logger.
func NewProposalHandler(proposals ProposalService, logger *slog.Logger) *ProposalHandler {
	return &ProposalHandler{
		proposals: proposals,
		logger:    logHandler(logger, "proposal"),
	}
}

// openProposalRequest is the body for attaching a proposal to a market.
// SplitRatioBps zero takes the market's default split.
type openProposalRequest struct {
	MarketID      string `json:"market_id"`
	Title         string `json:"title"`
	OutcomeCount  int    `json:"outcome_count"`
	SplitRatioBps uint64 `json:"split_ratio_bps"`
}

// Open attaches a proposal to a market: one conditional pool per outcome,
// seeded by the quantum split of spot reserves.
// POST /api/proposals
func (h *ProposalHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openProposalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	prop, err := h.proposals.Open(r.Context(), service.OpenProposalInput{
		MarketID:      req.MarketID,
		Title:         req.Title,
		OutcomeCount:  req.OutcomeCount,
		SplitRatioBps: req.SplitRatioBps,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "open proposal", err)
		return
	}

	h.logger.InfoContext(r.Context(), "handler: proposal opened",
		slog.String("proposal_id", prop.ID),
		slog.String("market_id", prop.MarketID),
	)
	writeJSON(w, http.StatusCreated, prop)
}

// resolveRequest carries the governance outcome for a proposal.
type resolveRequest struct {
	WinningOutcome int `json:"winning_outcome"`
}

// Resolve records the winning outcome and freezes conditional trading.
// Re-posting the same outcome is a no-op, so governance relays can retry.
// POST /api/proposals/{id}/resolve
func (h *ProposalHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	id := pathParam(r, "id")
	if err := h.proposals.Resolve(r.Context(), id, req.WinningOutcome); err != nil {
		writeServiceError(w, r, h.logger, "resolve proposal", err)
		return
	}

	h.logger.InfoContext(r.Context(), "handler: proposal resolved",
		slog.String("proposal_id", id),
		slog.Int("winning_outcome", req.WinningOutcome),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "resolved",
		"winning_outcome": req.WinningOutcome,
	})
}

// Get returns one proposal by ID.
// GET /api/proposals/{id}
func (h *ProposalHandler) Get(w http.ResponseWriter, r *http.Request) {
	prop, err := h.proposals.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get proposal", err)
		return
	}

	writeJSON(w, http.StatusOK, prop)
}

// GetOpenByMarket returns the market's currently attached proposal.
// GET /api/markets/{id}/proposal
func (h *ProposalHandler) GetOpenByMarket(w http.ResponseWriter, r *http.Request) {
	prop, err := h.proposals.GetOpenByMarket(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get open proposal", err)
		return
	}

	writeJSON(w, http.StatusOK, prop)
}

// listProposalsResponse wraps the list proposals response.
type listProposalsResponse struct {
	Proposals []domain.Proposal `json:"proposals"`
}

// List returns proposals, optionally filtered by state.
// GET /api/proposals?state=open
func (h *ProposalHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var (
		proposals []domain.Proposal
		err       error
	)
	if v := r.URL.Query().Get("state"); v != "" {
		state := domain.ProposalState(v)
		switch state {
		case domain.ProposalStateOpen, domain.ProposalStateResolved, domain.ProposalStateSettled:
		default:
			writeError(w, http.StatusBadRequest, "state must be open, resolved, or settled")
			return
		}
		proposals, err = h.proposals.ListByState(r.Context(), state, opts)
	} else {
		proposals, err = h.proposals.List(r.Context(), opts)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "list proposals", err)
		return
	}

	if proposals == nil {
		proposals = []domain.Proposal{}
	}

	writeJSON(w, http.StatusOK, listProposalsResponse{Proposals: proposals})
}
