package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/engine"
	"github.com/praxismarkets/futarchyd/internal/service"
)

// CrankService defines the methods that the crank handler requires.
type CrankService interface {
	Recombine(ctx context.Context, marketID string, winner *int) (service.RecombineOutcome, error)
	Transition(ctx context.Context, marketID string) (engine.TransitionResult, error)
	UpdateTwaps(ctx context.Context, marketID string) (int, error)
}

// CrankHandler serves the permissionless crank endpoints. No key is
// required: cranks only advance state that governance already decided, and
// a distributed lock keeps concurrent callers from colliding.
type CrankHandler struct {
	cranks CrankService
	logger *slog.Logger
}

// NewCrankHandler creates a CrankHandler with the given service and logger.
func NewCrankHandler(cranks CrankService, logger *slog.Logger) *CrankHandler {
	return &CrankHandler{
		cranks: cranks,
		logger: logHandler(logger, "crank"),
	}
}

// recombineRequest optionally carries a winner for proposals governance
// resolved out of band. An empty body cranks an already-resolved proposal.
type recombineRequest struct {
	Winner *int `json:"winner"`
}

// recombineResponse reports one crank run.
type recombineResponse struct {
	Result engine.RecombineResult   `json:"result"`
	Report *domain.SettlementReport `json:"report,omitempty"`
}

// Recombine tears down a resolved proposal's conditional pools and folds
// the winning reserves back into spot.
// POST /api/cranks/{market}/recombine
func (h *CrankHandler) Recombine(w http.ResponseWriter, r *http.Request) {
	var req recombineRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	marketID := pathParam(r, "market")
	outcome, err := h.cranks.Recombine(r.Context(), marketID, req.Winner)
	if err != nil {
		writeServiceError(w, r, h.logger, "recombine", err)
		return
	}

	if outcome.Result.NoOp {
		writeJSON(w, http.StatusOK, map[string]string{"status": "no_op"})
		return
	}

	h.logger.InfoContext(r.Context(), "handler: recombination cranked",
		slog.String("market_id", marketID),
		slog.String("proposal_id", outcome.Result.ProposalID),
		slog.Int("winner", outcome.Result.Winner),
	)
	writeJSON(w, http.StatusOK, recombineResponse{
		Result: outcome.Result,
		Report: outcome.Report,
	})
}

// Transition migrates pending-transition reserves for markets whose
// recombination committed but whose marked weight has not flipped yet.
// POST /api/cranks/{market}/transition
func (h *CrankHandler) Transition(w http.ResponseWriter, r *http.Request) {
	result, err := h.cranks.Transition(r.Context(), pathParam(r, "market"))
	if err != nil {
		writeServiceError(w, r, h.logger, "transition", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Twap advances the market's TWAP observations.
// POST /api/cranks/{market}/twap
func (h *CrankHandler) Twap(w http.ResponseWriter, r *http.Request) {
	updated, err := h.cranks.UpdateTwaps(r.Context(), pathParam(r, "market"))
	if err != nil {
		writeServiceError(w, r, h.logger, "update twaps", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}
