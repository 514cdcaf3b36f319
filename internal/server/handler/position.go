package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/service"
)

// LiquidityService defines the liquidity methods the position handler
// requires.
type LiquidityService interface {
	AddLiquidity(ctx context.Context, in service.AddLiquidityInput) (domain.LPPosition, error)
	RemoveLiquidity(ctx context.Context, in service.RemoveLiquidityInput) (assetOut, stableOut uint64, err error)
	GetPosition(ctx context.Context, id string) (domain.LPPosition, error)
	ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.LPPosition, error)
}

// WithdrawalService defines the withdrawal-path methods the position
// handler requires.
type WithdrawalService interface {
	Mark(ctx context.Context, in service.MarkInput) (domain.LPPosition, error)
	Claim(ctx context.Context, in service.ClaimInput) (domain.WithdrawalClaim, error)
	Withdrawable(ctx context.Context, positionID string) (service.WithdrawablePreview, error)
	GetClaim(ctx context.Context, id string) (domain.WithdrawalClaim, error)
	ListClaims(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.WithdrawalClaim, error)
}

// PositionHandler serves LP position and withdrawal HTTP endpoints.
type PositionHandler struct {
	liquidity   LiquidityService
	withdrawals WithdrawalService
	logger      *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given services and
// logger.
func NewPositionHandler(liquidity LiquidityService, withdrawals WithdrawalService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		liquidity:   liquidity,
		withdrawals: withdrawals,
		logger:      logHandler(logger, "position"),
	}
}

// addLiquidityRequest is the body for a live-bucket deposit.
type addLiquidityRequest struct {
	Owner    string `json:"owner"`
	AssetIn  uint64 `json:"asset_in"`
	StableIn uint64 `json:"stable_in"`
}

// AddLiquidity deposits reserves into the spot pool and mints an LP
// position.
// POST /api/markets/{id}/liquidity
func (h *PositionHandler) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	var req addLiquidityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	pos, err := h.liquidity.AddLiquidity(r.Context(), service.AddLiquidityInput{
		MarketID: pathParam(r, "id"),
		Owner:    req.Owner,
		AssetIn:  req.AssetIn,
		StableIn: req.StableIn,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "add liquidity", err)
		return
	}

	writeJSON(w, http.StatusCreated, pos)
}

// removeLiquidityRequest is the body for a live removal. Amount zero burns
// the whole position.
type removeLiquidityRequest struct {
	Owner  string `json:"owner"`
	Amount uint64 `json:"amount"`
}

// removeLiquidityResponse reports the reserves paid out by a removal.
type removeLiquidityResponse struct {
	PositionID string `json:"position_id"`
	AssetOut   uint64 `json:"asset_out"`
	StableOut  uint64 `json:"stable_out"`
}

// RemoveLiquidity burns live position weight for its reserve share. Only
// legal without an attached proposal; marked positions exit through the
// withdrawal path instead.
// POST /api/positions/{id}/remove
func (h *PositionHandler) RemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	var req removeLiquidityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	id := pathParam(r, "id")
	assetOut, stableOut, err := h.liquidity.RemoveLiquidity(r.Context(), service.RemoveLiquidityInput{
		PositionID: id,
		Owner:      req.Owner,
		Amount:     req.Amount,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "remove liquidity", err)
		return
	}

	writeJSON(w, http.StatusOK, removeLiquidityResponse{
		PositionID: id,
		AssetOut:   assetOut,
		StableOut:  stableOut,
	})
}

// Get returns one LP position.
// GET /api/positions/{id}
func (h *PositionHandler) Get(w http.ResponseWriter, r *http.Request) {
	pos, err := h.liquidity.GetPosition(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get position", err)
		return
	}

	writeJSON(w, http.StatusOK, pos)
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.LPPosition `json:"positions"`
}

// ListByOwner returns all of an owner's LP positions.
// GET /api/positions?owner=alice
func (h *PositionHandler) ListByOwner(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner query parameter required")
		return
	}

	positions, err := h.liquidity.ListByOwner(r.Context(), owner, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list positions", err)
		return
	}

	if positions == nil {
		positions = []domain.LPPosition{}
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// markRequest is the body for marking a position for withdrawal. Amount
// zero marks the whole position.
type markRequest struct {
	Owner  string `json:"owner"`
	Amount uint64 `json:"amount"`
}

// Mark moves position weight onto the withdrawal path. While a proposal is
// open the weight parks in transitioning and pays out after recombination.
// POST /api/positions/{id}/mark
func (h *PositionHandler) Mark(w http.ResponseWriter, r *http.Request) {
	var req markRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	pos, err := h.withdrawals.Mark(r.Context(), service.MarkInput{
		PositionID: pathParam(r, "id"),
		Owner:      req.Owner,
		Amount:     req.Amount,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "mark for withdrawal", err)
		return
	}

	writeJSON(w, http.StatusOK, pos)
}

// claimRequest is the body for claiming a withdrawable position.
type claimRequest struct {
	Owner string `json:"owner"`
}

// Claim pays out a claimable position and retires it.
// POST /api/positions/{id}/claim
func (h *PositionHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	claim, err := h.withdrawals.Claim(r.Context(), service.ClaimInput{
		PositionID: pathParam(r, "id"),
		Owner:      req.Owner,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "claim", err)
		return
	}

	h.logger.InfoContext(r.Context(), "handler: withdrawal claimed",
		slog.String("claim_id", claim.ID),
		slog.String("position_id", claim.PositionID),
	)
	writeJSON(w, http.StatusCreated, claim)
}

// Preview reports what a position would pay out right now without touching
// it.
// GET /api/positions/{id}/preview
func (h *PositionHandler) Preview(w http.ResponseWriter, r *http.Request) {
	preview, err := h.withdrawals.Withdrawable(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "preview withdrawal", err)
		return
	}

	writeJSON(w, http.StatusOK, preview)
}

// GetClaim returns one withdrawal claim receipt.
// GET /api/claims/{id}
func (h *PositionHandler) GetClaim(w http.ResponseWriter, r *http.Request) {
	claim, err := h.withdrawals.GetClaim(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get claim", err)
		return
	}

	writeJSON(w, http.StatusOK, claim)
}

// listClaimsResponse wraps the list claims response.
type listClaimsResponse struct {
	Claims []domain.WithdrawalClaim `json:"claims"`
}

// ListClaims returns an owner's claim receipts.
// GET /api/claims?owner=alice
func (h *PositionHandler) ListClaims(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner query parameter required")
		return
	}

	claims, err := h.withdrawals.ListClaims(r.Context(), owner, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list claims", err)
		return
	}

	if claims == nil {
		claims = []domain.WithdrawalClaim{}
	}

	writeJSON(w, http.StatusOK, listClaimsResponse{Claims: claims})
}
