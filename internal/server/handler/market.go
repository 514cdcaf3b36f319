package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/service"
)

// MarketService defines the methods that the market handler requires from
// the service layer. It is declared locally so the handler package does not
// depend on the concrete service implementation.
type MarketService interface {
	CreateMarket(ctx context.Context, in service.CreateMarketInput) (domain.Market, error)
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	GetMarketBySlug(ctx context.Context, slug string) (domain.Market, error)
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	CountMarkets(ctx context.Context) (int64, error)
	Prices(ctx context.Context, id string) (domain.MarketPrices, error)
	Halt(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logHandler(logger, "market"),
	}
}

// createMarketRequest is the body for registering a market. Params may be
// omitted to take a named policy preset or the venue defaults.
type createMarketRequest struct {
	Slug         string               `json:"slug"`
	AssetSymbol  string               `json:"asset_symbol"`
	StableSymbol string               `json:"stable_symbol"`
	Policy       string               `json:"policy,omitempty"`
	Params       *domain.MarketParams `json:"params,omitempty"`
}

// Create registers a new market with an empty spot pool.
// POST /api/markets
func (h *MarketHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	market, err := h.markets.CreateMarket(r.Context(), service.CreateMarketInput{
		Slug:         req.Slug,
		AssetSymbol:  req.AssetSymbol,
		StableSymbol: req.StableSymbol,
		Policy:       req.Policy,
		Params:       req.Params,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}

	h.logger.InfoContext(r.Context(), "handler: market created",
		slog.String("market_id", market.ID),
		slog.String("slug", market.Slug),
	)
	writeJSON(w, http.StatusCreated, market)
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Total   int64           `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// List returns markets with pagination, newest first.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	markets, err := h.markets.ListMarkets(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}

	total, err := h.markets.CountMarkets(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "count markets", err)
		return
	}

	if markets == nil {
		markets = []domain.Market{}
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// Get returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) Get(w http.ResponseWriter, r *http.Request) {
	market, err := h.markets.GetMarket(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}

	writeJSON(w, http.StatusOK, market)
}

// GetBySlug returns a single market by its slug.
// GET /api/markets/slug/{slug}
func (h *MarketHandler) GetBySlug(w http.ResponseWriter, r *http.Request) {
	market, err := h.markets.GetMarketBySlug(r.Context(), pathParam(r, "slug"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get market by slug", err)
		return
	}

	writeJSON(w, http.StatusOK, market)
}

// Prices returns the market's price surface: spot plus one entry per
// conditional pool while a proposal is attached.
// GET /api/markets/{id}/prices
func (h *MarketHandler) Prices(w http.ResponseWriter, r *http.Request) {
	prices, err := h.markets.Prices(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get prices", err)
		return
	}

	writeJSON(w, http.StatusOK, prices)
}

// Halt stops all mutations on a market.
// POST /api/markets/{id}/halt
func (h *MarketHandler) Halt(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if err := h.markets.Halt(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, "halt market", err)
		return
	}

	h.logger.InfoContext(r.Context(), "handler: market halted", slog.String("market_id", id))
	writeJSON(w, http.StatusOK, map[string]string{"status": "halted"})
}

// Resume lifts a halt.
// POST /api/markets/{id}/resume
func (h *MarketHandler) Resume(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if err := h.markets.Resume(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, "resume market", err)
		return
	}

	h.logger.InfoContext(r.Context(), "handler: market resumed", slog.String("market_id", id))
	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}
