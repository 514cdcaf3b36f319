package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMarketService struct {
	markets map[string]domain.Market
	created []service.CreateMarketInput
	halted  []string
	err     error
}

func (f *fakeMarketService) CreateMarket(_ context.Context, in service.CreateMarketInput) (domain.Market, error) {
	if f.err != nil {
		return domain.Market{}, f.err
	}
	f.created = append(f.created, in)
	return domain.Market{
		ID:           "mkt-1",
		Slug:         in.Slug,
		AssetSymbol:  in.AssetSymbol,
		StableSymbol: in.StableSymbol,
		Status:       domain.MarketStatusActive,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func (f *fakeMarketService) GetMarket(_ context.Context, id string) (domain.Market, error) {
	m, ok := f.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeMarketService) GetMarketBySlug(_ context.Context, slug string) (domain.Market, error) {
	for _, m := range f.markets {
		if m.Slug == slug {
			return m, nil
		}
	}
	return domain.Market{}, domain.ErrNotFound
}

func (f *fakeMarketService) ListMarkets(_ context.Context, _ domain.ListOpts) ([]domain.Market, error) {
	out := make([]domain.Market, 0, len(f.markets))
	for _, m := range f.markets {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeMarketService) CountMarkets(_ context.Context) (int64, error) {
	return int64(len(f.markets)), nil
}

func (f *fakeMarketService) Prices(_ context.Context, id string) (domain.MarketPrices, error) {
	if _, ok := f.markets[id]; !ok {
		return domain.MarketPrices{}, domain.ErrNotFound
	}
	return domain.MarketPrices{MarketID: id, AsOf: time.Now().UTC()}, nil
}

func (f *fakeMarketService) Halt(_ context.Context, id string) error {
	f.halted = append(f.halted, id)
	return f.err
}

func (f *fakeMarketService) Resume(_ context.Context, id string) error {
	return f.err
}

func TestMarketCreate(t *testing.T) {
	require := require.New(t)

	svc := &fakeMarketService{}
	h := NewMarketHandler(svc, discardLogger())

	body := `{"slug":"gov-token","asset_symbol":"GOV","stable_symbol":"USDC"}`
	req := httptest.NewRequest(http.MethodPost, "/api/markets", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	require.Equal(http.StatusCreated, rec.Code)
	require.Len(svc.created, 1)
	require.Equal("gov-token", svc.created[0].Slug)

	var got domain.Market
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal("mkt-1", got.ID)
	require.Equal(domain.MarketStatusActive, got.Status)
}

func TestMarketCreateRejectsUnknownFields(t *testing.T) {
	require := require.New(t)

	h := NewMarketHandler(&fakeMarketService{}, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/markets", strings.NewReader(`{"slugg":"oops"}`))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	require.Equal(http.StatusBadRequest, rec.Code)
}

func TestMarketGetNotFound(t *testing.T) {
	require := require.New(t)

	h := NewMarketHandler(&fakeMarketService{markets: map[string]domain.Market{}}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/markets/ghost", nil)
	req.SetPathValue("id", "ghost")
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	require.Equal(http.StatusNotFound, rec.Code)
}

func TestMarketListEnvelope(t *testing.T) {
	require := require.New(t)

	svc := &fakeMarketService{markets: map[string]domain.Market{
		"mkt-1": {ID: "mkt-1", Slug: "alpha"},
		"mkt-2": {ID: "mkt-2", Slug: "beta"},
	}}
	h := NewMarketHandler(svc, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/markets?limit=10", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	require.Equal(http.StatusOK, rec.Code)

	var resp listMarketsResponse
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(resp.Markets, 2)
	require.EqualValues(2, resp.Total)
	require.Equal(10, resp.Limit)
}

func TestMarketHaltMapsConflicts(t *testing.T) {
	require := require.New(t)

	svc := &fakeMarketService{err: domain.ErrMarketHalted}
	h := NewMarketHandler(svc, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/markets/mkt-1/halt", nil)
	req.SetPathValue("id", "mkt-1")
	rec := httptest.NewRecorder()
	h.Halt(rec, req)

	require.Equal(http.StatusConflict, rec.Code)
	require.Equal([]string{"mkt-1"}, svc.halted)
}
