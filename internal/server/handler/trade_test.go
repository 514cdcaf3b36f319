package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/service"
)

type fakeTradeService struct {
	swaps   []service.SwapInput
	swapErr error
	quoted  uint64
}

func (f *fakeTradeService) Swap(_ context.Context, in service.SwapInput) (domain.Trade, error) {
	if f.swapErr != nil {
		return domain.Trade{}, f.swapErr
	}
	f.swaps = append(f.swaps, in)
	return domain.Trade{
		ID:        "trade-1",
		MarketID:  in.MarketID,
		Trader:    in.Trader,
		SideIn:    in.SideIn,
		AmountIn:  in.AmountIn,
		AmountOut: in.AmountIn - 3,
	}, nil
}

func (f *fakeTradeService) QuoteSpot(_ context.Context, marketID string, _ domain.Side, _ uint64) (uint64, error) {
	if marketID == "ghost" {
		return 0, domain.ErrNotFound
	}
	return f.quoted, nil
}

func (f *fakeTradeService) QuoteConditional(_ context.Context, _ string, outcome int, _ domain.Side, _ uint64) (uint64, error) {
	if outcome > 1 {
		return 0, domain.ErrInvalidOutcome
	}
	return f.quoted + uint64(outcome), nil
}

func (f *fakeTradeService) ListByMarket(_ context.Context, marketID string, _ domain.ListOpts) ([]domain.Trade, error) {
	return []domain.Trade{{ID: "trade-1", MarketID: marketID}}, nil
}

func (f *fakeTradeService) ListByTrader(_ context.Context, trader string, _ domain.ListOpts) ([]domain.Trade, error) {
	return []domain.Trade{{ID: "trade-2", Trader: trader}}, nil
}

func TestSwapHappyPath(t *testing.T) {
	require := require.New(t)

	svc := &fakeTradeService{}
	h := NewTradeHandler(svc, discardLogger())

	body := `{"trader":"alice","side_in":"asset","amount_in":1000,"min_out":900}`
	req := httptest.NewRequest(http.MethodPost, "/api/markets/mkt-1/swap", strings.NewReader(body))
	req.SetPathValue("id", "mkt-1")
	rec := httptest.NewRecorder()
	h.Swap(rec, req)

	require.Equal(http.StatusCreated, rec.Code)
	require.Len(svc.swaps, 1)
	require.Equal("mkt-1", svc.swaps[0].MarketID)
	require.Equal(domain.SideAsset, svc.swaps[0].SideIn)
	require.EqualValues(900, svc.swaps[0].MinOut)
}

func TestSwapRejectsBadSide(t *testing.T) {
	require := require.New(t)

	h := NewTradeHandler(&fakeTradeService{}, discardLogger())

	body := `{"trader":"alice","side_in":"sideways","amount_in":1000}`
	req := httptest.NewRequest(http.MethodPost, "/api/markets/mkt-1/swap", strings.NewReader(body))
	req.SetPathValue("id", "mkt-1")
	rec := httptest.NewRecorder()
	h.Swap(rec, req)

	require.Equal(http.StatusBadRequest, rec.Code)
}

func TestSwapMapsSlippageToUnprocessable(t *testing.T) {
	require := require.New(t)

	svc := &fakeTradeService{swapErr: domain.ErrSlippageExceeded}
	h := NewTradeHandler(svc, discardLogger())

	body := `{"trader":"alice","side_in":"stable","amount_in":1000,"min_out":999}`
	req := httptest.NewRequest(http.MethodPost, "/api/markets/mkt-1/swap", strings.NewReader(body))
	req.SetPathValue("id", "mkt-1")
	rec := httptest.NewRecorder()
	h.Swap(rec, req)

	require.Equal(http.StatusUnprocessableEntity, rec.Code)

	var resp map[string]string
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(resp["error"], "slippage")
}

func TestQuoteSpotAndConditional(t *testing.T) {
	require := require.New(t)

	svc := &fakeTradeService{quoted: 970}
	h := NewTradeHandler(svc, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/markets/mkt-1/quote?side=asset&amount=1000", nil)
	req.SetPathValue("id", "mkt-1")
	rec := httptest.NewRecorder()
	h.Quote(rec, req)

	require.Equal(http.StatusOK, rec.Code)
	var spot quoteResponse
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &spot))
	require.EqualValues(970, spot.AmountOut)
	require.Nil(spot.Outcome)

	req = httptest.NewRequest(http.MethodGet, "/api/markets/mkt-1/quote?side=asset&amount=1000&outcome=1", nil)
	req.SetPathValue("id", "mkt-1")
	rec = httptest.NewRecorder()
	h.Quote(rec, req)

	require.Equal(http.StatusOK, rec.Code)
	var cond quoteResponse
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &cond))
	require.EqualValues(971, cond.AmountOut)
	require.NotNil(cond.Outcome)
	require.Equal(1, *cond.Outcome)
}

func TestQuoteRequiresAmount(t *testing.T) {
	require := require.New(t)

	h := NewTradeHandler(&fakeTradeService{}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/markets/mkt-1/quote?side=asset", nil)
	req.SetPathValue("id", "mkt-1")
	rec := httptest.NewRecorder()
	h.Quote(rec, req)

	require.Equal(http.StatusBadRequest, rec.Code)
}

func TestListByTraderRequiresTrader(t *testing.T) {
	require := require.New(t)

	h := NewTradeHandler(&fakeTradeService{}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/trades", nil)
	rec := httptest.NewRecorder()
	h.ListByTrader(rec, req)

	require.Equal(http.StatusBadRequest, rec.Code)
}
