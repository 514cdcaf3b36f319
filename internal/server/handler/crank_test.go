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
	"github.com/praxismarkets/futarchyd/internal/engine"
	"github.com/praxismarkets/futarchyd/internal/service"
)

type fakeCrankService struct {
	winners []*int
	noop    bool
	err     error
	twaps   int
}

func (f *fakeCrankService) Recombine(_ context.Context, marketID string, winner *int) (service.RecombineOutcome, error) {
	if f.err != nil {
		return service.RecombineOutcome{}, f.err
	}
	f.winners = append(f.winners, winner)
	if f.noop {
		return service.RecombineOutcome{Result: engine.RecombineResult{NoOp: true}}, nil
	}
	return service.RecombineOutcome{
		Result: engine.RecombineResult{ProposalID: "prop-1", Winner: 1},
		Report: &domain.SettlementReport{MarketID: marketID, ProposalID: "prop-1"},
	}, nil
}

func (f *fakeCrankService) Transition(_ context.Context, _ string) (engine.TransitionResult, error) {
	if f.err != nil {
		return engine.TransitionResult{}, f.err
	}
	return engine.TransitionResult{ProposalID: "prop-1", FlippedWeight: 500}, nil
}

func (f *fakeCrankService) UpdateTwaps(_ context.Context, _ string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.twaps, nil
}

func TestRecombineWithWinnerBody(t *testing.T) {
	require := require.New(t)

	svc := &fakeCrankService{}
	h := NewCrankHandler(svc, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/cranks/mkt-1/recombine", strings.NewReader(`{"winner":1}`))
	req.SetPathValue("market", "mkt-1")
	rec := httptest.NewRecorder()
	h.Recombine(rec, req)

	require.Equal(http.StatusOK, rec.Code)
	require.Len(svc.winners, 1)
	require.NotNil(svc.winners[0])
	require.Equal(1, *svc.winners[0])

	var resp recombineResponse
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal("prop-1", resp.Result.ProposalID)
	require.NotNil(resp.Report)
}

func TestRecombineEmptyBodyCranksResolved(t *testing.T) {
	require := require.New(t)

	svc := &fakeCrankService{}
	h := NewCrankHandler(svc, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/cranks/mkt-1/recombine", nil)
	req.SetPathValue("market", "mkt-1")
	rec := httptest.NewRecorder()
	h.Recombine(rec, req)

	require.Equal(http.StatusOK, rec.Code)
	require.Len(svc.winners, 1)
	require.Nil(svc.winners[0])
}

func TestRecombineNoOp(t *testing.T) {
	require := require.New(t)

	h := NewCrankHandler(&fakeCrankService{noop: true}, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/cranks/mkt-1/recombine", nil)
	req.SetPathValue("market", "mkt-1")
	rec := httptest.NewRecorder()
	h.Recombine(rec, req)

	require.Equal(http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal("no_op", resp["status"])
}

func TestRecombineHeldLockConflicts(t *testing.T) {
	require := require.New(t)

	h := NewCrankHandler(&fakeCrankService{err: domain.ErrLockHeld}, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/cranks/mkt-1/recombine", nil)
	req.SetPathValue("market", "mkt-1")
	rec := httptest.NewRecorder()
	h.Recombine(rec, req)

	require.Equal(http.StatusConflict, rec.Code)
}

func TestTwapCrankReportsCount(t *testing.T) {
	require := require.New(t)

	h := NewCrankHandler(&fakeCrankService{twaps: 3}, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/cranks/mkt-1/twap", nil)
	req.SetPathValue("market", "mkt-1")
	rec := httptest.NewRecorder()
	h.Twap(rec, req)

	require.Equal(http.StatusOK, rec.Code)

	var resp map[string]int
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(3, resp["updated"])
}
