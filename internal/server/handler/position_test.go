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

type fakeLiquidityService struct {
	added   []service.AddLiquidityInput
	removed []service.RemoveLiquidityInput
	err     error
}

func (f *fakeLiquidityService) AddLiquidity(_ context.Context, in service.AddLiquidityInput) (domain.LPPosition, error) {
	if f.err != nil {
		return domain.LPPosition{}, f.err
	}
	f.added = append(f.added, in)
	return domain.LPPosition{ID: "pos-1", MarketID: in.MarketID, Owner: in.Owner, Bucket: domain.BucketLive}, nil
}

func (f *fakeLiquidityService) RemoveLiquidity(_ context.Context, in service.RemoveLiquidityInput) (uint64, uint64, error) {
	if f.err != nil {
		return 0, 0, f.err
	}
	f.removed = append(f.removed, in)
	return 400, 600, nil
}

func (f *fakeLiquidityService) GetPosition(_ context.Context, id string) (domain.LPPosition, error) {
	if f.err != nil {
		return domain.LPPosition{}, f.err
	}
	return domain.LPPosition{ID: id, Owner: "alice"}, nil
}

func (f *fakeLiquidityService) ListByOwner(_ context.Context, owner string, _ domain.ListOpts) ([]domain.LPPosition, error) {
	return []domain.LPPosition{{ID: "pos-1", Owner: owner}}, nil
}

type fakeWithdrawalService struct {
	marked  []service.MarkInput
	claimed []service.ClaimInput
	err     error
}

func (f *fakeWithdrawalService) Mark(_ context.Context, in service.MarkInput) (domain.LPPosition, error) {
	if f.err != nil {
		return domain.LPPosition{}, f.err
	}
	f.marked = append(f.marked, in)
	return domain.LPPosition{ID: in.PositionID, Owner: in.Owner, Bucket: domain.BucketWithdrawOnly}, nil
}

func (f *fakeWithdrawalService) Claim(_ context.Context, in service.ClaimInput) (domain.WithdrawalClaim, error) {
	if f.err != nil {
		return domain.WithdrawalClaim{}, f.err
	}
	f.claimed = append(f.claimed, in)
	return domain.WithdrawalClaim{ID: "claim-1", PositionID: in.PositionID, Owner: in.Owner, AssetOut: 400, StableOut: 600}, nil
}

func (f *fakeWithdrawalService) Withdrawable(_ context.Context, positionID string) (service.WithdrawablePreview, error) {
	if f.err != nil {
		return service.WithdrawablePreview{}, f.err
	}
	return service.WithdrawablePreview{PositionID: positionID, Bucket: domain.BucketWithdrawOnly, Asset: 400, Stable: 600, Claimable: true}, nil
}

func (f *fakeWithdrawalService) GetClaim(_ context.Context, id string) (domain.WithdrawalClaim, error) {
	return domain.WithdrawalClaim{ID: id}, nil
}

func (f *fakeWithdrawalService) ListClaims(_ context.Context, owner string, _ domain.ListOpts) ([]domain.WithdrawalClaim, error) {
	return []domain.WithdrawalClaim{{ID: "claim-1", Owner: owner}}, nil
}

func newPositionHandler(liq *fakeLiquidityService, wd *fakeWithdrawalService) *PositionHandler {
	return NewPositionHandler(liq, wd, discardLogger())
}

func TestAddLiquidity(t *testing.T) {
	require := require.New(t)

	liq := &fakeLiquidityService{}
	h := newPositionHandler(liq, &fakeWithdrawalService{})

	body := `{"owner":"alice","asset_in":1000,"stable_in":1000}`
	req := httptest.NewRequest(http.MethodPost, "/api/markets/mkt-1/liquidity", strings.NewReader(body))
	req.SetPathValue("id", "mkt-1")
	rec := httptest.NewRecorder()
	h.AddLiquidity(rec, req)

	require.Equal(http.StatusCreated, rec.Code)
	require.Len(liq.added, 1)
	require.Equal("mkt-1", liq.added[0].MarketID)
	require.EqualValues(1000, liq.added[0].AssetIn)
}

func TestAddLiquidityRejectedDuringProposal(t *testing.T) {
	require := require.New(t)

	liq := &fakeLiquidityService{err: domain.ErrProposalStillActive}
	h := newPositionHandler(liq, &fakeWithdrawalService{})

	body := `{"owner":"alice","asset_in":1000,"stable_in":1000}`
	req := httptest.NewRequest(http.MethodPost, "/api/markets/mkt-1/liquidity", strings.NewReader(body))
	req.SetPathValue("id", "mkt-1")
	rec := httptest.NewRecorder()
	h.AddLiquidity(rec, req)

	require.Equal(http.StatusConflict, rec.Code)
}

func TestRemoveLiquidityReportsPayout(t *testing.T) {
	require := require.New(t)

	liq := &fakeLiquidityService{}
	h := newPositionHandler(liq, &fakeWithdrawalService{})

	req := httptest.NewRequest(http.MethodPost, "/api/positions/pos-1/remove", strings.NewReader(`{"owner":"alice","amount":0}`))
	req.SetPathValue("id", "pos-1")
	rec := httptest.NewRecorder()
	h.RemoveLiquidity(rec, req)

	require.Equal(http.StatusOK, rec.Code)

	var resp removeLiquidityResponse
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal("pos-1", resp.PositionID)
	require.EqualValues(400, resp.AssetOut)
	require.EqualValues(600, resp.StableOut)
}

func TestMarkForWithdrawal(t *testing.T) {
	require := require.New(t)

	wd := &fakeWithdrawalService{}
	h := newPositionHandler(&fakeLiquidityService{}, wd)

	req := httptest.NewRequest(http.MethodPost, "/api/positions/pos-1/mark", strings.NewReader(`{"owner":"alice","amount":250}`))
	req.SetPathValue("id", "pos-1")
	rec := httptest.NewRecorder()
	h.Mark(rec, req)

	require.Equal(http.StatusOK, rec.Code)
	require.Len(wd.marked, 1)
	require.EqualValues(250, wd.marked[0].Amount)
}

func TestClaimLockedPositionConflicts(t *testing.T) {
	require := require.New(t)

	wd := &fakeWithdrawalService{err: domain.ErrProposalStillActive}
	h := newPositionHandler(&fakeLiquidityService{}, wd)

	req := httptest.NewRequest(http.MethodPost, "/api/positions/pos-1/claim", strings.NewReader(`{"owner":"alice"}`))
	req.SetPathValue("id", "pos-1")
	rec := httptest.NewRecorder()
	h.Claim(rec, req)

	require.Equal(http.StatusConflict, rec.Code)
}

func TestPreviewWithdrawable(t *testing.T) {
	require := require.New(t)

	h := newPositionHandler(&fakeLiquidityService{}, &fakeWithdrawalService{})

	req := httptest.NewRequest(http.MethodGet, "/api/positions/pos-1/preview", nil)
	req.SetPathValue("id", "pos-1")
	rec := httptest.NewRecorder()
	h.Preview(rec, req)

	require.Equal(http.StatusOK, rec.Code)

	var resp service.WithdrawablePreview
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(resp.Claimable)
	require.EqualValues(400, resp.Asset)
}

func TestListPositionsRequiresOwner(t *testing.T) {
	require := require.New(t)

	h := newPositionHandler(&fakeLiquidityService{}, &fakeWithdrawalService{})

	req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	rec := httptest.NewRecorder()
	h.ListByOwner(rec, req)

	require.Equal(http.StatusBadRequest, rec.Code)
}
