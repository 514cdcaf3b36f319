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

type fakeProposalService struct {
	opened   []service.OpenProposalInput
	resolved map[string]int
	states   []domain.ProposalState
	err      error
}

func (f *fakeProposalService) Open(_ context.Context, in service.OpenProposalInput) (domain.Proposal, error) {
	if f.err != nil {
		return domain.Proposal{}, f.err
	}
	f.opened = append(f.opened, in)
	return domain.Proposal{
		ID:           "prop-1",
		MarketID:     in.MarketID,
		Title:        in.Title,
		OutcomeCount: in.OutcomeCount,
		State:        domain.ProposalStateOpen,
	}, nil
}

func (f *fakeProposalService) Resolve(_ context.Context, proposalID string, winningOutcome int) error {
	if f.err != nil {
		return f.err
	}
	if f.resolved == nil {
		f.resolved = make(map[string]int)
	}
	f.resolved[proposalID] = winningOutcome
	return nil
}

func (f *fakeProposalService) Get(_ context.Context, id string) (domain.Proposal, error) {
	if f.err != nil {
		return domain.Proposal{}, f.err
	}
	return domain.Proposal{ID: id, State: domain.ProposalStateOpen}, nil
}

func (f *fakeProposalService) GetOpenByMarket(_ context.Context, marketID string) (domain.Proposal, error) {
	if f.err != nil {
		return domain.Proposal{}, f.err
	}
	return domain.Proposal{ID: "prop-1", MarketID: marketID, State: domain.ProposalStateOpen}, nil
}

func (f *fakeProposalService) List(_ context.Context, _ domain.ListOpts) ([]domain.Proposal, error) {
	return []domain.Proposal{{ID: "prop-1"}, {ID: "prop-2"}}, nil
}

func (f *fakeProposalService) ListByState(_ context.Context, state domain.ProposalState, _ domain.ListOpts) ([]domain.Proposal, error) {
	f.states = append(f.states, state)
	return []domain.Proposal{{ID: "prop-1", State: state}}, nil
}

func TestOpenProposal(t *testing.T) {
	require := require.New(t)

	svc := &fakeProposalService{}
	h := NewProposalHandler(svc, discardLogger())

	body := `{"market_id":"mkt-1","title":"Ship feature X","outcome_count":2,"split_ratio_bps":5000}`
	req := httptest.NewRequest(http.MethodPost, "/api/proposals", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Open(rec, req)

	require.Equal(http.StatusCreated, rec.Code)
	require.Len(svc.opened, 1)
	require.Equal(2, svc.opened[0].OutcomeCount)
	require.EqualValues(5000, svc.opened[0].SplitRatioBps)
}

func TestOpenProposalWhileOneIsAttached(t *testing.T) {
	require := require.New(t)

	svc := &fakeProposalService{err: domain.ErrAlreadyExists}
	h := NewProposalHandler(svc, discardLogger())

	body := `{"market_id":"mkt-1","title":"Second proposal","outcome_count":2}`
	req := httptest.NewRequest(http.MethodPost, "/api/proposals", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Open(rec, req)

	require.Equal(http.StatusConflict, rec.Code)
}

func TestResolveProposal(t *testing.T) {
	require := require.New(t)

	svc := &fakeProposalService{}
	h := NewProposalHandler(svc, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/proposals/prop-1/resolve", strings.NewReader(`{"winning_outcome":1}`))
	req.SetPathValue("id", "prop-1")
	rec := httptest.NewRecorder()
	h.Resolve(rec, req)

	require.Equal(http.StatusOK, rec.Code)
	require.Equal(1, svc.resolved["prop-1"])
}

func TestListProposalsByState(t *testing.T) {
	require := require.New(t)

	svc := &fakeProposalService{}
	h := NewProposalHandler(svc, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/proposals?state=resolved", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	require.Equal(http.StatusOK, rec.Code)
	require.Equal([]domain.ProposalState{domain.ProposalStateResolved}, svc.states)

	var resp listProposalsResponse
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(resp.Proposals, 1)
}

func TestListProposalsRejectsUnknownState(t *testing.T) {
	require := require.New(t)

	h := NewProposalHandler(&fakeProposalService{}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/proposals?state=pending", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	require.Equal(http.StatusBadRequest, rec.Code)
}
