package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/engine"
	"github.com/praxismarkets/futarchyd/internal/service"
)

type fakeProposalLister struct {
	byState map[domain.ProposalState][]domain.Proposal
	err     error
}

func (f *fakeProposalLister) ListByState(_ context.Context, state domain.ProposalState, _ domain.ListOpts) ([]domain.Proposal, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byState[state], nil
}

type fakeRecombineCranker struct {
	cranked []string
	errs    map[string]error
	noop    map[string]bool
}

func (f *fakeRecombineCranker) Recombine(_ context.Context, marketID string, _ *int) (service.RecombineOutcome, error) {
	f.cranked = append(f.cranked, marketID)
	if err, ok := f.errs[marketID]; ok {
		return service.RecombineOutcome{}, err
	}
	if f.noop[marketID] {
		return service.RecombineOutcome{Result: engine.RecombineResult{NoOp: true}}, nil
	}
	return service.RecombineOutcome{Result: engine.RecombineResult{Winner: 0}}, nil
}

type pagedMarketLister struct {
	markets []domain.Market
	pages   int
}

func (f *pagedMarketLister) ListMarkets(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	f.pages++
	if opts.Offset >= len(f.markets) {
		return nil, nil
	}
	end := opts.Offset + opts.Limit
	if end > len(f.markets) {
		end = len(f.markets)
	}
	return f.markets[opts.Offset:end], nil
}

type fakeTwapCranker struct {
	updates map[string]int
	errs    map[string]error
	calls   []string
}

func (f *fakeTwapCranker) UpdateTwaps(_ context.Context, marketID string) (int, error) {
	f.calls = append(f.calls, marketID)
	if err, ok := f.errs[marketID]; ok {
		return 0, err
	}
	return f.updates[marketID], nil
}

func TestRecombinePassCranksResolvedProposals(t *testing.T) {
	require := require.New(t)

	lister := &fakeProposalLister{byState: map[domain.ProposalState][]domain.Proposal{
		domain.ProposalStateResolved: {
			{ID: "prop-1", MarketID: "mkt-1"},
			{ID: "prop-2", MarketID: "mkt-2"},
		},
	}}
	cranker := &fakeRecombineCranker{}
	l := NewRecombineLoop(lister, cranker, 0, silentLogger())

	require.NoError(l.Run(context.Background()))
	require.Equal([]string{"mkt-1", "mkt-2"}, cranker.cranked)
}

func TestRecombinePassContinuesPastHeldLocksAndErrors(t *testing.T) {
	require := require.New(t)

	lister := &fakeProposalLister{byState: map[domain.ProposalState][]domain.Proposal{
		domain.ProposalStateResolved: {
			{ID: "prop-1", MarketID: "mkt-locked"},
			{ID: "prop-2", MarketID: "mkt-broken"},
			{ID: "prop-3", MarketID: "mkt-ok"},
		},
	}}
	cranker := &fakeRecombineCranker{errs: map[string]error{
		"mkt-locked": fmt.Errorf("crank_service: recombine: %w", domain.ErrLockHeld),
		"mkt-broken": errors.New("postgres gone"),
	}}
	l := NewRecombineLoop(lister, cranker, 0, silentLogger())

	require.NoError(l.Run(context.Background()))
	require.Equal([]string{"mkt-locked", "mkt-broken", "mkt-ok"}, cranker.cranked)
}

func TestTwapPassVisitsEveryMarketPage(t *testing.T) {
	require := require.New(t)

	markets := make([]domain.Market, 0, 140)
	for i := 0; i < 140; i++ {
		markets = append(markets, domain.Market{ID: fmt.Sprintf("mkt-%03d", i)})
	}
	lister := &pagedMarketLister{markets: markets}
	cranker := &fakeTwapCranker{updates: map[string]int{"mkt-000": 3, "mkt-120": 1}}
	l := NewTwapLoop(lister, cranker, silentLogger())

	require.NoError(l.Run(context.Background()))
	require.Len(cranker.calls, 140)
	require.Equal(2, lister.pages)
}

func TestTwapPassContinuesPastFailures(t *testing.T) {
	require := require.New(t)

	lister := &pagedMarketLister{markets: []domain.Market{
		{ID: "mkt-1"}, {ID: "mkt-2"}, {ID: "mkt-3"},
	}}
	cranker := &fakeTwapCranker{errs: map[string]error{
		"mkt-1": fmt.Errorf("crank_service: twap: %w", domain.ErrLockHeld),
		"mkt-2": errors.New("postgres gone"),
	}}
	l := NewTwapLoop(lister, cranker, silentLogger())

	require.NoError(l.Run(context.Background()))
	require.Equal([]string{"mkt-1", "mkt-2", "mkt-3"}, cranker.calls)
}
