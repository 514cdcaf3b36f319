package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

func TestOrchestratorStopsCleanlyOnCancel(t *testing.T) {
	require := require.New(t)

	logger := silentLogger()
	lister := &fakeProposalLister{byState: map[domain.ProposalState][]domain.Proposal{}}
	o := NewOrchestrator(
		Config{
			GovernancePoll:  5 * time.Millisecond,
			CrankInterval:   5 * time.Millisecond,
			TwapInterval:    5 * time.Millisecond,
			SweepInterval:   5 * time.Millisecond,
			ArchiveInterval: 5 * time.Millisecond,
		},
		NewResolutionWatcher(&fakeResolutionSource{}, &fakeResolver{}, logger),
		NewRecombineLoop(lister, &fakeRecombineCranker{}, 0, logger),
		NewTwapLoop(&pagedMarketLister{}, &fakeTwapCranker{}, logger),
		NewSettlementSweeper(lister, &fakeBucketMover{}, &fakeLedgerSettler{}, nil, logger),
		NewArchiver(&fakeColdStore{}, 30, logger),
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	// let a few ticks land before shutting down
	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(err)
	case <-time.After(time.Second):
		t.Fatal("orchestrator did not stop")
	}
}

func TestOrchestratorSkipsUnconfiguredLoops(t *testing.T) {
	require := require.New(t)

	logger := silentLogger()
	lister := &fakeProposalLister{byState: map[domain.ProposalState][]domain.Proposal{}}
	o := NewOrchestrator(
		Config{CrankInterval: 5 * time.Millisecond, TwapInterval: 5 * time.Millisecond},
		nil, // no governance watcher
		NewRecombineLoop(lister, &fakeRecombineCranker{}, 0, logger),
		NewTwapLoop(&pagedMarketLister{}, &fakeTwapCranker{}, logger),
		NewSettlementSweeper(lister, &fakeBucketMover{}, &fakeLedgerSettler{}, nil, logger),
		nil, // no archiver
		logger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	require.NoError(o.Run(ctx))
}
