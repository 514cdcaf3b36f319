package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/platform/governance"
)

type fakeResolutionSource struct {
	resolutions []governance.Resolution
	err         error
	sinces      []time.Time
}

func (f *fakeResolutionSource) ListResolvedSince(_ context.Context, since time.Time) ([]governance.Resolution, error) {
	f.sinces = append(f.sinces, since)
	if f.err != nil {
		return nil, f.err
	}
	return f.resolutions, nil
}

type fakeResolver struct {
	applied map[string]int
	errs    map[string]error
	calls   []string
}

func (f *fakeResolver) Resolve(_ context.Context, proposalID string, winningOutcome int) error {
	f.calls = append(f.calls, proposalID)
	if err, ok := f.errs[proposalID]; ok {
		return err
	}
	if f.applied == nil {
		f.applied = make(map[string]int)
	}
	f.applied[proposalID] = winningOutcome
	return nil
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWatcherAppliesResolvedEntries(t *testing.T) {
	require := require.New(t)

	t1 := time.Now().UTC().Add(-2 * time.Hour)
	t2 := time.Now().UTC().Add(-time.Hour)
	source := &fakeResolutionSource{resolutions: []governance.Resolution{
		{ProposalID: "prop-a", Resolved: true, WinningOutcome: 1, ResolvedAt: t1},
		{ProposalID: "prop-pending", Resolved: false},
		{ProposalID: "prop-c", Resolved: true, WinningOutcome: 0, ResolvedAt: t2},
	}}
	resolver := &fakeResolver{}
	w := NewResolutionWatcher(source, resolver, silentLogger())

	require.NoError(w.Run(context.Background()))

	require.Equal([]string{"prop-a", "prop-c"}, resolver.calls)
	require.Equal(1, resolver.applied["prop-a"])
	require.Equal(0, resolver.applied["prop-c"])
	require.Equal(t2, w.watermark)
}

func TestWatcherHoldsWatermarkOnFailure(t *testing.T) {
	require := require.New(t)

	t1 := time.Now().UTC().Add(-2 * time.Hour)
	t2 := time.Now().UTC().Add(-time.Hour)
	source := &fakeResolutionSource{resolutions: []governance.Resolution{
		{ProposalID: "prop-a", Resolved: true, WinningOutcome: 1, ResolvedAt: t1},
		{ProposalID: "prop-b", Resolved: true, WinningOutcome: 2, ResolvedAt: t2},
	}}
	resolver := &fakeResolver{errs: map[string]error{
		"prop-b": fmt.Errorf("proposal_service: resolve: %w", errors.New("store down")),
	}}
	w := NewResolutionWatcher(source, resolver, silentLogger())
	before := w.watermark

	require.NoError(w.Run(context.Background()))
	require.Equal(before, w.watermark)

	// next pass re-polls the same window and retries the failed entry
	resolver.errs = nil
	require.NoError(w.Run(context.Background()))
	require.Equal([]time.Time{before, before}, source.sinces)
	require.Equal(t2, w.watermark)
	require.Equal(2, resolver.applied["prop-b"])
}

func TestWatcherTreatsKnownOutcomesAsBenign(t *testing.T) {
	require := require.New(t)

	t1 := time.Now().UTC().Add(-time.Hour)
	source := &fakeResolutionSource{resolutions: []governance.Resolution{
		{ProposalID: "prop-pushed", Resolved: true, WinningOutcome: 1, ResolvedAt: t1},
		{ProposalID: "prop-foreign", Resolved: true, WinningOutcome: 0, ResolvedAt: t1},
	}}
	resolver := &fakeResolver{errs: map[string]error{
		"prop-pushed":  fmt.Errorf("proposal_service: already settled: %w", domain.ErrAlreadyExists),
		"prop-foreign": fmt.Errorf("proposal_service: get proposal: %w", domain.ErrNotFound),
	}}
	w := NewResolutionWatcher(source, resolver, silentLogger())

	require.NoError(w.Run(context.Background()))
	require.Equal(t1, w.watermark)
}

func TestWatcherPropagatesListFailure(t *testing.T) {
	require := require.New(t)

	source := &fakeResolutionSource{err: errors.New("governance unreachable")}
	w := NewResolutionWatcher(source, &fakeResolver{}, silentLogger())

	require.ErrorContains(w.Run(context.Background()), "governance unreachable")
}
