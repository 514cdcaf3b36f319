package arbitrage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// tickBus hands the detector a channel the test feeds directly.
type tickBus struct {
	ch chan []byte
}

func newTickBus() *tickBus { return &tickBus{ch: make(chan []byte, 16)} }

func (b *tickBus) Publish(context.Context, string, []byte) error { return nil }

func (b *tickBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}

func (b *tickBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *tickBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type stubStrategy struct {
	mu    sync.Mutex
	opps  []domain.ArbOpportunity
	err   error
	seen  []string
	calls int
}

func (s *stubStrategy) Name() string { return "stub" }

func (s *stubStrategy) Detect(_ context.Context, tick domain.PricePoint) ([]domain.ArbOpportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.seen = append(s.seen, tick.MarketID)
	return s.opps, s.err
}

type stubRecorder struct {
	mu   sync.Mutex
	opps []domain.ArbOpportunity
	err  error
}

func (r *stubRecorder) RecordOpportunity(_ context.Context, opp domain.ArbOpportunity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.opps = append(r.opps, opp)
	return nil
}

// runDetector feeds the payloads through a detector and waits for the
// subscription to drain.
func runDetector(t *testing.T, d *Detector, bus *tickBus, payloads ...[]byte) {
	t.Helper()
	var wg sync.WaitGroup
	wg.Add(1)
	var runErr error
	go func() {
		defer wg.Done()
		runErr = d.Run(context.Background(), bus)
	}()
	for _, p := range payloads {
		bus.ch <- p
	}
	close(bus.ch)
	wg.Wait()
	require.NoError(t, runErr)
}

func tickPayload(t *testing.T, marketID, venue string) []byte {
	t.Helper()
	raw, err := json.Marshal(domain.PricePoint{MarketID: marketID, Venue: venue, Spot: "1.00", AsOf: time.Now()})
	require.NoError(t, err)
	return raw
}

func TestDetectorQueuesStrategyFindings(t *testing.T) {
	require := require.New(t)
	strategy := &stubStrategy{opps: []domain.ArbOpportunity{{ID: "opp-1", MarketID: "mkt-1"}}}
	recorder := &stubRecorder{}
	d := NewDetector(DetectorConfig{
		Strategy: strategy,
		Recorder: recorder,
		Logger:   discardLogger(),
	})
	bus := newTickBus()

	runDetector(t, d, bus,
		tickPayload(t, "mkt-1", domain.PriceKeySpot),
		tickPayload(t, "mkt-2", domain.PriceKeySpot),
	)

	require.Equal(2, strategy.calls)
	require.Len(recorder.opps, 2)
	require.Equal("opp-1", recorder.opps[0].ID)
}

func TestDetectorDebouncesPerMarket(t *testing.T) {
	require := require.New(t)
	strategy := &stubStrategy{}
	d := NewDetector(DetectorConfig{
		Strategy: strategy,
		Recorder: &stubRecorder{},
		MinGap:   time.Hour,
		Logger:   discardLogger(),
	})
	bus := newTickBus()

	// A swap ticks every pool of its market; one scan covers the burst.
	runDetector(t, d, bus,
		tickPayload(t, "mkt-1", domain.PriceKeySpot),
		tickPayload(t, "mkt-1", "o0"),
		tickPayload(t, "mkt-1", "o1"),
		tickPayload(t, "mkt-2", domain.PriceKeySpot),
	)

	require.Equal(2, strategy.calls)
	require.Equal([]string{"mkt-1", "mkt-2"}, strategy.seen)
}

func TestDetectorSurvivesBadPayloadsAndFailures(t *testing.T) {
	require := require.New(t)
	strategy := &stubStrategy{
		opps: []domain.ArbOpportunity{{ID: "opp-1", MarketID: "mkt-1"}},
	}
	recorder := &stubRecorder{err: errors.New("queue down")}
	d := NewDetector(DetectorConfig{
		Strategy: strategy,
		Recorder: recorder,
		Logger:   discardLogger(),
	})
	bus := newTickBus()

	runDetector(t, d, bus,
		[]byte("not json"),
		tickPayload(t, "", domain.PriceKeySpot),
		tickPayload(t, "mkt-1", domain.PriceKeySpot),
	)

	// The garbage and the record failure are logged, never fatal.
	require.Equal(1, strategy.calls)
	require.Empty(recorder.opps)
}

func TestDetectorStopsOnCancel(t *testing.T) {
	require := require.New(t)
	d := NewDetector(DetectorConfig{
		Strategy: &stubStrategy{},
		Recorder: &stubRecorder{},
		Logger:   discardLogger(),
	})
	bus := newTickBus()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, bus) }()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("detector did not stop on cancel")
	}
}
