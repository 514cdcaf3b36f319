package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/service"
)

type captureBus struct {
	mu       sync.Mutex
	ch       chan []byte
	appended map[string][][]byte
}

func newCaptureBus() *captureBus {
	return &captureBus{
		ch:       make(chan []byte, 16),
		appended: make(map[string][][]byte),
	}
}

func (b *captureBus) Publish(context.Context, string, []byte) error { return nil }

func (b *captureBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}

func (b *captureBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appended[stream] = append(b.appended[stream], payload)
	return nil
}

func (b *captureBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *captureBus) stream(stream string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appended[stream]
}

func TestFeederAppendsPublishedEvents(t *testing.T) {
	require := require.New(t)

	bus := newCaptureBus()
	f := NewEventFeeder(bus, slog.New(slog.NewTextHandler(io.Discard, nil)))

	evt := domain.VenueEvent{
		ID:       "evt-1",
		Type:     domain.EventSwap,
		MarketID: "mkt-1",
		Payload:  map[string]any{"amount_in": "1000"},
	}
	raw, err := json.Marshal(evt)
	require.NoError(err)

	bus.ch <- raw
	bus.ch <- []byte("not json")
	bus.ch <- []byte(`{"market_id":"mkt-1"}`) // no id or type
	close(bus.ch)

	require.NoError(f.Run(context.Background()))

	got := bus.stream(service.EventStream)
	require.Len(got, 1)
	require.JSONEq(string(raw), string(got[0]))
}

func TestFeederStopsOnCancel(t *testing.T) {
	require := require.New(t)

	bus := newCaptureBus()
	f := NewEventFeeder(bus, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("feeder did not stop")
	}
}
