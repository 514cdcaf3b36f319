package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/service"
)

type fakeBus struct {
	mu       sync.Mutex
	channels map[string]chan []byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{channels: make(map[string]chan []byte)}
}

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	ch, ok := f.channels[channel]
	f.mu.Unlock()
	if ok {
		ch <- payload
	}
	return nil
}

func (f *fakeBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan []byte, 8)
	f.channels[channel] = ch
	return ch, nil
}

func (f *fakeBus) subscribed(channel string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.channels[channel]
	return ok
}

func (f *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (f *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeFrame(t *testing.T, data []byte) *structpb.Struct {
	t.Helper()
	var env structpb.Struct
	require.NoError(t, proto.Unmarshal(data, &env))
	return &env
}

func TestEncodeFrameWrapsPayload(t *testing.T) {
	require := require.New(t)

	payload := []byte(`{"type":"swap","market_id":"mkt-1","payload":{"amount_in":"1000"}}`)
	data, err := encodeFrame(service.EventsChannel, payload)
	require.NoError(err)

	env := decodeFrame(t, data)
	require.Equal(service.EventsChannel, env.Fields["channel"].GetStringValue())

	body := env.Fields["data"].GetStructValue()
	require.NotNil(body)
	require.Equal("swap", body.Fields["type"].GetStringValue())
	require.Equal("mkt-1", body.Fields["market_id"].GetStringValue())

	nested := body.Fields["payload"].GetStructValue()
	require.NotNil(nested)
	require.Equal("1000", nested.Fields["amount_in"].GetStringValue())
}

func TestEncodeFrameRejectsNonJSON(t *testing.T) {
	require := require.New(t)

	_, err := encodeFrame(service.PricesChannel, []byte("not json"))
	require.Error(err)
}

func TestHubFansOutToSubscribedClients(t *testing.T) {
	require := require.New(t)

	bus := newFakeBus()
	hub := NewHub(bus, quietLogger(), Config{Mode: "serve"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	// Wait for the relay goroutines to subscribe.
	require.Eventually(func() bool {
		return bus.subscribed(service.EventsChannel)
	}, time.Second, 10*time.Millisecond)

	events := &client{hub: hub, send: make(chan []byte, 4), subs: map[string]bool{service.EventsChannel: true}}
	pricesOnly := &client{hub: hub, send: make(chan []byte, 4), subs: map[string]bool{service.PricesChannel: true}}
	hub.register <- events
	hub.register <- pricesOnly

	require.NoError(bus.Publish(ctx, service.EventsChannel, []byte(`{"type":"swap","id":"evt-1"}`)))

	select {
	case data := <-events.send:
		env := decodeFrame(t, data)
		require.Equal(service.EventsChannel, env.Fields["channel"].GetStringValue())
	case <-time.After(time.Second):
		t.Fatal("subscribed client never received the frame")
	}

	select {
	case <-pricesOnly.send:
		t.Fatal("price-only client received an event frame")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubSkipsMalformedPayloads(t *testing.T) {
	require := require.New(t)

	bus := newFakeBus()
	hub := NewHub(bus, quietLogger(), Config{Mode: "serve"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	require.Eventually(func() bool {
		return bus.subscribed(service.EventsChannel)
	}, time.Second, 10*time.Millisecond)

	c := &client{hub: hub, send: make(chan []byte, 4), subs: map[string]bool{service.EventsChannel: true}}
	hub.register <- c

	require.NoError(bus.Publish(ctx, service.EventsChannel, []byte("corrupt")))
	require.NoError(bus.Publish(ctx, service.EventsChannel, []byte(`{"type":"swap"}`)))

	select {
	case data := <-c.send:
		env := decodeFrame(t, data)
		require.Equal("swap", env.Fields["data"].GetStructValue().Fields["type"].GetStringValue())
	case <-time.After(time.Second):
		t.Fatal("valid frame never arrived")
	}
}

func TestSubscriptionControl(t *testing.T) {
	require := require.New(t)

	c := &client{subs: map[string]bool{service.EventsChannel: true, service.PricesChannel: true}}

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{service.PricesChannel}})
	require.True(c.isSubscribed(service.EventsChannel))
	require.False(c.isSubscribed(service.PricesChannel))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{service.PricesChannel, "bogus"}})
	require.True(c.isSubscribed(service.PricesChannel))
	require.False(c.isSubscribed("bogus"))

	// Status frames always pass.
	require.True(c.isSubscribed(statusChannel))
}

func TestOriginAllowList(t *testing.T) {
	require := require.New(t)

	open := NewHub(newFakeBus(), quietLogger(), Config{})
	restricted := NewHub(newFakeBus(), quietLogger(), Config{
		Origins: []string{"https://dash.example.com"},
	})

	req := httptest.NewRequest("GET", "/ws", nil)
	require.True(open.originAllowed(req))
	require.True(restricted.originAllowed(req)) // no Origin header

	req.Header.Set("Origin", "https://dash.example.com")
	require.True(restricted.originAllowed(req))

	req.Header.Set("Origin", "https://evil.example.com")
	require.False(restricted.originAllowed(req))
	require.True(open.originAllowed(req))
}
