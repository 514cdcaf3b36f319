package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

const (
	// streamMaxLen bounds the durable streams via XADD MAXLEN ~. At the
	// venue's event rates this keeps hours of replay without letting an
	// idle consumer grow the stream forever.
	streamMaxLen int64 = 10_000

	// subscribeBuffer absorbs publish bursts (a crank step emits one event
	// per outcome) between reads of a subscription channel.
	subscribeBuffer = 128

	// payloadField is the single field every stream entry carries.
	payloadField = "payload"
)

// SignalBus carries the venue's event traffic over Redis. Pub/sub channels
// ("events", "prices") give at-most-once fan-out to the hub and the
// arbitrage detector; streams ("events:log", "arb:opportunities") give
// ordered, replayable delivery to the feeder's consumers and the arb
// executor.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish sends a payload to a pub/sub channel. Subscribers that are not
// connected at publish time never see the message; durable consumers read
// the streams instead.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a pub/sub subscription and returns the channel it feeds.
// The returned channel closes when ctx ends or the subscription dies.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := sb.rdb.Subscribe(ctx, channel)

	// Receive the subscription confirmation before handing the channel out,
	// so a caller that publishes right after Subscribe returns is heard.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscribeBuffer)
	go pump(ctx, sub, out)
	return out, nil
}

// pump copies subscription messages to out until ctx ends or the driver
// closes the subscription. A consumer that stops reading stalls the pump;
// it does not lose messages.
func pump(ctx context.Context, sub *redis.PubSub, out chan<- []byte) {
	defer close(out)
	defer sub.Close()

	in := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}
}

// StreamAppend appends a payload to a stream, trimming it to roughly
// streamMaxLen entries as it grows.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{payloadField: payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries after lastID ("0" reads from the
// start, "$" only what arrives later). An empty stream yields an empty
// slice, not an error, so callers poll on their own cadence.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	res, err := sb.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		// A negative Block keeps XREAD non-blocking; the zero value would
		// send BLOCK 0 and hold the connection until an entry arrives.
		Block: -1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var out []domain.StreamMessage
	for _, str := range res {
		for _, entry := range str.Messages {
			data, ok := entryPayload(entry)
			if !ok {
				continue
			}
			out = append(out, domain.StreamMessage{ID: entry.ID, Payload: data})
		}
	}
	return out, nil
}

// entryPayload extracts the payload field from a stream entry. Entries
// written by anything other than StreamAppend are skipped.
func entryPayload(entry redis.XMessage) ([]byte, bool) {
	switch v := entry.Values[payloadField].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}

var _ domain.SignalBus = (*SignalBus)(nil)
