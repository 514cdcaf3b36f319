package domain

import (
	"context"
	"time"
)

// PriceCache holds the latest pool prices, keyed by market ID and venue
// ("spot" or "o<outcome>"). The price service writes every tick; quote and
// preview endpoints read it instead of touching pool state.
type PriceCache interface {
	SetPrice(ctx context.Context, p PricePoint) error
	GetPrice(ctx context.Context, marketID, venue string) (PricePoint, error)
	GetMarketPrices(ctx context.Context, marketID string, outcomes int) (MarketPrices, error)
}

// MarketCache answers market reads without a database round trip. Lookups
// come by ID and by URL slug; mutations to a market invalidate it.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, id string) (Market, error)
	GetBySlug(ctx context.Context, slug string) (Market, error)
	Invalidate(ctx context.Context, id string) error
}

// ProposalCache answers proposal reads, including the open-proposal-per-
// market lookup the trading path checks on every swap.
type ProposalCache interface {
	Set(ctx context.Context, p Proposal) error
	Get(ctx context.Context, id string) (Proposal, error)
	GetOpenByMarket(ctx context.Context, marketID string) (Proposal, error)
	Invalidate(ctx context.Context, id string) error
}

// RateLimiter admits or defers work against shared budgets: API calls per
// caller, webhook sends per channel.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager serialises crank steps per market across processes.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one entry read back from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
