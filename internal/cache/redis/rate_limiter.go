package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

const (
	// Wait admits one request per key per second, which matches the
	// strictest of the venue's outbound targets (Telegram's per-chat cap).
	waitLimit  = 1
	waitWindow = time.Second

	// waitPoll is how often Wait re-checks a denied key.
	waitPoll = 50 * time.Millisecond
)

// RateLimiter is a sliding-window limiter over sorted sets, admitted
// atomically by a Lua script. The API middleware keys it per caller; the
// notifier keys it per outbound channel, which is why counts live in Redis
// and not in the process.
type RateLimiter struct {
	rdb   *redis.Client
	admit *redis.Script
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:   c.Underlying(),
		admit: redis.NewScript(slidingWindowLua),
	}
}

func rateLimitKey(key string) string {
	return "ratelimit:" + key
}

// Allow admits the request when fewer than limit requests hit the key
// within the trailing window. Admitted requests count against the window;
// denied ones do not.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	res, err := rl.admit.Run(ctx, rl.rdb,
		[]string{rateLimitKey(key)},
		time.Now().UnixMicro(),
		window.Microseconds(),
		limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	// The script replies {admitted, count}.
	if len(res) < 2 {
		return false, fmt.Errorf("redis: rate limit %s: short reply (%d values)", key, len(res))
	}
	return res[0] == 1, nil
}

// Wait blocks until the key admits a request at the fixed one-per-second
// budget, or until ctx ends. Callers needing other budgets drive Allow
// themselves.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	tick := time.NewTicker(waitPoll)
	defer tick.Stop()

	for {
		allowed, err := rl.Allow(ctx, key, waitLimit, waitWindow)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-tick.C:
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
