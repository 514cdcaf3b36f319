package redis

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

//go:embed scripts/unlock.lua
var unlockLua string

// unlockTimeout bounds the release call, which runs on a detached context
// so a crank can drop its lock even after its own context is cancelled.
const unlockTimeout = 5 * time.Second

// LockManager hands out per-market crank locks via SET NX with a TTL.
// Recombination, bucket transitions and TWAP steps each take the market's
// lock first, so only one process cranks a market at a time; the TTL frees
// a lock whose holder died mid-step.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.Underlying(),
		release: redis.NewScript(unlockLua),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire takes the lock or returns domain.ErrLockHeld if another holder
// has it. The returned unlock is idempotent and releases only this
// holder's claim: a lapsed TTL followed by someone else's acquisition
// leaves their lock untouched.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
			defer cancel()
			_ = lm.release.Run(rctx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

var _ domain.LockManager = (*LockManager)(nil)
