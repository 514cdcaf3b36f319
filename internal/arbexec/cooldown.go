package arbexec

import (
	"sync"
	"time"
)

// Cooldown enforces a per-market floor between executions. Safe for
// concurrent use.
type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewCooldown creates a Cooldown with the given window. A zero or negative
// window disables it.
func NewCooldown(ttl time.Duration) *Cooldown {
	return &Cooldown{
		last: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Ready reports whether the market sits outside its cooldown window and
// opens a new window when it does.
func (c *Cooldown) Ready(marketID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if last, ok := c.last[marketID]; ok && now.Sub(last) < c.ttl {
		return false
	}
	c.last[marketID] = now
	return true
}

// Sweep drops fully elapsed windows so the map does not grow with dead
// markets.
func (c *Cooldown) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for id, ts := range c.last {
		if now.Sub(ts) >= c.ttl {
			delete(c.last, id)
		}
	}
}
