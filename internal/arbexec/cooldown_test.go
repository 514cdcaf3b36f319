package arbexec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCooldownBlocksWithinWindow(t *testing.T) {
	require := require.New(t)

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCooldown(time.Minute)
	c.now = func() time.Time { return clock }

	require.True(c.Ready("mkt-1"))
	require.False(c.Ready("mkt-1"))
	require.True(c.Ready("mkt-2"))

	clock = clock.Add(30 * time.Second)
	require.False(c.Ready("mkt-1"))

	clock = clock.Add(31 * time.Second)
	require.True(c.Ready("mkt-1"))
}

func TestCooldownDisabledWhenZero(t *testing.T) {
	require := require.New(t)

	c := NewCooldown(0)
	require.True(c.Ready("mkt-1"))
	require.True(c.Ready("mkt-1"))
}

func TestSweepDropsElapsedWindows(t *testing.T) {
	require := require.New(t)

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCooldown(time.Minute)
	c.now = func() time.Time { return clock }

	c.Ready("mkt-old")
	clock = clock.Add(2 * time.Minute)
	c.Ready("mkt-new")

	c.Sweep()

	c.mu.Lock()
	_, oldKept := c.last["mkt-old"]
	_, newKept := c.last["mkt-new"]
	c.mu.Unlock()
	require.False(oldKept)
	require.True(newKept)
}
