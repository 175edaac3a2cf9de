package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)
	_, _ = c.Get("a") // a is now most recent
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "b should have been evicted")

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestLRUCache_Expiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[string](10, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("k", "v")
	c.Set("k2", "v2")

	now = now.Add(2 * time.Minute)
	_, ok := c.Get("k")
	assert.False(t, ok)

	assert.Equal(t, 1, c.CleanupExpired())
	assert.Equal(t, 0, c.Stats().Size)
}

func TestLRUCache_StatsAndDisabled(t *testing.T) {
	c := NewLRUCache[int](5, time.Minute)
	c.Set("x", 1)
	c.Get("x")
	c.Get("y")
	c.Delete("x")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 0, stats.Size)

	disabled := NewLRUCache[int](0, time.Minute)
	disabled.Set("x", 1)
	_, ok := disabled.Get("x")
	assert.False(t, ok)
}
