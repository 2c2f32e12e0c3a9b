package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type manualClock struct{ now time.Time }

func (c *manualClock) Now() time.Time { return c.now }

func TestTTLCacheExpiry(t *testing.T) {
	clk := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewTTLCacheWithClock[string, string](clk.Now, 0)

	c.Set("a", "1", time.Minute)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	clk.now = clk.now.Add(59 * time.Second)
	_, ok = c.Get("a")
	assert.True(t, ok)

	clk.now = clk.now.Add(time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestTTLCacheIgnoresNonPositiveTTL(t *testing.T) {
	c := NewTTLCache[string, int]()
	c.Set("a", 1, 0)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestTTLCacheBounded(t *testing.T) {
	clk := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewTTLCacheWithClock[int, int](clk.Now, 2)

	c.Set(1, 1, time.Minute)
	c.Set(2, 2, time.Second)
	c.Set(3, 3, time.Minute)
	_, ok := c.Get(3)
	assert.False(t, ok, "full cache rejects new keys")

	c.Set(1, 10, time.Minute)
	v, _ := c.Get(1)
	assert.Equal(t, 10, v, "existing keys can be refreshed")

	clk.now = clk.now.Add(2 * time.Second)
	c.Set(3, 3, time.Minute)
	_, ok = c.Get(3)
	assert.True(t, ok, "expired entries make room")

	c.Delete(3)
	_, ok = c.Get(3)
	assert.False(t, ok)
}
