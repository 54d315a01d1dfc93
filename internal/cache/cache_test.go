package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidationCache_GetPut(t *testing.T) {
	c := New(DefaultConfig())

	t.Run("miss on empty cache", func(t *testing.T) {
		_, ok := c.Get("wallet1", "MintA", CategorySecurity)
		assert.False(t, ok)
	})

	t.Run("hit after put", func(t *testing.T) {
		c.Put("wallet1", "MintA", CategorySecurity, "flags")
		v, ok := c.Get("wallet1", "MintA", CategorySecurity)
		assert.True(t, ok)
		assert.Equal(t, "flags", v)
	})

	t.Run("asset key is case insensitive", func(t *testing.T) {
		c.Put("wallet1", "MiNtB", CategoryPrice, 1.5)
		v, ok := c.Get("wallet1", "mintb", CategoryPrice)
		assert.True(t, ok)
		assert.Equal(t, 1.5, v)
	})

	t.Run("categories are isolated", func(t *testing.T) {
		c.Put("wallet1", "MintC", CategoryOverview, "ov")
		_, ok := c.Get("wallet1", "MintC", CategoryHolders)
		assert.False(t, ok)
	})

	t.Run("owners are isolated", func(t *testing.T) {
		c.Put("wallet1", "MintD", CategoryPrice, 2.0)
		_, ok := c.Get("wallet2", "MintD", CategoryPrice)
		assert.False(t, ok)
	})
}

func TestValidationCache_Expiry(t *testing.T) {
	c := New(DefaultConfig())

	now := time.Now()
	c.SetClock(func() time.Time { return now })

	c.Put("w", "mint", CategorySellRoute, true)   // 15s TTL
	c.Put("w", "mint", CategorySecurity, "flags") // 10m TTL

	// Advance past the route TTL but inside the security TTL.
	now = now.Add(20 * time.Second)

	_, ok := c.Get("w", "mint", CategorySellRoute)
	assert.False(t, ok, "route entry should expire after 15s")

	_, ok = c.Get("w", "mint", CategorySecurity)
	assert.True(t, ok, "security entry should survive 20s")

	// Advance past the security TTL too.
	now = now.Add(10 * time.Minute)
	_, ok = c.Get("w", "mint", CategorySecurity)
	assert.False(t, ok)
}

func TestValidationCache_Invalidate(t *testing.T) {
	c := New(DefaultConfig())

	c.Put("w", "mint", CategoryPrice, 1.0)
	c.Put("w", "mint", CategoryOverview, "ov")
	c.Put("w", "other", CategoryPrice, 2.0)

	t.Run("single entry", func(t *testing.T) {
		c.Invalidate("w", "mint", CategoryPrice)
		_, ok := c.Get("w", "mint", CategoryPrice)
		assert.False(t, ok)
		_, ok = c.Get("w", "mint", CategoryOverview)
		assert.True(t, ok)
	})

	t.Run("whole asset", func(t *testing.T) {
		c.InvalidateAsset("w", "MINT")
		_, ok := c.Get("w", "mint", CategoryOverview)
		assert.False(t, ok)
		_, ok = c.Get("w", "other", CategoryPrice)
		assert.True(t, ok)
	})

	t.Run("whole owner", func(t *testing.T) {
		c.InvalidateOwner("w")
		_, ok := c.Get("w", "other", CategoryPrice)
		assert.False(t, ok)
	})
}

func TestValidationCache_Sweep(t *testing.T) {
	c := New(DefaultConfig())

	now := time.Now()
	c.SetClock(func() time.Time { return now })

	c.Put("w", "a", CategoryPrice, 1.0)    // 15s TTL
	c.Put("w", "b", CategoryHolders, "hs") // 5m TTL

	now = now.Add(30 * time.Second)
	c.sweep()

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(1), stats.Expired)
}

func TestValidationCache_Stats(t *testing.T) {
	c := New(DefaultConfig())

	c.Put("w", "a", CategoryPrice, 1.0)
	c.Get("w", "a", CategoryPrice)   // hit
	c.Get("w", "zzz", CategoryPrice) // miss

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
}
