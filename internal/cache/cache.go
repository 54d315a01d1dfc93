package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Validation Cache — tiered-TTL cache for external validation results
// ---------------------------------------------------------------------------

// Category identifies a class of cached validation data. Each category
// carries its own TTL: security flags rarely change, quotes go stale fast.
type Category string

const (
	CategorySecurity  Category = "security"
	CategoryOverview  Category = "overview"
	CategoryPreScore  Category = "prescore"
	CategorySellRoute Category = "sellroute"
	CategoryPrice     Category = "price"
	CategoryHolders   Category = "holders"
)

// Config holds per-category TTLs and the sweep interval.
type Config struct {
	SecurityTTL   time.Duration `yaml:"security_ttl"`
	OverviewTTL   time.Duration `yaml:"overview_ttl"`
	PreScoreTTL   time.Duration `yaml:"pre_score_ttl"`
	SellRouteTTL  time.Duration `yaml:"sell_route_ttl"`
	PriceTTL      time.Duration `yaml:"price_ttl"`
	HoldersTTL    time.Duration `yaml:"holders_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SecurityTTL:   10 * time.Minute,
		OverviewTTL:   60 * time.Second,
		PreScoreTTL:   30 * time.Second,
		SellRouteTTL:  15 * time.Second,
		PriceTTL:      15 * time.Second,
		HoldersTTL:    5 * time.Minute,
		SweepInterval: 60 * time.Second,
	}
}

func (c Config) ttl(cat Category) time.Duration {
	switch cat {
	case CategorySecurity:
		return c.SecurityTTL
	case CategoryOverview:
		return c.OverviewTTL
	case CategoryPreScore:
		return c.PreScoreTTL
	case CategorySellRoute:
		return c.SellRouteTTL
	case CategoryPrice:
		return c.PriceTTL
	case CategoryHolders:
		return c.HoldersTTL
	default:
		return 30 * time.Second
	}
}

type entry struct {
	value     any
	expiresAt time.Time
}

type key struct {
	owner    string
	asset    string
	category Category
}

// ValidationCache caches validation results keyed by (owner, asset, category).
// Asset addresses are lowercased on every access so mixed-case callers
// hit the same entry.
type ValidationCache struct {
	config Config
	now    func() time.Time

	mu      sync.RWMutex
	entries map[key]entry

	hits      atomic.Int64
	misses    atomic.Int64
	expired   atomic.Int64
	evictions atomic.Int64
}

// New creates a validation cache.
func New(config Config) *ValidationCache {
	return &ValidationCache{
		config:  config,
		now:     time.Now,
		entries: make(map[key]entry),
	}
}

// SetClock overrides the time source. Used in tests.
func (c *ValidationCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func makeKey(owner, asset string, cat Category) key {
	return key{owner: owner, asset: strings.ToLower(asset), category: cat}
}

// Get returns the cached value and whether it was a live hit.
// Expired entries are deleted on read and count as misses.
func (c *ValidationCache) Get(owner, asset string, cat Category) (any, bool) {
	k := makeKey(owner, asset, cat)

	c.mu.RLock()
	e, ok := c.entries[k]
	now := c.now()
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if now.After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under write lock: a Put may have refreshed it.
		if cur, still := c.entries[k]; still && c.now().After(cur.expiresAt) {
			delete(c.entries, k)
			c.expired.Add(1)
		}
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return e.value, true
}

// Put stores a value under the category's TTL.
func (c *ValidationCache) Put(owner, asset string, cat Category, value any) {
	k := makeKey(owner, asset, cat)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[k] = entry{
		value:     value,
		expiresAt: c.now().Add(c.config.ttl(cat)),
	}
}

// Invalidate drops a single entry.
func (c *ValidationCache) Invalidate(owner, asset string, cat Category) {
	k := makeKey(owner, asset, cat)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[k]; ok {
		delete(c.entries, k)
		c.evictions.Add(1)
	}
}

// InvalidateAsset drops every category for an (owner, asset) pair.
// Called when a trade executes and all cached views of the asset go stale.
func (c *ValidationCache) InvalidateAsset(owner, asset string) {
	lower := strings.ToLower(asset)

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k := range c.entries {
		if k.owner == owner && k.asset == lower {
			delete(c.entries, k)
			removed++
		}
	}
	if removed > 0 {
		c.evictions.Add(int64(removed))
	}
}

// InvalidateOwner drops all entries belonging to an owner.
func (c *ValidationCache) InvalidateOwner(owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k := range c.entries {
		if k.owner == owner {
			delete(c.entries, k)
			removed++
		}
	}
	if removed > 0 {
		c.evictions.Add(int64(removed))
	}
}

// Run starts the background sweep loop. Blocks until ctx is cancelled.
func (c *ValidationCache) Run(ctx context.Context) {
	interval := c.config.SweepInterval
	if interval == 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep removes all expired entries.
func (c *ValidationCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	swept := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			swept++
		}
	}

	if swept > 0 {
		c.expired.Add(int64(swept))
		log.Debug().Int("swept", swept).Msg("cache: swept expired entries")
	}
}

// Stats returns cache statistics.
type Stats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Expired   int64 `json:"expired"`
	Evictions int64 `json:"evictions"`
}

func (c *ValidationCache) Stats() Stats {
	c.mu.RLock()
	total := len(c.entries)
	c.mu.RUnlock()

	return Stats{
		Entries:   total,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Expired:   c.expired.Load(),
		Evictions: c.evictions.Load(),
	}
}
