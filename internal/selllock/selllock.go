package selllock

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Sell Lock Manager — per-asset lease locks for exit execution
// ---------------------------------------------------------------------------

// Config configures the sell lock manager.
type Config struct {
	// How long a holder may keep a lease before another caller can take over.
	LeaseDuration time.Duration `yaml:"lease_duration"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{LeaseDuration: 60 * time.Second}
}

type lease struct {
	holder     string
	acquiredAt time.Time
	expiresAt  time.Time
}

// Manager hands out exclusive per-asset sell leases. A lease that outlives
// its duration is considered abandoned: the next Acquire takes it over so a
// crashed seller can never wedge an exit forever.
type Manager struct {
	config Config
	now    func() time.Time

	mu     sync.Mutex
	leases map[string]*lease // key: lowercased mint

	acquired  atomic.Int64
	contended atomic.Int64
	takeovers atomic.Int64
	released  atomic.Int64
}

// NewManager creates a sell lock manager.
func NewManager(config Config) *Manager {
	return &Manager{
		config: config,
		now:    time.Now,
		leases: make(map[string]*lease),
	}
}

// SetClock overrides the time source. Used in tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Acquire attempts to take the sell lease for a mint. Reports true when the
// caller now holds the lease. A second acquire without an intervening
// release fails regardless of holder; only an expired lease may be taken
// over.
func (m *Manager) Acquire(mint, holder string) bool {
	key := strings.ToLower(mint)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cur, exists := m.leases[key]

	if exists && now.Before(cur.expiresAt) {
		m.contended.Add(1)
		return false
	}

	if exists {
		// Abandoned lease: take it over.
		m.takeovers.Add(1)
		log.Warn().
			Str("mint", mint).
			Str("stale_holder", cur.holder).
			Str("new_holder", holder).
			Dur("held_for", now.Sub(cur.acquiredAt)).
			Msg("selllock: taking over expired lease")
	}

	m.leases[key] = &lease{
		holder:     holder,
		acquiredAt: now,
		expiresAt:  now.Add(m.config.LeaseDuration),
	}
	m.acquired.Add(1)
	return true
}

// Release frees the lease. Only the current holder may release; a release
// by anyone else is ignored so a slow ex-holder cannot drop a takeover lease.
func (m *Manager) Release(mint, holder string) {
	key := strings.ToLower(mint)

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, exists := m.leases[key]
	if !exists || cur.holder != holder {
		return
	}
	delete(m.leases, key)
	m.released.Add(1)
}

// Holder returns the current lease holder, or "" if the mint is unlocked
// or its lease has expired.
func (m *Manager) Holder(mint string) string {
	key := strings.ToLower(mint)

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, exists := m.leases[key]
	if !exists || m.now().After(cur.expiresAt) {
		return ""
	}
	return cur.holder
}

// Stats returns lock manager statistics.
type Stats struct {
	Held      int   `json:"held"`
	Acquired  int64 `json:"acquired"`
	Contended int64 `json:"contended"`
	Takeovers int64 `json:"takeovers"`
	Released  int64 `json:"released"`
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	held := len(m.leases)
	m.mu.Unlock()

	return Stats{
		Held:      held,
		Acquired:  m.acquired.Load(),
		Contended: m.contended.Load(),
		Takeovers: m.takeovers.Load(),
		Released:  m.released.Load(),
	}
}
