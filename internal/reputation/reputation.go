package reputation

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sentinel-trading/sentinel/internal/storage"
)

// ---------------------------------------------------------------------------
// Deployer Reputation — outcome-fed scoring of token creator wallets
// ---------------------------------------------------------------------------

// Config configures the reputation tracker.
type Config struct {
	// A position that survives at least this long counts as a success.
	SurvivalThreshold time.Duration `yaml:"survival_threshold"`

	// Rug count at which a deployer is hard-blocked automatically.
	AutoFlagRugs int `yaml:"auto_flag_rugs"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SurvivalThreshold: 30 * time.Minute,
		AutoFlagRugs:      2,
	}
}

// Tracker scores deployer wallets from observed position outcomes.
// The mirror map is authoritative in-session; the backing store makes
// reputation survive restarts.
type Tracker struct {
	config  Config
	backing storage.DeployerStore

	mu        sync.RWMutex
	deployers map[string]*storage.DeployerRecord

	outcomes    atomic.Int64
	flags       atomic.Int64
	persistErrs atomic.Int64
}

// NewTracker creates a reputation tracker.
func NewTracker(config Config, backing storage.DeployerStore) *Tracker {
	return &Tracker{
		config:    config,
		backing:   backing,
		deployers: make(map[string]*storage.DeployerRecord),
	}
}

// Observe records that a deployer launched a token we are tracking.
func (t *Tracker) Observe(ctx context.Context, deployer string) {
	if deployer == "" {
		return
	}
	key := strings.ToLower(deployer)

	t.mu.Lock()
	rec := t.deployers[key]
	if rec == nil {
		rec = &storage.DeployerRecord{Address: key, FirstSeenAt: time.Now()}
		t.deployers[key] = rec
	}
	rec.TokensSeen++
	rec.UpdatedAt = time.Now()
	cp := *rec
	t.mu.Unlock()

	t.persist(ctx, &cp)
}

// RecordOutcome feeds a closed position back into the deployer's record.
// A short-lived position is counted as a rug.
func (t *Tracker) RecordOutcome(ctx context.Context, deployer string, survival time.Duration) {
	if deployer == "" {
		return
	}
	key := strings.ToLower(deployer)
	t.outcomes.Add(1)

	t.mu.Lock()
	rec := t.deployers[key]
	if rec == nil {
		rec = &storage.DeployerRecord{Address: key, FirstSeenAt: time.Now()}
		t.deployers[key] = rec
	}

	rugged := survival < t.config.SurvivalThreshold
	if rugged {
		rec.RugCount++
	} else {
		rec.SuccessCount++
	}
	if rec.RugCount >= t.config.AutoFlagRugs && !rec.Flagged {
		rec.Flagged = true
		rec.FlagReason = "auto: repeated rugs"
		t.flags.Add(1)
		log.Warn().
			Str("deployer", key).
			Int("rugs", rec.RugCount).
			Msg("reputation: deployer auto-flagged")
	}
	rec.UpdatedAt = time.Now()
	cp := *rec
	t.mu.Unlock()

	t.persist(ctx, &cp)
}

// Flag hard-blocks a deployer manually.
func (t *Tracker) Flag(ctx context.Context, deployer, reason string) {
	key := strings.ToLower(deployer)

	t.mu.Lock()
	rec := t.deployers[key]
	if rec == nil {
		rec = &storage.DeployerRecord{Address: key, FirstSeenAt: time.Now()}
		t.deployers[key] = rec
	}
	rec.Flagged = true
	rec.FlagReason = reason
	rec.UpdatedAt = time.Now()
	cp := *rec
	t.mu.Unlock()

	t.flags.Add(1)
	t.persist(ctx, &cp)
}

// IsBlocked reports whether a deployer is hard-blocked.
func (t *Tracker) IsBlocked(deployer string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec := t.deployers[strings.ToLower(deployer)]
	return rec != nil && rec.Flagged
}

// Score returns the deployer's reputation in [0,100]. Unknown deployers
// score a neutral 50; hard-blocked deployers score 0.
func (t *Tracker) Score(deployer string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec := t.deployers[strings.ToLower(deployer)]
	if rec == nil {
		return 50
	}
	if rec.Flagged {
		return 0
	}

	total := rec.RugCount + rec.SuccessCount
	if total == 0 {
		return 50
	}
	return float64(rec.SuccessCount) / float64(total) * 100
}

// Restore loads a deployer's persisted record into the mirror on demand.
func (t *Tracker) Restore(ctx context.Context, deployer string) {
	key := strings.ToLower(deployer)

	t.mu.RLock()
	_, cached := t.deployers[key]
	t.mu.RUnlock()
	if cached {
		return
	}

	rec, err := t.backing.Get(ctx, key)
	if err != nil {
		return // unknown or unavailable, stays neutral
	}

	t.mu.Lock()
	if _, raced := t.deployers[key]; !raced {
		t.deployers[key] = rec
	}
	t.mu.Unlock()
}

func (t *Tracker) persist(ctx context.Context, rec *storage.DeployerRecord) {
	if err := t.backing.Upsert(ctx, rec); err != nil {
		t.persistErrs.Add(1)
		log.Warn().Err(err).Str("deployer", rec.Address).Msg("reputation: persist failed")
	}
}

// Stats returns tracker statistics.
type Stats struct {
	Tracked     int   `json:"tracked"`
	Outcomes    int64 `json:"outcomes"`
	Flags       int64 `json:"flags"`
	PersistErrs int64 `json:"persist_errs"`
}

func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	tracked := len(t.deployers)
	t.mu.RUnlock()

	return Stats{
		Tracked:     tracked,
		Outcomes:    t.outcomes.Load(),
		Flags:       t.flags.Load(),
		PersistErrs: t.persistErrs.Load(),
	}
}
