package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sentinel-trading/sentinel/internal/storage"
)

// ---------------------------------------------------------------------------
// Token Lifecycle Store — per-asset state machine with persistent backing
// ---------------------------------------------------------------------------

// State is the lifecycle state of a tracked asset.
type State string

const (
	StateNew      State = "NEW"      // discovered, eligible for evaluation
	StatePending  State = "PENDING"  // evaluation or execution in flight
	StateTraded   State = "TRADED"   // position opened, terminal
	StateRejected State = "REJECTED" // blocked by risk, execution, or the sweep; terminal
)

// Terminal reports whether no further transitions leave this state.
// TRADED and REJECTED are both monotonic: once either is reached no call
// may change the state again.
func (s State) Terminal() bool {
	return s == StateTraded || s == StateRejected
}

var (
	ErrUnknownAsset      = errors.New("lifecycle: unknown asset")
	ErrInvalidTransition = errors.New("lifecycle: invalid state transition")
	ErrTerminalState     = errors.New("lifecycle: asset in terminal state")
	ErrMaxRetries        = errors.New("lifecycle: retry limit reached")
	ErrRetryExpired      = errors.New("lifecycle: retry window elapsed")
)

// sweepReason marks assets rejected by the maintenance sweep rather than
// by a risk or execution verdict.
const sweepReason = "maintenance: pending expired"

// Asset is the in-memory mirror of one tracked asset.
type Asset struct {
	Mint         string     `json:"mint"`
	State        State      `json:"state"`
	Reason       string     `json:"reason"`
	Score        float64    `json:"score"`
	Attempts     int        `json:"attempts"`
	MaxRetries   int        `json:"max_retries"`
	Deployer     string     `json:"deployer"`
	TxRef        string     `json:"tx_ref,omitempty"`
	PositionRef  string     `json:"position_ref,omitempty"`
	FirstSeenAt  time.Time  `json:"first_seen_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	PendingSince *time.Time `json:"pending_since,omitempty"`
	RetryExpiry  *time.Time `json:"retry_expiry,omitempty"`
}

// Config configures the lifecycle store.
type Config struct {
	MaxRetries    int           `yaml:"max_retries"`
	PendingExpiry time.Duration `yaml:"pending_expiry"` // retry window when MarkPending gets none
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    2,
		PendingExpiry: 5 * time.Minute,
	}
}

// Store tracks asset lifecycle for one owner wallet. The in-memory mirror
// is the session source of truth: it is updated before the backing store,
// and a persistence failure never rolls the mirror back.
type Store struct {
	config  Config
	owner   string
	backing storage.LifecycleStore
	now     func() time.Time

	mu     sync.RWMutex
	assets map[string]*Asset // key: lowercased mint

	registered  atomic.Int64
	transitions atomic.Int64
	persistErrs atomic.Int64
}

// NewStore creates a lifecycle store for an owner wallet.
func NewStore(config Config, owner string, backing storage.LifecycleStore) *Store {
	return &Store{
		config:  config,
		owner:   owner,
		backing: backing,
		now:     time.Now,
		assets:  make(map[string]*Asset),
	}
}

// SetClock overrides the time source. Used in tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Restore loads persisted non-traded assets into the mirror.
// Called once at startup before any Register.
func (s *Store) Restore(ctx context.Context) error {
	for _, state := range []State{StateNew, StatePending, StateRejected} {
		recs, err := s.backing.ListByState(ctx, s.owner, string(state))
		if err != nil {
			return err
		}
		s.mu.Lock()
		for _, rec := range recs {
			s.assets[strings.ToLower(rec.Mint)] = &Asset{
				Mint:         rec.Mint,
				State:        State(rec.State),
				Reason:       rec.Reason,
				Score:        rec.Score,
				Attempts:     rec.Attempts,
				MaxRetries:   rec.MaxRetries,
				Deployer:     rec.Deployer,
				TxRef:        rec.TxRef,
				PositionRef:  rec.PositionRef,
				FirstSeenAt:  rec.FirstSeenAt,
				UpdatedAt:    rec.UpdatedAt,
				PendingSince: rec.PendingSince,
				RetryExpiry:  rec.RetryExpiry,
			}
		}
		s.mu.Unlock()
	}
	return nil
}

// Register adds a newly discovered asset in state NEW. Registering a mint
// that is already tracked is a no-op and reports false.
func (s *Store) Register(ctx context.Context, mint, deployer string) bool {
	key := strings.ToLower(mint)

	s.mu.Lock()
	if _, exists := s.assets[key]; exists {
		s.mu.Unlock()
		return false
	}

	now := s.now()
	asset := &Asset{
		Mint:        mint,
		State:       StateNew,
		MaxRetries:  s.config.MaxRetries,
		Deployer:    deployer,
		FirstSeenAt: now,
		UpdatedAt:   now,
	}
	s.assets[key] = asset
	s.mu.Unlock()

	s.registered.Add(1)

	err := s.backing.Insert(ctx, &storage.AssetRecord{
		Owner:       s.owner,
		Mint:        mint,
		State:       string(StateNew),
		MaxRetries:  s.config.MaxRetries,
		Deployer:    deployer,
		FirstSeenAt: now,
		UpdatedAt:   now,
	})
	if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		s.persistErrs.Add(1)
		log.Warn().Err(err).Str("mint", mint).Msg("lifecycle: persist register failed")
	}

	return true
}

// Get returns a copy of the asset's mirror state.
func (s *Store) Get(mint string) (Asset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	asset, ok := s.assets[strings.ToLower(mint)]
	if !ok {
		return Asset{}, false
	}
	return *asset, true
}

// CanEvaluate reports whether the asset is eligible for risk evaluation:
// any tracked, non-terminal asset qualifies.
func (s *Store) CanEvaluate(mint string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	asset, ok := s.assets[strings.ToLower(mint)]
	return ok && !asset.State.Terminal()
}

// CanTrade reports whether the asset may enter trade execution. Only NEW
// assets qualify; a PENDING asset becomes tradeable again only through an
// explicit Retry.
func (s *Store) CanTrade(mint string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	asset, ok := s.assets[strings.ToLower(mint)]
	return ok && asset.State == StateNew
}

// MarkPending moves a NEW or PENDING asset to PENDING. The first entry
// stamps pending_since; every call refreshes the reason and the retry
// window. A window of zero falls back to the configured default.
func (s *Store) MarkPending(ctx context.Context, mint, reason string, window time.Duration) error {
	if window <= 0 {
		window = s.config.PendingExpiry
	}
	return s.transition(ctx, mint, StatePending, reason, 0, func(a *Asset) error {
		if a.State.Terminal() {
			return ErrTerminalState
		}
		now := s.now()
		if a.PendingSince == nil {
			ps := now
			a.PendingSince = &ps
		}
		expiry := now.Add(window)
		a.RetryExpiry = &expiry
		return nil
	})
}

// MarkTraded moves any non-terminal asset to TRADED with its transaction
// and position references. The mirror is updated before the persistence
// write so a concurrent evaluation can never trade the same asset twice
// while the write is in flight.
func (s *Store) MarkTraded(ctx context.Context, mint, txRef, positionRef string) error {
	return s.transition(ctx, mint, StateTraded, "", 0, func(a *Asset) error {
		if a.State.Terminal() {
			return ErrTerminalState
		}
		a.TxRef = txRef
		a.PositionRef = positionRef
		a.PendingSince = nil
		a.RetryExpiry = nil
		return nil
	})
}

// MarkRejected moves any non-terminal asset to REJECTED with a reason.
func (s *Store) MarkRejected(ctx context.Context, mint, reason string, score float64) error {
	return s.transition(ctx, mint, StateRejected, reason, score, func(a *Asset) error {
		if a.State.Terminal() {
			return ErrTerminalState
		}
		a.PendingSince = nil
		a.RetryExpiry = nil
		return nil
	})
}

// Retry returns a PENDING asset to NEW, spending one unit of its retry
// budget. Fails once the budget is exhausted or the retry window has
// elapsed; terminal assets are never retryable.
func (s *Store) Retry(ctx context.Context, mint string) error {
	return s.transition(ctx, mint, StateNew, "", 0, func(a *Asset) error {
		if a.State.Terminal() {
			return ErrTerminalState
		}
		if a.State != StatePending {
			return ErrInvalidTransition
		}
		if a.Attempts >= s.maxRetries(a) {
			return ErrMaxRetries
		}
		if a.RetryExpiry != nil && s.now().After(*a.RetryExpiry) {
			return ErrRetryExpired
		}
		a.Attempts++
		a.Reason = ""
		a.PendingSince = nil
		a.RetryExpiry = nil
		return nil
	})
}

// maxRetries prefers the per-record budget; records persisted without one
// fall back to the configured default.
func (s *Store) maxRetries(a *Asset) int {
	if a.MaxRetries > 0 {
		return a.MaxRetries
	}
	return s.config.MaxRetries
}

// transition applies check+mutate under the lock, mirrors first, then persists.
func (s *Store) transition(ctx context.Context, mint string, to State, reason string, score float64, check func(a *Asset) error) error {
	key := strings.ToLower(mint)

	s.mu.Lock()
	asset, ok := s.assets[key]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownAsset
	}

	if err := check(asset); err != nil {
		s.mu.Unlock()
		return err
	}

	from := asset.State
	asset.State = to
	if reason != "" {
		asset.Reason = reason
	}
	if score != 0 {
		asset.Score = score
	}
	asset.UpdatedAt = s.now()
	rec := s.toRecord(asset)
	s.mu.Unlock()

	s.transitions.Add(1)

	log.Debug().
		Str("mint", mint).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", reason).
		Msg("lifecycle: state transition")

	if err := s.backing.UpdateState(ctx, rec); err != nil {
		s.persistErrs.Add(1)
		log.Warn().Err(err).Str("mint", mint).Msg("lifecycle: persist transition failed")
	}
	return nil
}

func (s *Store) toRecord(a *Asset) *storage.AssetRecord {
	return &storage.AssetRecord{
		Owner:        s.owner,
		Mint:         a.Mint,
		State:        string(a.State),
		Reason:       a.Reason,
		Score:        a.Score,
		Attempts:     a.Attempts,
		MaxRetries:   a.MaxRetries,
		Deployer:     a.Deployer,
		TxRef:        a.TxRef,
		PositionRef:  a.PositionRef,
		FirstSeenAt:  a.FirstSeenAt,
		UpdatedAt:    a.UpdatedAt,
		PendingSince: a.PendingSince,
		RetryExpiry:  a.RetryExpiry,
	}
}

// CleanupExpiredPending rejects PENDING assets whose retry budget is spent
// or whose retry window has elapsed. Idempotent and safe to run alongside
// registration. Returns the number of assets rejected.
func (s *Store) CleanupExpiredPending(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	var swept []*storage.AssetRecord
	for _, asset := range s.assets {
		if asset.State != StatePending {
			continue
		}
		expired := asset.RetryExpiry != nil && now.After(*asset.RetryExpiry)
		if asset.RetryExpiry == nil && asset.PendingSince != nil {
			// Restored records predating per-record windows.
			expired = now.Sub(*asset.PendingSince) > s.config.PendingExpiry
		}
		if asset.Attempts < s.maxRetries(asset) && !expired {
			continue
		}
		asset.State = StateRejected
		asset.Reason = sweepReason
		asset.PendingSince = nil
		asset.RetryExpiry = nil
		asset.UpdatedAt = now
		swept = append(swept, s.toRecord(asset))
	}
	s.mu.Unlock()

	s.transitions.Add(int64(len(swept)))

	for _, rec := range swept {
		if err := s.backing.UpdateState(ctx, rec); err != nil {
			s.persistErrs.Add(1)
			log.Warn().Err(err).Str("mint", rec.Mint).Msg("lifecycle: persist cleanup failed")
		}
	}

	if len(swept) > 0 {
		log.Info().Int("count", len(swept)).Msg("lifecycle: expired pending assets rejected")
	}
	return len(swept)
}

// ClearRejected drops all REJECTED assets from mirror and backing store.
func (s *Store) ClearRejected(ctx context.Context) (int, error) {
	return s.clearState(ctx, StateRejected)
}

// ClearTraded drops all TRADED assets. Positions keep their own records;
// this only frees the lifecycle history.
func (s *Store) ClearTraded(ctx context.Context) (int, error) {
	return s.clearState(ctx, StateTraded)
}

// ClearPending drops all PENDING assets, abandoning their retry budgets.
func (s *Store) ClearPending(ctx context.Context) (int, error) {
	return s.clearState(ctx, StatePending)
}

func (s *Store) clearState(ctx context.Context, state State) (int, error) {
	s.mu.Lock()
	removed := 0
	for key, asset := range s.assets {
		if asset.State == state {
			delete(s.assets, key)
			removed++
		}
	}
	s.mu.Unlock()

	if _, err := s.backing.DeleteByState(ctx, s.owner, string(state)); err != nil {
		s.persistErrs.Add(1)
		return removed, err
	}
	return removed, nil
}

// CountByState returns the number of mirrored assets per state.
func (s *Store) CountByState() map[State]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[State]int, 4)
	for _, asset := range s.assets {
		counts[asset.State]++
	}
	return counts
}

// Stats returns store statistics.
type Stats struct {
	Tracked     int   `json:"tracked"`
	Registered  int64 `json:"registered"`
	Transitions int64 `json:"transitions"`
	PersistErrs int64 `json:"persist_errs"`
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	tracked := len(s.assets)
	s.mu.RUnlock()

	return Stats{
		Tracked:     tracked,
		Registered:  s.registered.Load(),
		Transitions: s.transitions.Load(),
		PersistErrs: s.persistErrs.Load(),
	}
}
