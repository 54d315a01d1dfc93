package watcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sentinel-trading/sentinel/internal/reputation"
	"github.com/sentinel-trading/sentinel/internal/router"
	"github.com/sentinel-trading/sentinel/internal/selllock"
	"github.com/sentinel-trading/sentinel/internal/solana"
)

// ---------------------------------------------------------------------------
// Liquidity Watcher — open-position sentinel for liquidity collapse
// ---------------------------------------------------------------------------

// Config configures the watcher.
type Config struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	EmergencyDropPct float64       `yaml:"emergency_drop_pct"`
	WarningDropPct   float64       `yaml:"warning_drop_pct"`
	MaxRouteMisses   int           `yaml:"max_route_misses"`
	ProbeAmount      decimal.Decimal `yaml:"-"` // reverse-quote probe, token smallest units
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:     15 * time.Second,
		EmergencyDropPct: 60,
		WarningDropPct:   30,
		MaxRouteMisses:   2,
		ProbeAmount:      decimal.NewFromInt(1_000_000),
	}
}

// PositionState is what the watcher currently believes about a position.
type PositionState string

const (
	StateActive  PositionState = "active"
	StateWaiting PositionState = "waiting" // exit failed, liquidity still present
	StateFrozen  PositionState = "frozen"  // liquidity gone or route lost
	StateClosed  PositionState = "closed"
)

// Position is one open position under watch.
type Position struct {
	ID          string        `json:"id"`
	Mint        solana.Pubkey `json:"mint"`
	PoolAddress solana.Pubkey `json:"pool_address"`
	Deployer    string        `json:"deployer"`
	OpenedAt    time.Time     `json:"opened_at"`

	State          PositionState   `json:"state"`
	FreezeReason   string          `json:"freeze_reason,omitempty"`
	EntryLiquidity decimal.Decimal `json:"entry_liquidity"` // cached on first observation
	LastLiquidity  decimal.Decimal `json:"last_liquidity"`
	RouteMisses    int             `json:"route_misses"`
}

// PoolSource resolves current pool liquidity.
type PoolSource interface {
	GetPoolInfo(ctx context.Context, poolAddress solana.Pubkey) (*solana.PoolInfo, error)
}

// Quoter probes the sell route.
type Quoter interface {
	GetQuote(ctx context.Context, params solana.SwapParams) (*router.Quote, error)
}

// Exiter executes an emergency exit for a position. The watcher already
// holds the sell lease when this is called.
type Exiter interface {
	EmergencyExit(ctx context.Context, pos *Position) error
}

// Watcher polls every open position and pulls the ripcord when liquidity
// collapses or the sell route disappears.
type Watcher struct {
	config     Config
	pools      PoolSource
	quoter     Quoter
	exiter     Exiter
	locks      *selllock.Manager
	reputation *reputation.Tracker

	mu        sync.Mutex
	positions map[string]*Position // key: lowercased mint

	running atomic.Bool
	ticking atomic.Bool // guards against overlapping sweeps

	onEmergencyExit func(pos *Position, dropPct float64)
	onFreeze        func(pos *Position, reason string)

	sweeps     atomic.Int64
	emergencies atomic.Int64
	freezes    atomic.Int64
	missedTicks atomic.Int64
}

// New creates a liquidity watcher.
func New(config Config, pools PoolSource, quoter Quoter, exiter Exiter, locks *selllock.Manager, rep *reputation.Tracker) *Watcher {
	return &Watcher{
		config:     config,
		pools:      pools,
		quoter:     quoter,
		exiter:     exiter,
		locks:      locks,
		reputation: rep,
		positions:  make(map[string]*Position),
	}
}

// SetOnEmergencyExit sets the callback fired after a successful forced exit.
func (w *Watcher) SetOnEmergencyExit(fn func(pos *Position, dropPct float64)) {
	w.onEmergencyExit = fn
}

// SetOnFreeze sets the callback fired when a position is frozen.
func (w *Watcher) SetOnFreeze(fn func(pos *Position, reason string)) {
	w.onFreeze = fn
}

// Watch puts a position under surveillance.
func (w *Watcher) Watch(pos Position) {
	pos.State = StateActive
	key := strings.ToLower(string(pos.Mint))

	w.mu.Lock()
	w.positions[key] = &pos
	w.mu.Unlock()

	log.Info().
		Str("position", pos.ID).
		Str("mint", string(pos.Mint)).
		Msg("watcher: position under watch")
}

// Unwatch removes a position, e.g. after a normal close.
func (w *Watcher) Unwatch(mint solana.Pubkey) {
	w.mu.Lock()
	delete(w.positions, strings.ToLower(string(mint)))
	w.mu.Unlock()
}

// Get returns a copy of the watched position, if present.
func (w *Watcher) Get(mint solana.Pubkey) (Position, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	pos, ok := w.positions[strings.ToLower(string(mint))]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Run starts the poll loop. Blocks until ctx is cancelled; a second
// concurrent Run is a no-op.
func (w *Watcher) Run(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		return
	}
	defer w.running.Store(false)

	interval := w.config.PollInterval
	if interval == 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("watcher: started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("watcher: stopped")
			return
		case <-ticker.C:
			// A sweep that outlives the interval drops ticks instead of
			// queueing them behind itself.
			if !w.ticking.CompareAndSwap(false, true) {
				w.missedTicks.Add(1)
				continue
			}
			w.Sweep(ctx)
			w.ticking.Store(false)
		}
	}
}

// Running reports whether the poll loop is active.
func (w *Watcher) Running() bool {
	return w.running.Load()
}

// Sweep checks every active position once.
func (w *Watcher) Sweep(ctx context.Context) {
	w.sweeps.Add(1)

	w.mu.Lock()
	var active []*Position
	for _, pos := range w.positions {
		if pos.State == StateActive || pos.State == StateWaiting {
			active = append(active, pos)
		}
	}
	w.mu.Unlock()

	for _, pos := range active {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.checkPosition(ctx, pos)
	}
}

func (w *Watcher) checkPosition(ctx context.Context, pos *Position) {
	pool, err := w.pools.GetPoolInfo(ctx, pos.PoolAddress)
	if err != nil {
		log.Warn().Err(err).Str("mint", string(pos.Mint)).Msg("watcher: pool lookup failed")
		return
	}

	w.mu.Lock()
	if pos.EntryLiquidity.IsZero() {
		pos.EntryLiquidity = pool.LiquidityUSD
	}
	pos.LastLiquidity = pool.LiquidityUSD

	dropPct := 0.0
	if pos.EntryLiquidity.IsPositive() {
		drop := pos.EntryLiquidity.Sub(pool.LiquidityUSD).
			Div(pos.EntryLiquidity).Mul(decimal.NewFromInt(100))
		dropPct, _ = drop.Float64()
	}
	w.mu.Unlock()

	if dropPct > w.config.EmergencyDropPct {
		w.emergencyExit(ctx, pos, dropPct)
		return
	}

	if dropPct > w.config.WarningDropPct {
		log.Warn().
			Str("mint", string(pos.Mint)).
			Float64("drop_pct", dropPct).
			Msg("watcher: liquidity draining")
	}

	// Independent route probe: nominal liquidity means nothing if the
	// sell route is gone.
	w.probeRoute(ctx, pos)
}

func (w *Watcher) probeRoute(ctx context.Context, pos *Position) {
	_, err := w.quoter.GetQuote(ctx, solana.SwapParams{
		InputMint:   pos.Mint,
		OutputMint:  solana.SOLMint,
		AmountIn:    w.config.ProbeAmount,
		SlippageBps: 500,
	})

	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case err == nil:
		pos.RouteMisses = 0
	case errors.Is(err, router.ErrNoRoute):
		pos.RouteMisses++
		if pos.RouteMisses >= w.config.MaxRouteMisses {
			w.freezeLocked(pos, "sell route lost")
		}
	default:
		// Rate limits and transport errors are not evidence about the token.
	}
}

// emergencyExit force-sells a position through the sell lock.
func (w *Watcher) emergencyExit(ctx context.Context, pos *Position, dropPct float64) {
	holder := "watcher:" + pos.ID
	if !w.locks.Acquire(string(pos.Mint), holder) {
		log.Warn().
			Str("mint", string(pos.Mint)).
			Msg("watcher: exit already in progress elsewhere")
		return
	}
	defer w.locks.Release(string(pos.Mint), holder)

	log.Error().
		Str("mint", string(pos.Mint)).
		Float64("drop_pct", dropPct).
		Msg("watcher: EMERGENCY EXIT liquidity collapse")

	err := w.exiter.EmergencyExit(ctx, pos)
	if err == nil {
		w.emergencies.Add(1)
		survival := time.Since(pos.OpenedAt)

		w.mu.Lock()
		pos.State = StateClosed
		w.mu.Unlock()

		w.reputation.RecordOutcome(ctx, pos.Deployer, survival)
		if w.onEmergencyExit != nil {
			w.onEmergencyExit(pos, dropPct)
		}
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if errors.Is(err, router.ErrNoRoute) {
		w.freezeLocked(pos, "liquidity gone, no exit route")
		return
	}

	// Exit failed but liquidity is nominally there: park and retry on the
	// next sweep rather than writing the position off.
	pos.State = StateWaiting
	log.Warn().Err(err).Str("mint", string(pos.Mint)).Msg("watcher: exit failed, parked waiting")
}

// freezeLocked marks a position frozen. Caller holds w.mu.
func (w *Watcher) freezeLocked(pos *Position, reason string) {
	if pos.State == StateFrozen {
		return
	}
	pos.State = StateFrozen
	pos.FreezeReason = reason
	w.freezes.Add(1)

	log.Error().
		Str("mint", string(pos.Mint)).
		Str("reason", reason).
		Msg("watcher: position FROZEN")

	if w.onFreeze != nil {
		go w.onFreeze(pos, reason)
	}
}

// WriteOff reports whether a frozen position should be closed at total
// loss. Only liquidity-gone freezes qualify; route glitches stay parked.
func (p *Position) WriteOff() bool {
	return p.State == StateFrozen && strings.Contains(p.FreezeReason, "liquidity gone")
}

// Stats returns watcher statistics.
type Stats struct {
	Watched     int   `json:"watched"`
	Sweeps      int64 `json:"sweeps"`
	Emergencies int64 `json:"emergencies"`
	Freezes     int64 `json:"freezes"`
	MissedTicks int64 `json:"missed_ticks"`
	Running     bool  `json:"running"`
}

func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	watched := len(w.positions)
	w.mu.Unlock()

	return Stats{
		Watched:     watched,
		Sweeps:      w.sweeps.Load(),
		Emergencies: w.emergencies.Load(),
		Freezes:     w.freezes.Load(),
		MissedTicks: w.missedTicks.Load(),
		Running:     w.running.Load(),
	}
}
