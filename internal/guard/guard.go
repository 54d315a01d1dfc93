package guard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sentinel-trading/sentinel/internal/router"
	"github.com/sentinel-trading/sentinel/internal/solana"
)

// ---------------------------------------------------------------------------
// Execution Guard — last line of defense before a trade leaves the engine
// Blacklist -> cooldown -> in-flight lock -> name filter -> sell route
// ---------------------------------------------------------------------------

// Config configures the execution guard.
type Config struct {
	// Minimum gap between two executions of the same mint.
	Cooldown time.Duration `yaml:"cooldown"`

	// Failures within FailureWindow before a mint is auto-blacklisted.
	BlacklistThreshold int `yaml:"blacklist_threshold"`

	// Sliding window for failure counting.
	FailureWindow time.Duration `yaml:"failure_window"`

	// Verify a sell route exists before buying.
	SellRouteCheck bool `yaml:"sell_route_check"`

	// Notional size of the synthetic sell used for the route probe.
	SellProbeUSD float64 `yaml:"sell_probe_usd"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Cooldown:           120 * time.Second,
		BlacklistThreshold: 3,
		FailureWindow:      10 * time.Minute,
		SellRouteCheck:     true,
		SellProbeUSD:       100,
	}
}

// Quoter is the slice of the swap router the guard needs.
type Quoter interface {
	GetQuote(ctx context.Context, params solana.SwapParams) (*router.Quote, error)
}

// Result is the outcome of a guard check.
type Result struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"` // block reason if !Allowed
	Check   string `json:"check,omitempty"`  // which check caught it
	Skipped string `json:"skipped,omitempty"` // checks bypassed (e.g. rate limited)
}

// Guard enforces execution-control rules for one owner wallet.
type Guard struct {
	config Config
	quoter Quoter
	now    func() time.Time

	mu        sync.Mutex
	cooldowns map[string]time.Time // mint -> last execution
	inFlight  map[string]bool      // mint -> execution in progress
	failures  map[string][]time.Time
	blacklist map[string]string // mint -> reason

	totalChecked atomic.Int64
	totalAllowed atomic.Int64
	totalBlocked atomic.Int64
	checkCounts  sync.Map // check_name -> *atomic.Int64
}

// New creates an execution guard.
func New(config Config, quoter Quoter) *Guard {
	return &Guard{
		config:    config,
		quoter:    quoter,
		now:       time.Now,
		cooldowns: make(map[string]time.Time),
		inFlight:  make(map[string]bool),
		failures:  make(map[string][]time.Time),
		blacklist: make(map[string]string),
	}
}

// SetClock overrides the time source. Used in tests.
func (g *Guard) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// PreExecutionCheck runs every guard check in short-circuit order and, when
// all pass, acquires the in-flight lock for the mint. The caller MUST call
// Complete exactly once afterwards.
func (g *Guard) PreExecutionCheck(ctx context.Context, token *solana.TokenInfo) Result {
	g.totalChecked.Add(1)
	mint := strings.ToLower(string(token.Mint))

	g.mu.Lock()

	// C1: Blacklist.
	if reason, listed := g.blacklist[mint]; listed {
		g.mu.Unlock()
		return g.block("blacklist", "mint blacklisted: "+reason)
	}

	// C2: Cooldown.
	if last, ok := g.cooldowns[mint]; ok {
		if since := g.now().Sub(last); since < g.config.Cooldown {
			g.mu.Unlock()
			return g.block("cooldown", "attempted "+since.Truncate(time.Second).String()+" ago")
		}
	}

	// C3: In-flight lock.
	if g.inFlight[mint] {
		g.mu.Unlock()
		return g.block("in_flight", "execution already in progress")
	}
	g.inFlight[mint] = true
	g.mu.Unlock()

	// C4: Name filter. No external calls.
	if r := checkName(token); !r.Allowed {
		g.unlock(mint)
		g.recordBlock(r.Check)
		g.totalBlocked.Add(1)
		return r
	}

	// C5: Sell route probe. A token you cannot sell is a honeypot regardless
	// of how it scored. Rate limiting skips the check rather than blocking.
	skipped := ""
	if g.config.SellRouteCheck && g.quoter != nil {
		r, skip := g.checkSellRoute(ctx, token.Mint)
		if !r.Allowed {
			g.unlock(mint)
			g.recordBlock(r.Check)
			g.totalBlocked.Add(1)
			return r
		}
		skipped = skip
	}

	g.totalAllowed.Add(1)
	return Result{Allowed: true, Skipped: skipped}
}

// Complete reports the outcome of an execution started by a successful
// PreExecutionCheck. Either outcome arms the cooldown — a failed attempt
// must not allow immediate re-entry — and failure additionally feeds the
// auto-blacklist counter.
func (g *Guard) Complete(mint string, success bool) {
	key := strings.ToLower(mint)

	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.inFlight, key)
	g.cooldowns[key] = g.now()

	if success {
		delete(g.failures, key)
		return
	}

	now := g.now()
	cutoff := now.Add(-g.config.FailureWindow)
	recent := g.failures[key][:0]
	for _, t := range g.failures[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	recent = append(recent, now)
	g.failures[key] = recent

	if len(recent) >= g.config.BlacklistThreshold {
		g.blacklist[key] = "auto: repeated execution failures"
		delete(g.failures, key)
		log.Warn().
			Str("mint", mint).
			Int("failures", len(recent)).
			Msg("guard: mint auto-blacklisted after repeated failures")
	}
}

// Blacklist adds a mint to the blacklist with a reason.
func (g *Guard) Blacklist(mint, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blacklist[strings.ToLower(mint)] = reason
}

// IsBlacklisted reports whether a mint is blacklisted.
func (g *Guard) IsBlacklisted(mint string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, listed := g.blacklist[strings.ToLower(mint)]
	return listed
}

func (g *Guard) unlock(mint string) {
	g.mu.Lock()
	delete(g.inFlight, mint)
	g.mu.Unlock()
}

// checkSellRoute verifies a reverse (token -> SOL) route exists.
func (g *Guard) checkSellRoute(ctx context.Context, mint solana.Pubkey) (Result, string) {
	params := solana.SwapParams{
		InputMint:   mint,
		OutputMint:  solana.SOLMint,
		AmountIn:    decimal.NewFromFloat(g.config.SellProbeUSD).Mul(decimal.NewFromInt(1_000_000)), // USDC-scale probe
		SlippageBps: 500,
	}

	_, err := g.quoter.GetQuote(ctx, params)
	if err == nil {
		return Result{Allowed: true}, ""
	}
	if errors.Is(err, router.ErrNoRoute) {
		return Result{Allowed: false, Reason: "no sell route exists", Check: "sell_route"}, ""
	}
	if errors.Is(err, router.ErrRateLimited) {
		log.Debug().Str("mint", string(mint)).Msg("guard: sell route check skipped, rate limited")
		return Result{Allowed: true}, "sell_route"
	}

	// Infrastructure error: skip rather than block on our own outage.
	log.Warn().Err(err).Str("mint", string(mint)).Msg("guard: sell route check failed, skipping")
	return Result{Allowed: true}, "sell_route"
}

func (g *Guard) block(check, reason string) Result {
	g.totalBlocked.Add(1)
	g.recordBlock(check)
	return Result{Allowed: false, Reason: reason, Check: check}
}

func (g *Guard) recordBlock(check string) {
	val, _ := g.checkCounts.LoadOrStore(check, &atomic.Int64{})
	val.(*atomic.Int64).Add(1)
	log.Debug().Str("check", check).Msg("guard: execution blocked")
}

// Stats returns guard statistics.
type Stats struct {
	TotalChecked int64            `json:"total_checked"`
	TotalAllowed int64            `json:"total_allowed"`
	TotalBlocked int64            `json:"total_blocked"`
	Blacklisted  int              `json:"blacklisted"`
	CheckCounts  map[string]int64 `json:"check_counts"`
}

func (g *Guard) Stats() Stats {
	g.mu.Lock()
	blacklisted := len(g.blacklist)
	g.mu.Unlock()

	counts := make(map[string]int64)
	g.checkCounts.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})

	return Stats{
		TotalChecked: g.totalChecked.Load(),
		TotalAllowed: g.totalAllowed.Load(),
		TotalBlocked: g.totalBlocked.Load(),
		Blacklisted:  blacklisted,
		CheckCounts:  counts,
	}
}
