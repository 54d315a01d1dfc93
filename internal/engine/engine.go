package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sentinel-trading/sentinel/internal/discovery"
	"github.com/sentinel-trading/sentinel/internal/guard"
	"github.com/sentinel-trading/sentinel/internal/journal"
	"github.com/sentinel-trading/sentinel/internal/lifecycle"
	"github.com/sentinel-trading/sentinel/internal/market"
	"github.com/sentinel-trading/sentinel/internal/observability"
	"github.com/sentinel-trading/sentinel/internal/reputation"
	"github.com/sentinel-trading/sentinel/internal/risk"
	"github.com/sentinel-trading/sentinel/internal/router"
	"github.com/sentinel-trading/sentinel/internal/selllock"
	"github.com/sentinel-trading/sentinel/internal/selltax"
	"github.com/sentinel-trading/sentinel/internal/solana"
	"github.com/sentinel-trading/sentinel/internal/storage"
	"github.com/sentinel-trading/sentinel/internal/watcher"
)

// ---------------------------------------------------------------------------
// Core — the full candidate-to-position pipeline
// ---------------------------------------------------------------------------

// Config configures the core engine.
type Config struct {
	PositionSizeSOL float64       `yaml:"position_size_sol"`
	SlippageBps     int           `yaml:"slippage_bps"`
	MaxPositions    int           `yaml:"max_positions"`
	MaxDailyTrades  int           `yaml:"max_daily_trades"`
	MaxDailyLossUSD float64       `yaml:"max_daily_loss_usd"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	ProbeAmountSOL  float64       `yaml:"probe_amount_sol"`
	DryRun          bool          `yaml:"dry_run"`
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		PositionSizeSOL: 0.1,
		SlippageBps:     300,
		MaxPositions:    5,
		MaxDailyTrades:  20,
		MaxDailyLossUSD: 200,
		CleanupInterval: time.Minute,
		ProbeAmountSOL:  0.01,
		DryRun:          true,
	}
}

// Core wires discovery, lifecycle, risk, tax detection, the execution guard
// and the liquidity watcher into one pipeline.
type Core struct {
	config Config
	owner  string

	rpc        solana.RPCClient
	wallet     *solana.Wallet
	router     *router.Router
	market     *market.Client
	lifecycle  *lifecycle.Store
	risk       *risk.Engine
	guard      *guard.Guard
	taxes      *selltax.Detector
	locks      *selllock.Manager
	reputation *reputation.Tracker
	watcher    *watcher.Watcher
	positions  storage.PositionStore
	journal    *journal.Journal       // optional
	metrics    *observability.Metrics // optional

	mu             sync.Mutex
	openCount      int
	dailyTrades    int
	dailyLossUSD   decimal.Decimal
	dailyResetTime time.Time

	onPositionOpen  func(pos *watcher.Position)
	onPositionClose func(id string, status string)

	candidates atomic.Int64
	trades     atomic.Int64
	rejected   atomic.Int64
	skipped    atomic.Int64
}

// Deps carries everything the core needs. Journal and Metrics may be nil.
type Deps struct {
	Owner      string
	RPC        solana.RPCClient
	Wallet     *solana.Wallet
	Router     *router.Router
	Market     *market.Client
	Lifecycle  *lifecycle.Store
	Risk       *risk.Engine
	Guard      *guard.Guard
	Taxes      *selltax.Detector
	Locks      *selllock.Manager
	Reputation *reputation.Tracker
	Positions  storage.PositionStore
	Journal    *journal.Journal
	Metrics    *observability.Metrics
	Watcher    watcher.Config
}

// NewCore builds the pipeline. The liquidity watcher is created here because
// the core is its exit executor.
func NewCore(config Config, deps Deps) *Core {
	c := &Core{
		config:         config,
		owner:          deps.Owner,
		rpc:            deps.RPC,
		wallet:         deps.Wallet,
		router:         deps.Router,
		market:         deps.Market,
		lifecycle:      deps.Lifecycle,
		risk:           deps.Risk,
		guard:          deps.Guard,
		taxes:          deps.Taxes,
		locks:          deps.Locks,
		reputation:     deps.Reputation,
		positions:      deps.Positions,
		journal:        deps.Journal,
		metrics:        deps.Metrics,
		dailyResetTime: startOfDayUTC(),
	}
	c.watcher = watcher.New(deps.Watcher, deps.RPC, deps.Router, c, deps.Locks, deps.Reputation)
	c.watcher.SetOnEmergencyExit(func(pos *watcher.Position, dropPct float64) {
		c.recordWatchEvent(pos, "emergency_exit", dropPct)
	})
	c.watcher.SetOnFreeze(func(pos *watcher.Position, reason string) {
		c.recordWatchEvent(pos, "freeze", 0)
		if c.metrics != nil {
			c.metrics.FrozenPositions.Inc()
		}
	})
	return c
}

// Watcher exposes the position watcher for status reporting.
func (c *Core) Watcher() *watcher.Watcher {
	return c.watcher
}

// SetOnPositionOpen sets the new-position callback.
func (c *Core) SetOnPositionOpen(fn func(pos *watcher.Position)) {
	c.onPositionOpen = fn
}

// SetOnPositionClose sets the closed-position callback.
func (c *Core) SetOnPositionClose(fn func(id, status string)) {
	c.onPositionClose = fn
}

// Run starts the watcher, the lifecycle cleanup loop, and when a stream is
// given, the discovery consumer. Blocks until ctx is cancelled.
func (c *Core) Run(ctx context.Context, stream *discovery.Stream) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.watcher.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.cleanupLoop(ctx)
	}()

	if stream != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stream.Run(ctx)
		}()
		for ev := range stream.Events() {
			c.OnLaunch(ctx, ev)
		}
	} else {
		<-ctx.Done()
	}

	wg.Wait()
}

// OnLaunch adapts a raw discovery event. Addresses that cannot be resolved
// from the transaction are skipped.
func (c *Core) OnLaunch(ctx context.Context, ev discovery.TokenEvent) {
	if c.metrics != nil {
		c.metrics.TokensDiscovered.Inc()
	}

	mint, pool, ok := extractAddresses(ev.Logs)
	if !ok {
		log.Debug().Str("sig", ev.Signature).Msg("engine: launch without resolvable addresses, skipping")
		return
	}
	c.ProcessCandidate(ctx, solana.Pubkey(mint), solana.Pubkey(pool))
}

// ProcessCandidate runs one token through the full pipeline.
func (c *Core) ProcessCandidate(ctx context.Context, mint, poolAddress solana.Pubkey) {
	c.candidates.Add(1)
	started := time.Now()

	if !c.checkDailyLimits() {
		log.Warn().Str("mint", string(mint)).Msg("engine: daily limit reached, skipping")
		c.skipped.Add(1)
		return
	}

	c.mu.Lock()
	open := c.openCount
	c.mu.Unlock()
	if open >= c.config.MaxPositions {
		log.Warn().Int("open", open).Msg("engine: max positions reached, skipping")
		c.skipped.Add(1)
		return
	}

	token, err := c.rpc.GetTokenInfo(ctx, mint)
	if err != nil {
		log.Warn().Err(err).Str("mint", string(mint)).Msg("engine: token lookup failed")
		c.skipped.Add(1)
		return
	}
	pool, err := c.rpc.GetPoolInfo(ctx, poolAddress)
	if err != nil {
		log.Warn().Err(err).Str("mint", string(mint)).Msg("engine: pool lookup failed")
		c.skipped.Add(1)
		return
	}

	if !c.lifecycle.Register(ctx, string(mint), string(token.Deployer)) {
		if !c.lifecycle.CanEvaluate(string(mint)) {
			log.Debug().Str("mint", string(mint)).Msg("engine: already handled, skipping")
			return
		}
	}
	c.reputation.Observe(ctx, string(token.Deployer))

	if err := c.lifecycle.MarkPending(ctx, string(mint), "evaluation in flight", 0); err != nil {
		log.Debug().Err(err).Str("mint", string(mint)).Msg("engine: cannot enter evaluation")
		return
	}

	routeConfirmed, routeChecked := c.probeRoute(ctx, mint)

	assessment, err := c.risk.Evaluate(ctx, risk.EvaluationInput{
		Token:          token,
		Pool:           pool,
		RouteConfirmed: routeConfirmed,
		RouteChecked:   routeChecked,
		SOLPriceUSD:    c.solPrice(ctx),
		PriceImpactPct: 0,
	})
	if err != nil {
		log.Warn().Err(err).Str("mint", string(mint)).Msg("engine: evaluation failed")
		c.park(ctx, string(mint))
		return
	}
	c.journalRisk(ctx, token, assessment)
	if c.metrics != nil {
		c.metrics.EvalLatency.Observe(time.Since(started).Seconds())
	}

	if !assessment.Approved {
		c.reject(ctx, string(mint), assessment.Reason, assessmentScore(assessment))
		return
	}

	taxReport, err := c.taxes.Detect(ctx, mint, probeTokenAmount)
	if err != nil {
		log.Warn().Err(err).Str("mint", string(mint)).Msg("engine: tax probe failed")
		c.park(ctx, string(mint))
		return
	}
	if c.metrics != nil {
		c.metrics.TaxDetected.WithLabelValues(taxReport.Verdict).Inc()
	}
	if taxReport.Block {
		c.reject(ctx, string(mint), "sell tax: "+taxReport.Verdict, assessmentScore(assessment))
		return
	}

	check := c.guard.PreExecutionCheck(ctx, token)
	if !check.Allowed {
		// Cooldown and in-flight blocks are transient: spend a retry and
		// re-queue. Hard blocks reject.
		if check.Check == "cooldown" || check.Check == "in_flight" {
			log.Info().Str("mint", string(mint)).Str("check", check.Check).Msg("engine: transient block, parked")
			c.park(ctx, string(mint))
			return
		}
		c.reject(ctx, string(mint), check.Reason, assessmentScore(assessment))
		return
	}

	c.executeBuy(ctx, token, pool, assessment)
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

var probeTokenAmount = decimal.NewFromInt(1_000_000)

func (c *Core) executeBuy(ctx context.Context, token *solana.TokenInfo, pool *solana.PoolInfo, assessment *risk.Assessment) {
	mint := token.Mint
	multiplier := 1.0
	if assessment.Composite != nil {
		multiplier = assessment.Composite.SizeMultiplier
	}
	buySOL := decimal.NewFromFloat(c.config.PositionSizeSOL * multiplier)
	if !buySOL.IsPositive() {
		c.reject(ctx, string(mint), "zero position size", assessmentScore(assessment))
		c.guard.Complete(string(mint), false)
		return
	}

	posID := uuid.New().String()[:12]

	log.Info().
		Str("pos_id", posID).
		Str("mint", string(mint)).
		Str("buy_sol", buySOL.String()).
		Float64("multiplier", multiplier).
		Bool("dry_run", c.config.DryRun).
		Msg("engine: EXECUTING BUY")

	var signature solana.Signature
	if c.config.DryRun {
		signature = c.wallet.SignSynthetic("buy:" + posID)
	} else {
		sig, err := c.swap(ctx, solana.SwapParams{
			InputMint:   solana.SOLMint,
			OutputMint:  mint,
			AmountIn:    buySOL,
			SlippageBps: c.config.SlippageBps,
		})
		if err != nil {
			log.Error().Err(err).Str("pos_id", posID).Msg("engine: buy failed")
			c.guard.Complete(string(mint), false)
			c.skipped.Add(1)
			return
		}
		signature = sig
	}

	if err := c.lifecycle.MarkTraded(ctx, string(mint), string(signature), posID); err != nil {
		log.Warn().Err(err).Str("mint", string(mint)).Msg("engine: traded transition refused")
	}
	c.guard.Complete(string(mint), true)

	now := time.Now()
	rec := &storage.PositionRecord{
		ID:          posID,
		Owner:       c.owner,
		Mint:        strings.ToLower(string(mint)),
		PoolAddress: string(pool.PoolAddress),
		EntryPrice:  pool.PriceUSD.String(),
		AmountSOL:   buySOL.String(),
		Status:      "open",
		TxSignature: string(signature),
		OpenedAt:    now,
	}
	if err := c.positions.Insert(ctx, rec); err != nil {
		log.Warn().Err(err).Str("pos_id", posID).Msg("engine: position persist failed")
	}

	pos := watcher.Position{
		ID:          posID,
		Mint:        mint,
		PoolAddress: pool.PoolAddress,
		Deployer:    string(token.Deployer),
		OpenedAt:    now,
	}
	c.watcher.Watch(pos)

	c.mu.Lock()
	c.openCount++
	c.dailyTrades++
	c.mu.Unlock()
	c.trades.Add(1)

	if c.metrics != nil {
		c.metrics.TradesExecuted.Inc()
		c.metrics.OpenPositions.Inc()
		c.metrics.Evaluations.WithLabelValues("approved").Inc()
	}
	if c.onPositionOpen != nil {
		c.onPositionOpen(&pos)
	}

	log.Info().
		Str("pos_id", posID).
		Str("mint", string(mint)).
		Float64("score", assessmentScore(assessment)).
		Msg("engine: position OPENED")
}

// EmergencyExit implements watcher.Exiter. The watcher holds the sell lease.
func (c *Core) EmergencyExit(ctx context.Context, pos *watcher.Position) error {
	log.Warn().
		Str("pos_id", pos.ID).
		Str("mint", string(pos.Mint)).
		Msg("engine: emergency exit")

	if !c.config.DryRun {
		if _, err := c.swap(ctx, solana.SwapParams{
			InputMint:   pos.Mint,
			OutputMint:  solana.SOLMint,
			AmountIn:    probeTokenAmount, // full balance resolved by the aggregator route
			SlippageBps: 1000,
		}); err != nil {
			return err
		}
	}

	c.closePosition(ctx, pos.ID, "emergency_exit")
	if c.metrics != nil {
		c.metrics.EmergencyExits.Inc()
	}
	return nil
}

// ClosePosition closes an open position normally and stops watching it.
func (c *Core) ClosePosition(ctx context.Context, pos *watcher.Position, exitPrice, pnlUSD string) error {
	holder := "engine:" + pos.ID
	if !c.locks.Acquire(string(pos.Mint), holder) {
		return fmt.Errorf("engine: sell lease for %s held elsewhere", pos.Mint)
	}
	defer c.locks.Release(string(pos.Mint), holder)

	if !c.config.DryRun {
		if _, err := c.swap(ctx, solana.SwapParams{
			InputMint:   pos.Mint,
			OutputMint:  solana.SOLMint,
			AmountIn:    probeTokenAmount,
			SlippageBps: c.config.SlippageBps,
		}); err != nil {
			return err
		}
	}

	if err := c.positions.Close(ctx, pos.ID, exitPrice, pnlUSD, "closed", time.Now()); err != nil {
		log.Warn().Err(err).Str("pos_id", pos.ID).Msg("engine: close persist failed")
	}
	c.watcher.Unwatch(pos.Mint)
	c.reputation.RecordOutcome(ctx, pos.Deployer, time.Since(pos.OpenedAt))
	c.finishPosition(pos.ID, "closed")
	return nil
}

// swap quotes, builds, and submits one swap through the aggregator router.
func (c *Core) swap(ctx context.Context, params solana.SwapParams) (solana.Signature, error) {
	quote, err := c.router.GetQuote(ctx, params)
	if err != nil {
		return "", fmt.Errorf("engine: quote: %w", err)
	}
	txBase64, err := c.router.BuildSwapTx(ctx, quote)
	if err != nil {
		return "", fmt.Errorf("engine: build tx: %w", err)
	}
	sig, err := c.rpc.SendTransaction(ctx, txBase64)
	if err != nil {
		return "", fmt.Errorf("engine: send tx: %w", err)
	}
	return sig, nil
}

func (c *Core) closePosition(ctx context.Context, id, status string) {
	if err := c.positions.Close(ctx, id, "0", "0", status, time.Now()); err != nil {
		log.Warn().Err(err).Str("pos_id", id).Msg("engine: close persist failed")
	}
	c.finishPosition(id, status)
}

func (c *Core) finishPosition(id, status string) {
	c.mu.Lock()
	if c.openCount > 0 {
		c.openCount--
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.OpenPositions.Dec()
	}
	if c.onPositionClose != nil {
		c.onPositionClose(id, status)
	}
}

// ---------------------------------------------------------------------------
// Pipeline helpers
// ---------------------------------------------------------------------------

func (c *Core) probeRoute(ctx context.Context, mint solana.Pubkey) (confirmed, checked bool) {
	_, err := c.router.GetQuote(ctx, solana.SwapParams{
		InputMint:   solana.SOLMint,
		OutputMint:  mint,
		AmountIn:    decimal.NewFromFloat(c.config.ProbeAmountSOL),
		SlippageBps: c.config.SlippageBps,
	})
	switch {
	case err == nil:
		return true, true
	case errors.Is(err, router.ErrNoRoute):
		return false, true
	default:
		return false, false
	}
}

func (c *Core) solPrice(ctx context.Context) decimal.Decimal {
	if c.market == nil {
		return decimal.Zero
	}
	overview, err := c.market.TokenOverview(ctx, solana.SOLMint)
	if err != nil {
		log.Debug().Err(err).Msg("engine: SOL price unavailable")
		return decimal.Zero
	}
	return overview.PriceUSD
}

func (c *Core) reject(ctx context.Context, mint, reason string, score float64) {
	c.rejected.Add(1)
	if c.metrics != nil {
		c.metrics.Evaluations.WithLabelValues("blocked").Inc()
	}
	if err := c.lifecycle.MarkRejected(ctx, mint, reason, score); err != nil {
		log.Debug().Err(err).Str("mint", mint).Msg("engine: reject transition refused")
	}
	log.Info().Str("mint", mint).Str("reason", reason).Msg("engine: candidate rejected")
}

// park returns a mid-flight candidate to NEW under its retry budget. Once
// the budget or window is spent the asset stays PENDING for the cleanup
// sweep to reject.
func (c *Core) park(ctx context.Context, mint string) {
	c.skipped.Add(1)
	if err := c.lifecycle.Retry(ctx, mint); err != nil {
		log.Debug().Err(err).Str("mint", mint).Msg("engine: retry refused, awaiting sweep")
	}
}

func (c *Core) journalRisk(ctx context.Context, token *solana.TokenInfo, a *risk.Assessment) {
	if c.journal == nil {
		return
	}
	snap := journal.RiskSnapshot{
		Mint:        string(a.Mint),
		Deployer:    string(token.Deployer),
		PreScore:    a.PreScore.Score,
		Tier:        string(a.PreScore.Tier),
		Approved:    a.Approved,
		Reason:      a.Reason,
		EvaluatedAt: a.EvaluatedAt,
	}
	if a.Composite != nil {
		snap.FinalScore = a.Composite.Score
		snap.Confidence = a.Composite.Confidence
		snap.Class = string(a.Composite.Class)
	}
	if err := c.journal.RecordRisk(ctx, snap); err != nil {
		log.Debug().Err(err).Msg("engine: risk journal write failed")
	}
}

func (c *Core) recordWatchEvent(pos *watcher.Position, event string, dropPct float64) {
	if c.journal == nil {
		return
	}
	err := c.journal.RecordWatch(context.Background(), journal.WatchEvent{
		PositionID: pos.ID,
		Mint:       string(pos.Mint),
		Event:      event,
		DropPct:    dropPct,
		Detail:     pos.FreezeReason,
		ObservedAt: time.Now(),
	})
	if err != nil {
		log.Debug().Err(err).Msg("engine: watch journal write failed")
	}
}

func (c *Core) cleanupLoop(ctx context.Context) {
	interval := c.config.CleanupInterval
	if interval == 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.lifecycle.CleanupExpiredPending(ctx); n > 0 {
				log.Info().Int("rejected", n).Msg("engine: expired pending candidates rejected")
			}
		}
	}
}

func (c *Core) checkDailyLimits() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Now().After(c.dailyResetTime.Add(24 * time.Hour)) {
		c.dailyTrades = 0
		c.dailyLossUSD = decimal.Zero
		c.dailyResetTime = startOfDayUTC()
	}

	if c.config.MaxDailyTrades > 0 && c.dailyTrades >= c.config.MaxDailyTrades {
		return false
	}
	maxLoss := decimal.NewFromFloat(c.config.MaxDailyLossUSD)
	if maxLoss.IsPositive() && c.dailyLossUSD.GreaterThanOrEqual(maxLoss) {
		return false
	}
	return true
}

// RecordLoss feeds a realized loss into the daily loss budget.
func (c *Core) RecordLoss(lossUSD decimal.Decimal) {
	if !lossUSD.IsPositive() {
		return
	}
	c.mu.Lock()
	c.dailyLossUSD = c.dailyLossUSD.Add(lossUSD)
	c.mu.Unlock()
}

// extractAddresses pulls candidate mint and pool addresses from launch logs.
// Returns false when the logs carry no usable base58 account keys.
func extractAddresses(logs []string) (mint, pool string, ok bool) {
	var candidates []string
	for _, l := range logs {
		for _, field := range strings.Fields(l) {
			if isBase58Key(field) && !isKnownProgram(field) {
				candidates = append(candidates, field)
			}
		}
	}
	if len(candidates) < 2 {
		return "", "", false
	}
	return candidates[0], candidates[1], true
}

func isBase58Key(s string) bool {
	if len(s) < 32 || len(s) > 44 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '1' && r <= '9':
		case r >= 'A' && r <= 'H':
		case r >= 'J' && r <= 'N':
		case r >= 'P' && r <= 'Z':
		case r >= 'a' && r <= 'k':
		case r >= 'm' && r <= 'z':
		default:
			return false
		}
	}
	return true
}

var knownPrograms = map[string]bool{
	"675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8": true, // Raydium AMM V4
	"6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P":  true, // Pump.fun
	"whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc":  true, // Orca
	"TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA":  true, // SPL Token
	"11111111111111111111111111111111":             true, // System
	string(solana.SOLMint):                         true,
}

func isKnownProgram(s string) bool {
	return knownPrograms[s]
}

func startOfDayUTC() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

func assessmentScore(a *risk.Assessment) float64 {
	if a.Composite != nil {
		return a.Composite.Score
	}
	return a.PreScore.Score
}

// Stats returns engine statistics.
type Stats struct {
	Candidates   int64 `json:"candidates"`
	Trades       int64 `json:"trades"`
	Rejected     int64 `json:"rejected"`
	Skipped      int64 `json:"skipped"`
	OpenCount    int   `json:"open_positions"`
	DailyTrades  int   `json:"daily_trades"`
	DailyLossUSD string `json:"daily_loss_usd"`
	DryRun       bool  `json:"dry_run"`
}

func (c *Core) Stats() Stats {
	c.mu.Lock()
	open := c.openCount
	daily := c.dailyTrades
	loss := c.dailyLossUSD.String()
	c.mu.Unlock()

	return Stats{
		Candidates:   c.candidates.Load(),
		Trades:       c.trades.Load(),
		Rejected:     c.rejected.Load(),
		Skipped:      c.skipped.Load(),
		OpenCount:    open,
		DailyTrades:  daily,
		DailyLossUSD: loss,
		DryRun:       c.config.DryRun,
	}
}
