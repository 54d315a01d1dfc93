package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-trading/sentinel/internal/reputation"
	"github.com/sentinel-trading/sentinel/internal/router"
	"github.com/sentinel-trading/sentinel/internal/selllock"
	"github.com/sentinel-trading/sentinel/internal/solana"
	"github.com/sentinel-trading/sentinel/internal/storage/memory"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakePools struct {
	mu        sync.Mutex
	liquidity map[solana.Pubkey]decimal.Decimal
}

func newFakePools() *fakePools {
	return &fakePools{liquidity: make(map[solana.Pubkey]decimal.Decimal)}
}

func (f *fakePools) setLiquidity(pool solana.Pubkey, usd int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.liquidity[pool] = decimal.NewFromInt(usd)
}

func (f *fakePools) GetPoolInfo(_ context.Context, pool solana.Pubkey) (*solana.PoolInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	liq, ok := f.liquidity[pool]
	if !ok {
		return nil, errors.New("pool not found")
	}
	return &solana.PoolInfo{PoolAddress: pool, LiquidityUSD: liq}, nil
}

type fakeQuoter struct {
	mu  sync.Mutex
	err error
}

func (f *fakeQuoter) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeQuoter) GetQuote(_ context.Context, params solana.SwapParams) (*router.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &router.Quote{
		Provider:   "jupiter",
		InputMint:  params.InputMint,
		OutputMint: params.OutputMint,
		InAmount:   params.AmountIn,
		OutAmount:  decimal.NewFromInt(1000),
	}, nil
}

type fakeExiter struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeExiter) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeExiter) EmergencyExit(context.Context, *Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeExiter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

const (
	testMint solana.Pubkey = "MintWatch111111111111111111111111111111111"
	testPool solana.Pubkey = "PoolWatch111111111111111111111111111111111"
)

func newTestWatcher(t *testing.T) (*Watcher, *fakePools, *fakeQuoter, *fakeExiter) {
	t.Helper()

	pools := newFakePools()
	quoter := &fakeQuoter{}
	exiter := &fakeExiter{}
	locks := selllock.NewManager(selllock.DefaultConfig())
	rep := reputation.NewTracker(reputation.DefaultConfig(), memory.NewDeployerStore())

	w := New(DefaultConfig(), pools, quoter, exiter, locks, rep)
	return w, pools, quoter, exiter
}

func watchTestPosition(w *Watcher) {
	w.Watch(Position{
		ID:          "pos-1",
		Mint:        testMint,
		PoolAddress: testPool,
		Deployer:    "DeployerWatch11111111111111111111111111111",
		OpenedAt:    time.Now().Add(-5 * time.Minute),
	})
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestWatcher_EntryLiquidityCachedOnFirstSweep(t *testing.T) {
	w, pools, _, _ := newTestWatcher(t)
	pools.setLiquidity(testPool, 40_000)
	watchTestPosition(w)

	w.Sweep(context.Background())

	pos, ok := w.Get(testMint)
	require.True(t, ok)
	assert.True(t, pos.EntryLiquidity.Equal(decimal.NewFromInt(40_000)))
	assert.Equal(t, StateActive, pos.State)

	// Later growth does not rewrite the baseline.
	pools.setLiquidity(testPool, 80_000)
	w.Sweep(context.Background())

	pos, _ = w.Get(testMint)
	assert.True(t, pos.EntryLiquidity.Equal(decimal.NewFromInt(40_000)))
}

func TestWatcher_EmergencyExitOnCollapse(t *testing.T) {
	w, pools, _, exiter := newTestWatcher(t)
	pools.setLiquidity(testPool, 40_000)
	watchTestPosition(w)

	var exited []float64
	w.SetOnEmergencyExit(func(_ *Position, dropPct float64) {
		exited = append(exited, dropPct)
	})

	w.Sweep(context.Background()) // baseline 40k

	// 70% drop: 40k -> 12k.
	pools.setLiquidity(testPool, 12_000)
	w.Sweep(context.Background())

	assert.Equal(t, 1, exiter.callCount())
	require.Len(t, exited, 1)
	assert.InDelta(t, 70, exited[0], 0.01)

	pos, _ := w.Get(testMint)
	assert.Equal(t, StateClosed, pos.State)
	assert.Equal(t, int64(1), w.Stats().Emergencies)
}

func TestWatcher_WarningDropDoesNotExit(t *testing.T) {
	w, pools, _, exiter := newTestWatcher(t)
	pools.setLiquidity(testPool, 40_000)
	watchTestPosition(w)

	w.Sweep(context.Background())

	// 40% drop: past the warning line, under the emergency line.
	pools.setLiquidity(testPool, 24_000)
	w.Sweep(context.Background())

	assert.Equal(t, 0, exiter.callCount())
	pos, _ := w.Get(testMint)
	assert.Equal(t, StateActive, pos.State)
}

func TestWatcher_ExitFailureNoRouteFreezes(t *testing.T) {
	w, pools, _, exiter := newTestWatcher(t)
	pools.setLiquidity(testPool, 40_000)
	watchTestPosition(w)
	exiter.setErr(router.ErrNoRoute)

	w.Sweep(context.Background())
	pools.setLiquidity(testPool, 5_000)
	w.Sweep(context.Background())

	pos, _ := w.Get(testMint)
	assert.Equal(t, StateFrozen, pos.State)
	assert.True(t, pos.WriteOff(), "liquidity-gone freeze is a write-off")
}

func TestWatcher_ExitFailureTransientParksWaiting(t *testing.T) {
	w, pools, _, exiter := newTestWatcher(t)
	pools.setLiquidity(testPool, 40_000)
	watchTestPosition(w)
	exiter.setErr(errors.New("rpc timeout"))

	w.Sweep(context.Background())
	pools.setLiquidity(testPool, 5_000)
	w.Sweep(context.Background())

	pos, _ := w.Get(testMint)
	assert.Equal(t, StateWaiting, pos.State)
	assert.False(t, pos.WriteOff())

	// Next sweep retries the exit; once it succeeds the position closes.
	exiter.setErr(nil)
	w.Sweep(context.Background())

	pos, _ = w.Get(testMint)
	assert.Equal(t, StateClosed, pos.State)
}

func TestWatcher_RouteLossFreezesDespiteLiquidity(t *testing.T) {
	w, pools, quoter, exiter := newTestWatcher(t)
	pools.setLiquidity(testPool, 40_000)
	watchTestPosition(w)
	quoter.setErr(router.ErrNoRoute)

	// Liquidity never moves, but the probe misses twice in a row.
	w.Sweep(context.Background())
	w.Sweep(context.Background())

	pos, _ := w.Get(testMint)
	assert.Equal(t, StateFrozen, pos.State)
	assert.Equal(t, "sell route lost", pos.FreezeReason)
	assert.False(t, pos.WriteOff(), "route loss alone is not a write-off")
	assert.Equal(t, 0, exiter.callCount())
}

func TestWatcher_RateLimitedProbeIsNotARouteMiss(t *testing.T) {
	w, pools, quoter, _ := newTestWatcher(t)
	pools.setLiquidity(testPool, 40_000)
	watchTestPosition(w)
	quoter.setErr(router.ErrRateLimited)

	w.Sweep(context.Background())
	w.Sweep(context.Background())
	w.Sweep(context.Background())

	pos, _ := w.Get(testMint)
	assert.Equal(t, StateActive, pos.State)
	assert.Zero(t, pos.RouteMisses)
}

func TestWatcher_SingleRouteMissRecovers(t *testing.T) {
	w, pools, quoter, _ := newTestWatcher(t)
	pools.setLiquidity(testPool, 40_000)
	watchTestPosition(w)

	quoter.setErr(router.ErrNoRoute)
	w.Sweep(context.Background())

	pos, _ := w.Get(testMint)
	assert.Equal(t, 1, pos.RouteMisses)
	assert.Equal(t, StateActive, pos.State)

	quoter.setErr(nil)
	w.Sweep(context.Background())

	pos, _ = w.Get(testMint)
	assert.Zero(t, pos.RouteMisses)
}

func TestWatcher_ContestedLockSkipsExit(t *testing.T) {
	w, pools, _, exiter := newTestWatcher(t)
	pools.setLiquidity(testPool, 40_000)
	watchTestPosition(w)

	// Someone else already holds the sell lease for this mint.
	require.True(t, w.locks.Acquire(string(testMint), "manual-operator"))

	w.Sweep(context.Background())
	pools.setLiquidity(testPool, 5_000)
	w.Sweep(context.Background())

	assert.Equal(t, 0, exiter.callCount())
	pos, _ := w.Get(testMint)
	assert.Equal(t, StateActive, pos.State)
}

func TestWatcher_UnwatchStopsChecks(t *testing.T) {
	w, pools, _, exiter := newTestWatcher(t)
	pools.setLiquidity(testPool, 40_000)
	watchTestPosition(w)

	w.Sweep(context.Background())
	w.Unwatch(testMint)

	pools.setLiquidity(testPool, 1_000)
	w.Sweep(context.Background())

	assert.Equal(t, 0, exiter.callCount())
	_, ok := w.Get(testMint)
	assert.False(t, ok)
}

func TestWatcher_RunRespectsContext(t *testing.T) {
	w, pools, _, _ := newTestWatcher(t)
	w.config.PollInterval = 5 * time.Millisecond
	pools.setLiquidity(testPool, 40_000)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(25 * time.Millisecond)
	assert.True(t, w.Running())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
	assert.False(t, w.Running())
}
