package risk

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-trading/sentinel/internal/cache"
	"github.com/sentinel-trading/sentinel/internal/market"
	"github.com/sentinel-trading/sentinel/internal/reputation"
	"github.com/sentinel-trading/sentinel/internal/solana"
	"github.com/sentinel-trading/sentinel/internal/storage/memory"
)

// fakeSecurity counts calls and serves a scripted report.
type fakeSecurity struct {
	info  *market.SecurityInfo
	err   error
	calls int
}

func (f *fakeSecurity) TokenSecurity(_ context.Context, mint solana.Pubkey) (*market.SecurityInfo, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	info := *f.info
	info.Mint = mint
	return &info, nil
}

func cleanSecurity() *market.SecurityInfo {
	return &market.SecurityInfo{
		LPLocked:       true,
		Top10HolderPct: 30,
		CreatorOwnsPct: 5,
	}
}

func newTestEngine(sec SecuritySource) *Engine {
	rep := reputation.NewTracker(reputation.DefaultConfig(), memory.NewDeployerStore())
	return NewEngine(DefaultEngineConfig(), "wallet1", cache.New(cache.DefaultConfig()), sec, rep)
}

func evalInput() EvaluationInput {
	return EvaluationInput{
		Token: &solana.TokenInfo{
			Mint:   "MintA",
			Name:   "Plausible Cat",
			Symbol: "PCAT",
		},
		Pool: &solana.PoolInfo{
			PoolAddress:  "PoolA",
			TokenMint:    "MintA",
			QuoteMint:    solana.SOLMint,
			LiquidityUSD: decimal.NewFromInt(60_000),
			CreatedAt:    time.Now().Add(-3 * time.Minute),
			HolderCount:  80,
			LPBurned:     true,
		},
		RouteConfirmed: true,
		RouteChecked:   true,
		SOLPriceUSD:    decimal.NewFromInt(150),
	}
}

func TestEngine_ApprovesCleanCandidate(t *testing.T) {
	sec := &fakeSecurity{info: cleanSecurity()}
	e := newTestEngine(sec)

	a, err := e.Evaluate(context.Background(), evalInput())
	require.NoError(t, err)

	assert.True(t, a.Approved)
	require.NotNil(t, a.Composite)
	assert.Equal(t, 1, sec.calls)
	assert.GreaterOrEqual(t, a.Composite.Score, 75.0)
}

func TestEngine_TierCSkipsSecurityCall(t *testing.T) {
	// Structurally perfect token in a shallow pool: pre-score clears the
	// execute threshold, but tier C must never spend the security call.
	sec := &fakeSecurity{info: cleanSecurity()}
	e := newTestEngine(sec)

	in := evalInput()
	in.Pool.LiquidityUSD = decimal.NewFromInt(9_000)

	a, err := e.Evaluate(context.Background(), in)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, a.PreScore.Score, 75.0)
	assert.Equal(t, TierExecute, a.PreScore.Tier)
	assert.Equal(t, LiqTierC, a.PreScore.LiquidityTier)
	assert.Nil(t, a.Composite)
	assert.False(t, a.Approved)
	assert.Equal(t, 0, sec.calls, "tier C candidate must not trigger the security call")
}

func TestEngine_SecurityCacheReuse(t *testing.T) {
	sec := &fakeSecurity{info: cleanSecurity()}
	e := newTestEngine(sec)

	_, err := e.Evaluate(context.Background(), evalInput())
	require.NoError(t, err)

	// The second evaluation hits both the pre-score and security caches.
	_, err = e.Evaluate(context.Background(), evalInput())
	require.NoError(t, err)

	assert.Equal(t, 1, sec.calls)
}

func TestEngine_KillSwitchOnSecurityFindings(t *testing.T) {
	info := cleanSecurity()
	info.FreezeAuthority = true
	info.LPLocked = false
	sec := &fakeSecurity{info: info}
	e := newTestEngine(sec)

	a, err := e.Evaluate(context.Background(), evalInput())
	require.NoError(t, err)

	assert.False(t, a.Approved)
	require.NotNil(t, a.Composite)
	assert.Equal(t, ClassBlocked, a.Composite.Class)
	assert.NotEmpty(t, a.Composite.KillSwitch)
}

func TestEngine_RateLimitedSecurityHedges(t *testing.T) {
	sec := &fakeSecurity{err: market.ErrRateLimited}
	e := newTestEngine(sec)

	a, err := e.Evaluate(context.Background(), evalInput())
	require.NoError(t, err, "rate limiting is not an evaluation failure")

	require.NotNil(t, a.Composite)
	assert.Less(t, a.Composite.Confidence, 80.0, "hedged rules must depress confidence")
	assert.False(t, a.Approved)
}
