package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Stage A Pre-Score — free-data gate in front of the expensive security call
// ---------------------------------------------------------------------------

// LPStatus is what we know about the LP tokens.
type LPStatus string

const (
	LPLocked  LPStatus = "locked"
	LPBurned  LPStatus = "burned"
	LPUnknown LPStatus = "unknown"
	LPFailed  LPStatus = "failed" // confirmed unlocked and withdrawable
)

// RouteStatus is what we know about the sell route.
type RouteStatus string

const (
	RouteConfirmed RouteStatus = "confirmed"
	RouteUnknown   RouteStatus = "unknown"
	RouteMissing   RouteStatus = "missing"
)

// Tier is the pre-score verdict band.
type Tier string

const (
	TierExecute    Tier = "EXECUTE"    // >= 75
	TierTiebreaker Tier = "TIEBREAKER" // 60..74
	TierBlock      Tier = "BLOCK"      // < 60
)

// LiquidityTier buckets pool depth. Tier C pools never trigger the
// external security call no matter how well they pre-score.
type LiquidityTier string

const (
	LiqTierA LiquidityTier = "A" // >= $50k
	LiqTierB LiquidityTier = "B" // >= $15k
	LiqTierC LiquidityTier = "C" // below
)

// PreScoreConfig configures Stage A.
type PreScoreConfig struct {
	ExecuteThreshold    float64 `yaml:"execute_threshold"`
	TiebreakerThreshold float64 `yaml:"tiebreaker_threshold"`
	MinLiquidityUSD     float64 `yaml:"min_liquidity_usd"`
	MinPoolAgeSeconds   int     `yaml:"min_pool_age_seconds"`
	TierALiquidityUSD   float64 `yaml:"tier_a_liquidity_usd"`
}

// DefaultPreScoreConfig returns production defaults.
func DefaultPreScoreConfig() PreScoreConfig {
	return PreScoreConfig{
		ExecuteThreshold:    75,
		TiebreakerThreshold: 60,
		MinLiquidityUSD:     15_000,
		MinPoolAgeSeconds:   45,
		TierALiquidityUSD:   50_000,
	}
}

// PreScoreInput is everything Stage A looks at. All of it comes from data
// already in hand; computing a pre-score must never cost an API call.
// SOLPriceUSD is snapshotted once at evaluation start so every factor in
// one evaluation sees the same conversion rate.
type PreScoreInput struct {
	FreezeRenounced bool
	LP              LPStatus
	Route           RouteStatus
	LiquidityUSD    decimal.Decimal
	SOLPriceUSD     decimal.Decimal
	PoolAge         time.Duration
	DeployerFlagged bool
	DeployerKnown   bool // has a positive track record
	HolderCount     int
}

// PreScoreResult is the Stage A verdict.
type PreScoreResult struct {
	Score          float64            `json:"score"`
	Tier           Tier               `json:"tier"`
	LiquidityTier  LiquidityTier      `json:"liquidity_tier"`
	GatePassed     bool               `json:"gate_passed"`
	GateFailures   []string           `json:"gate_failures,omitempty"`
	ShouldValidate bool               `json:"should_validate"`
	Factors        map[string]float64 `json:"factors"`
}

// Factor weights. Sum to 100.
const (
	factorFreeze   = 20.0
	factorLP       = 20.0
	factorRoute    = 15.0
	factorLiqTier  = 15.0
	factorDeployer = 15.0
	factorPoolAge  = 10.0
	factorHolders  = 5.0
)

// PreScore computes the Stage A score, tier, and whether the expensive
// security validation should run. Pure function.
func PreScore(cfg PreScoreConfig, in PreScoreInput) PreScoreResult {
	factors := make(map[string]float64, 7)

	// Freeze authority: renounced or nothing.
	if in.FreezeRenounced {
		factors["freeze"] = factorFreeze
	}

	// LP integrity: locked/burned full credit, unknown half.
	switch in.LP {
	case LPLocked, LPBurned:
		factors["lp"] = factorLP
	case LPUnknown:
		factors["lp"] = factorLP / 2
	}

	// Sell route: confirmed full credit, unknown partial.
	switch in.Route {
	case RouteConfirmed:
		factors["route"] = factorRoute
	case RouteUnknown:
		factors["route"] = 7
	}

	// Liquidity tier.
	liqTier := liquidityTier(cfg, in.LiquidityUSD)
	switch liqTier {
	case LiqTierA:
		factors["liquidity"] = factorLiqTier
	case LiqTierB:
		factors["liquidity"] = 10
	case LiqTierC:
		factors["liquidity"] = 4
	}

	// Deployer reputation.
	switch {
	case in.DeployerFlagged:
		factors["deployer"] = 0
	case in.DeployerKnown:
		factors["deployer"] = factorDeployer
	default:
		factors["deployer"] = 8
	}

	// Pool age: too young means unsettled liquidity.
	if in.PoolAge >= time.Duration(cfg.MinPoolAgeSeconds)*time.Second {
		factors["pool_age"] = factorPoolAge
	} else {
		factors["pool_age"] = 3
	}

	// Holder count.
	switch {
	case in.HolderCount >= 50:
		factors["holders"] = factorHolders
	case in.HolderCount >= 10:
		factors["holders"] = 3
	default:
		factors["holders"] = 1
	}

	score := 0.0
	for _, v := range factors {
		score += v
	}

	tier := TierBlock
	switch {
	case score >= cfg.ExecuteThreshold:
		tier = TierExecute
	case score >= cfg.TiebreakerThreshold:
		tier = TierTiebreaker
	}

	// Quality gate. Independent of the score: a pre-score can be high on
	// partial credit while the pool is objectively untradeable.
	var gateFailures []string
	if in.LiquidityUSD.LessThan(decimal.NewFromFloat(cfg.MinLiquidityUSD)) {
		gateFailures = append(gateFailures, fmt.Sprintf("liquidity %s < $%.0f", in.LiquidityUSD.StringFixed(0), cfg.MinLiquidityUSD))
	}
	if in.PoolAge < time.Duration(cfg.MinPoolAgeSeconds)*time.Second {
		gateFailures = append(gateFailures, fmt.Sprintf("pool age %s < %ds", in.PoolAge.Truncate(time.Second), cfg.MinPoolAgeSeconds))
	}
	if in.Route != RouteConfirmed {
		gateFailures = append(gateFailures, "sell route not confirmed")
	}
	if in.LP == LPFailed {
		gateFailures = append(gateFailures, "LP integrity failed")
	}
	gatePassed := len(gateFailures) == 0

	return PreScoreResult{
		Score:          score,
		Tier:           tier,
		LiquidityTier:  liqTier,
		GatePassed:     gatePassed,
		GateFailures:   gateFailures,
		ShouldValidate: gatePassed && tier != TierBlock && liqTier != LiqTierC,
		Factors:        factors,
	}
}

func liquidityTier(cfg PreScoreConfig, liquidityUSD decimal.Decimal) LiquidityTier {
	switch {
	case liquidityUSD.GreaterThanOrEqual(decimal.NewFromFloat(cfg.TierALiquidityUSD)):
		return LiqTierA
	case liquidityUSD.GreaterThanOrEqual(decimal.NewFromFloat(cfg.MinLiquidityUSD)):
		return LiqTierB
	default:
		return LiqTierC
	}
}
