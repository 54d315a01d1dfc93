package risk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sentinel-trading/sentinel/internal/cache"
	"github.com/sentinel-trading/sentinel/internal/market"
	"github.com/sentinel-trading/sentinel/internal/reputation"
	"github.com/sentinel-trading/sentinel/internal/solana"
)

// ---------------------------------------------------------------------------
// Risk Engine — two-stage evaluation pipeline over pure scoring functions
// ---------------------------------------------------------------------------

// SecuritySource is the slice of the market client the engine needs.
type SecuritySource interface {
	TokenSecurity(ctx context.Context, mint solana.Pubkey) (*market.SecurityInfo, error)
}

// EngineConfig configures the risk engine.
type EngineConfig struct {
	PreScore  PreScoreConfig  `yaml:"pre_score"`
	Composite CompositeConfig `yaml:"composite"`
}

// DefaultEngineConfig returns production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		PreScore:  DefaultPreScoreConfig(),
		Composite: DefaultCompositeConfig(),
	}
}

// EvaluationInput carries everything known about a candidate at evaluation
// start. SOLPriceUSD is snapshotted here and used for every conversion in
// the evaluation.
type EvaluationInput struct {
	Token          *solana.TokenInfo
	Pool           *solana.PoolInfo
	RouteConfirmed bool
	RouteChecked   bool // false means we could not probe at all
	SOLPriceUSD    decimal.Decimal
	RugProbability float64
	NameFlagged    bool
	PriceImpactPct float64
}

// Assessment is the full two-stage verdict for one candidate.
type Assessment struct {
	Mint        solana.Pubkey    `json:"mint"`
	PreScore    PreScoreResult   `json:"pre_score"`
	Composite   *CompositeResult `json:"composite,omitempty"` // nil when Stage B never ran
	Approved    bool             `json:"approved"`
	Reason      string           `json:"reason,omitempty"`
	EvaluatedAt time.Time        `json:"evaluated_at"`
}

// Engine runs the two-stage risk evaluation. Scoring itself is pure; the
// engine owns caching and the decision to spend an external call.
type Engine struct {
	config     EngineConfig
	owner      string
	cache      *cache.ValidationCache
	security   SecuritySource
	reputation *reputation.Tracker

	evaluations   atomic.Int64
	securityCalls atomic.Int64
	securitySaved atomic.Int64
	approved      atomic.Int64
}

// NewEngine creates a risk engine for an owner wallet.
func NewEngine(config EngineConfig, owner string, vc *cache.ValidationCache, security SecuritySource, rep *reputation.Tracker) *Engine {
	return &Engine{
		config:     config,
		owner:      owner,
		cache:      vc,
		security:   security,
		reputation: rep,
	}
}

// Evaluate runs Stage A and, when warranted, Stage B for one candidate.
func (e *Engine) Evaluate(ctx context.Context, in EvaluationInput) (*Assessment, error) {
	if in.Token == nil || in.Pool == nil {
		return nil, fmt.Errorf("risk: evaluation input missing token or pool")
	}
	e.evaluations.Add(1)
	mint := in.Token.Mint

	pre := e.preScore(in)

	assessment := &Assessment{
		Mint:        mint,
		PreScore:    pre,
		EvaluatedAt: time.Now(),
	}

	if !pre.ShouldValidate {
		e.securitySaved.Add(1)
		assessment.Reason = preScoreRejectReason(pre)
		log.Debug().
			Str("mint", string(mint)).
			Float64("score", pre.Score).
			Str("tier", string(pre.Tier)).
			Str("liq_tier", string(pre.LiquidityTier)).
			Str("reason", assessment.Reason).
			Msg("risk: pre-score gate held, no security call")
		return assessment, nil
	}

	sec, secErr := e.fetchSecurity(ctx, mint)
	if secErr != nil && !errors.Is(secErr, market.ErrRateLimited) {
		return nil, fmt.Errorf("risk: security lookup for %s: %w", mint, secErr)
	}

	rules := e.buildRules(sec, in)
	comp := Composite(e.config.Composite, CompositeInput{
		Rules:          rules,
		PoolAge:        in.Pool.Age(),
		RugProbability: in.RugProbability,
	})
	assessment.Composite = &comp

	switch comp.Class {
	case ClassStrongAuto, ClassAuto, ClassReducedSize:
		assessment.Approved = true
		e.approved.Add(1)
	case ClassManualOnly:
		assessment.Reason = "manual review only"
	default:
		assessment.Reason = blockReason(&comp)
	}

	log.Info().
		Str("mint", string(mint)).
		Float64("pre_score", pre.Score).
		Float64("score", comp.Score).
		Float64("confidence", comp.Confidence).
		Str("class", string(comp.Class)).
		Strs("flags", comp.Flags).
		Bool("approved", assessment.Approved).
		Msg("risk: evaluation complete")

	return assessment, nil
}

func (e *Engine) preScore(in EvaluationInput) PreScoreResult {
	mint := string(in.Token.Mint)
	if cached, ok := e.cache.Get(e.owner, mint, cache.CategoryPreScore); ok {
		if pre, ok := cached.(PreScoreResult); ok {
			return pre
		}
	}

	route := RouteUnknown
	if in.RouteChecked {
		route = RouteMissing
		if in.RouteConfirmed {
			route = RouteConfirmed
		}
	}

	lp := LPUnknown
	switch {
	case in.Pool.LPBurned:
		lp = LPBurned
	case in.Pool.LPLocked:
		lp = LPLocked
	}

	deployer := in.Token.Deployer
	pre := PreScore(e.config.PreScore, PreScoreInput{
		FreezeRenounced: in.Token.IsFreezeRenounced(),
		LP:              lp,
		Route:           route,
		LiquidityUSD:    in.Pool.LiquidityUSD,
		SOLPriceUSD:     in.SOLPriceUSD,
		PoolAge:         in.Pool.Age(),
		DeployerFlagged: e.reputation.IsBlocked(string(deployer)),
		DeployerKnown:   e.reputation.Score(string(deployer)) > 60,
		HolderCount:     in.Pool.HolderCount,
	})

	e.cache.Put(e.owner, mint, cache.CategoryPreScore, pre)
	return pre
}

// fetchSecurity consults the cache before spending the external call.
// A rate-limited provider returns (nil, ErrRateLimited) and Stage B runs
// on hedged rules instead of failing the whole evaluation.
func (e *Engine) fetchSecurity(ctx context.Context, mint solana.Pubkey) (*market.SecurityInfo, error) {
	if cached, ok := e.cache.Get(e.owner, string(mint), cache.CategorySecurity); ok {
		if sec, ok := cached.(*market.SecurityInfo); ok {
			return sec, nil
		}
	}

	sec, err := e.security.TokenSecurity(ctx, mint)
	if err != nil {
		if errors.Is(err, market.ErrRateLimited) {
			log.Warn().Str("mint", string(mint)).Msg("risk: security call rate limited, proceeding hedged")
			return nil, err
		}
		return nil, err
	}

	e.securityCalls.Add(1)
	e.cache.Put(e.owner, string(mint), cache.CategorySecurity, sec)
	return sec, nil
}

// buildRules converts raw data into rule results. A nil security report
// produces hedged passes for every security-derived rule; the confidence
// machinery in Stage B decides whether that is survivable.
func (e *Engine) buildRules(sec *market.SecurityInfo, in EvaluationInput) []RuleResult {
	var rules []RuleResult

	add := func(rule RuleID, passed bool, penalty float64, kill, hedged bool, detail string) {
		rules = append(rules, RuleResult{
			Rule:         rule,
			Category:     CategoryOf(rule),
			Passed:       passed,
			Penalty:      penalty,
			IsKillSwitch: kill,
			Hedged:       hedged,
			Detail:       detail,
		})
	}

	// Structural: derived from the security report when available.
	if sec != nil {
		add(RuleFreezeAuthority, !sec.FreezeAuthority, 100, true, false, "")
		add(RuleMintAuthority, !sec.MintAuthority, 40, false, false, "")
		add(RuleTransferFee, !sec.TransferFeeEnabled, 50, false, false, "")
		add(RuleLPUnlocked, sec.LPLocked || sec.LPBurned, 100, true, false, "")
		add(RuleCreatorHoldings, sec.CreatorOwnsPct <= 20, 35, false, false,
			fmt.Sprintf("creator owns %.1f%%", sec.CreatorOwnsPct))
		add(RuleHolderSpread, sec.Top10HolderPct <= 60, 40, false, false,
			fmt.Sprintf("top10 hold %.1f%%", sec.Top10HolderPct))
	} else {
		add(RuleFreezeAuthority, in.Token.IsFreezeRenounced(), 100, true, true, "from RPC only")
		add(RuleMintAuthority, in.Token.IsMintRenounced(), 40, false, true, "from RPC only")
		add(RuleTransferFee, true, 50, false, true, "unverified")
		add(RuleLPUnlocked, in.Pool.LPLocked || in.Pool.LPBurned, 100, true, true, "unverified")
		add(RuleCreatorHoldings, true, 35, false, true, "unverified")
		add(RuleHolderSpread, true, 40, false, true, "unverified")
	}

	add(RuleNoSellRoute, in.RouteConfirmed, 100, true, !in.RouteChecked, "")
	add(RuleLiquidityDepth,
		in.Pool.LiquidityUSD.GreaterThanOrEqual(decimal.NewFromFloat(e.config.PreScore.MinLiquidityUSD)),
		30, false, false, "")

	deployer := in.Token.Deployer
	add(RuleDeployerBlocked, !e.reputation.IsBlocked(string(deployer)), 100, true, false, "")
	repScore := e.reputation.Score(string(deployer))
	add(RuleDeployerHistory, repScore >= 30, 40, false, repScore == 50, // 50 is the unknown-neutral score
		fmt.Sprintf("reputation %.0f", repScore))

	add(RuleNameQuality, !in.NameFlagged, 45, false, false, "")
	add(RulePriceImpact, in.PriceImpactPct <= 10, 25, false, false,
		fmt.Sprintf("impact %.1f%%", in.PriceImpactPct))

	return rules
}

func preScoreRejectReason(pre PreScoreResult) string {
	if !pre.GatePassed {
		return "quality gate: " + strings.Join(pre.GateFailures, "; ")
	}
	if pre.LiquidityTier == LiqTierC {
		return "liquidity tier C, validation not spent"
	}
	return fmt.Sprintf("pre-score %.0f below threshold", pre.Score)
}

func blockReason(comp *CompositeResult) string {
	if comp.KillSwitch != "" {
		return "kill switch: " + string(comp.KillSwitch)
	}
	if len(comp.Flags) > 0 {
		return strings.Join(comp.Flags, "; ")
	}
	return fmt.Sprintf("composite score %.0f below threshold", comp.Score)
}

// Stats returns engine statistics.
type Stats struct {
	Evaluations   int64 `json:"evaluations"`
	SecurityCalls int64 `json:"security_calls"`
	SecuritySaved int64 `json:"security_saved"`
	Approved      int64 `json:"approved"`
}

func (e *Engine) Stats() Stats {
	return Stats{
		Evaluations:   e.evaluations.Load(),
		SecurityCalls: e.securityCalls.Load(),
		SecuritySaved: e.securitySaved.Load(),
		Approved:      e.approved.Load(),
	}
}
