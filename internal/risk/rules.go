package risk

// ---------------------------------------------------------------------------
// Rule table — static rule -> category mapping for the composite score
// ---------------------------------------------------------------------------

// Category groups rules for weighted scoring.
type Category string

const (
	CategoryStructural   Category = "structural"
	CategoryLiquidity    Category = "liquidity"
	CategoryDeployer     Category = "deployer"
	CategoryAuthenticity Category = "authenticity"
	CategoryPositioning  Category = "positioning"
)

// Category weights. Must sum to 1.
var categoryWeights = map[Category]float64{
	CategoryStructural:   0.35,
	CategoryLiquidity:    0.20,
	CategoryDeployer:     0.15,
	CategoryAuthenticity: 0.15,
	CategoryPositioning:  0.15,
}

// RuleID identifies one evaluated rule.
type RuleID string

const (
	// Structural.
	RuleFreezeAuthority RuleID = "FREEZE_AUTHORITY"
	RuleMintAuthority   RuleID = "MINT_AUTHORITY"
	RuleNoSellRoute     RuleID = "NO_SELL_ROUTE"
	RuleTransferFee     RuleID = "TRANSFER_FEE"
	RuleDataIncomplete  RuleID = "DATA_INCOMPLETE"

	// Liquidity.
	RuleLPUnlocked     RuleID = "LP_UNLOCKED"
	RuleLiquidityDepth RuleID = "LIQUIDITY_DEPTH"
	RuleRugProbability RuleID = "RUG_PROBABILITY"

	// Deployer.
	RuleDeployerBlocked RuleID = "DEPLOYER_BLOCKED"
	RuleDeployerHistory RuleID = "DEPLOYER_HISTORY"
	RuleCreatorHoldings RuleID = "CREATOR_HOLDINGS"

	// Authenticity.
	RuleNameQuality   RuleID = "NAME_QUALITY"
	RuleHolderSpread  RuleID = "HOLDER_SPREAD"
	RuleSocialFootprint RuleID = "SOCIAL_FOOTPRINT"

	// Positioning (behavioral, noisy on very young pools).
	RuleBuySellRatio RuleID = "BUY_SELL_RATIO"
	RuleEntryTiming  RuleID = "ENTRY_TIMING"
	RulePriceImpact  RuleID = "PRICE_IMPACT"
)

// ruleCategories is the static rule -> category table. Every RuleResult
// is validated against it so a rule cannot drift between categories.
var ruleCategories = map[RuleID]Category{
	RuleFreezeAuthority: CategoryStructural,
	RuleMintAuthority:   CategoryStructural,
	RuleNoSellRoute:     CategoryStructural,
	RuleTransferFee:     CategoryStructural,
	RuleDataIncomplete:  CategoryStructural,

	RuleLPUnlocked:     CategoryLiquidity,
	RuleLiquidityDepth: CategoryLiquidity,
	RuleRugProbability: CategoryLiquidity,

	RuleDeployerBlocked: CategoryDeployer,
	RuleDeployerHistory: CategoryDeployer,
	RuleCreatorHoldings: CategoryDeployer,

	RuleNameQuality:     CategoryAuthenticity,
	RuleHolderSpread:    CategoryAuthenticity,
	RuleSocialFootprint: CategoryAuthenticity,

	RuleBuySellRatio: CategoryPositioning,
	RuleEntryTiming:  CategoryPositioning,
	RulePriceImpact:  CategoryPositioning,
}

// behavioralRules carry trading-pattern signals that are pure noise in the
// first minutes of a pool's life; their penalty is capped there.
var behavioralRules = map[RuleID]bool{
	RuleBuySellRatio: true,
	RuleEntryTiming:  true,
	RulePriceImpact:  true,
}

// CategoryOf returns the category for a rule, defaulting to structural
// for unknown rules so a typo fails safe.
func CategoryOf(rule RuleID) Category {
	if cat, ok := ruleCategories[rule]; ok {
		return cat
	}
	return CategoryStructural
}

// RuleResult is the evaluated outcome of one rule.
type RuleResult struct {
	Rule         RuleID  `json:"rule"`
	Category     Category `json:"category"`
	Passed       bool    `json:"passed"`
	Penalty      float64 `json:"penalty"` // 0..100, applied when !Passed
	IsKillSwitch bool    `json:"is_kill_switch"`
	Hedged       bool    `json:"hedged"` // verdict based on incomplete data
	Detail       string  `json:"detail,omitempty"`
}
