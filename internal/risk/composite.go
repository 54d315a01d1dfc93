package risk

import (
	"math"
	"time"
)

// ---------------------------------------------------------------------------
// Stage B Composite — weighted 5-category score with kill switches,
// confidence discounting, rug band and mature-pool guard
// ---------------------------------------------------------------------------

// TradeClass is the final execution verdict.
type TradeClass string

const (
	ClassStrongAuto  TradeClass = "STRONG_AUTO"  // >= 90
	ClassAuto        TradeClass = "AUTO"         // >= 75
	ClassReducedSize TradeClass = "REDUCED_SIZE" // >= 60
	ClassManualOnly  TradeClass = "MANUAL_ONLY"  // >= 50
	ClassBlocked     TradeClass = "BLOCKED"
)

// CompositeConfig configures Stage B.
type CompositeConfig struct {
	MaturePoolAge     time.Duration `yaml:"mature_pool_age"`
	YoungPoolAge      time.Duration `yaml:"young_pool_age"`
	MinConfidence     float64       `yaml:"min_confidence"`
	FullConfidence    float64       `yaml:"full_confidence"`
	RugBlockPct       float64       `yaml:"rug_block_pct"`
	RugReducePct      float64       `yaml:"rug_reduce_pct"`
	BehavioralCap     float64       `yaml:"behavioral_cap"`
}

// DefaultCompositeConfig returns production defaults.
func DefaultCompositeConfig() CompositeConfig {
	return CompositeConfig{
		MaturePoolAge:  60 * time.Minute,
		YoungPoolAge:   2 * time.Minute,
		MinConfidence:  65,
		FullConfidence: 80,
		RugBlockPct:    70,
		RugReducePct:   55,
		BehavioralCap:  5,
	}
}

// CompositeInput is everything Stage B looks at.
type CompositeInput struct {
	Rules          []RuleResult
	PoolAge        time.Duration
	RugProbability float64 // 0..100 estimate from liquidity pattern analysis
}

// CompositeResult is the Stage B verdict.
type CompositeResult struct {
	Score          float64              `json:"score"`
	RawScore       float64              `json:"raw_score"`
	Confidence     float64              `json:"confidence"`
	Class          TradeClass           `json:"class"`
	SizeMultiplier float64              `json:"size_multiplier"`
	KillSwitch     RuleID               `json:"kill_switch,omitempty"`
	Flags          []string             `json:"flags,omitempty"`
	CategoryScores map[Category]float64 `json:"category_scores"`
}

// Composite computes the final weighted score and trade class. Pure function.
func Composite(cfg CompositeConfig, in CompositeInput) CompositeResult {
	result := CompositeResult{
		SizeMultiplier: 0,
		Class:          ClassBlocked,
		CategoryScores: make(map[Category]float64, 5),
	}

	// Mature pools are outside this system's edge entirely.
	if in.PoolAge > cfg.MaturePoolAge {
		result.Flags = append(result.Flags, "MATURE_POOL")
		return result
	}

	// Kill switches, first pass: a tripped switch ends the evaluation
	// before any averaging can dilute it.
	if rule := firstKillSwitch(in.Rules); rule != "" {
		result.KillSwitch = rule
		result.Flags = append(result.Flags, "KILL_SWITCH:"+string(rule))
		return result
	}
	if in.RugProbability >= cfg.RugBlockPct {
		result.KillSwitch = RuleRugProbability
		result.Flags = append(result.Flags, "KILL_SWITCH:"+string(RuleRugProbability))
		return result
	}

	// Category scores: avg(100 - effective penalty) per category.
	// Behavioral penalties are capped on very young pools where trade
	// pattern data is one bot's noise.
	young := in.PoolAge < cfg.YoungPoolAge
	sums := make(map[Category]float64, 5)
	counts := make(map[Category]int, 5)
	hedged := 0

	for _, r := range in.Rules {
		cat := r.Category
		if cat == "" {
			cat = CategoryOf(r.Rule)
		}

		penalty := 0.0
		if !r.Passed {
			penalty = r.Penalty
			if young && behavioralRules[r.Rule] && penalty > cfg.BehavioralCap {
				penalty = cfg.BehavioralCap
			}
		}
		sums[cat] += 100 - penalty
		counts[cat]++

		if r.Hedged {
			hedged++
		}
	}

	raw := 0.0
	for cat, weight := range categoryWeights {
		catScore := 100.0 // no rules evaluated means no evidence against
		if counts[cat] > 0 {
			catScore = sums[cat] / float64(counts[cat])
		}
		result.CategoryScores[cat] = catScore
		raw += weight * catScore
	}
	result.RawScore = raw
	score := raw

	// Confidence: share of rules decided on complete data.
	confidence := 100.0
	if len(in.Rules) > 0 {
		confidence = float64(len(in.Rules)-hedged) / float64(len(in.Rules)) * 100
	}
	result.Confidence = confidence

	if confidence < cfg.MinConfidence {
		result.Flags = append(result.Flags, "LOW_DATA_CONFIDENCE")
		return result
	}
	if confidence < cfg.FullConfidence {
		score *= 0.85
		result.Flags = append(result.Flags, "CONFIDENCE_DISCOUNT")
	}

	// Rug band: elevated but not blocking probability trades reduced.
	if in.RugProbability >= cfg.RugReducePct {
		score *= 0.75
		result.Flags = append(result.Flags, "RUG_RISK_REDUCED")
	}

	// Kill switches, second pass: the adjustments above cannot resurrect
	// a verdict, but a rug estimate crossing the line during evaluation can.
	if in.RugProbability >= cfg.RugBlockPct {
		result.KillSwitch = RuleRugProbability
		result.Flags = append(result.Flags, "KILL_SWITCH:"+string(RuleRugProbability))
		result.Score = 0
		return result
	}

	// Adjustments can push the score off the 0..100 band; round and clamp
	// before classification.
	score = math.Round(score)
	score = math.Max(0, math.Min(100, score))

	result.Score = score
	result.Class = classify(score)
	result.SizeMultiplier = sizeMultiplier(score)
	return result
}

func firstKillSwitch(rules []RuleResult) RuleID {
	for _, r := range rules {
		if r.IsKillSwitch && !r.Passed {
			return r.Rule
		}
	}
	return ""
}

func classify(score float64) TradeClass {
	switch {
	case score >= 90:
		return ClassStrongAuto
	case score >= 75:
		return ClassAuto
	case score >= 60:
		return ClassReducedSize
	case score >= 50:
		return ClassManualOnly
	default:
		return ClassBlocked
	}
}

func sizeMultiplier(score float64) float64 {
	switch {
	case score >= 90:
		return 1.0
	case score >= 80:
		return 0.75
	case score >= 70:
		return 0.50
	case score >= 60:
		return 0.30
	default:
		return 0
	}
}
