package selltax

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sentinel-trading/sentinel/internal/router"
	"github.com/sentinel-trading/sentinel/internal/solana"
)

// ---------------------------------------------------------------------------
// Sell Tax Detector — cross-quote comparison to surface hidden transfer taxes
// ---------------------------------------------------------------------------

// Verdict labels, worst first.
const (
	VerdictHiddenSellTax   = "HIDDEN_SELL_TAX"
	VerdictRouteDiscrepancy = "ROUTE_DISCREPANCY"
	VerdictHighSellTax     = "HIGH_SELL_TAX"
	VerdictModerateSellTax = "MODERATE_SELL_TAX"
	VerdictClean           = "CLEAN"
	VerdictSkipped         = "SKIPPED"
)

// Config configures the detector.
type Config struct {
	Enabled             bool    `yaml:"enabled"`
	BaseSlippageBps     int     `yaml:"base_slippage_bps"`
	AltSlippageBps      int     `yaml:"alt_slippage_bps"`
	BlockTaxPct         float64 `yaml:"block_tax_pct"`
	HighTaxPct          float64 `yaml:"high_tax_pct"`
	ModerateTaxPct      float64 `yaml:"moderate_tax_pct"`
	BlockDiscrepancyPct float64 `yaml:"block_discrepancy_pct"`
	SuspectDiscrepancyPct float64 `yaml:"suspect_discrepancy_pct"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		BaseSlippageBps:       100,
		AltSlippageBps:        1000,
		BlockTaxPct:           30,
		HighTaxPct:            25,
		ModerateTaxPct:        15,
		BlockDiscrepancyPct:   5,
		SuspectDiscrepancyPct: 10,
	}
}

// Quoter is the slice of the swap router the detector needs.
type Quoter interface {
	GetQuote(ctx context.Context, params solana.SwapParams) (*router.Quote, error)
	QuoteAll(ctx context.Context, params solana.SwapParams) (map[string]*router.Quote, map[string]error)
}

// Report is the detection outcome for one mint.
type Report struct {
	Mint             solana.Pubkey `json:"mint"`
	Verdict          string        `json:"verdict"`
	Block            bool          `json:"block"`
	Skipped          bool          `json:"skipped"`
	TaxPct           float64       `json:"tax_pct"`            // vs worst alternative quote
	DiscrepancyPct   float64       `json:"discrepancy_pct"`    // across providers
	Warnings         []string      `json:"warnings,omitempty"`
	QuotesCompared   int           `json:"quotes_compared"`
}

// Detector compares sell quotes across slippage settings and providers.
// A token whose sell quotes diverge sharply is hiding a transfer tax or
// routing games that a single happy-path quote would never show.
type Detector struct {
	config Config
	quoter Quoter

	checks  atomic.Int64
	blocks  atomic.Int64
	skips   atomic.Int64
}

// NewDetector creates a sell tax detector.
func NewDetector(config Config, quoter Quoter) *Detector {
	return &Detector{config: config, quoter: quoter}
}

// Detect probes the sell path for a mint with the given token amount
// (smallest units). Rate limiting yields a skipped report, never a block.
func (d *Detector) Detect(ctx context.Context, mint solana.Pubkey, amount decimal.Decimal) (*Report, error) {
	if !d.config.Enabled {
		return &Report{Mint: mint, Verdict: VerdictSkipped, Skipped: true}, nil
	}
	d.checks.Add(1)

	baseParams := solana.SwapParams{
		InputMint:   mint,
		OutputMint:  solana.SOLMint,
		AmountIn:    amount,
		SlippageBps: d.config.BaseSlippageBps,
	}

	base, err := d.quoter.GetQuote(ctx, baseParams)
	if err != nil {
		if errors.Is(err, router.ErrRateLimited) {
			d.skips.Add(1)
			log.Debug().Str("mint", string(mint)).Msg("selltax: baseline quote rate limited, skipping")
			return &Report{Mint: mint, Verdict: VerdictSkipped, Skipped: true}, nil
		}
		return nil, fmt.Errorf("selltax: baseline quote: %w", err)
	}
	if !base.OutAmount.IsPositive() {
		return nil, fmt.Errorf("selltax: baseline quote returned zero out for %s", mint)
	}

	report := &Report{Mint: mint, Verdict: VerdictClean, QuotesCompared: 1}

	// Alternative 1: same route, looser slippage.
	altParams := baseParams
	altParams.SlippageBps = d.config.AltSlippageBps
	worstAlt := decimal.Decimal{}
	if alt, err := d.quoter.GetQuote(ctx, altParams); err == nil && alt.OutAmount.IsPositive() {
		worstAlt = alt.OutAmount
		report.QuotesCompared++
	}

	// Alternative 2: every configured provider on the baseline terms.
	quotes, quoteErrs := d.quoter.QuoteAll(ctx, baseParams)
	for name, err := range quoteErrs {
		if !errors.Is(err, router.ErrNoRoute) && !errors.Is(err, router.ErrRateLimited) {
			log.Debug().Str("provider", name).Err(err).Msg("selltax: alternative quote failed")
		}
	}

	maxOut := base.OutAmount
	minOut := base.OutAmount
	secondProvider := false
	for _, q := range quotes {
		if !q.OutAmount.IsPositive() {
			continue
		}
		if q.Provider != base.Provider {
			secondProvider = true
			report.QuotesCompared++
		}
		if q.OutAmount.GreaterThan(maxOut) {
			maxOut = q.OutAmount
		}
		if q.OutAmount.LessThan(minOut) {
			minOut = q.OutAmount
		}
		if worstAlt.IsZero() || q.OutAmount.LessThan(worstAlt) {
			worstAlt = q.OutAmount
		}
	}

	if report.QuotesCompared < 2 {
		// Nothing to compare against: a lone quote proves nothing.
		d.skips.Add(1)
		report.Verdict = VerdictSkipped
		report.Skipped = true
		return report, nil
	}

	// Effective tax: how much worse the worst alternative pays out.
	if worstAlt.IsPositive() {
		diff, _ := base.OutAmount.Sub(worstAlt).Div(base.OutAmount).Mul(decimal.NewFromInt(100)).Float64()
		if diff < 0 {
			diff = 0
		}
		report.TaxPct = diff
	}

	// Provider discrepancy.
	if maxOut.IsPositive() {
		disc, _ := maxOut.Sub(minOut).Div(maxOut).Mul(decimal.NewFromInt(100)).Float64()
		report.DiscrepancyPct = disc
	}

	switch {
	case report.TaxPct > d.config.BlockTaxPct:
		report.Verdict = VerdictHiddenSellTax
		report.Block = true
	case secondProvider && report.DiscrepancyPct > d.config.BlockDiscrepancyPct:
		report.Verdict = VerdictRouteDiscrepancy
		report.Block = true
	case report.TaxPct > d.config.HighTaxPct:
		report.Verdict = VerdictHighSellTax
		report.Warnings = append(report.Warnings, fmt.Sprintf("sell tax %.1f%%", report.TaxPct))
	case report.TaxPct > d.config.ModerateTaxPct:
		report.Verdict = VerdictModerateSellTax
		report.Warnings = append(report.Warnings, fmt.Sprintf("sell tax %.1f%%", report.TaxPct))
	}

	if !report.Block && report.DiscrepancyPct > d.config.SuspectDiscrepancyPct {
		report.Warnings = append(report.Warnings, fmt.Sprintf("provider discrepancy %.1f%%", report.DiscrepancyPct))
		log.Warn().
			Str("mint", string(mint)).
			Float64("discrepancy_pct", report.DiscrepancyPct).
			Msg("selltax: suspicious provider discrepancy")
	}

	if report.Block {
		d.blocks.Add(1)
		log.Warn().
			Str("mint", string(mint)).
			Str("verdict", report.Verdict).
			Float64("tax_pct", report.TaxPct).
			Float64("discrepancy_pct", report.DiscrepancyPct).
			Msg("selltax: sell path blocked")
	}

	return report, nil
}

// Stats returns detector statistics.
type Stats struct {
	Checks int64 `json:"checks"`
	Blocks int64 `json:"blocks"`
	Skips  int64 `json:"skips"`
}

func (d *Detector) Stats() Stats {
	return Stats{
		Checks: d.checks.Load(),
		Blocks: d.blocks.Load(),
		Skips:  d.skips.Load(),
	}
}
