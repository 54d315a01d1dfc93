package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sentinel-trading/sentinel/internal/solana"
)

// ---------------------------------------------------------------------------
// Swap Router — provider abstraction over quote/swap aggregators
// ---------------------------------------------------------------------------

// Sentinel errors. Callers distinguish "no route exists" (a token-quality
// signal) from "provider throttled us" (an infrastructure signal).
var (
	ErrNoRoute     = errors.New("router: no route found")
	ErrRateLimited = errors.New("router: rate limited")
)

// Quote is a provider-neutral swap quote. Amounts are in the smallest unit
// of the respective mint (lamports for SOL).
type Quote struct {
	Provider       string          `json:"provider"`
	InputMint      solana.Pubkey   `json:"input_mint"`
	OutputMint     solana.Pubkey   `json:"output_mint"`
	InAmount       decimal.Decimal `json:"in_amount"`
	OutAmount      decimal.Decimal `json:"out_amount"`
	PriceImpactPct float64         `json:"price_impact_pct"`
	RouteLabels    []string        `json:"route_labels"`

	// Raw provider response, passed back verbatim when building the swap.
	Raw json.RawMessage `json:"-"`
}

// Provider quotes and builds swap transactions on one venue or aggregator.
type Provider interface {
	Name() string

	// GetQuote returns the best route for the swap, ErrNoRoute if none
	// exists, or ErrRateLimited when throttled.
	GetQuote(ctx context.Context, params solana.SwapParams) (*Quote, error)

	// BuildSwapTx builds a base64-encoded transaction from a quote
	// previously returned by this provider.
	BuildSwapTx(ctx context.Context, quote *Quote) (string, error)
}

// Router tries providers in priority order and falls back on failure.
type Router struct {
	providers []Provider
}

// New creates a router over the given providers, tried in order.
func New(providers ...Provider) *Router {
	return &Router{providers: providers}
}

// Providers returns the configured providers in priority order.
func (r *Router) Providers() []Provider {
	return r.providers
}

// GetQuote returns the first successful quote. ErrNoRoute is returned only
// when every provider agreed there is no route; a mix of rate limits and
// misses surfaces the last non-ErrNoRoute error.
func (r *Router) GetQuote(ctx context.Context, params solana.SwapParams) (*Quote, error) {
	if len(r.providers) == 0 {
		return nil, fmt.Errorf("router: no providers configured")
	}

	var lastErr error
	allNoRoute := true

	for _, p := range r.providers {
		quote, err := p.GetQuote(ctx, params)
		if err == nil {
			return quote, nil
		}
		if !errors.Is(err, ErrNoRoute) {
			allNoRoute = false
		}
		lastErr = err
		log.Debug().
			Str("provider", p.Name()).
			Err(err).
			Msg("router: provider quote failed, trying next")
	}

	if allNoRoute {
		return nil, ErrNoRoute
	}
	return nil, fmt.Errorf("router: all providers failed: %w", lastErr)
}

// BuildSwapTx dispatches the swap build to the provider that produced the quote.
func (r *Router) BuildSwapTx(ctx context.Context, quote *Quote) (string, error) {
	for _, p := range r.providers {
		if p.Name() == quote.Provider {
			return p.BuildSwapTx(ctx, quote)
		}
	}
	return "", fmt.Errorf("router: unknown quote provider %q", quote.Provider)
}

// QuoteAll fetches the same quote from every provider. Used for
// cross-provider discrepancy checks; per-provider errors are returned
// alongside any successful quotes.
func (r *Router) QuoteAll(ctx context.Context, params solana.SwapParams) (map[string]*Quote, map[string]error) {
	quotes := make(map[string]*Quote, len(r.providers))
	errs := make(map[string]error)

	for _, p := range r.providers {
		quote, err := p.GetQuote(ctx, params)
		if err != nil {
			errs[p.Name()] = err
			continue
		}
		quotes[p.Name()] = quote
	}
	return quotes, errs
}
