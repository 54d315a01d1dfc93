package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sentinel-trading/sentinel/internal/solana"
)

// ---------------------------------------------------------------------------
// Jupiter V6 Provider — aggregator quote + swap endpoints
// https://station.jup.ag/docs/apis/swap-api
// ---------------------------------------------------------------------------

const (
	jupiterRetryBackoff = 500 * time.Millisecond
	jupiterBreakerLimit = 5
	jupiterBreakerReset = 30 * time.Second
)

// JupiterConfig configures the Jupiter provider.
type JupiterConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// Jupiter is the Jupiter V6 swap provider.
type Jupiter struct {
	config     JupiterConfig
	httpClient *http.Client
	walletPub  string

	quoteCount   atomic.Int64
	swapCount    atomic.Int64
	errorCount   atomic.Int64
	avgLatencyMs atomic.Int64

	// Circuit breaker.
	consecutiveErrors atomic.Int64
	circuitOpen       atomic.Bool
}

// NewJupiter creates a Jupiter provider for a wallet.
func NewJupiter(config JupiterConfig, walletPubkey string) *Jupiter {
	if config.BaseURL == "" {
		config.BaseURL = "https://quote-api.jup.ag/v6"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 2
	}
	return &Jupiter{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		walletPub:  walletPubkey,
	}
}

var _ Provider = (*Jupiter)(nil)

func (j *Jupiter) Name() string { return "jupiter" }

// jupiterQuoteResponse is the response from the /quote endpoint.
type jupiterQuoteResponse struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
	SlippageBps    int    `json:"slippageBps"`
	RoutePlan      []struct {
		Percent  int `json:"percent"`
		SwapInfo struct {
			AmmKey string `json:"ammKey"`
			Label  string `json:"label"`
		} `json:"swapInfo"`
	} `json:"routePlan"`
}

// GetQuote fetches the best swap route from Jupiter.
func (j *Jupiter) GetQuote(ctx context.Context, params solana.SwapParams) (*Quote, error) {
	if j.circuitOpen.Load() {
		return nil, fmt.Errorf("jupiter: circuit breaker open")
	}

	start := time.Now()

	queryURL, err := url.Parse(j.config.BaseURL + "/quote")
	if err != nil {
		return nil, fmt.Errorf("jupiter: parse URL: %w", err)
	}
	q := queryURL.Query()
	q.Set("inputMint", string(params.InputMint))
	q.Set("outputMint", string(params.OutputMint))
	q.Set("amount", params.AmountIn.String())
	q.Set("slippageBps", fmt.Sprintf("%d", params.SlippageBps))
	q.Set("onlyDirectRoutes", "false")
	queryURL.RawQuery = q.Encode()

	var body []byte
	var lastErr error

	for attempt := 0; attempt <= j.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(jupiterRetryBackoff * time.Duration(1<<uint(attempt-1))):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, "GET", queryURL.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("jupiter: create quote request: %w", err)
		}
		if j.config.APIKey != "" {
			req.Header.Set("X-API-KEY", j.config.APIKey)
		}

		resp, err := j.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("jupiter: quote HTTP error: %w", err)
			j.errorCount.Add(1)
			j.recordError()
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("jupiter: read quote response: %w", err)
			j.errorCount.Add(1)
			j.recordError()
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = ErrRateLimited
			j.errorCount.Add(1)
			continue
		}

		if resp.StatusCode == http.StatusBadRequest && isNoRouteBody(respBody) {
			return nil, ErrNoRoute
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("jupiter: quote HTTP %d: %s (mint=%s)", resp.StatusCode, string(respBody), params.OutputMint)
			j.errorCount.Add(1)
			j.recordError()
			continue
		}

		body = respBody
		j.resetErrors()
		break
	}

	if body == nil {
		return nil, fmt.Errorf("jupiter: quote failed after %d attempts: %w", j.config.MaxRetries+1, lastErr)
	}

	var raw jupiterQuoteResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("jupiter: parse quote: %w", err)
	}
	if raw.OutAmount == "" || raw.OutAmount == "0" {
		return nil, ErrNoRoute
	}

	inAmount, err := decimal.NewFromString(raw.InAmount)
	if err != nil {
		return nil, fmt.Errorf("jupiter: parse inAmount %q: %w", raw.InAmount, err)
	}
	outAmount, err := decimal.NewFromString(raw.OutAmount)
	if err != nil {
		return nil, fmt.Errorf("jupiter: parse outAmount %q: %w", raw.OutAmount, err)
	}
	impact, _ := decimal.NewFromString(raw.PriceImpactPct)
	impactVal, _ := impact.Float64()

	labels := make([]string, 0, len(raw.RoutePlan))
	for _, hop := range raw.RoutePlan {
		labels = append(labels, hop.SwapInfo.Label)
	}

	latency := time.Since(start).Milliseconds()
	j.quoteCount.Add(1)
	j.avgLatencyMs.Store(latency)

	log.Debug().
		Str("in", shortMint(raw.InputMint)).
		Str("out", shortMint(raw.OutputMint)).
		Str("in_amount", raw.InAmount).
		Str("out_amount", raw.OutAmount).
		Str("price_impact", raw.PriceImpactPct).
		Int64("latency_ms", latency).
		Msg("jupiter: quote received")

	return &Quote{
		Provider:       j.Name(),
		InputMint:      solana.Pubkey(raw.InputMint),
		OutputMint:     solana.Pubkey(raw.OutputMint),
		InAmount:       inAmount,
		OutAmount:      outAmount,
		PriceImpactPct: impactVal,
		RouteLabels:    labels,
		Raw:            json.RawMessage(body),
	}, nil
}

// jupiterSwapRequest is the request to the /swap endpoint.
type jupiterSwapRequest struct {
	QuoteResponse           json.RawMessage `json:"quoteResponse"`
	UserPublicKey           string          `json:"userPublicKey"`
	WrapAndUnwrapSOL        bool            `json:"wrapAndUnwrapSol"`
	UseSharedAccounts       bool            `json:"useSharedAccounts"`
	AsLegacyTransaction     bool            `json:"asLegacyTransaction"`
	DynamicComputeUnitLimit bool            `json:"dynamicComputeUnitLimit"`
}

type jupiterSwapResponse struct {
	SwapTransaction      string `json:"swapTransaction"` // base64 encoded
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// BuildSwapTx builds a swap transaction from a quote.
func (j *Jupiter) BuildSwapTx(ctx context.Context, quote *Quote) (string, error) {
	if j.circuitOpen.Load() {
		return "", fmt.Errorf("jupiter: circuit breaker open")
	}

	body, err := json.Marshal(jupiterSwapRequest{
		QuoteResponse:           quote.Raw,
		UserPublicKey:           j.walletPub,
		WrapAndUnwrapSOL:        true,
		UseSharedAccounts:       true,
		AsLegacyTransaction:     false,
		DynamicComputeUnitLimit: true,
	})
	if err != nil {
		return "", fmt.Errorf("jupiter: marshal swap request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= j.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(jupiterRetryBackoff * time.Duration(1<<uint(attempt-1))):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", j.config.BaseURL+"/swap", bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("jupiter: create swap request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := j.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("jupiter: swap HTTP error: %w", err)
			j.errorCount.Add(1)
			j.recordError()
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("jupiter: read swap response: %w", err)
			j.errorCount.Add(1)
			j.recordError()
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = ErrRateLimited
			j.errorCount.Add(1)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("jupiter: swap HTTP %d: %s", resp.StatusCode, string(respBody))
			j.errorCount.Add(1)
			j.recordError()
			continue
		}

		var swapResp jupiterSwapResponse
		if err := json.Unmarshal(respBody, &swapResp); err != nil {
			return "", fmt.Errorf("jupiter: parse swap response: %w", err)
		}

		j.resetErrors()
		j.swapCount.Add(1)
		return swapResp.SwapTransaction, nil
	}

	return "", fmt.Errorf("jupiter: swap failed after %d attempts: %w", j.config.MaxRetries+1, lastErr)
}

func isNoRouteBody(body []byte) bool {
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "could not find any route") ||
		strings.Contains(lower, "no routes found") ||
		strings.Contains(lower, "token_not_tradable")
}

func shortMint(mint string) string {
	if len(mint) > 8 {
		return mint[:8]
	}
	return mint
}

// recordError increments consecutive errors and opens the circuit breaker.
func (j *Jupiter) recordError() {
	count := j.consecutiveErrors.Add(1)
	if count >= jupiterBreakerLimit {
		if j.circuitOpen.CompareAndSwap(false, true) {
			log.Error().Int64("errors", count).Msg("jupiter: CIRCUIT BREAKER OPEN")
			go func() {
				time.Sleep(jupiterBreakerReset)
				j.circuitOpen.Store(false)
				j.consecutiveErrors.Store(0)
				log.Info().Msg("jupiter: circuit breaker reset")
			}()
		}
	}
}

// resetErrors resets the consecutive error counter.
func (j *Jupiter) resetErrors() {
	j.consecutiveErrors.Store(0)
}

// JupiterStats returns Jupiter client stats.
type JupiterStats struct {
	QuoteCount   int64 `json:"quote_count"`
	SwapCount    int64 `json:"swap_count"`
	ErrorCount   int64 `json:"error_count"`
	AvgLatencyMs int64 `json:"avg_latency_ms"`
	CircuitOpen  bool  `json:"circuit_open"`
}

func (j *Jupiter) Stats() JupiterStats {
	return JupiterStats{
		QuoteCount:   j.quoteCount.Load(),
		SwapCount:    j.swapCount.Load(),
		ErrorCount:   j.errorCount.Load(),
		AvgLatencyMs: j.avgLatencyMs.Load(),
		CircuitOpen:  j.circuitOpen.Load(),
	}
}
