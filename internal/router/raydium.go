package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sentinel-trading/sentinel/internal/solana"
)

// ---------------------------------------------------------------------------
// Raydium Provider — direct AMM quotes, the fallback venue
// https://docs.raydium.io/raydium/traders/trade-api
// ---------------------------------------------------------------------------

// RaydiumConfig configures the Raydium provider.
type RaydiumConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Raydium quotes swaps directly against Raydium pools. New tokens often
// appear here minutes before aggregators index them, so this provider also
// serves as a second opinion for quote discrepancy checks.
type Raydium struct {
	config     RaydiumConfig
	httpClient *http.Client
	walletPub  string

	quoteCount atomic.Int64
	errorCount atomic.Int64
}

// NewRaydium creates a Raydium provider for a wallet.
func NewRaydium(config RaydiumConfig, walletPubkey string) *Raydium {
	if config.BaseURL == "" {
		config.BaseURL = "https://transaction-v1.raydium.io"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	return &Raydium{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		walletPub:  walletPubkey,
	}
}

var _ Provider = (*Raydium)(nil)

func (r *Raydium) Name() string { return "raydium" }

type raydiumQuoteResponse struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
	Data    struct {
		InputMint    string `json:"inputMint"`
		OutputMint   string `json:"outputMint"`
		InputAmount  string `json:"inputAmount"`
		OutputAmount string `json:"outputAmount"`
		PriceImpactPct float64 `json:"priceImpactPct"`
		RoutePlan    []struct {
			PoolID string `json:"poolId"`
		} `json:"routePlan"`
	} `json:"data"`
}

// GetQuote fetches a direct swap quote from Raydium.
func (r *Raydium) GetQuote(ctx context.Context, params solana.SwapParams) (*Quote, error) {
	queryURL, err := url.Parse(r.config.BaseURL + "/compute/swap-base-in")
	if err != nil {
		return nil, fmt.Errorf("raydium: parse URL: %w", err)
	}
	q := queryURL.Query()
	q.Set("inputMint", string(params.InputMint))
	q.Set("outputMint", string(params.OutputMint))
	q.Set("amount", params.AmountIn.String())
	q.Set("slippageBps", fmt.Sprintf("%d", params.SlippageBps))
	q.Set("txVersion", "V0")
	queryURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", queryURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("raydium: create quote request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.errorCount.Add(1)
		return nil, fmt.Errorf("raydium: quote HTTP error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		r.errorCount.Add(1)
		return nil, fmt.Errorf("raydium: read quote response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		r.errorCount.Add(1)
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		r.errorCount.Add(1)
		return nil, fmt.Errorf("raydium: quote HTTP %d: %s", resp.StatusCode, string(body))
	}

	var raw raydiumQuoteResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("raydium: parse quote: %w", err)
	}
	if !raw.Success || raw.Data.OutputAmount == "" || raw.Data.OutputAmount == "0" {
		return nil, ErrNoRoute
	}

	inAmount, err := decimal.NewFromString(raw.Data.InputAmount)
	if err != nil {
		return nil, fmt.Errorf("raydium: parse inputAmount %q: %w", raw.Data.InputAmount, err)
	}
	outAmount, err := decimal.NewFromString(raw.Data.OutputAmount)
	if err != nil {
		return nil, fmt.Errorf("raydium: parse outputAmount %q: %w", raw.Data.OutputAmount, err)
	}

	labels := make([]string, 0, len(raw.Data.RoutePlan))
	for _, hop := range raw.Data.RoutePlan {
		labels = append(labels, hop.PoolID)
	}

	r.quoteCount.Add(1)

	log.Debug().
		Str("in", shortMint(raw.Data.InputMint)).
		Str("out", shortMint(raw.Data.OutputMint)).
		Str("out_amount", raw.Data.OutputAmount).
		Msg("raydium: quote received")

	return &Quote{
		Provider:       r.Name(),
		InputMint:      solana.Pubkey(raw.Data.InputMint),
		OutputMint:     solana.Pubkey(raw.Data.OutputMint),
		InAmount:       inAmount,
		OutAmount:      outAmount,
		PriceImpactPct: raw.Data.PriceImpactPct,
		RouteLabels:    labels,
		Raw:            json.RawMessage(body),
	}, nil
}

type raydiumSwapRequest struct {
	ComputeUnitPriceMicroLamports string          `json:"computeUnitPriceMicroLamports"`
	SwapResponse                  json.RawMessage `json:"swapResponse"`
	TxVersion                     string          `json:"txVersion"`
	Wallet                        string          `json:"wallet"`
	WrapSOL                       bool            `json:"wrapSol"`
	UnwrapSOL                     bool            `json:"unwrapSol"`
}

type raydiumSwapResponse struct {
	Success bool `json:"success"`
	Data    []struct {
		Transaction string `json:"transaction"`
	} `json:"data"`
}

// BuildSwapTx builds a swap transaction from a Raydium quote.
func (r *Raydium) BuildSwapTx(ctx context.Context, quote *Quote) (string, error) {
	body, err := json.Marshal(raydiumSwapRequest{
		ComputeUnitPriceMicroLamports: "auto",
		SwapResponse:                  quote.Raw,
		TxVersion:                     "V0",
		Wallet:                        r.walletPub,
		WrapSOL:                       quote.InputMint == solana.SOLMint,
		UnwrapSOL:                     quote.OutputMint == solana.SOLMint,
	})
	if err != nil {
		return "", fmt.Errorf("raydium: marshal swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.config.BaseURL+"/transaction/swap-base-in", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("raydium: create swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.errorCount.Add(1)
		return "", fmt.Errorf("raydium: swap HTTP error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("raydium: read swap response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		r.errorCount.Add(1)
		return "", fmt.Errorf("raydium: swap HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var swapResp raydiumSwapResponse
	if err := json.Unmarshal(respBody, &swapResp); err != nil {
		return "", fmt.Errorf("raydium: parse swap response: %w", err)
	}
	if !swapResp.Success || len(swapResp.Data) == 0 {
		return "", fmt.Errorf("raydium: swap build rejected")
	}

	return swapResp.Data[0].Transaction, nil
}

// RaydiumStats returns Raydium client stats.
type RaydiumStats struct {
	QuoteCount int64 `json:"quote_count"`
	ErrorCount int64 `json:"error_count"`
}

func (r *Raydium) Stats() RaydiumStats {
	return RaydiumStats{
		QuoteCount: r.quoteCount.Load(),
		ErrorCount: r.errorCount.Load(),
	}
}
