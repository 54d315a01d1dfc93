package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sentinel-trading/sentinel/internal/solana"
)

// ---------------------------------------------------------------------------
// Market Data Client — token security + overview endpoints (Birdeye-style)
// ---------------------------------------------------------------------------

// ErrRateLimited is returned when the provider throttles us. Callers treat
// it as "data unavailable right now", never as a verdict about the token.
var ErrRateLimited = errors.New("market: rate limited")

// Config configures the market data client.
type Config struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Timeout      time.Duration `yaml:"timeout"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:      "https://public-api.birdeye.so",
		Timeout:      8 * time.Second,
		RateLimitRPS: 2,
	}
}

// SecurityInfo is the expensive per-token security report.
type SecurityInfo struct {
	Mint               solana.Pubkey `json:"mint"`
	FreezeAuthority    bool          `json:"freeze_authority"`   // still active
	MintAuthority      bool          `json:"mint_authority"`     // still active
	LPLocked           bool          `json:"lp_locked"`
	LPBurned           bool          `json:"lp_burned"`
	Top10HolderPct     float64       `json:"top10_holder_pct"`
	CreatorAddress     string        `json:"creator_address"`
	CreatorOwnsPct     float64       `json:"creator_owns_pct"`
	IsToken2022        bool          `json:"is_token_2022"`
	TransferFeeEnabled bool          `json:"transfer_fee_enabled"`
	FetchedAt          time.Time     `json:"fetched_at"`
}

// OverviewInfo is the cheap liquidity/volume snapshot.
type OverviewInfo struct {
	Mint         solana.Pubkey   `json:"mint"`
	PriceUSD     decimal.Decimal `json:"price_usd"`
	LiquidityUSD decimal.Decimal `json:"liquidity_usd"`
	Volume24hUSD decimal.Decimal `json:"volume_24h_usd"`
	HolderCount  int             `json:"holder_count"`
	Trade24h     int             `json:"trade_24h"`
	FetchedAt    time.Time       `json:"fetched_at"`
}

// Client fetches token security and overview data.
type Client struct {
	config     Config
	httpClient *http.Client

	securityCalls atomic.Int64
	overviewCalls atomic.Int64
	errorCount    atomic.Int64
	rateLimited   atomic.Int64
}

// NewClient creates a market data client.
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "https://public-api.birdeye.so"
	}
	if config.Timeout == 0 {
		config.Timeout = 8 * time.Second
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

type securityResponse struct {
	Success bool `json:"success"`
	Data    struct {
		FreezeAuthority    *string `json:"freezeAuthority"`
		MintAuthority      *string `json:"mintAuthority"`
		LockInfo           *struct {
			IsLocked bool `json:"isLocked"`
		} `json:"lockInfo"`
		IsLPBurned         bool    `json:"isLpBurned"`
		Top10HolderPercent float64 `json:"top10HolderPercent"`
		CreatorAddress     string  `json:"creatorAddress"`
		CreatorPercentage  float64 `json:"creatorPercentage"`
		IsToken2022        bool    `json:"isToken2022"`
		TransferFeeEnable  bool    `json:"transferFeeEnable"`
	} `json:"data"`
}

// TokenSecurity fetches the security report for a mint. This is the
// expensive call the pre-score exists to gate.
func (c *Client) TokenSecurity(ctx context.Context, mint solana.Pubkey) (*SecurityInfo, error) {
	body, err := c.get(ctx, "/defi/token_security?address="+string(mint))
	if err != nil {
		return nil, err
	}
	c.securityCalls.Add(1)

	var raw securityResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("market: parse security response: %w", err)
	}
	if !raw.Success {
		return nil, fmt.Errorf("market: security lookup rejected for %s", mint)
	}

	info := &SecurityInfo{
		Mint:               mint,
		FreezeAuthority:    raw.Data.FreezeAuthority != nil && *raw.Data.FreezeAuthority != "",
		MintAuthority:      raw.Data.MintAuthority != nil && *raw.Data.MintAuthority != "",
		LPBurned:           raw.Data.IsLPBurned,
		Top10HolderPct:     raw.Data.Top10HolderPercent,
		CreatorAddress:     raw.Data.CreatorAddress,
		CreatorOwnsPct:     raw.Data.CreatorPercentage,
		IsToken2022:        raw.Data.IsToken2022,
		TransferFeeEnabled: raw.Data.TransferFeeEnable,
		FetchedAt:          time.Now(),
	}
	if raw.Data.LockInfo != nil {
		info.LPLocked = raw.Data.LockInfo.IsLocked
	}

	log.Debug().
		Str("mint", string(mint)).
		Bool("freeze", info.FreezeAuthority).
		Bool("lp_locked", info.LPLocked).
		Float64("top10_pct", info.Top10HolderPct).
		Msg("market: security fetched")

	return info, nil
}

type overviewResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Price       float64 `json:"price"`
		Liquidity   float64 `json:"liquidity"`
		V24hUSD     float64 `json:"v24hUSD"`
		Holder      int     `json:"holder"`
		Trade24h    int     `json:"trade24h"`
	} `json:"data"`
}

// TokenOverview fetches the liquidity/volume snapshot for a mint.
func (c *Client) TokenOverview(ctx context.Context, mint solana.Pubkey) (*OverviewInfo, error) {
	body, err := c.get(ctx, "/defi/token_overview?address="+string(mint))
	if err != nil {
		return nil, err
	}
	c.overviewCalls.Add(1)

	var raw overviewResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("market: parse overview response: %w", err)
	}
	if !raw.Success {
		return nil, fmt.Errorf("market: overview lookup rejected for %s", mint)
	}

	return &OverviewInfo{
		Mint:         mint,
		PriceUSD:     decimal.NewFromFloat(raw.Data.Price),
		LiquidityUSD: decimal.NewFromFloat(raw.Data.Liquidity),
		Volume24hUSD: decimal.NewFromFloat(raw.Data.V24hUSD),
		HolderCount:  raw.Data.Holder,
		Trade24h:     raw.Data.Trade24h,
		FetchedAt:    time.Now(),
	}, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.config.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("market: create request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("x-chain", "solana")
	if c.config.APIKey != "" {
		req.Header.Set("X-API-KEY", c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.errorCount.Add(1)
		return nil, fmt.Errorf("market: HTTP error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.errorCount.Add(1)
		return nil, fmt.Errorf("market: read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		c.rateLimited.Add(1)
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		c.errorCount.Add(1)
		return nil, fmt.Errorf("market: HTTP %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// Stats returns client statistics.
type Stats struct {
	SecurityCalls int64 `json:"security_calls"`
	OverviewCalls int64 `json:"overview_calls"`
	ErrorCount    int64 `json:"error_count"`
	RateLimited   int64 `json:"rate_limited"`
}

func (c *Client) Stats() Stats {
	return Stats{
		SecurityCalls: c.securityCalls.Load(),
		OverviewCalls: c.overviewCalls.Load(),
		ErrorCount:    c.errorCount.Load(),
		RateLimited:   c.rateLimited.Load(),
	}
}
