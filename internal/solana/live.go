package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Live RPC Client — Solana JSON-RPC with rate limiting, retry, circuit breaker
// ---------------------------------------------------------------------------

const (
	breakerThreshold = 10
	breakerCooldown  = 30 * time.Second

	splTokenProgram = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
)

// breaker fails calls fast after a streak of consecutive faults and re-arms
// itself once the cooldown passes. Throttling never counts toward the streak.
type breaker struct {
	threshold int64
	cooldown  time.Duration

	streak atomic.Int64
	open   atomic.Bool
}

func (b *breaker) allow() bool { return !b.open.Load() }

func (b *breaker) success() { b.streak.Store(0) }

func (b *breaker) failure() {
	if b.streak.Add(1) < b.threshold {
		return
	}
	if b.open.CompareAndSwap(false, true) {
		log.Error().Msg("rpc: circuit breaker open")
		go func() {
			time.Sleep(b.cooldown)
			b.streak.Store(0)
			b.open.Store(false)
			log.Info().Msg("rpc: circuit breaker reset")
		}()
	}
}

// LiveRPCClient talks to a real Solana RPC endpoint. Requests drain a
// token bucket refilled at the configured rate; transient faults retry
// with exponential backoff behind the breaker.
type LiveRPCClient struct {
	config RPCConfig
	http   *http.Client

	tokens     chan struct{}
	stopRefill context.CancelFunc

	nextID  atomic.Int64
	breaker *breaker

	requests   atomic.Int64
	errors     atomic.Int64
	latencySum atomic.Int64 // cumulative microseconds
}

// NewLiveRPCClient creates a live RPC client and starts its refill loop.
func NewLiveRPCClient(config RPCConfig) *LiveRPCClient {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RateLimitRPS == 0 {
		config.RateLimitRPS = 10
	}

	burst := int(config.RateLimitRPS)
	if burst < 1 {
		burst = 1
	}

	refillCtx, stop := context.WithCancel(context.Background())
	c := &LiveRPCClient{
		config:     config,
		http:       &http.Client{Timeout: config.Timeout},
		tokens:     make(chan struct{}, burst),
		stopRefill: stop,
		breaker:    &breaker{threshold: breakerThreshold, cooldown: breakerCooldown},
	}
	for i := 0; i < burst; i++ {
		c.tokens <- struct{}{}
	}
	go c.refill(refillCtx)

	return c
}

var _ RPCClient = (*LiveRPCClient)(nil)

func (c *LiveRPCClient) refill(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / c.config.RateLimitRPS))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case c.tokens <- struct{}{}:
			default: // bucket full
			}
		}
	}
}

// Close stops the limiter refill loop.
func (c *LiveRPCClient) Close() {
	c.stopRefill()
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// retryClass tells call what a failed round trip deserves.
type retryClass int

const (
	// noRetry: the node answered; retrying cannot help.
	noRetry retryClass = iota
	// retryBackoff: transport fault, normal exponential backoff.
	retryBackoff
	// retryThrottle: HTTP 429, longer pause, not a breaker fault.
	retryThrottle
)

// call performs one rate-limited, retried JSON-RPC call.
func (c *LiveRPCClient) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if !c.breaker.allow() {
		return nil, fmt.Errorf("rpc: circuit open for %s", method)
	}

	select {
	case <-c.tokens:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, time.Duration(1<<uint(attempt-1))*time.Second); err != nil {
				return nil, err
			}
		}

		result, class, err := c.roundTrip(ctx, method, body)
		if err == nil {
			return result, nil
		}
		if class == noRetry {
			return nil, err
		}
		lastErr = err

		if class == retryThrottle {
			// The endpoint is alive, just rationing us.
			if err := sleepCtx(ctx, time.Duration(2<<uint(attempt))*time.Second); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("rpc: %s failed after %d attempts: %w", method, c.config.MaxRetries+1, lastErr)
}

// roundTrip runs a single HTTP exchange and classifies the outcome.
func (c *LiveRPCClient) roundTrip(ctx context.Context, method string, body []byte) (json.RawMessage, retryClass, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, noRetry, fmt.Errorf("rpc: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.noteFailure()
		return nil, retryBackoff, fmt.Errorf("rpc: %s: %w", method, err)
	}

	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		c.noteFailure()
		return nil, retryBackoff, fmt.Errorf("rpc: %s read response: %w", method, err)
	}

	c.requests.Add(1)
	c.latencySum.Add(time.Since(start).Microseconds())

	if resp.StatusCode == http.StatusTooManyRequests {
		c.errors.Add(1)
		return nil, retryThrottle, fmt.Errorf("rpc: %s rate limited", method)
	}
	if resp.StatusCode != http.StatusOK {
		c.noteFailure()
		return nil, retryBackoff, fmt.Errorf("rpc: %s HTTP %d: %s", method, resp.StatusCode, string(raw))
	}

	var parsed rpcResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		c.noteFailure()
		return nil, retryBackoff, fmt.Errorf("rpc: %s unmarshal response: %w", method, err)
	}
	if parsed.Error != nil {
		// A method-level error is an answer, not a fault.
		c.breaker.success()
		return nil, noRetry, fmt.Errorf("rpc: %s error %d: %s", method, parsed.Error.Code, parsed.Error.Message)
	}

	c.breaker.success()
	return parsed.Result, noRetry, nil
}

func (c *LiveRPCClient) noteFailure() {
	c.errors.Add(1)
	c.breaker.failure()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetTokenInfo fetches mint metadata via getAccountInfo.
func (c *LiveRPCClient) GetTokenInfo(ctx context.Context, mint Pubkey) (*TokenInfo, error) {
	result, err := c.call(ctx, "getAccountInfo", []any{
		string(mint),
		map[string]any{"encoding": "jsonParsed"},
	})
	if err != nil {
		return nil, err
	}

	var account struct {
		Value *struct {
			Data struct {
				Parsed struct {
					Info struct {
						Decimals        uint8  `json:"decimals"`
						Supply          string `json:"supply"`
						MintAuthority   string `json:"mintAuthority"`
						FreezeAuthority string `json:"freezeAuthority"`
					} `json:"info"`
				} `json:"parsed"`
			} `json:"data"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &account); err != nil {
		return nil, fmt.Errorf("rpc: parse token info: %w", err)
	}
	if account.Value == nil {
		return nil, fmt.Errorf("rpc: token %s not found", mint)
	}

	info := account.Value.Data.Parsed.Info
	supply, _ := decimal.NewFromString(info.Supply)
	return &TokenInfo{
		Mint:            mint,
		Decimals:        info.Decimals,
		Supply:          supply,
		MintAuthority:   Pubkey(info.MintAuthority),
		FreezeAuthority: Pubkey(info.FreezeAuthority),
	}, nil
}

// GetTopHolders returns the largest token accounts for a mint, with supply
// percentages when the supply is known.
func (c *LiveRPCClient) GetTopHolders(ctx context.Context, mint Pubkey, limit int) ([]HolderInfo, error) {
	result, err := c.call(ctx, "getTokenLargestAccounts", []any{string(mint)})
	if err != nil {
		return nil, err
	}

	var largest struct {
		Value []struct {
			Address string `json:"address"`
			Amount  string `json:"amount"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &largest); err != nil {
		return nil, fmt.Errorf("rpc: parse holders: %w", err)
	}

	totalSupply := decimal.Zero
	if tokenInfo, err := c.GetTokenInfo(ctx, mint); err == nil && tokenInfo.Supply.IsPositive() {
		totalSupply = tokenInfo.Supply
	}

	holders := make([]HolderInfo, 0, limit)
	for i, h := range largest.Value {
		if i >= limit {
			break
		}
		balance, _ := decimal.NewFromString(h.Amount)
		pct := 0.0
		if totalSupply.IsPositive() {
			pct, _ = balance.Div(totalSupply).Mul(decimal.NewFromInt(100)).Float64()
		}
		holders = append(holders, HolderInfo{
			Address:    Pubkey(h.Address),
			Balance:    balance,
			Percentage: pct,
		})
	}
	return holders, nil
}

// GetWalletBalance fetches SOL balance plus SPL token accounts.
func (c *LiveRPCClient) GetWalletBalance(ctx context.Context, wallet Pubkey) (*WalletBalance, error) {
	solResult, err := c.call(ctx, "getBalance", []any{string(wallet)})
	if err != nil {
		return nil, err
	}

	var lamports struct {
		Value uint64 `json:"value"`
	}
	if err := json.Unmarshal(solResult, &lamports); err != nil {
		return nil, fmt.Errorf("rpc: parse balance: %w", err)
	}
	balance := &WalletBalance{
		SOL:    decimal.NewFromUint64(lamports.Value).Div(decimal.NewFromInt(LamportsPerSOL)),
		Tokens: make(map[Pubkey]decimal.Decimal),
	}

	tokenResult, err := c.call(ctx, "getTokenAccountsByOwner", []any{
		string(wallet),
		map[string]any{"programId": splTokenProgram},
		map[string]any{"encoding": "jsonParsed"},
	})
	if err != nil {
		// Non-fatal: SOL balance alone is still useful.
		return balance, nil
	}

	var accounts struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							Mint        string `json:"mint"`
							TokenAmount struct {
								UIAmountString string `json:"uiAmountString"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	if err := json.Unmarshal(tokenResult, &accounts); err == nil {
		for _, ta := range accounts.Value {
			amount, _ := decimal.NewFromString(ta.Account.Data.Parsed.Info.TokenAmount.UIAmountString)
			if amount.IsPositive() {
				balance.Tokens[Pubkey(ta.Account.Data.Parsed.Info.Mint)] = amount
			}
		}
	}
	return balance, nil
}

// GetPoolInfo reads a pool account and identifies its DEX by owner program.
func (c *LiveRPCClient) GetPoolInfo(ctx context.Context, poolAddress Pubkey) (*PoolInfo, error) {
	result, err := c.call(ctx, "getAccountInfo", []any{
		string(poolAddress),
		map[string]any{"encoding": "base64"},
	})
	if err != nil {
		return nil, err
	}

	var account struct {
		Value *struct {
			Owner string `json:"owner"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &account); err != nil {
		return nil, fmt.Errorf("rpc: parse pool info: %w", err)
	}
	if account.Value == nil {
		return nil, fmt.Errorf("rpc: pool %s not found", poolAddress)
	}

	return &PoolInfo{
		PoolAddress: poolAddress,
		DEX:         programIDToDEX(account.Value.Owner),
	}, nil
}

// SendTransaction submits a signed transaction.
func (c *LiveRPCClient) SendTransaction(ctx context.Context, txBase64 string) (Signature, error) {
	result, err := c.call(ctx, "sendTransaction", []any{
		txBase64,
		map[string]any{
			"encoding":            "base64",
			"skipPreflight":       false,
			"preflightCommitment": "confirmed",
		},
	})
	if err != nil {
		return "", err
	}

	var sig string
	if err := json.Unmarshal(result, &sig); err != nil {
		return "", fmt.Errorf("rpc: parse signature: %w", err)
	}
	return Signature(sig), nil
}

// GetTransactionStatus checks confirmation status for a signature.
func (c *LiveRPCClient) GetTransactionStatus(ctx context.Context, sig Signature) (string, error) {
	result, err := c.call(ctx, "getSignatureStatuses", []any{
		[]string{string(sig)},
	})
	if err != nil {
		return "", err
	}

	var statuses struct {
		Value []struct {
			ConfirmationStatus string `json:"confirmationStatus"`
			Err                any    `json:"err"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &statuses); err != nil {
		return "", fmt.Errorf("rpc: parse status: %w", err)
	}

	if len(statuses.Value) == 0 || statuses.Value[0].ConfirmationStatus == "" {
		return "pending", nil
	}
	if statuses.Value[0].Err != nil {
		return "failed", nil
	}
	return statuses.Value[0].ConfirmationStatus, nil
}

// Health pings the endpoint.
func (c *LiveRPCClient) Health(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.call(healthCtx, "getHealth", nil)
	return err
}

// RPCStats is a snapshot of live client counters.
type RPCStats struct {
	RequestCount int64 `json:"request_count"`
	ErrorCount   int64 `json:"error_count"`
	AvgLatencyUs int64 `json:"avg_latency_us"`
	CircuitOpen  bool  `json:"circuit_open"`
}

// Stats returns request counters and average latency.
func (c *LiveRPCClient) Stats() RPCStats {
	reqs := c.requests.Load()
	avg := int64(0)
	if reqs > 0 {
		avg = c.latencySum.Load() / reqs
	}
	return RPCStats{
		RequestCount: reqs,
		ErrorCount:   c.errors.Load(),
		AvgLatencyUs: avg,
		CircuitOpen:  !c.breaker.allow(),
	}
}

// Known DEX program IDs on mainnet.
var dexPrograms = map[string]string{
	"raydium": "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8",
	"pumpfun": "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P",
	"orca":    "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc",
	"meteora": "LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo",
}

func programIDToDEX(programID string) string {
	for dex, pid := range dexPrograms {
		if pid == programID {
			return dex
		}
	}
	return "unknown"
}
