package solana

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// RPC Client Interface
// ---------------------------------------------------------------------------

// RPCClient is the interface for Solana RPC interactions.
// Implementations: a live JSON-RPC client in production, StubRPCClient in tests.
type RPCClient interface {
	// GetTokenInfo fetches token metadata for a mint address.
	GetTokenInfo(ctx context.Context, mint Pubkey) (*TokenInfo, error)

	// GetTopHolders returns the top N holders of a token.
	GetTopHolders(ctx context.Context, mint Pubkey, limit int) ([]HolderInfo, error)

	// GetWalletBalance returns SOL + SPL token balances for a wallet.
	GetWalletBalance(ctx context.Context, wallet Pubkey) (*WalletBalance, error)

	// GetPoolInfo fetches details for a specific pool.
	GetPoolInfo(ctx context.Context, poolAddress Pubkey) (*PoolInfo, error)

	// SendTransaction submits a signed transaction to the network.
	SendTransaction(ctx context.Context, txBase64 string) (Signature, error)

	// GetTransactionStatus checks if a transaction is confirmed.
	GetTransactionStatus(ctx context.Context, sig Signature) (string, error) // confirmed|finalized|failed

	// Health returns the RPC endpoint health.
	Health(ctx context.Context) error
}

// RPCConfig configures the Solana RPC client.
type RPCConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	WSEndpoint   string        `yaml:"ws_endpoint"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"`
	PrivateKey   string        `yaml:"private_key"` // base58 encoded wallet private key
}

// DefaultRPCConfig returns development defaults.
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		Endpoint:     "https://api.mainnet-beta.solana.com",
		WSEndpoint:   "wss://api.mainnet-beta.solana.com",
		Timeout:      10 * time.Second,
		MaxRetries:   3,
		RateLimitRPS: 10,
	}
}

// ---------------------------------------------------------------------------
// Stub RPC Client (for testing and development)
// ---------------------------------------------------------------------------

// StubRPCClient is a mock RPC client for testing.
type StubRPCClient struct {
	mu       sync.RWMutex
	tokens   map[Pubkey]*TokenInfo
	pools    map[Pubkey]*PoolInfo
	holders  map[Pubkey][]HolderInfo
	balance  *WalletBalance
	sendSeq  int
	failNext bool
}

// NewStubRPCClient creates a stub RPC client for testing.
func NewStubRPCClient() *StubRPCClient {
	return &StubRPCClient{
		tokens:  make(map[Pubkey]*TokenInfo),
		pools:   make(map[Pubkey]*PoolInfo),
		holders: make(map[Pubkey][]HolderInfo),
		balance: &WalletBalance{
			SOL:    decimal.NewFromFloat(10.0),
			Tokens: make(map[Pubkey]decimal.Decimal),
		},
	}
}

// AddToken registers a token for the stub to return.
func (s *StubRPCClient) AddToken(info TokenInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[info.Mint] = &info
}

// AddPool registers a pool for the stub to return.
func (s *StubRPCClient) AddPool(info PoolInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[info.PoolAddress] = &info
}

// AddHolders registers holders for a token mint.
func (s *StubRPCClient) AddHolders(mint Pubkey, holders []HolderInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holders[mint] = holders
}

// FailNext makes the next SendTransaction call fail once.
func (s *StubRPCClient) FailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

func (s *StubRPCClient) GetTokenInfo(_ context.Context, mint Pubkey) (*TokenInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.tokens[mint]
	if !ok {
		return nil, fmt.Errorf("stub: token %s not found", mint)
	}
	return info, nil
}

func (s *StubRPCClient) GetTopHolders(_ context.Context, mint Pubkey, limit int) ([]HolderInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	holders := s.holders[mint]
	if len(holders) > limit {
		holders = holders[:limit]
	}
	return holders, nil
}

func (s *StubRPCClient) GetWalletBalance(_ context.Context, _ Pubkey) (*WalletBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance, nil
}

func (s *StubRPCClient) GetPoolInfo(_ context.Context, poolAddress Pubkey) (*PoolInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pool, ok := s.pools[poolAddress]
	if !ok {
		return nil, fmt.Errorf("stub: pool %s not found", poolAddress)
	}
	cp := *pool
	return &cp, nil
}

func (s *StubRPCClient) SendTransaction(_ context.Context, _ string) (Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return "", fmt.Errorf("stub: transaction failed")
	}
	s.sendSeq++
	return Signature(fmt.Sprintf("STUB-SIG-%d", s.sendSeq)), nil
}

func (s *StubRPCClient) GetTransactionStatus(_ context.Context, _ Signature) (string, error) {
	return "confirmed", nil
}

func (s *StubRPCClient) Health(_ context.Context) error {
	return nil
}
