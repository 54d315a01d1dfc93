package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by all store implementations.
var (
	ErrNotFound     = errors.New("storage: not found")
	ErrDuplicateKey = errors.New("storage: duplicate key")
)

// AssetRecord is the persisted lifecycle row for one (owner, mint) pair.
// State is stored as its string form; the lifecycle package owns the enum.
type AssetRecord struct {
	Owner        string
	Mint         string
	State        string
	Reason       string
	Score        float64
	Attempts     int
	MaxRetries   int
	Deployer     string
	TxRef        string
	PositionRef  string
	FirstSeenAt  time.Time
	UpdatedAt    time.Time
	PendingSince *time.Time
	RetryExpiry  *time.Time
}

// PositionRecord is a persisted open or closed trade position.
type PositionRecord struct {
	ID          string
	Owner       string
	Mint        string
	PoolAddress string
	EntryPrice  string // decimal as string, exact
	AmountSOL   string
	ExitPrice   string
	PnLUSD      string
	Status      string // open|closed|emergency_exit
	TxSignature string
	OpenedAt    time.Time
	ClosedAt    *time.Time
}

// DeployerRecord tracks the reputation of a token deployer wallet.
type DeployerRecord struct {
	Address     string
	TokensSeen  int
	RugCount    int
	SuccessCount int
	Flagged     bool
	FlagReason  string
	FirstSeenAt time.Time
	UpdatedAt   time.Time
}

// LifecycleStore persists asset lifecycle state.
type LifecycleStore interface {
	// Insert adds a new record. Returns ErrDuplicateKey if the
	// (owner, mint) pair already exists.
	Insert(ctx context.Context, rec *AssetRecord) error

	// Get retrieves a record. Returns ErrNotFound if absent.
	Get(ctx context.Context, owner, mint string) (*AssetRecord, error)

	// UpdateState transitions a record's state, reason, attempts,
	// retry window and terminal references. Returns ErrNotFound if absent.
	UpdateState(ctx context.Context, rec *AssetRecord) error

	// ListByState returns all records for an owner in a given state.
	ListByState(ctx context.Context, owner, state string) ([]*AssetRecord, error)

	// DeleteByState removes all records for an owner in a given state
	// and returns the number removed.
	DeleteByState(ctx context.Context, owner, state string) (int64, error)
}

// PositionStore persists trade positions.
type PositionStore interface {
	Insert(ctx context.Context, rec *PositionRecord) error
	GetByID(ctx context.Context, id string) (*PositionRecord, error)
	ListOpen(ctx context.Context, owner string) ([]*PositionRecord, error)
	Close(ctx context.Context, id, exitPrice, pnlUSD, status string, closedAt time.Time) error
}

// DeployerStore persists deployer reputation.
type DeployerStore interface {
	Upsert(ctx context.Context, rec *DeployerRecord) error
	Get(ctx context.Context, address string) (*DeployerRecord, error)
	Flag(ctx context.Context, address, reason string) error
}
