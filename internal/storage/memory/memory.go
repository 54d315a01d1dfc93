// Package memory provides in-memory store implementations used in
// tests and dry-run mode where no Postgres is available.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/sentinel-trading/sentinel/internal/storage"
)

// ---------------------------------------------------------------------------
// Lifecycle store
// ---------------------------------------------------------------------------

type lifecycleKey struct {
	owner string
	mint  string
}

// LifecycleStore is an in-memory storage.LifecycleStore.
type LifecycleStore struct {
	mu      sync.RWMutex
	records map[lifecycleKey]*storage.AssetRecord
}

// NewLifecycleStore creates an empty in-memory lifecycle store.
func NewLifecycleStore() *LifecycleStore {
	return &LifecycleStore{records: make(map[lifecycleKey]*storage.AssetRecord)}
}

var _ storage.LifecycleStore = (*LifecycleStore)(nil)

func (s *LifecycleStore) Insert(_ context.Context, rec *storage.AssetRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := lifecycleKey{owner: rec.Owner, mint: rec.Mint}
	if _, exists := s.records[k]; exists {
		return storage.ErrDuplicateKey
	}
	cp := *rec
	s.records[k] = &cp
	return nil
}

func (s *LifecycleStore) Get(_ context.Context, owner, mint string) (*storage.AssetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[lifecycleKey{owner: owner, mint: mint}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *LifecycleStore) UpdateState(_ context.Context, rec *storage.AssetRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := lifecycleKey{owner: rec.Owner, mint: rec.Mint}
	cur, ok := s.records[k]
	if !ok {
		return storage.ErrNotFound
	}
	cur.State = rec.State
	cur.Reason = rec.Reason
	cur.Score = rec.Score
	cur.Attempts = rec.Attempts
	cur.TxRef = rec.TxRef
	cur.PositionRef = rec.PositionRef
	cur.UpdatedAt = rec.UpdatedAt
	cur.PendingSince = rec.PendingSince
	cur.RetryExpiry = rec.RetryExpiry
	return nil
}

func (s *LifecycleStore) ListByState(_ context.Context, owner, state string) ([]*storage.AssetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*storage.AssetRecord
	for _, rec := range s.records {
		if rec.Owner == owner && rec.State == state {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *LifecycleStore) DeleteByState(_ context.Context, owner, state string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for k, rec := range s.records {
		if rec.Owner == owner && rec.State == state {
			delete(s.records, k)
			removed++
		}
	}
	return removed, nil
}

// ---------------------------------------------------------------------------
// Position store
// ---------------------------------------------------------------------------

// PositionStore is an in-memory storage.PositionStore.
type PositionStore struct {
	mu      sync.RWMutex
	records map[string]*storage.PositionRecord
}

// NewPositionStore creates an empty in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{records: make(map[string]*storage.PositionRecord)}
}

var _ storage.PositionStore = (*PositionStore)(nil)

func (s *PositionStore) Insert(_ context.Context, rec *storage.PositionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return storage.ErrDuplicateKey
	}
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *PositionStore) GetByID(_ context.Context, id string) (*storage.PositionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *PositionStore) ListOpen(_ context.Context, owner string) ([]*storage.PositionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*storage.PositionRecord
	for _, rec := range s.records {
		if rec.Owner == owner && rec.Status == "open" {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *PositionStore) Close(_ context.Context, id, exitPrice, pnlUSD, status string, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return storage.ErrNotFound
	}
	rec.ExitPrice = exitPrice
	rec.PnLUSD = pnlUSD
	rec.Status = status
	rec.ClosedAt = &closedAt
	return nil
}

// ---------------------------------------------------------------------------
// Deployer store
// ---------------------------------------------------------------------------

// DeployerStore is an in-memory storage.DeployerStore.
type DeployerStore struct {
	mu      sync.RWMutex
	records map[string]*storage.DeployerRecord
}

// NewDeployerStore creates an empty in-memory deployer store.
func NewDeployerStore() *DeployerStore {
	return &DeployerStore{records: make(map[string]*storage.DeployerRecord)}
}

var _ storage.DeployerStore = (*DeployerStore)(nil)

func (s *DeployerStore) Upsert(_ context.Context, rec *storage.DeployerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.records[rec.Address] = &cp
	return nil
}

func (s *DeployerStore) Get(_ context.Context, address string) (*storage.DeployerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *DeployerStore) Flag(_ context.Context, address, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[address]
	if !ok {
		return storage.ErrNotFound
	}
	rec.Flagged = true
	rec.FlagReason = reason
	rec.UpdatedAt = time.Now()
	return nil
}
