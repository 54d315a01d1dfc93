package postgres

import (
	"context"
	"fmt"

	"github.com/sentinel-trading/sentinel/internal/storage"
)

// DeployerStore implements storage.DeployerStore using PostgreSQL.
type DeployerStore struct {
	pool *Pool
}

// NewDeployerStore creates a new DeployerStore.
func NewDeployerStore(pool *Pool) *DeployerStore {
	return &DeployerStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DeployerStore = (*DeployerStore)(nil)

// Upsert inserts or updates a deployer reputation record.
func (s *DeployerStore) Upsert(ctx context.Context, rec *storage.DeployerRecord) error {
	query := `
		INSERT INTO deployers (
			address, tokens_seen, rug_count, success_count, flagged, flag_reason, first_seen_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (address) DO UPDATE SET
			tokens_seen = EXCLUDED.tokens_seen,
			rug_count = EXCLUDED.rug_count,
			success_count = EXCLUDED.success_count,
			flagged = EXCLUDED.flagged,
			flag_reason = EXCLUDED.flag_reason,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query,
		rec.Address,
		rec.TokensSeen,
		rec.RugCount,
		rec.SuccessCount,
		rec.Flagged,
		rec.FlagReason,
		rec.FirstSeenAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert deployer: %w", err)
	}
	return nil
}

// Get retrieves a deployer record. Returns ErrNotFound if absent.
func (s *DeployerStore) Get(ctx context.Context, address string) (*storage.DeployerRecord, error) {
	query := `
		SELECT address, tokens_seen, rug_count, success_count, flagged, flag_reason, first_seen_at, updated_at
		FROM deployers
		WHERE address = $1
	`

	var rec storage.DeployerRecord
	err := s.pool.QueryRow(ctx, query, address).Scan(
		&rec.Address,
		&rec.TokensSeen,
		&rec.RugCount,
		&rec.SuccessCount,
		&rec.Flagged,
		&rec.FlagReason,
		&rec.FirstSeenAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get deployer: %w", err)
	}
	return &rec, nil
}

// Flag marks a deployer as hard-blocked. Returns ErrNotFound if absent.
func (s *DeployerStore) Flag(ctx context.Context, address, reason string) error {
	query := `
		UPDATE deployers SET flagged = TRUE, flag_reason = $2, updated_at = NOW()
		WHERE address = $1
	`

	tag, err := s.pool.Exec(ctx, query, address, reason)
	if err != nil {
		return fmt.Errorf("flag deployer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
