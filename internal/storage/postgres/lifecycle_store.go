package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sentinel-trading/sentinel/internal/storage"
)

// LifecycleStore implements storage.LifecycleStore using PostgreSQL.
type LifecycleStore struct {
	pool *Pool
}

// NewLifecycleStore creates a new LifecycleStore.
func NewLifecycleStore(pool *Pool) *LifecycleStore {
	return &LifecycleStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LifecycleStore = (*LifecycleStore)(nil)

// Insert adds a new lifecycle record. Returns ErrDuplicateKey if the
// (owner, mint) pair already exists.
func (s *LifecycleStore) Insert(ctx context.Context, rec *storage.AssetRecord) error {
	query := `
		INSERT INTO asset_lifecycle (
			owner, mint, state, reason, score, attempts, max_retries, deployer,
			tx_ref, position_ref, first_seen_at, updated_at, pending_since, retry_expiry
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := s.pool.Exec(ctx, query,
		rec.Owner,
		rec.Mint,
		rec.State,
		rec.Reason,
		rec.Score,
		rec.Attempts,
		rec.MaxRetries,
		rec.Deployer,
		rec.TxRef,
		rec.PositionRef,
		rec.FirstSeenAt,
		rec.UpdatedAt,
		rec.PendingSince,
		rec.RetryExpiry,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert lifecycle record: %w", err)
	}
	return nil
}

// Get retrieves a record by (owner, mint). Returns ErrNotFound if absent.
func (s *LifecycleStore) Get(ctx context.Context, owner, mint string) (*storage.AssetRecord, error) {
	query := `
		SELECT owner, mint, state, reason, score, attempts, max_retries, deployer,
		       tx_ref, position_ref, first_seen_at, updated_at, pending_since, retry_expiry
		FROM asset_lifecycle
		WHERE owner = $1 AND mint = $2
	`

	row := s.pool.QueryRow(ctx, query, owner, mint)
	rec, err := scanAssetRecord(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get lifecycle record: %w", err)
	}
	return rec, nil
}

// UpdateState persists a state transition. Returns ErrNotFound if absent.
func (s *LifecycleStore) UpdateState(ctx context.Context, rec *storage.AssetRecord) error {
	query := `
		UPDATE asset_lifecycle
		SET state = $3, reason = $4, score = $5, attempts = $6, tx_ref = $7,
		    position_ref = $8, updated_at = $9, pending_since = $10, retry_expiry = $11
		WHERE owner = $1 AND mint = $2
	`

	tag, err := s.pool.Exec(ctx, query,
		rec.Owner,
		rec.Mint,
		rec.State,
		rec.Reason,
		rec.Score,
		rec.Attempts,
		rec.TxRef,
		rec.PositionRef,
		rec.UpdatedAt,
		rec.PendingSince,
		rec.RetryExpiry,
	)
	if err != nil {
		return fmt.Errorf("update lifecycle state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListByState returns all records for an owner in the given state.
func (s *LifecycleStore) ListByState(ctx context.Context, owner, state string) ([]*storage.AssetRecord, error) {
	query := `
		SELECT owner, mint, state, reason, score, attempts, max_retries, deployer,
		       tx_ref, position_ref, first_seen_at, updated_at, pending_since, retry_expiry
		FROM asset_lifecycle
		WHERE owner = $1 AND state = $2
		ORDER BY first_seen_at ASC, mint ASC
	`

	rows, err := s.pool.Query(ctx, query, owner, state)
	if err != nil {
		return nil, fmt.Errorf("list lifecycle records: %w", err)
	}
	defer rows.Close()

	return scanAssetRecords(rows)
}

// DeleteByState removes all records for an owner in the given state.
func (s *LifecycleStore) DeleteByState(ctx context.Context, owner, state string) (int64, error) {
	query := `DELETE FROM asset_lifecycle WHERE owner = $1 AND state = $2`

	tag, err := s.pool.Exec(ctx, query, owner, state)
	if err != nil {
		return 0, fmt.Errorf("delete lifecycle records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanAssetRecord scans a single row into an AssetRecord.
func scanAssetRecord(row pgx.Row) (*storage.AssetRecord, error) {
	var rec storage.AssetRecord
	err := row.Scan(
		&rec.Owner,
		&rec.Mint,
		&rec.State,
		&rec.Reason,
		&rec.Score,
		&rec.Attempts,
		&rec.MaxRetries,
		&rec.Deployer,
		&rec.TxRef,
		&rec.PositionRef,
		&rec.FirstSeenAt,
		&rec.UpdatedAt,
		&rec.PendingSince,
		&rec.RetryExpiry,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// scanAssetRecords scans multiple rows into a slice of AssetRecord.
func scanAssetRecords(rows pgx.Rows) ([]*storage.AssetRecord, error) {
	var records []*storage.AssetRecord

	for rows.Next() {
		var rec storage.AssetRecord
		err := rows.Scan(
			&rec.Owner,
			&rec.Mint,
			&rec.State,
			&rec.Reason,
			&rec.Score,
			&rec.Attempts,
			&rec.MaxRetries,
			&rec.Deployer,
			&rec.TxRef,
			&rec.PositionRef,
			&rec.FirstSeenAt,
			&rec.UpdatedAt,
			&rec.PendingSince,
			&rec.RetryExpiry,
		)
		if err != nil {
			return nil, fmt.Errorf("scan lifecycle row: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lifecycle rows: %w", err)
	}

	return records, nil
}
