package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/sentinel-trading/sentinel/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

// Insert adds a new position. Returns ErrDuplicateKey if the ID exists.
func (s *PositionStore) Insert(ctx context.Context, rec *storage.PositionRecord) error {
	query := `
		INSERT INTO positions (
			id, owner, mint, pool_address, entry_price, amount_sol,
			exit_price, pnl_usd, status, tx_signature, opened_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.pool.Exec(ctx, query,
		rec.ID,
		rec.Owner,
		rec.Mint,
		rec.PoolAddress,
		rec.EntryPrice,
		rec.AmountSOL,
		rec.ExitPrice,
		rec.PnLUSD,
		rec.Status,
		rec.TxSignature,
		rec.OpenedAt,
		rec.ClosedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// GetByID retrieves a position. Returns ErrNotFound if absent.
func (s *PositionStore) GetByID(ctx context.Context, id string) (*storage.PositionRecord, error) {
	query := `
		SELECT id, owner, mint, pool_address, entry_price, amount_sol,
		       exit_price, pnl_usd, status, tx_signature, opened_at, closed_at
		FROM positions
		WHERE id = $1
	`

	var rec storage.PositionRecord
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID,
		&rec.Owner,
		&rec.Mint,
		&rec.PoolAddress,
		&rec.EntryPrice,
		&rec.AmountSOL,
		&rec.ExitPrice,
		&rec.PnLUSD,
		&rec.Status,
		&rec.TxSignature,
		&rec.OpenedAt,
		&rec.ClosedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position by id: %w", err)
	}
	return &rec, nil
}

// ListOpen returns all open positions for an owner.
func (s *PositionStore) ListOpen(ctx context.Context, owner string) ([]*storage.PositionRecord, error) {
	query := `
		SELECT id, owner, mint, pool_address, entry_price, amount_sol,
		       exit_price, pnl_usd, status, tx_signature, opened_at, closed_at
		FROM positions
		WHERE owner = $1 AND status = 'open'
		ORDER BY opened_at ASC
	`

	rows, err := s.pool.Query(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	defer rows.Close()

	var records []*storage.PositionRecord
	for rows.Next() {
		var rec storage.PositionRecord
		err := rows.Scan(
			&rec.ID,
			&rec.Owner,
			&rec.Mint,
			&rec.PoolAddress,
			&rec.EntryPrice,
			&rec.AmountSOL,
			&rec.ExitPrice,
			&rec.PnLUSD,
			&rec.Status,
			&rec.TxSignature,
			&rec.OpenedAt,
			&rec.ClosedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}

	return records, nil
}

// Close marks a position closed with exit details. Returns ErrNotFound if absent.
func (s *PositionStore) Close(ctx context.Context, id, exitPrice, pnlUSD, status string, closedAt time.Time) error {
	query := `
		UPDATE positions
		SET exit_price = $2, pnl_usd = $3, status = $4, closed_at = $5
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query, id, exitPrice, pnlUSD, status, closedAt)
	if err != nil {
		return fmt.Errorf("close position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
