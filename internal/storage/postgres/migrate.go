package postgres

import (
	"context"
	"fmt"
)

// Migrate creates the schema if it does not exist.
func Migrate(ctx context.Context, pool *Pool) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS asset_lifecycle (
  owner         TEXT NOT NULL,
  mint          TEXT NOT NULL,
  state         TEXT NOT NULL,
  reason        TEXT NOT NULL DEFAULT '',
  score         DOUBLE PRECISION NOT NULL DEFAULT 0,
  attempts      INTEGER NOT NULL DEFAULT 0,
  max_retries   INTEGER NOT NULL DEFAULT 0,
  deployer      TEXT NOT NULL DEFAULT '',
  tx_ref        TEXT NOT NULL DEFAULT '',
  position_ref  TEXT NOT NULL DEFAULT '',
  first_seen_at TIMESTAMPTZ NOT NULL,
  updated_at    TIMESTAMPTZ NOT NULL,
  pending_since TIMESTAMPTZ,
  retry_expiry  TIMESTAMPTZ,
  PRIMARY KEY (owner, mint)
);`,
		`CREATE INDEX IF NOT EXISTS idx_asset_lifecycle_state ON asset_lifecycle (owner, state);`,
		`
CREATE TABLE IF NOT EXISTS positions (
  id           TEXT PRIMARY KEY,
  owner        TEXT NOT NULL,
  mint         TEXT NOT NULL,
  pool_address TEXT NOT NULL,
  entry_price  TEXT NOT NULL,
  amount_sol   TEXT NOT NULL,
  exit_price   TEXT NOT NULL DEFAULT '',
  pnl_usd      TEXT NOT NULL DEFAULT '',
  status       TEXT NOT NULL,
  tx_signature TEXT NOT NULL DEFAULT '',
  opened_at    TIMESTAMPTZ NOT NULL,
  closed_at    TIMESTAMPTZ
);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_open ON positions (owner, status);`,
		`
CREATE TABLE IF NOT EXISTS deployers (
  address       TEXT PRIMARY KEY,
  tokens_seen   INTEGER NOT NULL DEFAULT 0,
  rug_count     INTEGER NOT NULL DEFAULT 0,
  success_count INTEGER NOT NULL DEFAULT 0,
  flagged       BOOLEAN NOT NULL DEFAULT FALSE,
  flag_reason   TEXT NOT NULL DEFAULT '',
  first_seen_at TIMESTAMPTZ NOT NULL,
  updated_at    TIMESTAMPTZ NOT NULL
);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
