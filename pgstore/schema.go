package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the DDL for the two tables the store uses: one row per governed
// record, and an append-only audit table of state changes.
const Schema = `
CREATE TABLE IF NOT EXISTS machine_records (
	record_id     TEXT PRIMARY KEY,
	owner_type    TEXT NOT NULL,
	current_state TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS machine_records_owner_state_idx
	ON machine_records (owner_type, current_state);

CREATE TABLE IF NOT EXISTS state_changes (
	id          UUID PRIMARY KEY,
	record_id   TEXT NOT NULL,
	owner_type  TEXT NOT NULL,
	from_state  TEXT,
	to_state    TEXT NOT NULL,
	event       TEXT,
	occurred_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS state_changes_record_idx
	ON state_changes (record_id, occurred_at);
`

// EnsureSchema creates the store's tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return errors.Join(ErrFailedToEnsureSchema, err)
	}

	return nil
}
