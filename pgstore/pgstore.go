// Package pgstore is a PostgreSQL-backed Storage built on pgx. Each atomic
// unit maps to one database transaction, and the conditional state write is a
// compare-and-set UPDATE guarded by the expected current state.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/statecraft-io/statecraft/machine"
)

var (
	ErrEmptyConnectionString = errors.New("empty postgres connection string")
	ErrFailedToParseConfig   = errors.New("failed to parse postgres pool config")
	ErrFailedToConnect       = errors.New("failed to connect to postgres")
	ErrFailedToEnsureSchema  = errors.New("failed to ensure store schema")
	ErrRecordUnknown         = errors.New("record unknown to store")
	ErrRecordExists          = errors.New("record already created")
)

// Store implements machine.Storage on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. The caller owns the pool's lifecycle.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateRecord inserts the record with its current state.
func (s *Store) CreateRecord(ctx context.Context, rec machine.Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO machine_records (record_id, owner_type, current_state) VALUES ($1, $2, $3)`,
		rec.ID(), rec.Owner(), rec.CurrentState())
	if isDuplicateKey(err) {
		return fmt.Errorf("%w: %s", ErrRecordExists, rec.ID())
	}

	if err != nil {
		return fmt.Errorf("failed to create record %s: %w", rec.ID(), err)
	}

	return nil
}

// ReadCurrentState returns the record's committed state.
func (s *Store) ReadCurrentState(ctx context.Context, rec machine.Record) (machine.StateName, error) {
	var state machine.StateName

	err := s.pool.QueryRow(ctx,
		`SELECT current_state FROM machine_records WHERE record_id = $1`,
		rec.ID()).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return machine.NoState, fmt.Errorf("%w: %s", ErrRecordUnknown, rec.ID())
	}

	if err != nil {
		return machine.NoState, fmt.Errorf("failed to read state of %s: %w", rec.ID(), err)
	}

	return state, nil
}

// HasStateChanges reports whether any audit entry exists for the record.
func (s *Store) HasStateChanges(ctx context.Context, rec machine.Record) (bool, error) {
	var exists bool

	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM state_changes WHERE record_id = $1)`,
		rec.ID()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check state changes of %s: %w", rec.ID(), err)
	}

	return exists, nil
}

// CountInState counts committed records of the owner type in the given state.
func (s *Store) CountInState(
	ctx context.Context,
	owner machine.OwnerType,
	state machine.StateName,
) (int, error) {
	var count int

	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM machine_records WHERE owner_type = $1 AND current_state = $2`,
		owner, state).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s records in %s: %w", owner, state, err)
	}

	return count, nil
}

// History returns the record's audit entries in occurrence order.
func (s *Store) History(ctx context.Context, rec machine.Record) ([]machine.StateChange, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, record_id, owner_type, from_state, to_state, event, occurred_at
		 FROM state_changes WHERE record_id = $1 ORDER BY occurred_at, id`,
		rec.ID())
	if err != nil {
		return nil, fmt.Errorf("failed to read history of %s: %w", rec.ID(), err)
	}
	defer rows.Close()

	var history []machine.StateChange

	for rows.Next() {
		var change machine.StateChange
		if err := rows.Scan(&change.ID, &change.RecordID, &change.Owner,
			&change.From, &change.To, &change.Event, &change.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan state change: %w", err)
		}

		history = append(history, change)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history of %s: %w", rec.ID(), err)
	}

	return history, nil
}

// Begin opens a database transaction scoped to one transition.
func (s *Store) Begin(ctx context.Context, _ machine.Record) (machine.AtomicUnit, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &unit{tx: tx}, nil
}

type unit struct {
	tx pgx.Tx
}

// WriteState performs the conditional write. An UPDATE that matches no row
// means either the record is unknown or another writer moved it first.
func (u *unit) WriteState(
	ctx context.Context,
	rec machine.Record,
	expected, to machine.StateName,
) error {
	tag, err := u.tx.Exec(ctx,
		`UPDATE machine_records SET current_state = $1 WHERE record_id = $2 AND current_state = $3`,
		to, rec.ID(), expected)
	if err != nil {
		return fmt.Errorf("failed to write state of %s: %w", rec.ID(), err)
	}

	if tag.RowsAffected() == 0 {
		var current machine.StateName

		err := u.tx.QueryRow(ctx,
			`SELECT current_state FROM machine_records WHERE record_id = $1`,
			rec.ID()).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrRecordUnknown, rec.ID())
		}

		if err != nil {
			return fmt.Errorf("failed to read state of %s: %w", rec.ID(), err)
		}

		return fmt.Errorf("%w: have %s, expected %s", machine.ErrStaleState, current, expected)
	}

	return nil
}

func (u *unit) AppendChange(ctx context.Context, _ machine.Record, change machine.StateChange) error {
	_, err := u.tx.Exec(ctx,
		`INSERT INTO state_changes (id, record_id, owner_type, from_state, to_state, event, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		change.ID, change.RecordID, change.Owner, change.From, change.To, change.Event, change.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to append state change for %s: %w", change.RecordID, err)
	}

	return nil
}

func (u *unit) Commit(ctx context.Context) error {
	if err := u.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}

	return nil
}

func (u *unit) Rollback(ctx context.Context) error {
	err := u.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("failed to roll back transition: %w", err)
	}

	return nil
}

func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
