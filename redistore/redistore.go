// Package redistore is a Redis-backed Storage. Atomic units stage their
// writes in memory and execute them at commit time inside a WATCH/MULTI/EXEC
// transaction on the record's state key, so the conditional-write check and
// the audit append land together or not at all.
package redistore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	backend "github.com/redis/go-redis/v9"

	"github.com/statecraft-io/statecraft/machine"
)

var (
	ErrRecordUnknown = errors.New("record unknown to store")
	ErrRecordExists  = errors.New("record already created")
	ErrUnitClosed    = errors.New("atomic unit already closed")
)

// Store implements machine.Storage on a Redis client.
type Store struct {
	client *backend.Client
	prefix string
}

type Option func(*Store)

// WithPrefix sets the key prefix for all store keys.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a store with its own client.
func New(address, password string, db int, opts ...Option) *Store {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	return NewFromClient(client, opts...)
}

// NewFromClient creates a store on an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "statecraft:",
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

func (s *Store) stateKey(id string) string {
	return s.prefix + "state:" + id
}

func (s *Store) ownerKey(id string) string {
	return s.prefix + "owner:" + id
}

func (s *Store) changesKey(id string) string {
	return s.prefix + "changes:" + id
}

// CreateRecord persists a new record with its current state.
func (s *Store) CreateRecord(ctx context.Context, rec machine.Record) error {
	created, err := s.client.SetNX(ctx, s.stateKey(rec.ID()), string(rec.CurrentState()), 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create record %s: %w", rec.ID(), err)
	}

	if !created {
		return fmt.Errorf("%w: %s", ErrRecordExists, rec.ID())
	}

	if err := s.client.Set(ctx, s.ownerKey(rec.ID()), string(rec.Owner()), 0).Err(); err != nil {
		return fmt.Errorf("failed to record owner of %s: %w", rec.ID(), err)
	}

	return nil
}

// ReadCurrentState returns the record's committed state.
func (s *Store) ReadCurrentState(ctx context.Context, rec machine.Record) (machine.StateName, error) {
	state, err := s.client.Get(ctx, s.stateKey(rec.ID())).Result()
	if errors.Is(err, backend.Nil) {
		return machine.NoState, fmt.Errorf("%w: %s", ErrRecordUnknown, rec.ID())
	}

	if err != nil {
		return machine.NoState, fmt.Errorf("failed to read state of %s: %w", rec.ID(), err)
	}

	return machine.StateName(state), nil
}

// HasStateChanges reports whether any audit entry exists for the record.
func (s *Store) HasStateChanges(ctx context.Context, rec machine.Record) (bool, error) {
	length, err := s.client.LLen(ctx, s.changesKey(rec.ID())).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check state changes of %s: %w", rec.ID(), err)
	}

	return length > 0, nil
}

// CountInState counts committed records of the owner type in the given state.
// It scans the state keyspace; intended for dashboards, not hot paths.
func (s *Store) CountInState(
	ctx context.Context,
	owner machine.OwnerType,
	state machine.StateName,
) (int, error) {
	count := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"state:*", 0).Iterator()

	for iter.Next(ctx) {
		key := iter.Val()

		current, err := s.client.Get(ctx, key).Result()
		if errors.Is(err, backend.Nil) {
			continue
		}

		if err != nil {
			return 0, fmt.Errorf("failed to read %s: %w", key, err)
		}

		if machine.StateName(current) != state {
			continue
		}

		id := key[len(s.prefix+"state:"):]

		recOwner, err := s.client.Get(ctx, s.ownerKey(id)).Result()
		if err != nil && !errors.Is(err, backend.Nil) {
			return 0, fmt.Errorf("failed to read owner of %s: %w", id, err)
		}

		if machine.OwnerType(recOwner) == owner {
			count++
		}
	}

	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan records: %w", err)
	}

	return count, nil
}

// History returns the record's committed audit entries in append order.
func (s *Store) History(ctx context.Context, rec machine.Record) ([]machine.StateChange, error) {
	raw, err := s.client.LRange(ctx, s.changesKey(rec.ID()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history of %s: %w", rec.ID(), err)
	}

	history := make([]machine.StateChange, 0, len(raw))

	for _, entry := range raw {
		var change machine.StateChange
		if err := json.Unmarshal([]byte(entry), &change); err != nil {
			return nil, fmt.Errorf("failed to decode state change of %s: %w", rec.ID(), err)
		}

		history = append(history, change)
	}

	return history, nil
}

// Begin opens a staged unit for the record.
func (s *Store) Begin(_ context.Context, rec machine.Record) (machine.AtomicUnit, error) {
	return &unit{store: s, recID: rec.ID()}, nil
}

type stagedWrite struct {
	expected machine.StateName
	to       machine.StateName
}

type unit struct {
	store   *Store
	recID   string
	write   *stagedWrite
	changes []machine.StateChange
	closed  bool
}

// WriteState checks the expectation against the committed state immediately
// for early conflict detection, then stages the write. The authoritative
// check reruns under WATCH at commit.
func (u *unit) WriteState(
	ctx context.Context,
	rec machine.Record,
	expected, to machine.StateName,
) error {
	if u.closed {
		return ErrUnitClosed
	}

	current, err := u.store.ReadCurrentState(ctx, rec)
	if err != nil {
		return err
	}

	if current != expected {
		return fmt.Errorf("%w: have %s, expected %s", machine.ErrStaleState, current, expected)
	}

	u.write = &stagedWrite{expected: expected, to: to}

	return nil
}

func (u *unit) AppendChange(_ context.Context, _ machine.Record, change machine.StateChange) error {
	if u.closed {
		return ErrUnitClosed
	}

	u.changes = append(u.changes, change)

	return nil
}

func (u *unit) Commit(ctx context.Context) error {
	if u.closed {
		return ErrUnitClosed
	}

	u.closed = true
	stateKey := u.store.stateKey(u.recID)

	encoded := make([]any, 0, len(u.changes))

	for _, change := range u.changes {
		data, err := json.Marshal(change)
		if err != nil {
			return fmt.Errorf("failed to encode state change of %s: %w", u.recID, err)
		}

		encoded = append(encoded, data)
	}

	execute := func(tx *backend.Tx) error {
		if u.write != nil {
			current, err := tx.Get(ctx, stateKey).Result()
			if errors.Is(err, backend.Nil) {
				return fmt.Errorf("%w: %s", ErrRecordUnknown, u.recID)
			}

			if err != nil {
				return fmt.Errorf("failed to read state of %s: %w", u.recID, err)
			}

			if machine.StateName(current) != u.write.expected {
				return fmt.Errorf("%w: have %s, expected %s",
					machine.ErrStaleState, current, u.write.expected)
			}
		}

		_, err := tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			if u.write != nil {
				pipe.Set(ctx, stateKey, string(u.write.to), 0)
			}

			if len(encoded) > 0 {
				pipe.RPush(ctx, u.store.changesKey(u.recID), encoded...)
			}

			return nil
		})

		return err
	}

	err := u.store.client.Watch(ctx, execute, stateKey)
	if errors.Is(err, backend.TxFailedErr) {
		// Another writer touched the state key between WATCH and EXEC.
		return fmt.Errorf("%w: record %s changed during commit", machine.ErrStaleState, u.recID)
	}

	if err != nil {
		return fmt.Errorf("failed to commit transition of %s: %w", u.recID, err)
	}

	return nil
}

func (u *unit) Rollback(context.Context) error {
	if u.closed {
		return nil
	}

	u.write = nil
	u.changes = nil
	u.closed = true

	return nil
}
