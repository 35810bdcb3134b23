// Package memstore is an in-memory Storage collaborator with a real
// conditional-write contract and journaled rollback. It backs the engine's
// tests and serves as the reference implementation of the atomic-unit
// semantics the persistent stores must honor.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/statecraft-io/statecraft/machine"
)

var (
	// ErrRecordUnknown indicates the record was never created in the store.
	ErrRecordUnknown = errors.New("record unknown to store")
	// ErrRecordExists indicates a duplicate create.
	ErrRecordExists = errors.New("record already created")
	// ErrUnitClosed indicates use of a unit after Commit or Rollback.
	ErrUnitClosed = errors.New("atomic unit already closed")
)

// Store is an in-memory machine.Storage. Units on distinct records never
// block one another; units on the same record serialize on a per-record
// lock held from Begin until the unit closes.
type Store struct {
	mu      sync.Mutex
	states  map[string]machine.StateName
	owners  map[string]machine.OwnerType
	changes map[string][]machine.StateChange
	locks   sync.Map // record ID -> *sync.Mutex

	commits   atomic.Int64
	rollbacks atomic.Int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		states:  make(map[string]machine.StateName),
		owners:  make(map[string]machine.OwnerType),
		changes: make(map[string][]machine.StateChange),
	}
}

// CreateRecord persists a new record with its current state. The host calls
// this between AssignInitialState and RunInitialStateActions.
func (s *Store) CreateRecord(_ context.Context, rec machine.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.states[rec.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrRecordExists, rec.ID())
	}

	s.states[rec.ID()] = rec.CurrentState()
	s.owners[rec.ID()] = rec.Owner()

	return nil
}

// ReadCurrentState returns the record's committed state.
func (s *Store) ReadCurrentState(_ context.Context, rec machine.Record) (machine.StateName, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, exists := s.states[rec.ID()]
	if !exists {
		return machine.NoState, fmt.Errorf("%w: %s", ErrRecordUnknown, rec.ID())
	}

	return state, nil
}

// HasStateChanges reports whether any audit entry exists for the record.
func (s *Store) HasStateChanges(_ context.Context, rec machine.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.changes[rec.ID()]) > 0, nil
}

// CountInState counts committed records of the owner type in the given state.
func (s *Store) CountInState(
	_ context.Context,
	owner machine.OwnerType,
	state machine.StateName,
) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0

	for id, current := range s.states {
		if s.owners[id] == owner && current == state {
			count++
		}
	}

	return count, nil
}

// History returns a copy of the record's committed audit entries in append order.
func (s *Store) History(rec machine.Record) []machine.StateChange {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]machine.StateChange(nil), s.changes[rec.ID()]...)
}

// Commits returns the number of committed units.
func (s *Store) Commits() int64 {
	return s.commits.Load()
}

// Rollbacks returns the number of rolled-back units.
func (s *Store) Rollbacks() int64 {
	return s.rollbacks.Load()
}

func (s *Store) recordLock(id string) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(id, &sync.Mutex{})

	return lock.(*sync.Mutex) //nolint:forcetypeassert // only *sync.Mutex is stored
}

// Begin opens an atomic unit scoped to the record, taking its per-record
// lock. The lock is released when the unit commits or rolls back.
func (s *Store) Begin(_ context.Context, rec machine.Record) (machine.AtomicUnit, error) {
	lock := s.recordLock(rec.ID())
	lock.Lock()

	return &unit{store: s, recID: rec.ID(), lock: lock}, nil
}

// stagedWrite is a pending conditional state assignment.
type stagedWrite struct {
	expected machine.StateName
	to       machine.StateName
}

type unit struct {
	store   *Store
	recID   string
	lock    *sync.Mutex
	write   *stagedWrite
	changes []machine.StateChange
	closed  bool
}

func (u *unit) WriteState(
	_ context.Context,
	rec machine.Record,
	expected, to machine.StateName,
) error {
	if u.closed {
		return ErrUnitClosed
	}

	u.store.mu.Lock()
	defer u.store.mu.Unlock()

	current, exists := u.store.states[rec.ID()]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRecordUnknown, rec.ID())
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

func (u *unit) Commit(_ context.Context) error {
	if u.closed {
		return ErrUnitClosed
	}

	u.store.mu.Lock()
	defer u.store.mu.Unlock()

	if u.write != nil {
		current := u.store.states[u.recID]
		if current != u.write.expected {
			// Unreachable while the per-record lock is held, kept as a
			// commit-time recheck of the conditional-write contract.
			u.close()

			return fmt.Errorf("%w: have %s, expected %s", machine.ErrStaleState, current, u.write.expected)
		}

		u.store.states[u.recID] = u.write.to
	}

	u.store.changes[u.recID] = append(u.store.changes[u.recID], u.changes...)
	u.store.commits.Inc()
	u.close()

	return nil
}

func (u *unit) Rollback(_ context.Context) error {
	if u.closed {
		return nil
	}

	u.write = nil
	u.changes = nil
	u.store.rollbacks.Inc()
	u.close()

	return nil
}

func (u *unit) close() {
	u.closed = true
	u.lock.Unlock()
}
