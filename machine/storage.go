package machine

import (
	"context"
	"time"
)

// StateChange is one audit entry: a realized transition, or the synthetic
// birth entry with nil From and nil Event that marks a record entering its
// initial state. Entries are append-only; the engine never mutates or
// deletes them.
type StateChange struct {
	ID         string     `json:"id"`
	RecordID   string     `json:"record_id"`
	Owner      OwnerType  `json:"owner"`
	From       *StateName `json:"from,omitempty"`
	To         StateName  `json:"to"`
	Event      *EventName `json:"event,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// IsBootstrap reports whether this is the synthetic initial-state entry.
func (c StateChange) IsBootstrap() bool {
	return c.From == nil && c.Event == nil
}

// AtomicUnit is a scoped unit of work opened by Storage.Begin. All writes
// staged through it become durable together on Commit and vanish together
// on Rollback. Exactly one of Commit or Rollback must be called.
type AtomicUnit interface {
	// WriteState conditionally assigns the record's persisted state. It
	// fails with an error wrapping ErrStaleState when the persisted state
	// no longer equals expected, either at call time or at Commit.
	WriteState(ctx context.Context, rec Record, expected, to StateName) error

	// AppendChange stages an audit entry. Durable only on Commit.
	AppendChange(ctx context.Context, rec Record, change StateChange) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Storage is the persistence collaborator the engine drives. The engine
// owns transition semantics; Storage owns durability and the conditional
// write that serializes concurrent writers per record.
type Storage interface {
	// ReadCurrentState returns the record's persisted state.
	ReadCurrentState(ctx context.Context, rec Record) (StateName, error)

	// Begin opens an atomic unit scoped to one record.
	Begin(ctx context.Context, rec Record) (AtomicUnit, error)

	// HasStateChanges reports whether any audit entry exists for the
	// record. Used to make initial-state bootstrap run at most once.
	HasStateChanges(ctx context.Context, rec Record) (bool, error)

	// CountInState counts persisted records of the owner type currently
	// in the given state.
	CountInState(ctx context.Context, owner OwnerType, state StateName) (int, error)
}

// Recorder mirrors committed state changes to an external audit sink, in
// addition to the storage-native audit entries staged on the atomic unit.
// Append stages; Commit makes the record's staged entries durable; Discard
// drops them. The executor calls Append only inside an atomic unit and
// resolves the stage in step with the unit's own outcome.
type Recorder interface {
	Append(ctx context.Context, rec Record, change StateChange) error
	Commit(ctx context.Context, rec Record) error
	Discard(rec Record)
}
