package machine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// applyTransition runs the correctness-critical callback and atomicity
// protocol for a selected transition. The order is a hard contract:
//
//	before_exit(from) -> before_enter(to) -> before(event)
//	-> conditional write -> audit append
//	-> after_exit(from) -> after_enter(to) -> after(event)
//
// All of it happens inside one atomic unit. Any callback error, a stale
// conditional write, or a failed audit append rolls the whole unit back,
// leaving the record's state exactly as observed on entry and no audit
// entry persisted.
func (m *Machine) applyTransition(
	ctx context.Context,
	rec Record,
	from *State,
	to *State,
	ev *Event,
	args Args,
) (err error) {
	ctx, span := startTransitionSpan(ctx, rec, from.Name(), to.Name(), ev.Name())
	defer func() { endTransitionSpan(span, err) }()

	unit, err := m.storage.Begin(ctx, rec)
	if err != nil {
		return err
	}

	observed := rec.CurrentState()
	committed := false

	defer func() {
		if committed {
			return
		}

		rec.SetCurrentState(observed)

		if m.recorder != nil {
			m.recorder.Discard(rec)
		}

		if rbErr := unit.Rollback(ctx); rbErr != nil {
			m.logger.RollbackFailed(ctx, rec, rbErr)
		}
	}()

	if err = m.runPhase(ctx, rec, PhaseBeforeExit, from.runCallbacks, args); err != nil {
		return err
	}

	if err = m.runPhase(ctx, rec, PhaseBeforeEnter, to.runCallbacks, args); err != nil {
		return err
	}

	if err = m.runEventPhase(ctx, rec, PhaseBeforeEvent, ev.runBefore, args); err != nil {
		return err
	}

	if err = unit.WriteState(ctx, rec, from.Name(), to.Name()); err != nil {
		return m.conflictOrErr(ctx, rec, ev.Name(), from.Name(), err)
	}

	rec.SetCurrentState(to.Name())

	if m.registry.RecordingEnabled(rec.Owner()) {
		change := m.newChange(rec, from.Name(), to.Name(), ev.Name())

		if err = unit.AppendChange(ctx, rec, change); err != nil {
			return err
		}

		if m.recorder != nil {
			if err = m.recorder.Append(ctx, rec, change); err != nil {
				return err
			}
		}
	}

	if err = m.runPhase(ctx, rec, PhaseAfterExit, from.runCallbacks, args); err != nil {
		return err
	}

	if err = m.runPhase(ctx, rec, PhaseAfterEnter, to.runCallbacks, args); err != nil {
		return err
	}

	if err = m.runEventPhase(ctx, rec, PhaseAfterEvent, ev.runAfter, args); err != nil {
		return err
	}

	if err = unit.Commit(ctx); err != nil {
		return m.conflictOrErr(ctx, rec, ev.Name(), from.Name(), err)
	}

	committed = true

	m.logger.TransitionApplied(ctx, rec, from.Name(), to.Name(), ev.Name())
	observeTransition(rec.Owner(), from.Name(), to.Name(), ev.Name())

	if m.recorder != nil && m.registry.RecordingEnabled(rec.Owner()) {
		// The storage-native audit entry is already durable; the mirror
		// sink is best-effort relative to it.
		if recErr := m.recorder.Commit(ctx, rec); recErr != nil {
			m.logger.RecorderFailed(ctx, rec, recErr)
		}
	}

	return nil
}

type phaseRunner func(ctx context.Context, phase Phase, rec Record, args Args) error

func (m *Machine) runPhase(ctx context.Context, rec Record, phase Phase, run phaseRunner, args Args) error {
	start := time.Now()
	err := run(ctx, phase, rec, args)
	observePhase(rec.Owner(), phase, time.Since(start), err)

	return err
}

type eventPhaseRunner func(ctx context.Context, rec Record, args Args) error

func (m *Machine) runEventPhase(
	ctx context.Context,
	rec Record,
	phase Phase,
	run eventPhaseRunner,
	args Args,
) error {
	start := time.Now()
	err := run(ctx, rec, args)
	observePhase(rec.Owner(), phase, time.Since(start), err)

	return err
}

// conflictOrErr converts a stale conditional write into a ConflictError and
// records the conflict; any other storage error passes through.
func (m *Machine) conflictOrErr(
	ctx context.Context,
	rec Record,
	event EventName,
	expected StateName,
	err error,
) error {
	if !errors.Is(err, ErrStaleState) {
		return err
	}

	m.logger.ConflictDetected(ctx, rec, event, expected)
	observeConflict(rec.Owner(), event)

	return &ConflictError{RecID: rec.ID(), Expected: expected, Err: err}
}

func (m *Machine) newChange(rec Record, from, to StateName, event EventName) StateChange {
	return StateChange{
		ID:         uuid.New().String(),
		RecordID:   rec.ID(),
		Owner:      rec.Owner(),
		From:       &from,
		To:         to,
		Event:      &event,
		OccurredAt: m.now(),
	}
}
