package machine

import (
	"context"

	"github.com/google/uuid"
)

// AssignInitialState computes the record's initial state and assigns it to
// the record's current-state slot when the slot still holds NoState. The
// host must call this before the record's first persistence write, so the
// first write already carries a valid state. A slot that is already set is
// left alone.
func (m *Machine) AssignInitialState(rec Record) error {
	if rec.CurrentState() != NoState {
		return nil
	}

	initial, err := m.registry.initialStateFor(rec)
	if err != nil {
		return err
	}

	if _, err := m.registry.StateFor(rec.Owner(), initial); err != nil {
		return err
	}

	rec.SetCurrentState(initial)

	return nil
}

// RunInitialStateActions runs the initial state's after_enter callbacks and
// appends the synthetic birth entry (nil from, nil event), all inside one
// atomic unit. The host must call it immediately after the record is durably
// created. It is a no-op when a state change already exists for the record,
// so it is safe to call on replayed creations.
func (m *Machine) RunInitialStateActions(ctx context.Context, rec Record, args Args) (err error) {
	recording := m.registry.RecordingEnabled(rec.Owner())

	if recording {
		has, err := m.storage.HasStateChanges(ctx, rec)
		if err != nil {
			return err
		}

		if has {
			return nil
		}
	}

	state, err := m.registry.StateFor(rec.Owner(), rec.CurrentState())
	if err != nil {
		return err
	}

	unit, err := m.storage.Begin(ctx, rec)
	if err != nil {
		return err
	}

	committed := false

	defer func() {
		if committed {
			return
		}

		if m.recorder != nil {
			m.recorder.Discard(rec)
		}

		if rbErr := unit.Rollback(ctx); rbErr != nil {
			m.logger.RollbackFailed(ctx, rec, rbErr)
		}
	}()

	if recording {
		change := StateChange{
			ID:         uuid.New().String(),
			RecordID:   rec.ID(),
			Owner:      rec.Owner(),
			To:         state.Name(),
			OccurredAt: m.now(),
		}

		if err = unit.AppendChange(ctx, rec, change); err != nil {
			return err
		}

		if m.recorder != nil {
			if err = m.recorder.Append(ctx, rec, change); err != nil {
				return err
			}
		}
	}

	if err = m.runPhase(ctx, rec, PhaseAfterEnter, state.runCallbacks, args); err != nil {
		return err
	}

	if err = unit.Commit(ctx); err != nil {
		return err
	}

	committed = true

	m.logger.BootstrapApplied(ctx, rec, state.Name())

	if m.recorder != nil && recording {
		if recErr := m.recorder.Commit(ctx, rec); recErr != nil {
			m.logger.RecorderFailed(ctx, rec, recErr)
		}
	}

	return nil
}
