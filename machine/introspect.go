package machine

import "context"

// ActiveState reports whether the state name is active for the owner type.
func (m *Machine) ActiveState(owner OwnerType, name StateName) bool {
	return m.registry.ActiveState(owner, name)
}

// ActiveEvent reports whether the event name is active for the owner type.
func (m *Machine) ActiveEvent(owner OwnerType, name EventName) bool {
	return m.registry.ActiveEvent(owner, name)
}

// IsInState reports whether the record currently holds the named state.
func (m *Machine) IsInState(rec Record, name StateName) bool {
	return rec.CurrentState() == name
}

// CountInState counts persisted records of the owner type currently in the
// given state, via the storage collaborator.
func (m *Machine) CountInState(ctx context.Context, owner OwnerType, state StateName) (int, error) {
	return m.storage.CountInState(ctx, owner, state)
}

// PossibleTransitionsFrom lists the event's transitions eligible from the
// given state, in definition order, without evaluating guards or executing
// anything.
func (m *Machine) PossibleTransitionsFrom(
	owner OwnerType,
	event EventName,
	state StateName,
) ([]Transition, error) {
	ev, err := m.registry.EventFor(owner, event)
	if err != nil {
		return nil, err
	}

	return ev.PossibleTransitionsFrom(state), nil
}

// NextStateForEvent resolves the state the event would move the record to,
// with the same first-match ordering and guard semantics as Fire but with
// no execution. The second return is false when no transition would match.
func (m *Machine) NextStateForEvent(
	ctx context.Context,
	rec Record,
	event EventName,
	args Args,
) (StateName, bool, error) {
	ev, err := m.registry.EventFor(rec.Owner(), event)
	if err != nil {
		return NoState, false, err
	}

	return ev.NextStateFrom(ctx, rec.CurrentState(), rec, args)
}
