package machine

import "context"

// Event is a named, ordered collection of transitions scoped to an owner
// type, with optional conditional before/after callbacks. Selection among
// its transitions is first-match in definition order.
type Event struct {
	owner       OwnerType
	name        EventName
	transitions []Transition
	before      []conditionalCallback
	after       []conditionalCallback
}

func newEvent(owner OwnerType, name EventName) *Event {
	return &Event{
		owner: owner,
		name:  name,
	}
}

func (e *Event) Name() EventName {
	return e.name
}

func (e *Event) Owner() OwnerType {
	return e.owner
}

func (e *Event) addTransition(t Transition) {
	t.event = e.name
	e.transitions = append(e.transitions, t)
}

func (e *Event) addBefore(cc conditionalCallback) {
	e.before = append(e.before, cc)
}

func (e *Event) addAfter(cc conditionalCallback) {
	e.after = append(e.after, cc)
}

// selectTransition picks the first transition whose from-set contains the
// current state and whose guard passes. Guard absence means pass. Found is
// false when no transition matched, which is the NoMatch outcome, not an
// error. Guard evaluation errors propagate.
func (e *Event) selectTransition(
	ctx context.Context,
	current StateName,
	rec Record,
	args Args,
) (Transition, bool, error) {
	for _, t := range e.transitions {
		if !t.eligibleFrom(current) {
			continue
		}

		ok, err := t.guardPasses(ctx, rec, args)
		if err != nil {
			return Transition{}, false, err
		}

		if ok {
			return t, true, nil
		}
	}

	return Transition{}, false, nil
}

// PossibleTransitionsFrom returns the transitions whose from-set contains
// the given state, in definition order, without evaluating guards. A pure
// projection for introspection; firing semantics are unchanged.
func (e *Event) PossibleTransitionsFrom(state StateName) []Transition {
	var out []Transition

	for _, t := range e.transitions {
		if t.eligibleFrom(state) {
			out = append(out, t)
		}
	}

	return out
}

// NextStateFrom resolves the state this event would move a record to from
// the given state, using the same first-match ordering and guard semantics
// as firing, without executing anything.
func (e *Event) NextStateFrom(ctx context.Context, current StateName, rec Record, args Args) (StateName, bool, error) {
	t, found, err := e.selectTransition(ctx, current, rec, args)
	if err != nil || !found {
		return NoState, false, err
	}

	return t.to, true, nil
}

func (e *Event) runBefore(ctx context.Context, rec Record, args Args) error {
	return runConditional(ctx, e.before, rec, args)
}

func (e *Event) runAfter(ctx context.Context, rec Record, args Args) error {
	return runConditional(ctx, e.after, rec, args)
}

// clone produces an independent deep copy rebound to a new owner.
func (e *Event) clone(owner OwnerType) *Event {
	dup := newEvent(owner, e.name)

	dup.transitions = make([]Transition, len(e.transitions))
	copy(dup.transitions, e.transitions)

	dup.before = make([]conditionalCallback, len(e.before))
	copy(dup.before, e.before)

	dup.after = make([]conditionalCallback, len(e.after))
	copy(dup.after, e.after)

	return dup
}
