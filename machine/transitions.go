package machine

import (
	"context"
	"slices"
)

// Transition binds an event to a (from-state-set, to-state, guard) triple.
// An empty from-set means the transition applies from any state. Transitions
// are immutable and ordered within their event; selection is strictly
// first-match in definition order.
type Transition struct {
	event  EventName
	from   []StateName
	to     StateName
	ifPred Predicate
	unless Predicate
}

func (t Transition) Event() EventName {
	return t.event
}

func (t Transition) From() []StateName {
	return slices.Clone(t.from)
}

func (t Transition) To() StateName {
	return t.to
}

// eligibleFrom reports whether this transition may fire from the given state.
func (t Transition) eligibleFrom(state StateName) bool {
	return len(t.from) == 0 || slices.Contains(t.from, state)
}

// guardPasses evaluates the guard: If must pass (absent means pass) and
// Unless must not (absent means pass). Predicate errors propagate.
func (t Transition) guardPasses(ctx context.Context, rec Record, args Args) (bool, error) {
	if t.ifPred != nil {
		ok, err := t.ifPred.Evaluate(ctx, rec, args)
		if err != nil || !ok {
			return false, err
		}
	}

	if t.unless != nil {
		ok, err := t.unless.Evaluate(ctx, rec, args)
		if err != nil {
			return false, err
		}

		if ok {
			return false, nil
		}
	}

	return true, nil
}

// TransitionOption configures a transition at definition time.
type TransitionOption func(*Transition)

// TransitionIf attaches a guard predicate: the transition is selected only
// if the predicate passes.
func TransitionIf(pred Predicate) TransitionOption {
	return func(t *Transition) {
		t.ifPred = pred
	}
}

// TransitionUnless attaches a negative guard: the transition is selected
// only if the predicate does not pass.
func TransitionUnless(pred Predicate) TransitionOption {
	return func(t *Transition) {
		t.unless = pred
	}
}

// NewTransition builds a transition for DefineEvent. An empty from set means
// "from any state".
func NewTransition(from []StateName, to StateName, opts ...TransitionOption) Transition {
	t := Transition{
		from: slices.Clone(from),
		to:   to,
	}

	for _, opt := range opts {
		opt(&t)
	}

	return t
}
