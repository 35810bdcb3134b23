package machine

import "context"

// Phase names a point in the transition lifecycle at which state and event
// callbacks run.
type Phase string

const (
	PhaseBeforeEnter Phase = "before_enter"
	PhaseAfterEnter  Phase = "after_enter"
	PhaseBeforeExit  Phase = "before_exit"
	PhaseAfterExit   Phase = "after_exit"
	PhaseBeforeEvent Phase = "before"
	PhaseAfterEvent  Phase = "after"
)

// statePhases are the phases a State accepts callbacks for, as opposed to
// the event-level before/after phases.
var statePhases = map[Phase]bool{
	PhaseBeforeEnter: true,
	PhaseAfterEnter:  true,
	PhaseBeforeExit:  true,
	PhaseAfterExit:   true,
}

// conditionalCallback pairs a callback with optional if/unless predicates.
// The callback runs only when If passes (absent means pass) and Unless does
// not (absent means pass).
type conditionalCallback struct {
	callback Callback
	ifPred   Predicate
	unless   Predicate
}

func (c conditionalCallback) applies(ctx context.Context, rec Record, args Args) (bool, error) {
	if c.ifPred != nil {
		ok, err := c.ifPred.Evaluate(ctx, rec, args)
		if err != nil || !ok {
			return false, err
		}
	}

	if c.unless != nil {
		ok, err := c.unless.Evaluate(ctx, rec, args)
		if err != nil {
			return false, err
		}

		if ok {
			return false, nil
		}
	}

	return true, nil
}

// runConditional runs each callback whose predicates pass, in declared order.
// The first callback or predicate error aborts the run and propagates verbatim.
func runConditional(ctx context.Context, callbacks []conditionalCallback, rec Record, args Args) error {
	for _, cc := range callbacks {
		ok, err := cc.applies(ctx, rec, args)
		if err != nil {
			return err
		}

		if !ok {
			continue
		}

		if err := cc.callback.Invoke(ctx, rec, args); err != nil {
			return err
		}
	}

	return nil
}

// State is an immutable named node scoped to an owner type. It carries an
// ordered list of conditional callbacks per lifecycle phase. States are
// created at definition time through the Registry and never mutated after
// the registry is frozen.
type State struct {
	owner     OwnerType
	name      StateName
	callbacks map[Phase][]conditionalCallback
}

func newState(owner OwnerType, name StateName) *State {
	return &State{
		owner:     owner,
		name:      name,
		callbacks: make(map[Phase][]conditionalCallback),
	}
}

func (s *State) Name() StateName {
	return s.name
}

func (s *State) Owner() OwnerType {
	return s.owner
}

func (s *State) addCallback(phase Phase, cc conditionalCallback) {
	s.callbacks[phase] = append(s.callbacks[phase], cc)
}

// runCallbacks executes the state's callbacks for one phase in declared order.
func (s *State) runCallbacks(ctx context.Context, phase Phase, rec Record, args Args) error {
	return runConditional(ctx, s.callbacks[phase], rec, args)
}

// clone produces an independent deep copy rebound to a new owner. Used by
// Registry.Inherit so a subclass may extend its copy without mutating the
// parent's definition.
func (s *State) clone(owner OwnerType) *State {
	dup := newState(owner, s.name)

	for phase, list := range s.callbacks {
		copied := make([]conditionalCallback, len(list))
		copy(copied, list)
		dup.callbacks[phase] = copied
	}

	return dup
}
