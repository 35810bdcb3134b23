package machine

import "context"

// StateName identifies a state within an owner type's machine.
type StateName string

// EventName identifies an event within an owner type's machine.
type EventName string

// OwnerType scopes state and event definitions. Two owner types may use
// the same state names without interfering with each other.
type OwnerType string

// NoState is the sentinel value of a record that has never been assigned
// a state. AssignInitialState replaces it before the first persistence write.
const NoState StateName = ""

// Args is the opaque argument payload forwarded to guards and callbacks
// when an event is fired.
type Args map[string]any

// Record is a stateful entity governed by a machine. The engine reads and
// writes its current-state slot and passes it to guards and callbacks; how
// the slot is persisted belongs to the Storage collaborator.
type Record interface {
	ID() string
	Owner() OwnerType
	CurrentState() StateName
	SetCurrentState(state StateName)
}

// Predicate is the single guard/condition abstraction: every `if`/`unless`
// condition on a transition or callback is one of these, whether declared
// as a named function in a FuncSet or inline.
type Predicate interface {
	Name() string
	Evaluate(ctx context.Context, rec Record, args Args) (bool, error)
}

// Callback is a unit of work run during a lifecycle phase.
type Callback interface {
	Name() string
	Invoke(ctx context.Context, rec Record, args Args) error
}

// PredicateFn is the function form of a Predicate.
type PredicateFn func(ctx context.Context, rec Record, args Args) (bool, error)

// CallbackFn is the function form of a Callback.
type CallbackFn func(ctx context.Context, rec Record, args Args) error

type namedPredicate struct {
	name string
	fn   PredicateFn
}

func (p *namedPredicate) Name() string { return p.name }

func (p *namedPredicate) Evaluate(ctx context.Context, rec Record, args Args) (bool, error) {
	return p.fn(ctx, rec, args)
}

// NewPredicate wraps a function as a named Predicate.
func NewPredicate(name string, fn PredicateFn) Predicate {
	return &namedPredicate{name: name, fn: fn}
}

type namedCallback struct {
	name string
	fn   CallbackFn
}

func (c *namedCallback) Name() string { return c.name }

func (c *namedCallback) Invoke(ctx context.Context, rec Record, args Args) error {
	return c.fn(ctx, rec, args)
}

// NewCallback wraps a function as a named Callback.
func NewCallback(name string, fn CallbackFn) Callback {
	return &namedCallback{name: name, fn: fn}
}

// FireOutcome indicates how a Fire call resolved.
type FireOutcome int

const (
	// OutcomeNoMatch means no transition's from-set and guard matched the
	// record's current state. The record was left untouched. This is a
	// normal outcome, not an error.
	OutcomeNoMatch FireOutcome = iota

	// OutcomeApplied means a transition was selected and committed.
	OutcomeApplied
)

func (o FireOutcome) String() string {
	if o == OutcomeApplied {
		return "applied"
	}

	return "no_match"
}

// FireResult reports the resolved outcome of a Fire call. From and To are
// populated only when Outcome is OutcomeApplied.
type FireResult struct {
	Outcome FireOutcome
	From    StateName
	To      StateName
}
