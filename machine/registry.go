package machine

import (
	"fmt"
	"sync"

	"go.uber.org/atomic"
)

// Catalog is the pre-declared vocabulary of an owner type. Definitions must
// name entries from the catalog; this guards against typos creating
// silently-dead states or events.
type Catalog struct {
	States []StateName
	Events []EventName
}

// InitialStateFn computes a per-record initial state.
type InitialStateFn func(rec Record) StateName

type initialRule struct {
	static StateName
	fn     InitialStateFn
	set    bool
}

// ownerTable holds all definitions for one owner type.
type ownerTable struct {
	owner        OwnerType
	stateCatalog map[StateName]bool
	eventCatalog map[EventName]bool
	states       map[StateName]*State
	events       map[EventName]*Event
	stateOrder   []StateName
	eventOrder   []EventName
	initial      initialRule
	recording    bool
}

func newOwnerTable(owner OwnerType, catalog Catalog) *ownerTable {
	table := &ownerTable{
		owner:        owner,
		stateCatalog: make(map[StateName]bool, len(catalog.States)),
		eventCatalog: make(map[EventName]bool, len(catalog.Events)),
		states:       make(map[StateName]*State),
		events:       make(map[EventName]*Event),
	}

	for _, name := range catalog.States {
		table.stateCatalog[name] = true
	}

	for _, name := range catalog.Events {
		table.eventCatalog[name] = true
	}

	return table
}

func (t *ownerTable) clone(owner OwnerType) *ownerTable {
	dup := &ownerTable{
		owner:        owner,
		stateCatalog: make(map[StateName]bool, len(t.stateCatalog)),
		eventCatalog: make(map[EventName]bool, len(t.eventCatalog)),
		states:       make(map[StateName]*State, len(t.states)),
		events:       make(map[EventName]*Event, len(t.events)),
		stateOrder:   append([]StateName(nil), t.stateOrder...),
		eventOrder:   append([]EventName(nil), t.eventOrder...),
		initial:      t.initial,
		recording:    t.recording,
	}

	for name := range t.stateCatalog {
		dup.stateCatalog[name] = true
	}

	for name := range t.eventCatalog {
		dup.eventCatalog[name] = true
	}

	for name, state := range t.states {
		dup.states[name] = state.clone(owner)
	}

	for name, event := range t.events {
		dup.events[name] = event.clone(owner)
	}

	return dup
}

// Registry is the per-owner-type table mapping state and event names to
// their definitions. All mutation happens at machine-definition time; once
// frozen the registry is read-only and safe for unsynchronized concurrent
// reads.
type Registry struct {
	mu     sync.Mutex
	frozen atomic.Bool
	owners map[OwnerType]*ownerTable
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		owners: make(map[OwnerType]*ownerTable),
	}
}

// DeclareOwner registers an owner type together with its state/event
// vocabulary. All subsequent definitions for the owner must name catalog
// entries.
func (r *Registry) DeclareOwner(owner OwnerType, catalog Catalog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return ErrRegistryFrozen
	}

	if _, exists := r.owners[owner]; exists {
		return wrapDefinitionError(owner, string(owner), ErrOwnerAlreadyDeclared)
	}

	r.owners[owner] = newOwnerTable(owner, catalog)

	return nil
}

// StateOption configures a state at definition time.
type StateOption func(*State) error

// CallbackOption attaches if/unless predicates to a conditional callback.
type CallbackOption func(*conditionalCallback)

// CallbackIf makes the callback run only when the predicate passes.
func CallbackIf(pred Predicate) CallbackOption {
	return func(cc *conditionalCallback) {
		cc.ifPred = pred
	}
}

// CallbackUnless makes the callback run only when the predicate does not pass.
func CallbackUnless(pred Predicate) CallbackOption {
	return func(cc *conditionalCallback) {
		cc.unless = pred
	}
}

func buildConditional(cb Callback, opts []CallbackOption) conditionalCallback {
	cc := conditionalCallback{callback: cb}

	for _, opt := range opts {
		opt(&cc)
	}

	return cc
}

// WithCallback attaches a callback to one of the four state phases.
func WithCallback(phase Phase, cb Callback, opts ...CallbackOption) StateOption {
	return func(s *State) error {
		if !statePhases[phase] {
			return fmt.Errorf("phase %q is not a state phase", phase)
		}

		s.addCallback(phase, buildConditional(cb, opts))

		return nil
	}
}

// DefineState creates a state for an owner type. It fails with
// ErrStateAlreadyActive when the name was already defined, and with
// ErrStateNotFound when the name is absent from the owner's catalog.
func (r *Registry) DefineState(owner OwnerType, name StateName, opts ...StateOption) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return ErrRegistryFrozen
	}

	table, exists := r.owners[owner]
	if !exists {
		return wrapDefinitionError(owner, string(name), ErrOwnerNotDeclared)
	}

	if !table.stateCatalog[name] {
		return wrapDefinitionError(owner, string(name), ErrStateNotFound)
	}

	if _, dup := table.states[name]; dup {
		return wrapDefinitionError(owner, string(name), ErrStateAlreadyActive)
	}

	state := newState(owner, name)

	for _, opt := range opts {
		if err := opt(state); err != nil {
			return wrapDefinitionError(owner, string(name), err)
		}
	}

	table.states[name] = state
	table.stateOrder = append(table.stateOrder, name)

	return nil
}

// AddStateCallback appends a callback to an already-defined state. Used by
// subclasses to extend inherited copies; the parent's definition is never
// affected.
func (r *Registry) AddStateCallback(
	owner OwnerType,
	name StateName,
	phase Phase,
	cb Callback,
	opts ...CallbackOption,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return ErrRegistryFrozen
	}

	table, exists := r.owners[owner]
	if !exists {
		return wrapDefinitionError(owner, string(name), ErrOwnerNotDeclared)
	}

	state, exists := table.states[name]
	if !exists {
		return wrapDefinitionError(owner, string(name), ErrStateNotActive)
	}

	if !statePhases[phase] {
		return wrapDefinitionError(owner, string(name), fmt.Errorf("phase %q is not a state phase", phase))
	}

	state.addCallback(phase, buildConditional(cb, opts))

	return nil
}

// AddEventCallback appends a before or after callback to an already-defined
// event. Used by subclasses to extend inherited copies; the parent's
// definition is never affected.
func (r *Registry) AddEventCallback(
	owner OwnerType,
	name EventName,
	phase Phase,
	cb Callback,
	opts ...CallbackOption,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return ErrRegistryFrozen
	}

	table, exists := r.owners[owner]
	if !exists {
		return wrapDefinitionError(owner, string(name), ErrOwnerNotDeclared)
	}

	event, exists := table.events[name]
	if !exists {
		return wrapDefinitionError(owner, string(name), ErrEventNotActive)
	}

	switch phase {
	case PhaseBeforeEvent:
		event.addBefore(buildConditional(cb, opts))
	case PhaseAfterEvent:
		event.addAfter(buildConditional(cb, opts))
	default:
		return wrapDefinitionError(owner, string(name), fmt.Errorf("phase %q is not an event phase", phase))
	}

	return nil
}

// EventOption configures an event at definition time.
type EventOption func(*Event) error

// WithTransition appends a transition to the event. Order of WithTransition
// options is the definition order first-match selection runs over.
func WithTransition(t Transition) EventOption {
	return func(e *Event) error {
		e.addTransition(t)

		return nil
	}
}

// WithBefore attaches a callback that runs before the state change is applied.
func WithBefore(cb Callback, opts ...CallbackOption) EventOption {
	return func(e *Event) error {
		e.addBefore(buildConditional(cb, opts))

		return nil
	}
}

// WithAfter attaches a callback that runs after the state change is applied.
func WithAfter(cb Callback, opts ...CallbackOption) EventOption {
	return func(e *Event) error {
		e.addAfter(buildConditional(cb, opts))

		return nil
	}
}

// DefineEvent creates an event for an owner type. It fails with
// ErrEventAlreadyActive on duplicates, ErrEventNotFound when the name is
// absent from the catalog, and ErrStateNotFound when a transition references
// a state outside the catalog.
func (r *Registry) DefineEvent(owner OwnerType, name EventName, opts ...EventOption) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return ErrRegistryFrozen
	}

	table, exists := r.owners[owner]
	if !exists {
		return wrapDefinitionError(owner, string(name), ErrOwnerNotDeclared)
	}

	if !table.eventCatalog[name] {
		return wrapDefinitionError(owner, string(name), ErrEventNotFound)
	}

	if _, dup := table.events[name]; dup {
		return wrapDefinitionError(owner, string(name), ErrEventAlreadyActive)
	}

	event := newEvent(owner, name)

	for _, opt := range opts {
		if err := opt(event); err != nil {
			return wrapDefinitionError(owner, string(name), err)
		}
	}

	for _, t := range event.transitions {
		for _, from := range t.from {
			if !table.stateCatalog[from] {
				return wrapDefinitionError(owner, string(from), ErrStateNotFound)
			}
		}

		if !table.stateCatalog[t.to] {
			return wrapDefinitionError(owner, string(t.to), ErrStateNotFound)
		}
	}

	table.events[name] = event
	table.eventOrder = append(table.eventOrder, name)

	return nil
}

// SetInitialState configures a static initial state for the owner type.
func (r *Registry) SetInitialState(owner OwnerType, name StateName) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return ErrRegistryFrozen
	}

	table, exists := r.owners[owner]
	if !exists {
		return wrapDefinitionError(owner, string(name), ErrOwnerNotDeclared)
	}

	if !table.stateCatalog[name] {
		return wrapDefinitionError(owner, string(name), ErrStateNotFound)
	}

	table.initial = initialRule{static: name, set: true}

	return nil
}

// SetInitialStateFunc configures a per-record initial-state function.
func (r *Registry) SetInitialStateFunc(owner OwnerType, fn InitialStateFn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return ErrRegistryFrozen
	}

	table, exists := r.owners[owner]
	if !exists {
		return wrapDefinitionError(owner, string(owner), ErrOwnerNotDeclared)
	}

	table.initial = initialRule{fn: fn, set: true}

	return nil
}

// EnableRecording opts the owner type into state-change audit recording.
func (r *Registry) EnableRecording(owner OwnerType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return ErrRegistryFrozen
	}

	table, exists := r.owners[owner]
	if !exists {
		return wrapDefinitionError(owner, string(owner), ErrOwnerNotDeclared)
	}

	table.recording = true

	return nil
}

// Inherit duplicates all of parent's definitions under child. Each duplicate
// is an independent deep copy rebound to child; mutating the child's copies
// never affects the parent.
func (r *Registry) Inherit(parent, child OwnerType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return ErrRegistryFrozen
	}

	parentTable, exists := r.owners[parent]
	if !exists {
		return wrapDefinitionError(parent, string(parent), ErrOwnerNotDeclared)
	}

	if _, dup := r.owners[child]; dup {
		return wrapDefinitionError(child, string(child), ErrOwnerAlreadyDeclared)
	}

	r.owners[child] = parentTable.clone(child)

	return nil
}

// Freeze marks the end of machine definition. Further definitions fail with
// ErrRegistryFrozen; reads need no synchronization from here on.
func (r *Registry) Freeze() {
	r.frozen.Store(true)
}

// Frozen reports whether definition has ended.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

func (r *Registry) table(owner OwnerType) (*ownerTable, bool) {
	table, exists := r.owners[owner]

	return table, exists
}

// ActiveState reports whether the state name has an active definition for
// the owner type.
func (r *Registry) ActiveState(owner OwnerType, name StateName) bool {
	table, exists := r.table(owner)
	if !exists {
		return false
	}

	_, active := table.states[name]

	return active
}

// ActiveEvent reports whether the event name has an active definition for
// the owner type.
func (r *Registry) ActiveEvent(owner OwnerType, name EventName) bool {
	table, exists := r.table(owner)
	if !exists {
		return false
	}

	_, active := table.events[name]

	return active
}

// StateFor returns the active state definition, or ErrStateNotActive.
func (r *Registry) StateFor(owner OwnerType, name StateName) (*State, error) {
	table, exists := r.table(owner)
	if !exists {
		return nil, wrapDefinitionError(owner, string(name), ErrOwnerNotDeclared)
	}

	state, active := table.states[name]
	if !active {
		return nil, wrapDefinitionError(owner, string(name), ErrStateNotActive)
	}

	return state, nil
}

// EventFor returns the active event definition, or ErrEventNotActive.
func (r *Registry) EventFor(owner OwnerType, name EventName) (*Event, error) {
	table, exists := r.table(owner)
	if !exists {
		return nil, wrapDefinitionError(owner, string(name), ErrOwnerNotDeclared)
	}

	event, active := table.events[name]
	if !active {
		return nil, wrapDefinitionError(owner, string(name), ErrEventNotActive)
	}

	return event, nil
}

// States returns the owner's state names in definition order.
func (r *Registry) States(owner OwnerType) []StateName {
	table, exists := r.table(owner)
	if !exists {
		return nil
	}

	return append([]StateName(nil), table.stateOrder...)
}

// Events returns the owner's event names in definition order.
func (r *Registry) Events(owner OwnerType) []EventName {
	table, exists := r.table(owner)
	if !exists {
		return nil
	}

	return append([]EventName(nil), table.eventOrder...)
}

// RecordingEnabled reports whether the owner opted into audit recording.
func (r *Registry) RecordingEnabled(owner OwnerType) bool {
	table, exists := r.table(owner)

	return exists && table.recording
}

// initialStateFor resolves the record's initial state from the owner's
// initial-state rule.
func (r *Registry) initialStateFor(rec Record) (StateName, error) {
	table, exists := r.table(rec.Owner())
	if !exists {
		return NoState, wrapDefinitionError(rec.Owner(), rec.ID(), ErrOwnerNotDeclared)
	}

	if !table.initial.set {
		return NoState, wrapDefinitionError(rec.Owner(), rec.ID(), ErrNoInitialState)
	}

	if table.initial.fn != nil {
		return table.initial.fn(rec), nil
	}

	return table.initial.static, nil
}
