package machine

import (
	"errors"
	"fmt"
)

// Predefined error types.
var (
	// ErrStateNotFound indicates a state name absent from the owner's
	// declared catalog. Configuration-time error.
	ErrStateNotFound = errors.New("state not found in catalog")
	// ErrEventNotFound indicates an event name absent from the owner's
	// declared catalog. Configuration-time error.
	ErrEventNotFound = errors.New("event not found in catalog")
	// ErrStateAlreadyActive indicates a duplicate state definition for one owner type.
	ErrStateAlreadyActive = errors.New("state already active")
	// ErrEventAlreadyActive indicates a duplicate event definition for one owner type.
	ErrEventAlreadyActive = errors.New("event already active")
	// ErrStateNotActive indicates a fire-time lookup found no active state definition.
	ErrStateNotActive = errors.New("state not active")
	// ErrEventNotActive indicates a fire-time lookup found no active event definition.
	ErrEventNotActive = errors.New("event not active")
	// ErrOwnerNotDeclared indicates an owner type with no declared catalog.
	ErrOwnerNotDeclared = errors.New("owner type not declared")
	// ErrOwnerAlreadyDeclared indicates a duplicate owner declaration.
	ErrOwnerAlreadyDeclared = errors.New("owner type already declared")
	// ErrNoInitialState indicates a machine defined without an initial-state rule.
	ErrNoInitialState = errors.New("no initial state configured")
	// ErrRegistryFrozen indicates a definition attempt after the registry was frozen.
	ErrRegistryFrozen = errors.New("registry is frozen")

	// ErrStaleState is returned by a Storage conditional write when the
	// record's persisted state no longer equals the expected from-state.
	ErrStaleState = errors.New("persisted state diverged from expected state")

	// ErrAlreadyBootstrapped indicates initial-state actions were already
	// recorded for a record.
	ErrAlreadyBootstrapped = errors.New("record already has state changes")
)

// Configuration validation errors.
var (
	// ErrOwnerRequired indicates that a config owner is required.
	ErrOwnerRequired = errors.New("owner is required")
	// ErrCatalogRequired indicates that a config must declare at least one state.
	ErrCatalogRequired = errors.New("catalog must declare at least one state")
	// ErrInitialStateRequired indicates that an initial state is required.
	ErrInitialStateRequired = errors.New("initial state is required")
	// ErrInitialStateNotInCatalog indicates that the initial state is not a catalog state.
	ErrInitialStateNotInCatalog = errors.New("initial state not in catalog")
	// ErrStateNameRequired indicates that a state name is required.
	ErrStateNameRequired = errors.New("state name is required")
	// ErrEventNameRequired indicates that an event name is required.
	ErrEventNameRequired = errors.New("event name is required")
	// ErrDuplicateStateName indicates that a duplicate state name was found.
	ErrDuplicateStateName = errors.New("duplicate state name")
	// ErrDuplicateEventName indicates that a duplicate event name was found.
	ErrDuplicateEventName = errors.New("duplicate event name")
	// ErrStateNotInCatalog indicates that a state name is not declared in the catalog.
	ErrStateNotInCatalog = errors.New("state not in catalog")
	// ErrEventNotInCatalog indicates that an event name is not declared in the catalog.
	ErrEventNotInCatalog = errors.New("event not in catalog")
	// ErrUnknownPhase indicates an unrecognized callback phase.
	ErrUnknownPhase = errors.New("unknown callback phase")
	// ErrActionRequired indicates that a callback config must name an action.
	ErrActionRequired = errors.New("callback action is required")
	// ErrTransitionToRequired indicates that a transition to state is required.
	ErrTransitionToRequired = errors.New("transition to state is required")
	// ErrPredicateNotFound indicates that a named predicate has no FuncSet entry.
	ErrPredicateNotFound = errors.New("predicate not found in func set")
	// ErrCallbackNotFound indicates that a named callback has no FuncSet entry.
	ErrCallbackNotFound = errors.New("callback not found in func set")
)

// DefinitionError wraps a configuration-time error with owner and name context.
type DefinitionError struct {
	Owner OwnerType
	Name  string
	Err   error
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("owner %s: %s: %v", e.Owner, e.Name, e.Err)
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

// FireError wraps a fire-time error with record and event context.
type FireError struct {
	Event EventName
	Owner OwnerType
	RecID string
	Err   error
}

func (e *FireError) Error() string {
	return fmt.Sprintf("fire %s on %s/%s: %v", e.Event, e.Owner, e.RecID, e.Err)
}

func (e *FireError) Unwrap() error {
	return e.Err
}

// ConflictError surfaces a failed conditional write: another writer moved
// the record off the from-state observed at selection time. The atomic unit
// was rolled back; the caller may re-read the record and fire again.
type ConflictError struct {
	RecID    string
	Expected StateName
	Err      error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrent transition on %s (expected state %s): %v", e.RecID, e.Expected, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// IsConflict reports whether err stems from a stale conditional write.
func IsConflict(err error) bool {
	var conflict *ConflictError

	return errors.As(err, &conflict) || errors.Is(err, ErrStaleState)
}

func wrapDefinitionError(owner OwnerType, name string, err error) error {
	if err == nil {
		return nil
	}

	return &DefinitionError{Owner: owner, Name: name, Err: err}
}

func wrapFireError(rec Record, event EventName, err error) error {
	if err == nil {
		return nil
	}

	return &FireError{Event: event, Owner: rec.Owner(), RecID: rec.ID(), Err: err}
}
