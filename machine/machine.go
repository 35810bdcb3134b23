// Package machine is a finite-state-machine engine governing the lifecycle
// of stateful records. Each record has exactly one current state; transitions
// happen only through named events, selected first-match in definition order,
// guarded by predicates, wrapped in before/after lifecycle callbacks, and
// applied atomically through a storage collaborator's conditional-write
// contract.
package machine

import (
	"context"
	"time"
)

// Machine ties a frozen Registry to a Storage collaborator and executes
// event firings against records. A Machine is safe for concurrent use:
// all registry data is read-only and operations on distinct records share
// no mutable engine state.
type Machine struct {
	registry *Registry
	storage  Storage
	recorder Recorder
	logger   Logger
	now      func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithRecorder mirrors committed state changes to an external audit sink
// in addition to the storage-native audit entries.
func WithRecorder(rec Recorder) Option {
	return func(m *Machine) {
		m.recorder = rec
	}
}

// WithLogger replaces the default slog-backed logger.
func WithLogger(logger Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

// WithClock replaces the wall clock used to stamp state changes.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// New validates the registry, freezes it, and returns a Machine. Every
// declared owner type must carry an initial-state rule; a machine defined
// without one fails here with ErrNoInitialState.
func New(registry *Registry, storage Storage, opts ...Option) (*Machine, error) {
	registry.mu.Lock()
	for owner, table := range registry.owners {
		if !table.initial.set {
			registry.mu.Unlock()

			return nil, wrapDefinitionError(owner, string(owner), ErrNoInitialState)
		}
	}
	registry.mu.Unlock()

	registry.Freeze()

	m := &Machine{
		registry: registry,
		storage:  storage,
		logger:   NewDefaultLogger(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Registry exposes the frozen registry for introspection.
func (m *Machine) Registry() *Registry {
	return m.registry
}

// Fire resolves the named event for the record's owner type, selects the
// first transition whose from-set contains the record's current state and
// whose guard passes, and applies it atomically. When no transition matches,
// it returns OutcomeNoMatch with a nil error and the record untouched.
func (m *Machine) Fire(ctx context.Context, rec Record, event EventName, args Args) (FireResult, error) {
	ctx, span := startFireSpan(ctx, rec, event)

	start := m.now()
	m.logger.FireStarted(ctx, rec, event)

	result, err := m.fire(ctx, rec, event, args)

	duration := time.Since(start)
	endFireSpan(span, result, err)
	observeFire(rec.Owner(), event, result, err, duration)
	m.logger.FireResolved(ctx, rec, event, result, duration, err)

	return result, err
}

func (m *Machine) fire(ctx context.Context, rec Record, event EventName, args Args) (FireResult, error) {
	ev, err := m.registry.EventFor(rec.Owner(), event)
	if err != nil {
		return FireResult{}, wrapFireError(rec, event, err)
	}

	current := rec.CurrentState()

	from, err := m.registry.StateFor(rec.Owner(), current)
	if err != nil {
		return FireResult{}, wrapFireError(rec, event, err)
	}

	selected, found, err := ev.selectTransition(ctx, current, rec, args)
	if err != nil {
		return FireResult{}, wrapFireError(rec, event, err)
	}

	if !found {
		return FireResult{Outcome: OutcomeNoMatch}, nil
	}

	to, err := m.registry.StateFor(rec.Owner(), selected.to)
	if err != nil {
		return FireResult{}, wrapFireError(rec, event, err)
	}

	if err := m.applyTransition(ctx, rec, from, to, ev, args); err != nil {
		return FireResult{}, wrapFireError(rec, event, err)
	}

	return FireResult{Outcome: OutcomeApplied, From: from.Name(), To: to.Name()}, nil
}
