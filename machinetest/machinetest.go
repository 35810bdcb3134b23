// Package machinetest provides fixtures and helpers for testing machines:
// a minimal Record implementation, an ordered call log for asserting
// callback order, and a canned vehicle machine definition.
package machinetest

import (
	"context"
	"sync"

	"github.com/statecraft-io/statecraft/machine"
)

// Rec is a minimal stateful record for tests.
type Rec struct {
	RecID    string
	RecOwner machine.OwnerType
	State    machine.StateName
}

// NewRec creates a record with no state assigned yet.
func NewRec(id string, owner machine.OwnerType) *Rec {
	return &Rec{RecID: id, RecOwner: owner}
}

func (r *Rec) ID() string                          { return r.RecID }
func (r *Rec) Owner() machine.OwnerType            { return r.RecOwner }
func (r *Rec) CurrentState() machine.StateName     { return r.State }
func (r *Rec) SetCurrentState(s machine.StateName) { r.State = s }

// Stale returns a copy of the record that still observes an old state,
// for provoking conditional-write conflicts.
func (r *Rec) Stale(state machine.StateName) *Rec {
	return &Rec{RecID: r.RecID, RecOwner: r.RecOwner, State: state}
}

// CallLog records callback invocations in order.
type CallLog struct {
	mu    sync.Mutex
	calls []string
}

// NewCallLog creates an empty log.
func NewCallLog() *CallLog {
	return &CallLog{}
}

func (l *CallLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls = append(l.calls, name)
}

// Calls returns a copy of the recorded invocation names in order.
func (l *CallLog) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.calls...)
}

// Reset clears the log.
func (l *CallLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls = nil
}

// Callback returns a callback that records its name on invocation.
func (l *CallLog) Callback(name string) machine.Callback {
	return machine.NewCallback(name, func(context.Context, machine.Record, machine.Args) error {
		l.add(name)

		return nil
	})
}

// FailingCallback returns a callback that records its name and then fails.
func (l *CallLog) FailingCallback(name string, err error) machine.Callback {
	return machine.NewCallback(name, func(context.Context, machine.Record, machine.Args) error {
		l.add(name)

		return err
	})
}

// ArgFlag returns a predicate that passes when args[key] is a true bool.
func ArgFlag(key string) machine.Predicate {
	return machine.NewPredicate(key, func(_ context.Context, _ machine.Record, args machine.Args) (bool, error) {
		flag, ok := args[key].(bool)

		return ok && flag, nil
	})
}

// VehicleOwner is the owner type of the canned vehicle machine.
const VehicleOwner machine.OwnerType = "vehicle"

// Vehicle machine vocabulary.
const (
	StateParked    machine.StateName = "parked"
	StateIdling    machine.StateName = "idling"
	StateFirstGear machine.StateName = "first_gear"
	StateStalled   machine.StateName = "stalled"

	EventIgnite  machine.EventName = "ignite"
	EventShiftUp machine.EventName = "shift_up"
	EventPark    machine.EventName = "park"
	EventRepair  machine.EventName = "repair"
)

// NewVehicleRegistry builds the canned vehicle machine: parked -> idling on
// ignite, idling -> first_gear on shift_up guarded by a "seatbelt_on" arg,
// back to parked on park, and repair applying from any state. Every phase
// callback records "<phase>(<name>)" on the log. Recording is enabled.
func NewVehicleRegistry(log *CallLog) (*machine.Registry, error) {
	reg := machine.NewRegistry()

	err := reg.DeclareOwner(VehicleOwner, machine.Catalog{
		States: []machine.StateName{StateParked, StateIdling, StateFirstGear, StateStalled},
		Events: []machine.EventName{EventIgnite, EventShiftUp, EventPark, EventRepair},
	})
	if err != nil {
		return nil, err
	}

	statePhases := []machine.Phase{
		machine.PhaseBeforeEnter,
		machine.PhaseAfterEnter,
		machine.PhaseBeforeExit,
		machine.PhaseAfterExit,
	}

	for _, state := range []machine.StateName{StateParked, StateIdling, StateFirstGear, StateStalled} {
		opts := make([]machine.StateOption, 0, len(statePhases))

		for _, phase := range statePhases {
			name := string(phase) + "(" + string(state) + ")"
			opts = append(opts, machine.WithCallback(phase, log.Callback(name)))
		}

		if err := reg.DefineState(VehicleOwner, state, opts...); err != nil {
			return nil, err
		}
	}

	events := []struct {
		name        machine.EventName
		transitions []machine.Transition
	}{
		{EventIgnite, []machine.Transition{
			machine.NewTransition([]machine.StateName{StateParked}, StateIdling),
		}},
		{EventShiftUp, []machine.Transition{
			machine.NewTransition(
				[]machine.StateName{StateIdling}, StateFirstGear,
				machine.TransitionIf(ArgFlag("seatbelt_on")),
			),
		}},
		{EventPark, []machine.Transition{
			machine.NewTransition([]machine.StateName{StateIdling, StateFirstGear}, StateParked),
		}},
		{EventRepair, []machine.Transition{
			machine.NewTransition(nil, StateParked),
		}},
	}

	for _, ev := range events {
		opts := make([]machine.EventOption, 0, len(ev.transitions)+2)

		for _, t := range ev.transitions {
			opts = append(opts, machine.WithTransition(t))
		}

		opts = append(opts,
			machine.WithBefore(log.Callback("before("+string(ev.name)+")")),
			machine.WithAfter(log.Callback("after("+string(ev.name)+")")),
		)

		if err := reg.DefineEvent(VehicleOwner, ev.name, opts...); err != nil {
			return nil, err
		}
	}

	if err := reg.SetInitialState(VehicleOwner, StateParked); err != nil {
		return nil, err
	}

	if err := reg.EnableRecording(VehicleOwner); err != nil {
		return nil, err
	}

	return reg, nil
}
