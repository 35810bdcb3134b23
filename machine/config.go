package machine

import (
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	xerrors "github.com/statecraft-io/statecraft/errors"
)

// FuncSet resolves the action names a Config references to concrete
// predicates and callbacks. The config names behavior; the host supplies it.
type FuncSet struct {
	Predicates map[string]PredicateFn
	Callbacks  map[string]CallbackFn
}

func (f FuncSet) predicate(name string) (Predicate, error) {
	if name == "" {
		return nil, nil
	}

	fn, ok := f.Predicates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPredicateNotFound, name)
	}

	return NewPredicate(name, fn), nil
}

func (f FuncSet) callback(name string) (Callback, error) {
	fn, ok := f.Callbacks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCallbackNotFound, name)
	}

	return NewCallback(name, fn), nil
}

// Config is a declarative machine definition for one owner type. The catalog
// is the pre-declared vocabulary; states and events may only name entries
// from it.
type Config struct {
	Owner        string        `json:"owner"        yaml:"owner"`
	Catalog      CatalogConfig `json:"catalog"      yaml:"catalog"`
	InitialState string        `json:"initialState" yaml:"initialState"`
	Recording    bool          `json:"recording"    yaml:"recording"`
	States       []StateConfig `json:"states"       yaml:"states"`
	Events       []EventConfig `json:"events"       yaml:"events"`
}

// CatalogConfig declares the state and event vocabulary of the owner type.
type CatalogConfig struct {
	States []string `json:"states" yaml:"states"`
	Events []string `json:"events" yaml:"events"`
}

// StateConfig defines one state and its phase callbacks.
type StateConfig struct {
	Name      string           `json:"name"      yaml:"name"`
	Callbacks []CallbackConfig `json:"callbacks" yaml:"callbacks"`
}

// CallbackConfig names an action to run at a phase, optionally gated by
// named if/unless predicates. For event before/after lists the phase is
// implied and must be left empty.
type CallbackConfig struct {
	Phase  string `json:"phase"  yaml:"phase"`
	Action string `json:"action" yaml:"action"`
	If     string `json:"if"     yaml:"if"`
	Unless string `json:"unless" yaml:"unless"`
}

// EventConfig defines one event: its ordered transitions and its
// before/after callbacks.
type EventConfig struct {
	Name        string             `json:"name"        yaml:"name"`
	Before      []CallbackConfig   `json:"before"      yaml:"before"`
	After       []CallbackConfig   `json:"after"       yaml:"after"`
	Transitions []TransitionConfig `json:"transitions" yaml:"transitions"`
}

// TransitionConfig defines one transition. An empty from list means the
// transition applies from any state. Order within the event is the
// first-match selection order.
type TransitionConfig struct {
	From   []string `json:"from"   yaml:"from"`
	To     string   `json:"to"     yaml:"to"`
	If     string   `json:"if"     yaml:"if"`
	Unless string   `json:"unless" yaml:"unless"`
}

// LoadConfig loads a machine definition from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Intentional path-based loading
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	return LoadConfigFromBytes(data)
}

// LoadConfigFromBytes loads a machine definition from YAML bytes.
func LoadConfigFromBytes(data []byte) (*Config, error) {
	var config Config

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadConfigFromFS loads a machine definition from an embedded filesystem.
func LoadConfigFromFS(fsys fs.FS, path string) (*Config, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config from FS: %w", err)
	}

	return LoadConfigFromBytes(data)
}

// Validate checks the definition for structural problems. All problems are
// reported together.
func (c *Config) Validate() error {
	problems := &xerrors.Collection{}

	if c.Owner == "" {
		problems.Add(ErrOwnerRequired)
	}

	if len(c.Catalog.States) == 0 {
		problems.Add(ErrCatalogRequired)
	}

	states := make(map[string]bool, len(c.Catalog.States))
	for _, name := range c.Catalog.States {
		states[name] = true
	}

	events := make(map[string]bool, len(c.Catalog.Events))
	for _, name := range c.Catalog.Events {
		events[name] = true
	}

	if c.InitialState == "" {
		problems.Add(ErrInitialStateRequired)
	} else if !states[c.InitialState] {
		problems.Add(fmt.Errorf("%w: %s", ErrInitialStateNotInCatalog, c.InitialState))
	}

	c.validateStates(states, problems)
	c.validateEvents(states, events, problems)

	return problems.GetError()
}

func (c *Config) validateStates(states map[string]bool, problems *xerrors.Collection) {
	seen := make(map[string]bool, len(c.States))

	for _, state := range c.States {
		if state.Name == "" {
			problems.Add(ErrStateNameRequired)

			continue
		}

		if seen[state.Name] {
			problems.Add(fmt.Errorf("%w: %s", ErrDuplicateStateName, state.Name))
		}

		seen[state.Name] = true

		if !states[state.Name] {
			problems.Add(fmt.Errorf("%w: %s", ErrStateNotInCatalog, state.Name))
		}

		for _, cb := range state.Callbacks {
			if cb.Action == "" {
				problems.Add(fmt.Errorf("state %s: %w", state.Name, ErrActionRequired))
			}

			if !statePhases[Phase(cb.Phase)] {
				problems.Add(fmt.Errorf("state %s: %w: %q", state.Name, ErrUnknownPhase, cb.Phase))
			}
		}
	}
}

func (c *Config) validateEvents(states, events map[string]bool, problems *xerrors.Collection) {
	seen := make(map[string]bool, len(c.Events))

	for _, event := range c.Events {
		if event.Name == "" {
			problems.Add(ErrEventNameRequired)

			continue
		}

		if seen[event.Name] {
			problems.Add(fmt.Errorf("%w: %s", ErrDuplicateEventName, event.Name))
		}

		seen[event.Name] = true

		if !events[event.Name] {
			problems.Add(fmt.Errorf("%w: %s", ErrEventNotInCatalog, event.Name))
		}

		for _, cb := range append(append([]CallbackConfig{}, event.Before...), event.After...) {
			if cb.Action == "" {
				problems.Add(fmt.Errorf("event %s: %w", event.Name, ErrActionRequired))
			}

			if cb.Phase != "" {
				problems.Add(fmt.Errorf("event %s: %w: phase is implied, got %q",
					event.Name, ErrUnknownPhase, cb.Phase))
			}
		}

		for i, t := range event.Transitions {
			if t.To == "" {
				problems.Add(fmt.Errorf("event %s, transition %d: %w", event.Name, i, ErrTransitionToRequired))
			} else if !states[t.To] {
				problems.Add(fmt.Errorf("event %s, transition %d: %w: %s",
					event.Name, i, ErrStateNotInCatalog, t.To))
			}

			for _, from := range t.From {
				if !states[from] {
					problems.Add(fmt.Errorf("event %s, transition %d: %w: %s",
						event.Name, i, ErrStateNotInCatalog, from))
				}
			}
		}
	}
}

// Build registers the definition with the registry, resolving action names
// through the FuncSet. The config must be valid.
func (c *Config) Build(registry *Registry, funcs FuncSet) error {
	if err := c.Validate(); err != nil {
		return err
	}

	owner := OwnerType(c.Owner)

	catalog := Catalog{}
	for _, name := range c.Catalog.States {
		catalog.States = append(catalog.States, StateName(name))
	}

	for _, name := range c.Catalog.Events {
		catalog.Events = append(catalog.Events, EventName(name))
	}

	if err := registry.DeclareOwner(owner, catalog); err != nil {
		return err
	}

	if err := registry.SetInitialState(owner, StateName(c.InitialState)); err != nil {
		return err
	}

	if c.Recording {
		if err := registry.EnableRecording(owner); err != nil {
			return err
		}
	}

	if err := c.buildStates(registry, owner, funcs); err != nil {
		return err
	}

	return c.buildEvents(registry, owner, funcs)
}

func (c *Config) conditionalOpts(cb CallbackConfig, funcs FuncSet) ([]CallbackOption, error) {
	var opts []CallbackOption

	ifPred, err := funcs.predicate(cb.If)
	if err != nil {
		return nil, err
	}

	if ifPred != nil {
		opts = append(opts, CallbackIf(ifPred))
	}

	unless, err := funcs.predicate(cb.Unless)
	if err != nil {
		return nil, err
	}

	if unless != nil {
		opts = append(opts, CallbackUnless(unless))
	}

	return opts, nil
}

func (c *Config) buildStates(registry *Registry, owner OwnerType, funcs FuncSet) error {
	for _, state := range c.States {
		var opts []StateOption

		for _, cb := range state.Callbacks {
			action, err := funcs.callback(cb.Action)
			if err != nil {
				return fmt.Errorf("state %s: %w", state.Name, err)
			}

			cbOpts, err := c.conditionalOpts(cb, funcs)
			if err != nil {
				return fmt.Errorf("state %s: %w", state.Name, err)
			}

			opts = append(opts, WithCallback(Phase(cb.Phase), action, cbOpts...))
		}

		if err := registry.DefineState(owner, StateName(state.Name), opts...); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) buildEvents(registry *Registry, owner OwnerType, funcs FuncSet) error {
	for _, event := range c.Events {
		var opts []EventOption

		for _, t := range event.Transitions {
			var transOpts []TransitionOption

			ifPred, err := funcs.predicate(t.If)
			if err != nil {
				return fmt.Errorf("event %s: %w", event.Name, err)
			}

			if ifPred != nil {
				transOpts = append(transOpts, TransitionIf(ifPred))
			}

			unless, err := funcs.predicate(t.Unless)
			if err != nil {
				return fmt.Errorf("event %s: %w", event.Name, err)
			}

			if unless != nil {
				transOpts = append(transOpts, TransitionUnless(unless))
			}

			from := make([]StateName, 0, len(t.From))
			for _, name := range t.From {
				from = append(from, StateName(name))
			}

			opts = append(opts, WithTransition(NewTransition(from, StateName(t.To), transOpts...)))
		}

		for _, cb := range event.Before {
			action, err := funcs.callback(cb.Action)
			if err != nil {
				return fmt.Errorf("event %s: %w", event.Name, err)
			}

			cbOpts, err := c.conditionalOpts(cb, funcs)
			if err != nil {
				return fmt.Errorf("event %s: %w", event.Name, err)
			}

			opts = append(opts, WithBefore(action, cbOpts...))
		}

		for _, cb := range event.After {
			action, err := funcs.callback(cb.Action)
			if err != nil {
				return fmt.Errorf("event %s: %w", event.Name, err)
			}

			cbOpts, err := c.conditionalOpts(cb, funcs)
			if err != nil {
				return fmt.Errorf("event %s: %w", event.Name, err)
			}

			opts = append(opts, WithAfter(action, cbOpts...))
		}

		if err := registry.DefineEvent(owner, EventName(event.Name), opts...); err != nil {
			return err
		}
	}

	return nil
}
