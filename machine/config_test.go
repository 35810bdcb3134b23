package machine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statecraft-io/statecraft/machine"
	"github.com/statecraft-io/statecraft/machinetest"
	"github.com/statecraft-io/statecraft/memstore"
)

const orderConfigYAML = `
owner: order
catalog:
  states: [draft, placed, shipped, cancelled]
  events: [place, ship, cancel]
initialState: draft
recording: true
states:
  - name: placed
    callbacks:
      - phase: after_enter
        action: notify
  - name: shipped
    callbacks:
      - phase: before_enter
        action: reserve_stock
        unless: digital_only
events:
  - name: place
    before:
      - action: validate_cart
    transitions:
      - from: [draft]
        to: placed
  - name: ship
    transitions:
      - from: [placed]
        to: shipped
        if: paid
  - name: cancel
    transitions:
      - from: [draft, placed]
        to: cancelled
`

func orderFuncs(log *machinetest.CallLog) machine.FuncSet {
	return machine.FuncSet{
		Predicates: map[string]machine.PredicateFn{
			"paid": func(_ context.Context, _ machine.Record, args machine.Args) (bool, error) {
				v, _ := args["paid"].(bool)

				return v, nil
			},
			"digital_only": func(context.Context, machine.Record, machine.Args) (bool, error) {
				return false, nil
			},
		},
		Callbacks: map[string]machine.CallbackFn{
			"notify":        log.Callback("notify").Invoke,
			"validate_cart": log.Callback("validate_cart").Invoke,
			"reserve_stock": log.Callback("reserve_stock").Invoke,
		},
	}
}

func TestLoadConfigFromBytes(t *testing.T) {
	t.Parallel()

	config, err := machine.LoadConfigFromBytes([]byte(orderConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, "order", config.Owner)
	assert.Equal(t, "draft", config.InitialState)
	assert.True(t, config.Recording)
	assert.Len(t, config.Catalog.States, 4)
	assert.Len(t, config.Events, 3)

	t.Run("rejects malformed yaml", func(t *testing.T) {
		t.Parallel()

		_, err := machine.LoadConfigFromBytes([]byte("owner: [unclosed"))
		require.Error(t, err)
	})
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	t.Run("reports all problems at once", func(t *testing.T) {
		t.Parallel()

		config := &machine.Config{
			Catalog: machine.CatalogConfig{
				States: []string{"a"},
				Events: []string{"go"},
			},
			InitialState: "missing",
			States: []machine.StateConfig{
				{Name: "a", Callbacks: []machine.CallbackConfig{{Phase: "sideways", Action: ""}}},
				{Name: "a"},
			},
			Events: []machine.EventConfig{
				{Name: "go", Transitions: []machine.TransitionConfig{{From: []string{"ghost"}, To: ""}}},
			},
		}

		err := config.Validate()
		require.Error(t, err)

		require.ErrorIs(t, err, machine.ErrOwnerRequired)
		require.ErrorIs(t, err, machine.ErrInitialStateNotInCatalog)
		require.ErrorIs(t, err, machine.ErrUnknownPhase)
		require.ErrorIs(t, err, machine.ErrActionRequired)
		require.ErrorIs(t, err, machine.ErrDuplicateStateName)
		require.ErrorIs(t, err, machine.ErrTransitionToRequired)
		require.ErrorIs(t, err, machine.ErrStateNotInCatalog)
	})

	t.Run("rejects explicit phase on event callbacks", func(t *testing.T) {
		t.Parallel()

		config := &machine.Config{
			Owner: "order",
			Catalog: machine.CatalogConfig{
				States: []string{"a"},
				Events: []string{"go"},
			},
			InitialState: "a",
			Events: []machine.EventConfig{
				{Name: "go", Before: []machine.CallbackConfig{{Phase: "before", Action: "noop"}}},
			},
		}

		require.ErrorIs(t, config.Validate(), machine.ErrUnknownPhase)
	})

	t.Run("accepts the canonical definition", func(t *testing.T) {
		t.Parallel()

		config, err := machine.LoadConfigFromBytes([]byte(orderConfigYAML))
		require.NoError(t, err)
		require.NoError(t, config.Validate())
	})
}

func TestConfigBuild(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("built machine fires end to end", func(t *testing.T) {
		t.Parallel()

		config, err := machine.LoadConfigFromBytes([]byte(orderConfigYAML))
		require.NoError(t, err)

		log := machinetest.NewCallLog()
		reg := machine.NewRegistry()
		require.NoError(t, config.Build(reg, orderFuncs(log)))

		store := memstore.New()
		m, err := machine.New(reg, store, machine.WithLogger(machine.NopLogger{}))
		require.NoError(t, err)

		rec := machinetest.NewRec("order-1", "order")
		require.NoError(t, m.AssignInitialState(rec))
		require.NoError(t, store.CreateRecord(ctx, rec))
		require.NoError(t, m.RunInitialStateActions(ctx, rec, nil))

		result, err := m.Fire(ctx, rec, "place", nil)
		require.NoError(t, err)
		assert.Equal(t, machine.OutcomeApplied, result.Outcome)
		assert.Equal(t, []string{"validate_cart", "notify"}, log.Calls())

		// Unpaid order: the guard rejects shipping without an error.
		result, err = m.Fire(ctx, rec, "ship", nil)
		require.NoError(t, err)
		assert.Equal(t, machine.OutcomeNoMatch, result.Outcome)

		result, err = m.Fire(ctx, rec, "ship", machine.Args{"paid": true})
		require.NoError(t, err)
		assert.Equal(t, machine.StateName("shipped"), result.To)
		assert.Contains(t, log.Calls(), "reserve_stock")
	})

	t.Run("unresolved action name fails the build", func(t *testing.T) {
		t.Parallel()

		config, err := machine.LoadConfigFromBytes([]byte(orderConfigYAML))
		require.NoError(t, err)

		funcs := orderFuncs(machinetest.NewCallLog())
		delete(funcs.Callbacks, "notify")

		require.ErrorIs(t, config.Build(machine.NewRegistry(), funcs), machine.ErrCallbackNotFound)
	})

	t.Run("unresolved predicate name fails the build", func(t *testing.T) {
		t.Parallel()

		config, err := machine.LoadConfigFromBytes([]byte(orderConfigYAML))
		require.NoError(t, err)

		funcs := orderFuncs(machinetest.NewCallLog())
		delete(funcs.Predicates, "paid")

		require.ErrorIs(t, config.Build(machine.NewRegistry(), funcs), machine.ErrPredicateNotFound)
	})
}
