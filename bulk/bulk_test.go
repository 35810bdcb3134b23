package bulk_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statecraft-io/statecraft/bulk"
	"github.com/statecraft-io/statecraft/machine"
	"github.com/statecraft-io/statecraft/machinetest"
	"github.com/statecraft-io/statecraft/memstore"
)

type fleet struct {
	m     *machine.Machine
	store *memstore.Store
}

func newFleet(t *testing.T) *fleet {
	t.Helper()

	reg, err := machinetest.NewVehicleRegistry(machinetest.NewCallLog())
	require.NoError(t, err)

	store := memstore.New()

	m, err := machine.New(reg, store, machine.WithLogger(machine.NopLogger{}))
	require.NoError(t, err)

	return &fleet{m: m, store: store}
}

func (f *fleet) create(t *testing.T, id string) *machinetest.Rec {
	t.Helper()

	ctx := context.Background()
	rec := machinetest.NewRec(id, machinetest.VehicleOwner)

	require.NoError(t, f.m.AssignInitialState(rec))
	require.NoError(t, f.store.CreateRecord(ctx, rec))
	require.NoError(t, f.m.RunInitialStateActions(ctx, rec, nil))

	return rec
}

func TestFireAcrossRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFleet(t)

	recs := make([]machine.Record, 20)
	for i := range recs {
		recs[i] = f.create(t, fmt.Sprintf("car-%d", i))
	}

	runner := bulk.New(f.m, f.store, bulk.WithWorkers(4))

	results, err := runner.Fire(ctx, recs, machinetest.EventIgnite, nil)
	require.NoError(t, err)
	require.Len(t, results, len(recs))

	for i, result := range results {
		assert.Same(t, recs[i], result.Record)
		require.NoError(t, result.Err)
		assert.Equal(t, machine.OutcomeApplied, result.Outcome.Outcome)
		assert.Equal(t, 1, result.Attempts)
	}

	summary := bulk.Summarize(results)
	assert.Equal(t, len(recs), summary.Applied)
	assert.Zero(t, summary.Failed)

	count, err := f.m.CountInState(ctx, machinetest.VehicleOwner, machinetest.StateIdling)
	require.NoError(t, err)
	assert.Equal(t, len(recs), count)
}

func TestMixedOutcomes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFleet(t)

	parked := f.create(t, "car-parked")
	idling := f.create(t, "car-idling")

	_, err := f.m.Fire(ctx, idling, machinetest.EventIgnite, nil)
	require.NoError(t, err)

	runner := bulk.New(f.m, f.store)

	// shift_up is eligible only from idling, and only with the seatbelt on.
	results, err := runner.Fire(ctx,
		[]machine.Record{parked, idling},
		machinetest.EventShiftUp, machine.Args{"seatbelt_on": true})
	require.NoError(t, err)

	require.NoError(t, results[0].Err)
	assert.Equal(t, machine.OutcomeNoMatch, results[0].Outcome.Outcome)
	require.NoError(t, results[1].Err)
	assert.Equal(t, machine.OutcomeApplied, results[1].Outcome.Outcome)

	summary := bulk.Summarize(results)
	assert.Equal(t, 1, summary.Applied)
	assert.Equal(t, 1, summary.NoMatch)
}

func TestConflictRetryRefreshesState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFleet(t)

	rec := f.create(t, "car-1")

	_, err := f.m.Fire(ctx, rec, machinetest.EventIgnite, nil)
	require.NoError(t, err)
	_, err = f.m.Fire(ctx, rec, machinetest.EventShiftUp, machine.Args{"seatbelt_on": true})
	require.NoError(t, err)

	// A stale observer thinks the car is still idling. park is eligible
	// from both idling and first_gear, so the first attempt passes
	// selection but loses the conditional write.
	stale := rec.Stale(machinetest.StateIdling)

	t.Run("without retries the conflict surfaces", func(t *testing.T) {
		runner := bulk.New(f.m, f.store)

		results, err := runner.Fire(ctx,
			[]machine.Record{stale.Stale(machinetest.StateIdling)},
			machinetest.EventPark, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.True(t, machine.IsConflict(results[0].Err))

		summary := bulk.Summarize(results)
		assert.Equal(t, 1, summary.Conflicts)
		assert.Equal(t, 1, summary.Failed)
	})

	t.Run("with retries the record converges", func(t *testing.T) {
		runner := bulk.New(f.m, f.store,
			bulk.WithConflictRetries(1),
			bulk.WithRetryDelay(0))

		results, err := runner.Fire(ctx, []machine.Record{stale}, machinetest.EventPark, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)

		require.NoError(t, results[0].Err)
		assert.Equal(t, machine.OutcomeApplied, results[0].Outcome.Outcome)
		assert.Equal(t, 2, results[0].Attempts)
		assert.Equal(t, machinetest.StateParked, results[0].Outcome.To)
	})
}

func TestEmptyBatch(t *testing.T) {
	t.Parallel()

	f := newFleet(t)
	runner := bulk.New(f.m, f.store)

	_, err := runner.Fire(context.Background(), nil, machinetest.EventIgnite, nil)
	require.ErrorIs(t, err, bulk.ErrNoRecords)
}
