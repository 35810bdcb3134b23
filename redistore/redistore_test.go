package redistore_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statecraft-io/statecraft/machine"
	"github.com/statecraft-io/statecraft/machinetest"
	"github.com/statecraft-io/statecraft/redistore"
)

func newStore(t *testing.T) (*redistore.Store, *backend.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return redistore.NewFromClient(client), client
}

func TestCreateAndRead(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _ := newStore(t)

	rec := machinetest.NewRec("r1", "order")
	rec.SetCurrentState("draft")

	_, err := store.ReadCurrentState(ctx, rec)
	require.ErrorIs(t, err, redistore.ErrRecordUnknown)

	require.NoError(t, store.CreateRecord(ctx, rec))
	require.ErrorIs(t, store.CreateRecord(ctx, rec), redistore.ErrRecordExists)

	state, err := store.ReadCurrentState(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, machine.StateName("draft"), state)
}

func TestConditionalWrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("commit applies the staged write and changes", func(t *testing.T) {
		t.Parallel()

		store, _ := newStore(t)
		rec := machinetest.NewRec("r1", "order")
		rec.SetCurrentState("draft")
		require.NoError(t, store.CreateRecord(ctx, rec))

		unit, err := store.Begin(ctx, rec)
		require.NoError(t, err)

		require.NoError(t, unit.WriteState(ctx, rec, "draft", "placed"))

		from := machine.StateName("draft")
		event := machine.EventName("place")
		require.NoError(t, unit.AppendChange(ctx, rec, machine.StateChange{
			ID:       "c1",
			RecordID: rec.ID(),
			Owner:    rec.Owner(),
			From:     &from,
			To:       "placed",
			Event:    &event,
		}))
		require.NoError(t, unit.Commit(ctx))

		state, err := store.ReadCurrentState(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, machine.StateName("placed"), state)

		history, err := store.History(ctx, rec)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, machine.StateName("placed"), history[0].To)
		require.NotNil(t, history[0].Event)
		assert.Equal(t, event, *history[0].Event)
	})

	t.Run("stale expectation is rejected at write", func(t *testing.T) {
		t.Parallel()

		store, _ := newStore(t)
		rec := machinetest.NewRec("r1", "order")
		rec.SetCurrentState("placed")
		require.NoError(t, store.CreateRecord(ctx, rec))

		unit, err := store.Begin(ctx, rec)
		require.NoError(t, err)

		require.ErrorIs(t, unit.WriteState(ctx, rec, "draft", "shipped"), machine.ErrStaleState)
		require.NoError(t, unit.Rollback(ctx))
	})

	t.Run("interleaved writer is caught at commit", func(t *testing.T) {
		t.Parallel()

		store, client := newStore(t)
		rec := machinetest.NewRec("r1", "order")
		rec.SetCurrentState("draft")
		require.NoError(t, store.CreateRecord(ctx, rec))

		unit, err := store.Begin(ctx, rec)
		require.NoError(t, err)
		require.NoError(t, unit.WriteState(ctx, rec, "draft", "placed"))

		// Another writer moves the record while the unit is staged.
		require.NoError(t, client.Set(ctx, "statecraft:state:r1", "cancelled", 0).Err())

		require.ErrorIs(t, unit.Commit(ctx), machine.ErrStaleState)

		state, err := store.ReadCurrentState(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, machine.StateName("cancelled"), state)

		history, err := store.History(ctx, rec)
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("rollback discards staged work", func(t *testing.T) {
		t.Parallel()

		store, _ := newStore(t)
		rec := machinetest.NewRec("r1", "order")
		rec.SetCurrentState("draft")
		require.NoError(t, store.CreateRecord(ctx, rec))

		unit, err := store.Begin(ctx, rec)
		require.NoError(t, err)
		require.NoError(t, unit.WriteState(ctx, rec, "draft", "placed"))
		require.NoError(t, unit.Rollback(ctx))
		require.ErrorIs(t, unit.Commit(ctx), redistore.ErrUnitClosed)

		state, err := store.ReadCurrentState(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, machine.StateName("draft"), state)
	})
}

func TestCountInState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _ := newStore(t)

	for _, tc := range []struct {
		id    string
		owner machine.OwnerType
		state machine.StateName
	}{
		{"o1", "order", "draft"},
		{"o2", "order", "draft"},
		{"o3", "order", "placed"},
		{"s1", "shipment", "draft"},
	} {
		rec := machinetest.NewRec(tc.id, tc.owner)
		rec.SetCurrentState(tc.state)
		require.NoError(t, store.CreateRecord(ctx, rec))
	}

	count, err := store.CountInState(ctx, "order", "draft")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = store.CountInState(ctx, "shipment", "draft")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMachineFiresAgainstRedis(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _ := newStore(t)

	log := machinetest.NewCallLog()
	reg, err := machinetest.NewVehicleRegistry(log)
	require.NoError(t, err)

	m, err := machine.New(reg, store, machine.WithLogger(machine.NopLogger{}))
	require.NoError(t, err)

	rec := machinetest.NewRec("car-1", machinetest.VehicleOwner)
	require.NoError(t, m.AssignInitialState(rec))
	require.NoError(t, store.CreateRecord(ctx, rec))
	require.NoError(t, m.RunInitialStateActions(ctx, rec, nil))

	result, err := m.Fire(ctx, rec, machinetest.EventIgnite, nil)
	require.NoError(t, err)
	assert.Equal(t, machine.OutcomeApplied, result.Outcome)

	state, err := store.ReadCurrentState(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, machinetest.StateIdling, state)

	history, err := store.History(ctx, rec)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].IsBootstrap())
	assert.False(t, history[1].IsBootstrap())

	// Stale copy of the record loses the race.
	stale := rec.Stale(machinetest.StateParked)
	_, err = m.Fire(ctx, stale, machinetest.EventIgnite, nil)
	require.Error(t, err)
	assert.True(t, machine.IsConflict(err))
}
