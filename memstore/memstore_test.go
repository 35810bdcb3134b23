package memstore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statecraft-io/statecraft/machine"
	"github.com/statecraft-io/statecraft/machinetest"
	"github.com/statecraft-io/statecraft/memstore"
)

func newChange(rec machine.Record, from, to machine.StateName) machine.StateChange {
	return machine.StateChange{
		ID:         uuid.New().String(),
		RecordID:   rec.ID(),
		Owner:      rec.Owner(),
		From:       &from,
		To:         to,
		OccurredAt: time.Now().UTC(),
	}
}

func TestCreateAndRead(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()

	rec := machinetest.NewRec("r1", "order")
	rec.SetCurrentState("draft")

	_, err := store.ReadCurrentState(ctx, rec)
	require.ErrorIs(t, err, memstore.ErrRecordUnknown)

	require.NoError(t, store.CreateRecord(ctx, rec))
	require.ErrorIs(t, store.CreateRecord(ctx, rec), memstore.ErrRecordExists)

	state, err := store.ReadCurrentState(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, machine.StateName("draft"), state)

	has, err := store.HasStateChanges(ctx, rec)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestConditionalWrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("commit applies the staged write and changes", func(t *testing.T) {
		t.Parallel()

		store := memstore.New()
		rec := machinetest.NewRec("r1", "order")
		rec.SetCurrentState("draft")
		require.NoError(t, store.CreateRecord(ctx, rec))

		unit, err := store.Begin(ctx, rec)
		require.NoError(t, err)

		require.NoError(t, unit.WriteState(ctx, rec, "draft", "placed"))
		require.NoError(t, unit.AppendChange(ctx, rec, newChange(rec, "draft", "placed")))
		require.NoError(t, unit.Commit(ctx))

		state, err := store.ReadCurrentState(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, machine.StateName("placed"), state)
		assert.Len(t, store.History(rec), 1)
		assert.Equal(t, int64(1), store.Commits())
	})

	t.Run("stale expectation is rejected at write", func(t *testing.T) {
		t.Parallel()

		store := memstore.New()
		rec := machinetest.NewRec("r1", "order")
		rec.SetCurrentState("placed")
		require.NoError(t, store.CreateRecord(ctx, rec))

		unit, err := store.Begin(ctx, rec)
		require.NoError(t, err)

		err = unit.WriteState(ctx, rec, "draft", "shipped")
		require.ErrorIs(t, err, machine.ErrStaleState)

		require.NoError(t, unit.Rollback(ctx))

		state, err := store.ReadCurrentState(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, machine.StateName("placed"), state)
	})

	t.Run("unknown record is rejected at write", func(t *testing.T) {
		t.Parallel()

		store := memstore.New()
		rec := machinetest.NewRec("ghost", "order")

		unit, err := store.Begin(ctx, rec)
		require.NoError(t, err)

		require.ErrorIs(t, unit.WriteState(ctx, rec, "draft", "placed"), memstore.ErrRecordUnknown)
		require.NoError(t, unit.Rollback(ctx))
	})
}

func TestRollback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()

	rec := machinetest.NewRec("r1", "order")
	rec.SetCurrentState("draft")
	require.NoError(t, store.CreateRecord(ctx, rec))

	unit, err := store.Begin(ctx, rec)
	require.NoError(t, err)

	require.NoError(t, unit.WriteState(ctx, rec, "draft", "placed"))
	require.NoError(t, unit.AppendChange(ctx, rec, newChange(rec, "draft", "placed")))
	require.NoError(t, unit.Rollback(ctx))

	state, err := store.ReadCurrentState(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, machine.StateName("draft"), state)
	assert.Empty(t, store.History(rec))
	assert.Equal(t, int64(1), store.Rollbacks())

	// Rollback after close is a no-op, and the unit stays unusable.
	require.NoError(t, unit.Rollback(ctx))
	require.ErrorIs(t, unit.Commit(ctx), memstore.ErrUnitClosed)
	require.ErrorIs(t, unit.WriteState(ctx, rec, "draft", "placed"), memstore.ErrUnitClosed)
}

func TestPerRecordSerialization(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()

	rec := machinetest.NewRec("r1", "order")
	rec.SetCurrentState("draft")
	require.NoError(t, store.CreateRecord(ctx, rec))

	first, err := store.Begin(ctx, rec)
	require.NoError(t, err)

	acquired := make(chan machine.AtomicUnit)

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		// Blocks until the first unit closes.
		second, err := store.Begin(ctx, rec)
		assert.NoError(t, err)
		acquired <- second
	}()

	select {
	case <-acquired:
		t.Fatal("second unit began while the first was open")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, first.WriteState(ctx, rec, "draft", "placed"))
	require.NoError(t, first.Commit(ctx))

	second := <-acquired
	wg.Wait()

	// The second unit sees the first unit's committed state.
	require.ErrorIs(t, second.WriteState(ctx, rec, "draft", "shipped"), machine.ErrStaleState)
	require.NoError(t, second.Rollback(ctx))
}

func TestIndependentRecordsDoNotBlock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()

	a := machinetest.NewRec("a", "order")
	a.SetCurrentState("draft")
	b := machinetest.NewRec("b", "order")
	b.SetCurrentState("draft")

	require.NoError(t, store.CreateRecord(ctx, a))
	require.NoError(t, store.CreateRecord(ctx, b))

	unitA, err := store.Begin(ctx, a)
	require.NoError(t, err)

	unitB, err := store.Begin(ctx, b)
	require.NoError(t, err)

	require.NoError(t, unitA.WriteState(ctx, a, "draft", "placed"))
	require.NoError(t, unitB.WriteState(ctx, b, "draft", "placed"))
	require.NoError(t, unitA.Commit(ctx))
	require.NoError(t, unitB.Commit(ctx))
}

func TestCountInState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()

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

	count, err = store.CountInState(ctx, "order", "placed")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = store.CountInState(ctx, "order", "cancelled")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
