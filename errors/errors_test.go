package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollection_Add(t *testing.T) {
	t.Parallel()

	t.Run("adds non-nil errors", func(t *testing.T) {
		t.Parallel()

		c := &Collection{}

		c.Add(errors.New("error 1")) //nolint:err113
		c.Add(errors.New("error 2")) //nolint:err113

		assert.True(t, c.HasErrors())
		assert.Equal(t, 2, c.Len())
	})

	t.Run("ignores nil errors", func(t *testing.T) {
		t.Parallel()

		c := &Collection{}

		c.Add(nil)

		assert.False(t, c.HasErrors())
		assert.Equal(t, 0, c.Len())
	})
}

func TestCollection_Addf(t *testing.T) {
	t.Parallel()

	c := &Collection{}
	c.Addf("check %d failed", 7)

	err := c.GetError()
	require.Error(t, err)
	assert.Equal(t, "check 7 failed", err.Error())
}

func TestCollection_GetError(t *testing.T) {
	t.Parallel()

	t.Run("empty returns nil", func(t *testing.T) {
		t.Parallel()

		c := &Collection{}

		require.NoError(t, c.GetError())
	})

	t.Run("single error returned as-is", func(t *testing.T) {
		t.Parallel()

		c := &Collection{}
		sentinel := errors.New("only one") //nolint:err113

		c.Add(sentinel)

		require.Equal(t, sentinel, c.GetError()) //nolint:testifylint
	})

	t.Run("multiple errors are joined", func(t *testing.T) {
		t.Parallel()

		c := &Collection{}
		first := errors.New("first")   //nolint:err113
		second := errors.New("second") //nolint:err113

		c.Add(first)
		c.Add(second)

		err := c.GetError()
		require.Error(t, err)
		assert.ErrorIs(t, err, first)
		assert.ErrorIs(t, err, second)
	})
}
