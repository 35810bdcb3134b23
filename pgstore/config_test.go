package pgstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statecraft-io/statecraft/pgstore"
)

func TestLoadConfig(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		t.Setenv("STATECRAFT_PG_URL", "postgres://localhost:5432/statecraft")

		cfg, err := pgstore.LoadConfig()
		require.NoError(t, err)

		assert.Equal(t, "postgres://localhost:5432/statecraft", cfg.ConnectionString)
		assert.Equal(t, int32(10), cfg.MaxOpenConns)
		assert.Equal(t, int32(5), cfg.MaxIdleConns)
		assert.Equal(t, 3, cfg.RetryAttempts)
		assert.Equal(t, 5*time.Second, cfg.RetryInterval)
	})

	t.Run("overrides from the environment", func(t *testing.T) {
		t.Setenv("STATECRAFT_PG_URL", "postgres://localhost:5432/statecraft")
		t.Setenv("STATECRAFT_PG_MAX_OPEN_CONNS", "25")
		t.Setenv("STATECRAFT_PG_RETRY_INTERVAL", "250ms")

		cfg, err := pgstore.LoadConfig()
		require.NoError(t, err)

		assert.Equal(t, int32(25), cfg.MaxOpenConns)
		assert.Equal(t, 250*time.Millisecond, cfg.RetryInterval)
	})
}

func TestConnectRejectsEmptyConnectionString(t *testing.T) {
	t.Parallel()

	_, err := pgstore.Connect(context.Background(), pgstore.Config{})
	require.ErrorIs(t, err, pgstore.ErrEmptyConnectionString)
}
