package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/statecraft-io/statecraft/retry"
)

// Config holds the PostgreSQL connection settings, loadable from the
// environment.
type Config struct {
	ConnectionString  string        `env:"STATECRAFT_PG_URL,required"`
	MaxOpenConns      int32         `env:"STATECRAFT_PG_MAX_OPEN_CONNS"      envDefault:"10"`
	MaxIdleConns      int32         `env:"STATECRAFT_PG_MAX_IDLE_CONNS"      envDefault:"5"`
	HealthCheckPeriod time.Duration `env:"STATECRAFT_PG_HEALTHCHECK_PERIOD"  envDefault:"1m"`
	MaxConnIdleTime   time.Duration `env:"STATECRAFT_PG_MAX_CONN_IDLE_TIME"  envDefault:"10m"`
	MaxConnLifetime   time.Duration `env:"STATECRAFT_PG_MAX_CONN_LIFETIME"   envDefault:"30m"`
	RetryAttempts     int           `env:"STATECRAFT_PG_RETRY_ATTEMPTS"      envDefault:"3"`
	RetryInterval     time.Duration `env:"STATECRAFT_PG_RETRY_INTERVAL"      envDefault:"5s"`
}

// LoadConfig reads the connection settings from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse pgstore config: %w", err)
	}

	return cfg, nil
}

// Connect establishes a connection pool, retrying transient failures with a
// linear backoff before giving up.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.ConnectionString == "" {
		return nil, ErrEmptyConnectionString
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseConfig, err)
	}

	poolConfig.MaxConns = cfg.MaxOpenConns
	poolConfig.MinConns = cfg.MaxIdleConns
	poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime

	var pool *pgxpool.Pool

	err = retry.Do(ctx, func(ctx context.Context) error {
		p, connErr := pgxpool.NewWithConfig(ctx, poolConfig)
		if connErr != nil {
			return connErr
		}

		if pingErr := p.Ping(ctx); pingErr != nil {
			p.Close()

			return pingErr
		}

		pool = p

		return nil
	},
		retry.WithAttempts(cfg.RetryAttempts),
		retry.WithBackoff(retry.Linear(cfg.RetryInterval)),
		retry.WithJitter(retry.WithoutJitter),
	)
	if err != nil {
		return nil, errors.Join(ErrFailedToConnect, err)
	}

	return pool, nil
}
