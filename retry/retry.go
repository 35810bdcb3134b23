// Package retry runs operations that may fail transiently, with bounded
// attempts, pluggable backoff, and optional jitter. Delays respect context
// cancellation, and Abort stops the loop for errors retrying cannot help.
package retry

import (
	"context"
	"errors"
	"time"
)

const (
	defaultAttempts = 4
	defaultBase     = 100 * time.Millisecond
	defaultMax      = 2 * time.Second
	defaultFactor   = 2.0
)

// Option configures a Do or DoValue call.
type Option func(*options)

type options struct {
	attempts int
	backoff  Backoff
	jitter   Jitter
}

// WithAttempts bounds the total number of calls, the first included. Zero
// means keep retrying until the context is done.
func WithAttempts(n int) Option {
	return func(o *options) {
		o.attempts = n
	}
}

// WithBackoff sets the delay strategy between attempts.
func WithBackoff(b Backoff) Option {
	return func(o *options) {
		o.backoff = b
	}
}

// WithJitter randomizes delays to spread out competing retriers.
func WithJitter(j Jitter) Option {
	return func(o *options) {
		o.jitter = j
	}
}

// Do calls op until it succeeds, the attempts run out, the context is done,
// or op returns an aborted error. The last error is returned when attempts
// run out.
func Do(ctx context.Context, op func(ctx context.Context) error, opts ...Option) error {
	o := &options{
		attempts: defaultAttempts,
		backoff:  ExpBackoff{Base: defaultBase, Max: defaultMax, Factor: defaultFactor},
		jitter:   FullJitter,
	}

	for _, opt := range opts {
		opt(o)
	}

	var err error

	for attempt := 0; attempt < o.attempts || o.attempts == 0; attempt++ {
		if attempt > 0 {
			if waitErr := wait(ctx, o.jitter.apply(o.backoff.Delay(uint(attempt-1)))); waitErr != nil {
				return waitErr
			}
		}

		if err = op(ctx); err == nil {
			return nil
		}

		var transient Error
		if errors.As(err, &transient) && !transient.Temporary() {
			var aborted *abortedError
			if errors.As(err, &aborted) {
				return aborted.error
			}

			return err
		}
	}

	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var out T

	err := Do(ctx, func(ctx context.Context) error {
		var opErr error

		out, opErr = op(ctx)

		return opErr
	}, opts...)
	if err != nil {
		var zero T

		return zero, err
	}

	return out, nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
