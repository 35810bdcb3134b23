// Package bulk fires one event across many records on a bounded worker
// pool. Each record is processed independently: one record's failure never
// blocks the rest, and results come back in input order.
package bulk

import (
	"context"
	"errors"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/statecraft-io/statecraft/machine"
	"github.com/statecraft-io/statecraft/retry"
)

const (
	defaultWorkers = 10
	defaultDelay   = 25 * time.Millisecond
)

var ErrNoRecords = errors.New("no records to process")

// Result is the outcome of one record's fire attempt.
type Result struct {
	Record   machine.Record
	Outcome  machine.FireResult
	Attempts int
	Err      error
}

// Summary aggregates a batch of results.
type Summary struct {
	Applied   int
	NoMatch   int
	Failed    int
	Conflicts int
}

// Summarize tallies the results. Conflicts counts records whose final
// attempt lost a concurrent-write race; those are also counted as Failed.
func Summarize(results []Result) Summary {
	var s Summary

	for _, r := range results {
		switch {
		case machine.IsConflict(r.Err):
			s.Conflicts++
			s.Failed++
		case r.Err != nil:
			s.Failed++
		case r.Outcome.Outcome == machine.OutcomeApplied:
			s.Applied++
		default:
			s.NoMatch++
		}
	}

	return s
}

// Runner fires events across record batches. The storage is used to refresh
// a record's in-memory state before a conflict retry.
type Runner struct {
	machine *machine.Machine
	storage machine.Storage

	workers    int
	retries    int
	retryDelay time.Duration
}

type Option func(*Runner)

// WithWorkers bounds the number of records processed concurrently.
func WithWorkers(workers int) Option {
	return func(r *Runner) {
		r.workers = workers
	}
}

// WithConflictRetries retries a record that lost a concurrent-write race,
// refreshing its state from storage before each retry. Other failures are
// never retried.
func WithConflictRetries(retries int) Option {
	return func(r *Runner) {
		r.retries = retries
	}
}

// WithRetryDelay sets the pause before each conflict retry.
func WithRetryDelay(delay time.Duration) Option {
	return func(r *Runner) {
		r.retryDelay = delay
	}
}

func New(m *machine.Machine, storage machine.Storage, opts ...Option) *Runner {
	runner := &Runner{
		machine:    m,
		storage:    storage,
		workers:    defaultWorkers,
		retryDelay: defaultDelay,
	}

	for _, opt := range opts {
		opt(runner)
	}

	return runner
}

// Fire fires the event on every record. results[i] corresponds to recs[i].
func (r *Runner) Fire(
	ctx context.Context,
	recs []machine.Record,
	event machine.EventName,
	args machine.Args,
) ([]Result, error) {
	if len(recs) == 0 {
		return nil, ErrNoRecords
	}

	results := make([]Result, len(recs))

	pool := pond.NewPool(r.workers)
	defer pool.StopAndWait()

	group := pool.NewGroup()

	for i, rec := range recs {
		group.Submit(func() {
			results[i] = r.fireOne(ctx, rec, event, args)
		})
	}

	group.Wait()

	return results, nil
}

// fireOne fires the event on one record. Conflicts are retried through the
// retry loop with a refreshed state slot; every other failure aborts.
func (r *Runner) fireOne(
	ctx context.Context,
	rec machine.Record,
	event machine.EventName,
	args machine.Args,
) Result {
	result := Result{Record: rec}

	result.Err = retry.Do(ctx, func(ctx context.Context) error {
		if result.Attempts > 0 {
			current, readErr := r.storage.ReadCurrentState(ctx, rec)
			if readErr != nil {
				return retry.Abort(readErr)
			}

			rec.SetCurrentState(current)
		}

		result.Attempts++

		var fireErr error

		result.Outcome, fireErr = r.machine.Fire(ctx, rec, event, args)
		if fireErr != nil && !machine.IsConflict(fireErr) {
			return retry.Abort(fireErr)
		}

		return fireErr
	},
		retry.WithAttempts(r.retries+1),
		retry.WithBackoff(retry.Constant(r.retryDelay)),
		retry.WithJitter(retry.WithoutJitter),
	)

	return result
}
