package retry

import (
	"math"
	"time"
)

// Backoff computes the delay before a retry. attempt is zero-indexed: 0
// precedes the first retry.
type Backoff interface {
	Delay(attempt uint) time.Duration
}

// Constant waits the same duration before every retry.
type Constant time.Duration

func (c Constant) Delay(uint) time.Duration {
	return time.Duration(c)
}

// Linear grows the delay by one step per retry: step, 2*step, 3*step.
type Linear time.Duration

func (l Linear) Delay(attempt uint) time.Duration {
	return time.Duration(attempt+1) * time.Duration(l) //nolint:gosec // attempt stays small
}

// ExpBackoff grows the delay as Base * Factor^attempt, clamped to
// [Base, Max].
type ExpBackoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
}

func (b ExpBackoff) Delay(attempt uint) time.Duration {
	d := time.Duration(float64(b.Base) * math.Pow(b.Factor, float64(attempt)))

	if d < b.Base {
		return b.Base
	}

	if d > b.Max {
		return b.Max
	}

	return d
}
