package retry

import (
	"math/rand/v2"
	"time"
)

// Jitter is the random share of each delay. 0 keeps the delay exact; 1
// replaces it entirely with a random duration below it.
type Jitter float64

const (
	// WithoutJitter uses the exact computed delay.
	WithoutJitter Jitter = 0
	// EqualJitter keeps half the delay and randomizes the other half.
	EqualJitter Jitter = 0.5
	// FullJitter randomizes the whole delay.
	FullJitter Jitter = 1.0
)

func (j Jitter) apply(d time.Duration) time.Duration {
	if j <= 0 || d <= 0 {
		return d
	}

	span := int64(float64(d) * float64(j))
	if span <= 0 {
		return d
	}

	fixed := time.Duration(float64(d) * (1 - float64(j)))

	return fixed + time.Duration(rand.Int64N(span))
}
