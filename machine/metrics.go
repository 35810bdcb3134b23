package machine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric definitions with appropriate labels.
var (
	firesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "machine_fires_total",
		Help: "Total number of event firings by owner, event, and outcome (applied, no_match, or error)",
	}, []string{"owner", "event", "outcome"})

	fireDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "machine_fire_duration_seconds",
		Help:    "Duration of event firings by owner, event, and outcome",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"owner", "event", "outcome"})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "machine_transitions_total",
		Help: "Total number of applied transitions by owner, from_state, to_state, and event",
	}, []string{"owner", "from_state", "to_state", "event"})

	conflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "machine_conflicts_total",
		Help: "Total number of stale conditional writes by owner and event",
	}, []string{"owner", "event"})

	phaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "machine_callback_phase_duration_seconds",
		Help:    "Duration of callback phase execution by owner, phase, and outcome",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"owner", "phase", "outcome"})
)

const (
	outcomeError = "error"
)

func sanitizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}

	return v
}

func fireOutcomeLabel(result FireResult, err error) string {
	if err != nil {
		return outcomeError
	}

	return result.Outcome.String()
}

func observeFire(owner OwnerType, event EventName, result FireResult, err error, duration time.Duration) {
	outcome := fireOutcomeLabel(result, err)

	firesTotal.WithLabelValues(sanitizeLabel(string(owner)), sanitizeLabel(string(event)), outcome).Inc()
	fireDuration.WithLabelValues(sanitizeLabel(string(owner)), sanitizeLabel(string(event)), outcome).
		Observe(duration.Seconds())
}

func observeTransition(owner OwnerType, from, to StateName, event EventName) {
	transitionsTotal.WithLabelValues(
		sanitizeLabel(string(owner)),
		sanitizeLabel(string(from)),
		sanitizeLabel(string(to)),
		sanitizeLabel(string(event)),
	).Inc()
}

func observeConflict(owner OwnerType, event EventName) {
	conflictsTotal.WithLabelValues(sanitizeLabel(string(owner)), sanitizeLabel(string(event))).Inc()
}

func observePhase(owner OwnerType, phase Phase, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = outcomeError
	}

	phaseDuration.WithLabelValues(sanitizeLabel(string(owner)), string(phase), outcome).
		Observe(duration.Seconds())
}
