package machine

import (
	"context"
	"log/slog"
	"time"
)

// Logger provides logging hooks for machine execution.
type Logger interface {
	FireStarted(ctx context.Context, rec Record, event EventName)
	FireResolved(ctx context.Context, rec Record, event EventName, result FireResult, duration time.Duration, err error)
	TransitionApplied(ctx context.Context, rec Record, from, to StateName, event EventName)
	BootstrapApplied(ctx context.Context, rec Record, initial StateName)
	ConflictDetected(ctx context.Context, rec Record, event EventName, expected StateName)
	RollbackFailed(ctx context.Context, rec Record, err error)
	RecorderFailed(ctx context.Context, rec Record, err error)
}

// DefaultLogger implements Logger using slog.
type DefaultLogger struct {
	logger *slog.Logger
}

// NewDefaultLogger creates a logger backed by slog.Default.
func NewDefaultLogger() *DefaultLogger {
	return &DefaultLogger{logger: slog.Default()}
}

// NewSlogLogger creates a logger backed by the given slog.Logger.
func NewSlogLogger(logger *slog.Logger) *DefaultLogger {
	return &DefaultLogger{logger: logger}
}

func recFields(rec Record) []any {
	return []any{
		"owner", string(rec.Owner()),
		"record_id", rec.ID(),
		"current_state", string(rec.CurrentState()),
	}
}

func (l *DefaultLogger) FireStarted(ctx context.Context, rec Record, event EventName) {
	l.logger.DebugContext(ctx, "Fire started", append(recFields(rec), "event", string(event))...)
}

func (l *DefaultLogger) FireResolved(
	ctx context.Context,
	rec Record,
	event EventName,
	result FireResult,
	duration time.Duration,
	err error,
) {
	fields := append(recFields(rec),
		"event", string(event),
		"duration_ms", duration.Milliseconds(),
	)

	if err != nil {
		l.logger.ErrorContext(ctx, "Fire failed", append(fields, "error", err)...)

		return
	}

	fields = append(fields, "outcome", result.Outcome.String())

	if result.Outcome == OutcomeApplied {
		fields = append(fields, "from", string(result.From), "to", string(result.To))
	}

	l.logger.InfoContext(ctx, "Fire resolved", fields...)
}

func (l *DefaultLogger) TransitionApplied(ctx context.Context, rec Record, from, to StateName, event EventName) {
	l.logger.InfoContext(ctx, "Transition applied", append(recFields(rec),
		"from", string(from),
		"to", string(to),
		"event", string(event),
	)...)
}

func (l *DefaultLogger) BootstrapApplied(ctx context.Context, rec Record, initial StateName) {
	l.logger.InfoContext(ctx, "Initial state actions applied", append(recFields(rec),
		"initial_state", string(initial),
	)...)
}

func (l *DefaultLogger) ConflictDetected(ctx context.Context, rec Record, event EventName, expected StateName) {
	l.logger.WarnContext(ctx, "Concurrent transition conflict", append(recFields(rec),
		"event", string(event),
		"expected_state", string(expected),
	)...)
}

func (l *DefaultLogger) RollbackFailed(ctx context.Context, rec Record, err error) {
	l.logger.ErrorContext(ctx, "Atomic unit rollback failed", append(recFields(rec), "error", err)...)
}

func (l *DefaultLogger) RecorderFailed(ctx context.Context, rec Record, err error) {
	l.logger.ErrorContext(ctx, "Recorder commit failed", append(recFields(rec), "error", err)...)
}

// NopLogger discards all log output.
type NopLogger struct{}

func (NopLogger) FireStarted(context.Context, Record, EventName) {}
func (NopLogger) FireResolved(context.Context, Record, EventName, FireResult, time.Duration, error) {
}
func (NopLogger) TransitionApplied(context.Context, Record, StateName, StateName, EventName) {}
func (NopLogger) BootstrapApplied(context.Context, Record, StateName)                        {}
func (NopLogger) ConflictDetected(context.Context, Record, EventName, StateName)             {}
func (NopLogger) RollbackFailed(context.Context, Record, error)                              {}
func (NopLogger) RecorderFailed(context.Context, Record, error)                              {}
