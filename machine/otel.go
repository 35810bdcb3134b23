package machine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "machine"

// startFireSpan creates the root span for one Fire call.
// The caller is responsible for ending it via endFireSpan.
//
//nolint:spancheck // Span lifecycle managed by caller (factory pattern)
func startFireSpan(ctx context.Context, rec Record, event EventName) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "machine.fire")
	span.SetAttributes(
		attribute.String("owner", string(rec.Owner())),
		attribute.String("event", string(event)),
		attribute.String("record_id_hash", hashID(rec.ID())),
		attribute.String("current_state", string(rec.CurrentState())),
	)

	return ctx, span
}

func endFireSpan(span trace.Span, result FireResult, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.String("outcome", result.Outcome.String()))
		span.SetStatus(codes.Ok, result.Outcome.String())
	}

	span.End()
}

// startTransitionSpan creates the child span covering the atomic unit.
//
//nolint:spancheck // Span lifecycle managed by caller (factory pattern)
func startTransitionSpan(
	ctx context.Context,
	rec Record,
	from, to StateName,
	event EventName,
) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "machine.transition")
	span.SetAttributes(
		attribute.String("owner", string(rec.Owner())),
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
		attribute.String("event", string(event)),
		attribute.String("record_id_hash", hashID(rec.ID())),
	)

	return ctx, span
}

func endTransitionSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "applied")
	}

	span.End()
}

// hashID creates a short hash of a record ID for span attributes (privacy).
func hashID(id string) string {
	if id == "" {
		return ""
	}

	h := sha256.Sum256([]byte(id))

	return hex.EncodeToString(h[:4])
}
