// Package otelspan wraps the two OpenTelemetry spans the dispatch
// engine emits: one per inbound request (dispatch.execute) and one per
// upstream attempt (dispatch.attempt), the latter parented by the
// former. No exporter is configured here — accepting a trace.Tracer as
// a constructor argument lets the caller attach whatever OTel SDK
// exporter it wants; exporter selection is the collaborator's startup
// wiring, out of this engine's scope.
package otelspan

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps a trace.Tracer with the two span kinds this engine uses.
// A zero-value Tracer with a nil inner tracer still works: a tracer from
// a fresh no-op TracerProvider is used whenever Inner is nil.
type Tracer struct {
	Inner trace.Tracer
}

// New wraps tracer. Passing nil is valid and yields a no-op Tracer.
func New(tracer trace.Tracer) Tracer {
	return Tracer{Inner: tracer}
}

func (t Tracer) tracer() trace.Tracer {
	if t.Inner != nil {
		return t.Inner
	}
	return noop.NewTracerProvider().Tracer("dispatch")
}

// StartExecute opens the outer span for one inbound request.
func (t Tracer) StartExecute(ctx context.Context, model, requestID string) (context.Context, trace.Span) {
	return t.tracer().Start(ctx, "dispatch.execute",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("dispatch.model", model),
			attribute.String("dispatch.request_id", requestID),
		),
	)
}

// StartAttempt opens one attempt span, parented by whatever span is
// already in ctx (normally the dispatch.execute span).
func (t Tracer) StartAttempt(ctx context.Context, provider, model, phase string) (context.Context, trace.Span) {
	return t.tracer().Start(ctx, "dispatch.attempt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("dispatch.provider", provider),
			attribute.String("dispatch.model", model),
			attribute.String("dispatch.phase", phase),
		),
	)
}

// EndAttempt records the attempt's outcome on span and closes it.
func EndAttempt(span trace.Span, statusCode int, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("dispatch.status_code", statusCode))
	}
	span.End()
}
