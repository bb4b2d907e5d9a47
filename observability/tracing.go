package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xraph/herald"

// Tracer wraps the OpenTelemetry tracer used for deliveries and emits.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer returns a Tracer from the global provider.
func NewTracer() *Tracer {
	return NewTracerFrom(otel.GetTracerProvider())
}

// NewTracerFrom returns a Tracer from tp.
func NewTracerFrom(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(tracerName)}
}

// StartEmitSpan starts the span covering one Emit call.
func (t *Tracer) StartEmitSpan(ctx context.Context, ownerID, kind string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "herald.emit",
		trace.WithAttributes(
			attribute.String("herald.owner_id", ownerID),
			attribute.String("herald.event", kind),
		),
	)
}

// StartAttemptSpan starts the span covering one delivery attempt.
func (t *Tracer) StartAttemptSpan(ctx context.Context, deliveryID, subscriptionID string, attempt int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "herald.delivery.attempt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("herald.delivery_id", deliveryID),
			attribute.String("herald.subscription_id", subscriptionID),
			attribute.Int("herald.attempt", attempt),
		),
	)
}

// EndAttemptSpan records the attempt result and ends the span.
func (t *Tracer) EndAttemptSpan(span trace.Span, statusCode int, latencyMs int64, errMsg string) {
	span.SetAttributes(
		attribute.Int("http.response.status_code", statusCode),
		attribute.Int64("herald.latency_ms", latencyMs),
	)
	if errMsg != "" {
		span.SetStatus(codes.Error, errMsg)
	}
	span.End()
}
