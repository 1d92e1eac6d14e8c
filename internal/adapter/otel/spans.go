package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "fleetd"

// StartDispatchSpan starts a span for handling one inbound event.
func StartDispatchSpan(ctx context.Context, eventID, eventType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "dispatch",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("cloudevents.event_id", eventID),
			attribute.String("cloudevents.event_type", eventType),
		),
	)
}

// StartOfferSpan starts a span for a task offer to one agent.
func StartOfferSpan(ctx context.Context, taskID, agentID, capability string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "offer",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("agent.id", agentID),
			attribute.String("task.capability", capability),
		),
	)
}

// StartPublishSpan starts a span for delivering one outbound event.
func StartPublishSpan(ctx context.Context, eventID, eventType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("cloudevents.event_id", eventID),
			attribute.String("cloudevents.event_type", eventType),
		),
	)
}
