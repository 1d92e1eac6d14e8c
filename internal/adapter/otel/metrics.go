package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "fleetd"

// Metrics holds the fleet metric instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Offers          metric.Int64Counter
	EventsPublished metric.Int64Counter
	EventsQueued    metric.Int64Counter
	EventsDropped   metric.Int64Counter
	InboundEvents   metric.Int64Counter
	TaskDuration    metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Offers, err = meter.Int64Counter("fleet.offers",
		metric.WithDescription("Task offers decided, by status and reason"))
	if err != nil {
		return nil, err
	}

	m.EventsPublished, err = meter.Int64Counter("fleet.events.published",
		metric.WithDescription("Events delivered to the Gateway"))
	if err != nil {
		return nil, err
	}

	m.EventsQueued, err = meter.Int64Counter("fleet.events.queued",
		metric.WithDescription("Events placed on the retry queue"))
	if err != nil {
		return nil, err
	}

	m.EventsDropped, err = meter.Int64Counter("fleet.events.dropped",
		metric.WithDescription("Events dropped after exhausting retries"))
	if err != nil {
		return nil, err
	}

	m.InboundEvents, err = meter.Int64Counter("fleet.inbound.events",
		metric.WithDescription("Inbound events by handling outcome"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("fleet.task.duration_seconds",
		metric.WithDescription("Task execution time from acceptance to terminal event"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordOffer counts one offer decision.
func (m *Metrics) RecordOffer(ctx context.Context, status, reason string) {
	if m == nil {
		return
	}
	m.Offers.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("reason", reason),
	))
}

// RecordPublish counts an event by delivery outcome: "delivered", "queued" or "dropped".
func (m *Metrics) RecordPublish(ctx context.Context, eventType, outcome string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("type", eventType))
	switch outcome {
	case "delivered":
		m.EventsPublished.Add(ctx, 1, attrs)
	case "queued":
		m.EventsQueued.Add(ctx, 1, attrs)
	case "dropped":
		m.EventsDropped.Add(ctx, 1, attrs)
	}
}

// RecordInbound counts one inbound event.
func (m *Metrics) RecordInbound(ctx context.Context, eventType, outcome string) {
	if m == nil {
		return
	}
	m.InboundEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", eventType),
		attribute.String("outcome", outcome),
	))
}

// RecordTaskDuration records the duration of a finished task.
func (m *Metrics) RecordTaskDuration(ctx context.Context, capability, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.TaskDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("capability", capability),
		attribute.String("outcome", outcome),
	))
}
