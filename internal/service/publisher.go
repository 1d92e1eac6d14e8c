package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cfotel "github.com/Jonathan7758/linkc-platform-sub000/internal/adapter/otel"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/config"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/event"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/logger"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/port/gateway"
)

// queuedEvent is an undelivered event awaiting retry.
type queuedEvent struct {
	event      event.Event
	retryCount int
}

// EventPublisher builds CloudEvents and delivers them to the Gateway,
// queueing failed deliveries in memory for a bounded number of retries.
// Queued events are not persisted across restarts.
type EventPublisher struct {
	systemID   string
	transport  gateway.Transport
	maxRetries int
	retryDelay time.Duration
	metrics    *cfotel.Metrics
	log        *slog.Logger

	mu      sync.Mutex
	queue   []*queuedEvent
	running bool
	closed  bool
	dropped int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEventPublisher creates a publisher for events sourced from systemID.
func NewEventPublisher(systemID string, transport gateway.Transport, cfg config.Publisher, log *slog.Logger) *EventPublisher {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventPublisher{
		systemID:   systemID,
		transport:  transport,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		log:        logger.Component(log, "publisher"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetMetrics attaches metric instruments.
func (p *EventPublisher) SetMetrics(m *cfotel.Metrics) {
	p.metrics = m
}

// Publish builds an event and attempts immediate delivery. It returns the
// Gateway-issued event id, or "" when the event was queued for retry. The
// error is non-nil only when the event cannot be built.
func (p *EventPublisher) Publish(ctx context.Context, eventType string, data any, opts ...event.Option) (string, error) {
	e, err := event.New(p.systemID, eventType, data, opts...)
	if err != nil {
		return "", err
	}
	return p.PublishEvent(ctx, e), nil
}

// PublishEvent delivers a prebuilt event, queueing it on failure.
func (p *EventPublisher) PublishEvent(ctx context.Context, e event.Event) string {
	if p.transport.IsConnected() {
		if id, ok := p.deliver(ctx, e); ok {
			return id
		}
	}
	p.enqueue(e)
	return ""
}

func (p *EventPublisher) deliver(ctx context.Context, e event.Event) (string, bool) {
	ctx, span := cfotel.StartPublishSpan(ctx, e.ID, e.Type)
	defer span.End()

	id, err := p.transport.PublishEvent(ctx, e)
	if err != nil {
		span.RecordError(err)
		p.log.Debug("event delivery failed", "event_id", e.ID, "type", e.Type, "error", err)
		return "", false
	}
	p.metrics.RecordPublish(ctx, e.Type, "delivered")
	return id, true
}

func (p *EventPublisher) enqueue(e event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.maxRetries == 0 {
		p.dropped++
		p.log.Warn("event dropped", "event_id", e.ID, "type", e.Type, "closed", p.closed)
		p.metrics.RecordPublish(context.Background(), e.Type, "dropped")
		return
	}

	p.queue = append(p.queue, &queuedEvent{event: e})
	p.metrics.RecordPublish(context.Background(), e.Type, "queued")
	p.log.Info("event queued for retry", "event_id", e.ID, "type", e.Type, "queue_len", len(p.queue))

	if !p.running {
		p.running = true
		p.wg.Add(1)
		go p.retryLoop()
	}
}

// retryLoop runs retry passes until the queue drains or the publisher closes.
func (p *EventPublisher) retryLoop() {
	defer p.wg.Done()

	timer := time.NewTimer(p.retryDelay)
	defer timer.Stop()

	for {
		select {
		case <-p.ctx.Done():
			p.mu.Lock()
			p.running = false
			p.mu.Unlock()
			return
		case <-timer.C:
		}

		if !p.retryPass() {
			return
		}
		timer.Reset(p.retryDelay)
	}
}

// retryPass attempts every queued event once. It reports whether the loop
// should keep running; when it returns false the running flag is cleared.
func (p *EventPublisher) retryPass() bool {
	p.mu.Lock()
	batch := p.queue
	p.queue = nil
	p.mu.Unlock()

	var keep []*queuedEvent
	var dropped []*queuedEvent
	for _, q := range batch {
		if p.transport.IsConnected() {
			if _, ok := p.deliver(p.ctx, q.event); ok {
				continue
			}
		}
		q.retryCount++
		if q.retryCount >= p.maxRetries {
			dropped = append(dropped, q)
			continue
		}
		keep = append(keep, q)
	}

	for _, q := range dropped {
		p.log.Warn("event dropped after retries", "event_id", q.event.ID, "type", q.event.Type, "retries", q.retryCount)
		p.metrics.RecordPublish(p.ctx, q.event.Type, "dropped")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropped += len(dropped)
	p.queue = append(keep, p.queue...)
	if len(p.queue) == 0 {
		p.running = false
		return false
	}
	return true
}

// Pending returns the number of queued events.
func (p *EventPublisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Dropped returns the number of events dropped so far.
func (p *EventPublisher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// RetryLoopRunning reports whether a retry loop is active.
func (p *EventPublisher) RetryLoopRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Close stops the retry loop. Events still queued are discarded.
func (p *EventPublisher) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.queue); n > 0 {
		p.log.Warn("discarding queued events on close", "count", n)
		p.dropped += n
		p.queue = nil
	}
}
