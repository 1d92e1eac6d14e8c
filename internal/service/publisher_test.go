package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/Jonathan7758/linkc-platform-sub000/internal/config"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/event"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func newTestPublisher(t *testing.T, tr *fakeTransport, maxRetries int) *EventPublisher {
	t.Helper()
	p := NewEventPublisher("fleet-test", tr, config.Publisher{MaxRetries: maxRetries, RetryDelay: 10 * time.Millisecond}, nil)
	t.Cleanup(p.Close)
	return p
}

func TestPublisher_DeliversImmediatelyWhenConnected(t *testing.T) {
	tr := newFakeTransport(true)
	p := newTestPublisher(t, tr, 3)

	id, err := p.Publish(context.Background(), event.TypeTaskStarted, event.TaskStarted{TaskID: "T1"}, event.WithSubject("T1"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	evs := tr.events()
	require.Len(t, evs, 1)
	assert.Equal(t, "gw-"+evs[0].ID, id)
	assert.Equal(t, "ecis://fleet-test", evs[0].Source)
	assert.Equal(t, "T1", evs[0].Subject)
	assert.Zero(t, p.Pending())
	assert.False(t, p.RetryLoopRunning())
}

func TestPublisher_QueuesWhileDisconnectedThenDelivers(t *testing.T) {
	tr := newFakeTransport(false)
	p := newTestPublisher(t, tr, 50)

	id, err := p.Publish(context.Background(), event.TypeTaskCompleted, event.TaskCompleted{TaskID: "T1"})
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Equal(t, 1, p.Pending())
	assert.True(t, p.RetryLoopRunning())

	tr.connected.Store(true)
	require.Eventually(t, func() bool { return p.Pending() == 0 && !p.RetryLoopRunning() }, waitFor, tick)

	evs := tr.events()
	require.Len(t, evs, 1)
	assert.Equal(t, event.TypeTaskCompleted, evs[0].Type)

	// No duplicate delivery on later passes.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, tr.events(), 1)
	assert.Equal(t, 1, tr.attemptsFor(evs[0].ID))
}

func TestPublisher_FailedDeliveryIsRetried(t *testing.T) {
	tr := newFakeTransport(true)
	tr.failing.Store(true)
	p := newTestPublisher(t, tr, 10)

	id, err := p.Publish(context.Background(), event.TypeTaskFailed, event.TaskFailed{TaskID: "T1"})
	require.NoError(t, err)
	assert.Empty(t, id)

	tr.failing.Store(false)
	require.Eventually(t, func() bool { return len(tr.events()) == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return p.Pending() == 0 }, waitFor, tick)
}

func TestPublisher_DropsAfterMaxRetries(t *testing.T) {
	tr := newFakeTransport(true)
	tr.failing.Store(true)
	p := newTestPublisher(t, tr, 3)

	_, err := p.Publish(context.Background(), event.TypeTaskProgress, event.TaskProgress{TaskID: "T1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return p.Dropped() == 1 }, waitFor, tick)
	assert.Zero(t, p.Pending())
	require.Eventually(t, func() bool { return !p.RetryLoopRunning() }, waitFor, tick)

	assert.Equal(t, 4, tr.totalAttempts(), "initial attempt plus max_retries")
}

func TestPublisher_LoopRestartsAfterDraining(t *testing.T) {
	tr := newFakeTransport(false)
	p := newTestPublisher(t, tr, 1)

	_, _ = p.Publish(context.Background(), event.TypeTaskProgress, nil)
	require.Eventually(t, func() bool { return !p.RetryLoopRunning() }, waitFor, tick)
	assert.Equal(t, 1, p.Dropped())

	_, _ = p.Publish(context.Background(), event.TypeTaskProgress, nil)
	assert.True(t, p.RetryLoopRunning())
}

func TestPublisher_CloseDiscardsQueue(t *testing.T) {
	tr := newFakeTransport(false)
	p := NewEventPublisher("fleet-test", tr, config.Publisher{MaxRetries: 3, RetryDelay: time.Hour}, nil)

	_, _ = p.Publish(context.Background(), event.TypeSystemOffline, nil)
	p.Close()
	assert.Zero(t, p.Pending())
	assert.False(t, p.RetryLoopRunning())

	_, _ = p.Publish(context.Background(), event.TypeSystemOffline, nil)
	assert.Zero(t, p.Pending(), "closed publisher does not queue")
	assert.Equal(t, 2, p.Dropped())
}

// An event published while the Gateway never accepts it is attempted at
// most max_retries+1 times and always leaves the queue.
func TestPublisher_RetryBoundProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxRetries := rapid.IntRange(0, 4).Draw(rt, "max_retries")
		connected := rapid.Bool().Draw(rt, "connected")

		tr := newFakeTransport(connected)
		tr.failing.Store(true)
		p := NewEventPublisher("fleet-test", tr, config.Publisher{MaxRetries: maxRetries, RetryDelay: time.Millisecond}, nil)
		defer p.Close()

		e, err := event.New("fleet-test", event.TypeTaskProgress, nil)
		if err != nil {
			rt.Fatal(err)
		}
		p.PublishEvent(context.Background(), e)

		deadline := time.Now().Add(waitFor)
		for p.RetryLoopRunning() || p.Pending() > 0 {
			if time.Now().After(deadline) {
				rt.Fatalf("event still queued after %s", waitFor)
			}
			time.Sleep(time.Millisecond)
		}
		if n := tr.attemptsFor(e.ID); n > maxRetries+1 {
			rt.Fatalf("attempted %d times with max_retries=%d", n, maxRetries)
		}
		if p.Dropped() != 1 {
			rt.Fatalf("dropped = %d, want 1", p.Dropped())
		}
	})
}
