package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/agent"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/event"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/task"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/port/executor"
)

var errGatewayDown = errors.New("gateway unavailable")

// fakeTransport records delivery attempts and fails on demand.
type fakeTransport struct {
	connected atomic.Bool
	failing   atomic.Bool

	mu        sync.Mutex
	attempts  map[string]int
	delivered []event.Event
}

func newFakeTransport(connected bool) *fakeTransport {
	f := &fakeTransport{attempts: make(map[string]int)}
	f.connected.Store(connected)
	return f
}

func (f *fakeTransport) IsConnected() bool { return f.connected.Load() }

func (f *fakeTransport) PublishEvent(_ context.Context, e event.Event) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[e.ID]++
	if f.failing.Load() {
		return "", errGatewayDown
	}
	f.delivered = append(f.delivered, e)
	return "gw-" + e.ID, nil
}

func (f *fakeTransport) attemptsFor(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[id]
}

func (f *fakeTransport) totalAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, c := range f.attempts {
		n += c
	}
	return n
}

func (f *fakeTransport) events() []event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]event.Event, len(f.delivered))
	copy(out, f.delivered)
	return out
}

func (f *fakeTransport) eventsOfType(t string) []event.Event {
	var out []event.Event
	for _, e := range f.events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func decode[T any](t *testing.T, e event.Event) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		t.Fatalf("decode %s: %v", e.Type, err)
	}
	return v
}

// blockingExecutor runs until released, cancelled or failed.
type blockingExecutor struct {
	release chan map[string]any
	fail    chan error
	started chan string

	mu       sync.Mutex
	controls []agent.Control
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{
		release: make(chan map[string]any, 1),
		fail:    make(chan error, 1),
		started: make(chan string, 4),
	}
}

func (b *blockingExecutor) Execute(ctx context.Context, t task.OrchestrationTask, progress executor.ProgressFunc) (map[string]any, error) {
	b.started <- t.TaskID
	progress(50, "halfway", nil)
	select {
	case res := <-b.release:
		return res, nil
	case err := <-b.fail:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *blockingExecutor) Control(_ context.Context, c agent.Control) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c == agent.ControlReturnHome {
		return executor.ErrUnsupportedControl
	}
	b.controls = append(b.controls, c)
	return nil
}

func waitStarted(t *testing.T, b *blockingExecutor) string {
	t.Helper()
	select {
	case id := <-b.started:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("executor did not start")
		return ""
	}
}
