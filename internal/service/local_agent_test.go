package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/Jonathan7758/linkc-platform-sub000/internal/config"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/agent"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/capability"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/event"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/task"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/port/executor"
)

type agentFixture struct {
	agent    *LocalAgent
	exec     *blockingExecutor
	registry *RegistryService
	tr       *fakeTransport
}

func newAgentFixture(t *testing.T, id string, caps ...string) *agentFixture {
	t.Helper()
	reg := NewRegistryService(nil)
	require.NoError(t, reg.LoadCatalog(capability.All()))
	tr := newFakeTransport(true)
	pub := NewEventPublisher("fleet-test", tr, config.Publisher{MaxRetries: 3, RetryDelay: 10 * time.Millisecond}, nil)
	exec := newBlockingExecutor()
	a := NewLocalAgent(id, "robotdog", caps, exec, reg, pub, nil)
	require.NoError(t, a.Register())
	t.Cleanup(func() {
		a.SetOffline(context.Background())
		a.Wait()
		pub.Close()
	})
	return &agentFixture{agent: a, exec: exec, registry: reg, tr: tr}
}

func patrolTask(id string) task.OrchestrationTask {
	return task.OrchestrationTask{
		TaskID:             id,
		RequiredCapability: "robotdog.patrol.rough",
		Parameters:         map[string]any{"route_id": "route-1"},
	}
}

func TestLocalAgent_AcceptsMatchingOffer(t *testing.T) {
	f := newAgentFixture(t, "robotdog-001", "robotdog.patrol.rough")

	resp := f.agent.Offer(context.Background(), patrolTask("T1"))
	assert.Equal(t, task.StatusAccepted, resp.Status)
	assert.Equal(t, 45, resp.EstimatedDuration)
	assert.Equal(t, "T1", resp.TaskID)
	assert.Equal(t, "robotdog-001", resp.AgentID)

	assert.Equal(t, agent.StatusBusy, f.agent.Status())
	info, _ := f.registry.Agent("robotdog-001")
	assert.Equal(t, agent.StatusBusy, info.Status)
	assert.Equal(t, "T1", info.CurrentTask)
	assert.Equal(t, "T1", waitStarted(t, f.exec))
}

func TestLocalAgent_RejectsCapabilityMismatch(t *testing.T) {
	f := newAgentFixture(t, "robotdog-001", "robotdog.patrol.rough")

	resp := f.agent.Offer(context.Background(), task.OrchestrationTask{
		TaskID:             "T9",
		RequiredCapability: "robotdog.escort.security",
		Parameters:         map[string]any{},
	})
	assert.Equal(t, task.StatusRejected, resp.Status)
	assert.Equal(t, task.ReasonCapabilityMismatch, resp.Reason)
	assert.Equal(t, agent.StatusReady, f.agent.Status())
}

func TestLocalAgent_RejectsMissingParameters(t *testing.T) {
	f := newAgentFixture(t, "robotdog-001", "robotdog.escort.security")

	resp := f.agent.Offer(context.Background(), task.OrchestrationTask{
		TaskID:             "T2",
		RequiredCapability: "robotdog.escort.security",
		Parameters:         map[string]any{"start_location": "lobby"},
	})
	assert.Equal(t, task.StatusRejected, resp.Status)
	assert.Equal(t, task.ReasonInvalidParameters, resp.Reason)
	assert.Contains(t, resp.Message, "end_location")
	assert.Contains(t, resp.Message, "person_id")
	assert.True(t, f.agent.CanAccept())
}

func TestLocalAgent_BusyRejectsThenAcceptsAfterComplete(t *testing.T) {
	f := newAgentFixture(t, "robotdog-001", "robotdog.patrol.rough")
	ctx := context.Background()

	require.Equal(t, task.StatusAccepted, f.agent.Offer(ctx, patrolTask("T1")).Status)
	waitStarted(t, f.exec)

	resp := f.agent.Offer(ctx, patrolTask("T2"))
	assert.Equal(t, task.StatusRejected, resp.Status)
	assert.Equal(t, task.ReasonAgentBusy, resp.Reason)
	assert.Equal(t, "T1", f.agent.CurrentTask())

	f.exec.release <- map[string]any{"distance_m": 1200}
	require.Eventually(t, func() bool { return f.agent.CanAccept() }, waitFor, tick)

	completed := f.tr.eventsOfType(event.TypeTaskCompleted)
	require.Len(t, completed, 1)
	data := decode[event.TaskCompleted](t, completed[0])
	assert.Equal(t, "T1", data.TaskID)
	assert.EqualValues(t, 1200, data.Result["distance_m"])

	assert.Equal(t, task.StatusAccepted, f.agent.Offer(ctx, patrolTask("T2")).Status)
}

func TestLocalAgent_LifecycleEvents(t *testing.T) {
	f := newAgentFixture(t, "robotdog-001", "robotdog.patrol.rough")

	f.agent.Offer(context.Background(), patrolTask("T1"))
	waitStarted(t, f.exec)
	require.Eventually(t, func() bool { return len(f.tr.eventsOfType(event.TypeTaskProgress)) == 1 }, waitFor, tick)
	f.exec.release <- nil
	require.Eventually(t, func() bool { return f.agent.CanAccept() }, waitFor, tick)

	var types []string
	for _, e := range f.tr.events() {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{
		event.TypeRobotStatusChanged,
		event.TypeTaskStarted,
		event.TypeTaskProgress,
		event.TypeTaskCompleted,
		event.TypeRobotStatusChanged,
	}, types)

	progress := decode[event.TaskProgress](t, f.tr.eventsOfType(event.TypeTaskProgress)[0])
	assert.Equal(t, 50, progress.Progress)
	for _, e := range f.tr.eventsOfType(event.TypeTaskStarted) {
		assert.Equal(t, "T1", e.Subject)
	}
}

func TestLocalAgent_ExecutionFailureIsReported(t *testing.T) {
	f := newAgentFixture(t, "robotdog-001", "robotdog.patrol.rough")

	f.agent.Offer(context.Background(), patrolTask("T1"))
	waitStarted(t, f.exec)
	f.exec.fail <- &executor.Error{Code: "OBSTACLE", Message: "path blocked"}
	require.Eventually(t, func() bool { return f.agent.CanAccept() }, waitFor, tick)

	failed := f.tr.eventsOfType(event.TypeTaskFailed)
	require.Len(t, failed, 1)
	data := decode[event.TaskFailed](t, failed[0])
	assert.Equal(t, "OBSTACLE", data.ErrorCode)
	assert.Equal(t, "path blocked", data.ErrorMessage)
}

func TestLocalAgent_TerminalCallsAreIdempotent(t *testing.T) {
	f := newAgentFixture(t, "robotdog-001", "robotdog.patrol.rough")
	ctx := context.Background()

	assert.False(t, f.agent.Complete(ctx, "T1", nil))
	assert.False(t, f.agent.Fail(ctx, "T1", "X", "y"))
	assert.False(t, f.agent.ReportProgress(ctx, "T1", 10, "moving", nil))
	assert.Empty(t, f.tr.events())

	f.agent.Offer(ctx, patrolTask("T1"))
	waitStarted(t, f.exec)
	assert.False(t, f.agent.Complete(ctx, "other", nil), "wrong task id")
	assert.True(t, f.agent.Complete(ctx, "T1", nil))
	assert.False(t, f.agent.Complete(ctx, "T1", nil))
	assert.False(t, f.agent.Fail(ctx, "T1", "X", "y"))

	f.agent.Wait()
	assert.Len(t, f.tr.eventsOfType(event.TypeTaskCompleted), 1)
	assert.Empty(t, f.tr.eventsOfType(event.TypeTaskFailed))
}

func TestLocalAgent_CancelEmitsExactlyOneTerminalEvent(t *testing.T) {
	f := newAgentFixture(t, "robotdog-001", "robotdog.patrol.rough")
	ctx := context.Background()

	err := f.agent.Cancel(ctx, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	f.agent.Offer(ctx, patrolTask("T1"))
	waitStarted(t, f.exec)
	require.NoError(t, f.agent.Control(ctx, agent.ControlCancel, "operator request"))
	f.agent.Wait()

	assert.True(t, f.agent.CanAccept())
	cancelled := f.tr.eventsOfType(event.TypeTaskCancelled)
	require.Len(t, cancelled, 1)
	data := decode[event.TaskFailed](t, cancelled[0])
	assert.Equal(t, executor.CodeCancelled, data.ErrorCode)
	assert.Equal(t, "operator request", data.ErrorMessage)
	assert.Empty(t, f.tr.eventsOfType(event.TypeTaskCompleted))
	assert.Empty(t, f.tr.eventsOfType(event.TypeTaskFailed))
}

func TestLocalAgent_CancelRightAfterOfferIsLastEvent(t *testing.T) {
	f := newAgentFixture(t, "robotdog-001", "robotdog.patrol.rough")
	f.exec.started = make(chan string, 256)
	ctx := context.Background()

	const n = 100
	for i := range n {
		id := fmt.Sprintf("T%d", i)
		require.Equal(t, task.StatusAccepted, f.agent.Offer(ctx, patrolTask(id)).Status)
		require.NoError(t, f.agent.Cancel(ctx, ""))
	}
	f.agent.Wait()

	last := make(map[string]string)
	var statuses []string
	for _, e := range f.tr.events() {
		switch e.Type {
		case event.TypeRobotStatusChanged:
			statuses = append(statuses, decode[event.StatusChanged](t, e).Status)
		default:
			last[e.Subject] = e.Type
		}
	}
	for i := range n {
		id := fmt.Sprintf("T%d", i)
		assert.Equal(t, event.TypeTaskCancelled, last[id], "task %s", id)
	}
	require.Len(t, statuses, 2*n)
	for i, st := range statuses {
		want := string(agent.StatusBusy)
		if i%2 == 1 {
			want = string(agent.StatusReady)
		}
		require.Equal(t, want, st, "status event %d", i)
	}
	assert.Len(t, f.tr.eventsOfType(event.TypeTaskStarted), n)
}

// slowBroadcaster stands in for a dashboard with a stalled client.
type slowBroadcaster struct{ delay time.Duration }

func (b slowBroadcaster) BroadcastEvent(context.Context, string, any) { time.Sleep(b.delay) }

func TestLocalAgent_OfferDoesNotWaitOnBroadcaster(t *testing.T) {
	f := newAgentFixture(t, "robotdog-001", "robotdog.patrol.rough")
	f.registry.SetBroadcaster(slowBroadcaster{delay: 500 * time.Millisecond})
	ctx := context.Background()

	start := time.Now()
	resp := f.agent.Offer(ctx, patrolTask("T1"))
	assert.Equal(t, task.StatusAccepted, resp.Status)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	waitStarted(t, f.exec)
	start = time.Now()
	require.NoError(t, f.agent.Cancel(ctx, ""))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLocalAgent_OfflineFailsHeldTaskAndRejectsOffers(t *testing.T) {
	f := newAgentFixture(t, "robotdog-001", "robotdog.patrol.rough")
	ctx := context.Background()

	f.agent.Offer(ctx, patrolTask("T1"))
	waitStarted(t, f.exec)
	f.agent.SetOffline(ctx)
	f.agent.Wait()

	failed := f.tr.eventsOfType(event.TypeTaskFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, executor.CodeAgentOffline, decode[event.TaskFailed](t, failed[0]).ErrorCode)

	info, _ := f.registry.Agent("robotdog-001")
	assert.Equal(t, agent.StatusOffline, info.Status)
	assert.Empty(t, info.CurrentTask)

	resp := f.agent.Offer(ctx, patrolTask("T2"))
	assert.Equal(t, task.ReasonAgentBusy, resp.Reason)

	f.agent.SetOnline(ctx)
	assert.Equal(t, task.StatusAccepted, f.agent.Offer(ctx, patrolTask("T2")).Status)
}

func TestLocalAgent_Controls(t *testing.T) {
	f := newAgentFixture(t, "robotdog-001", "robotdog.patrol.rough")
	ctx := context.Background()

	require.NoError(t, f.agent.Control(ctx, agent.ControlPause, ""))
	require.NoError(t, f.agent.Control(ctx, agent.ControlResume, ""))
	assert.Equal(t, []agent.Control{agent.ControlPause, agent.ControlResume}, f.exec.controls)

	err := f.agent.Control(ctx, agent.ControlReturnHome, "")
	assert.ErrorIs(t, err, executor.ErrUnsupportedControl)

	// Cancel without a task is a failed control and reported as a robot error.
	require.Error(t, f.agent.Control(ctx, agent.ControlCancel, ""))
	errs := f.tr.eventsOfType(event.TypeRobotError)
	require.Len(t, errs, 1)
	assert.Equal(t, "cancel", decode[event.RobotError](t, errs[0]).Command)
}

func TestLocalAgent_WildcardHasCapability(t *testing.T) {
	f := newAgentFixture(t, "drone-001", "drone.patrol.aerial", "drone.delivery.aerial")
	assert.True(t, f.agent.HasCapability("drone.*"))
	assert.True(t, f.agent.HasCapability("drone.delivery.aerial"))
	assert.False(t, f.agent.HasCapability("robotdog.*"))
	assert.False(t, f.agent.HasCapability("drone.delivery"))
}

// After any sequence of offers an agent holds at most one task, and an
// offer to a busy agent is always rejected with agent_busy.
func TestLocalAgent_AtMostOneTaskProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		reg := NewRegistryService(nil)
		_ = reg.LoadCatalog(capability.All())
		pub := NewEventPublisher("fleet-test", newFakeTransport(true), config.Publisher{MaxRetries: 1, RetryDelay: time.Millisecond}, nil)
		exec := newBlockingExecutor()
		exec.started = make(chan string, 64)
		a := NewLocalAgent("robotdog-001", "robotdog", []string{"robotdog.patrol.rough"}, exec, reg, pub, nil)
		_ = a.Register()
		defer func() {
			a.SetOffline(context.Background())
			a.Wait()
			pub.Close()
		}()

		n := rapid.IntRange(1, 12).Draw(rt, "offers")
		for i := range n {
			wasBusy := a.Status() == agent.StatusBusy
			resp := a.Offer(context.Background(), patrolTask(fmt.Sprintf("T%d", i)))
			if wasBusy && resp.Reason != task.ReasonAgentBusy {
				rt.Fatalf("offer %d to busy agent: %+v", i, resp)
			}
			if rapid.Bool().Draw(rt, "complete") {
				_ = a.Complete(context.Background(), a.CurrentTask(), nil)
			}

			info, _ := reg.Agent("robotdog-001")
			busy := info.Status == agent.StatusBusy
			if busy != (info.CurrentTask != "") {
				rt.Fatalf("registry busy=%v with current_task=%q", busy, info.CurrentTask)
			}
			if info.CurrentTask != a.CurrentTask() {
				rt.Fatalf("registry task %q, agent task %q", info.CurrentTask, a.CurrentTask())
			}
		}
	})
}
