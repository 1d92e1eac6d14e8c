package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	cfotel "github.com/Jonathan7758/linkc-platform-sub000/internal/adapter/otel"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/agent"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/capability"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/event"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/task"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/logger"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/port/executor"
)

// EventSink publishes outbound events. EventPublisher implements it.
type EventSink interface {
	Publish(ctx context.Context, eventType string, data any, opts ...event.Option) (string, error)
}

// LocalAgent runs the offer/accept protocol for one locally hosted agent
// and reports its lifecycle through the registry and the event sink.
type LocalAgent struct {
	id           string
	agentType    string
	capabilities []string
	exec         executor.Executor
	registry     *RegistryService
	events       EventSink
	metrics      *cfotel.Metrics
	log          *slog.Logger
	now          func() time.Time

	mu         sync.Mutex
	status     agent.Status
	current    *task.OrchestrationTask
	acceptedAt time.Time
	cancelExec context.CancelFunc
	started    chan struct{} // closed once task.started is out for the held task
	settled    chan struct{} // closed once the last transition's events are out

	wg sync.WaitGroup
}

// NewLocalAgent creates an agent in the ready state. Call Register to add
// it to the registry.
func NewLocalAgent(id, agentType string, capabilities []string, exec executor.Executor, registry *RegistryService, events EventSink, log *slog.Logger) *LocalAgent {
	return &LocalAgent{
		id:           id,
		agentType:    agentType,
		capabilities: slices.Clone(capabilities),
		exec:         exec,
		registry:     registry,
		events:       events,
		log:          logger.Component(log, "agent").With("agent_id", id),
		now:          time.Now,
		status:       agent.StatusReady,
	}
}

// SetMetrics attaches metric instruments.
func (a *LocalAgent) SetMetrics(m *cfotel.Metrics) { a.metrics = m }

func (a *LocalAgent) ID() string             { return a.id }
func (a *LocalAgent) Type() string           { return a.agentType }
func (a *LocalAgent) Capabilities() []string { return slices.Clone(a.capabilities) }

// Register adds or replaces this agent's record in the registry.
func (a *LocalAgent) Register() error {
	return a.registry.RegisterAgentCapabilities(a.id, a.agentType, a.capabilities)
}

// Status returns the agent's current status.
func (a *LocalAgent) Status() agent.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// CurrentTask returns the id of the held task, or "".
func (a *LocalAgent) CurrentTask() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return ""
	}
	return a.current.TaskID
}

// CanAccept reports whether the agent is ready and holds no task.
func (a *LocalAgent) CanAccept() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.canAcceptLocked()
}

func (a *LocalAgent) canAcceptLocked() bool {
	return a.status == agent.StatusReady && a.current == nil
}

// HasCapability reports whether one of the agent's capabilities matches
// id, which may be a ".*" pattern.
func (a *LocalAgent) HasCapability(id string) bool {
	return capability.MatchesAny(id, a.capabilities)
}

// ValidateParameters checks params against the capability's required
// parameters and any executor-specific rules.
func (a *LocalAgent) ValidateParameters(capabilityID string, params map[string]any) (bool, string) {
	if def, ok := a.registry.Capability(capabilityID); ok {
		if missing := def.MissingParameters(params); len(missing) > 0 {
			return false, "missing required parameters: " + strings.Join(missing, ", ")
		}
	}
	if v, ok := a.exec.(executor.ParameterValidator); ok {
		if err := v.ValidateParameters(capabilityID, params); err != nil {
			return false, err.Error()
		}
	}
	return true, ""
}

// EstimateDuration returns the expected task duration in minutes.
func (a *LocalAgent) EstimateDuration(t task.OrchestrationTask) int {
	if e, ok := a.exec.(executor.Estimator); ok {
		if m := e.EstimateDuration(t); m > 0 {
			return m
		}
	}
	return task.EstimateMinutes(t.RequiredCapability)
}

// Offer decides synchronously whether to take t. On acceptance the agent
// turns busy and execution starts in the background; Offer never waits
// for it.
func (a *LocalAgent) Offer(ctx context.Context, t task.OrchestrationTask) task.Response {
	ctx, span := cfotel.StartOfferSpan(ctx, t.TaskID, a.id, t.RequiredCapability)
	defer span.End()

	resp := a.offer(t)
	a.metrics.RecordOffer(ctx, string(resp.Status), string(resp.Reason))
	if resp.Status == task.StatusRejected {
		a.log.Info("task rejected", "task_id", t.TaskID, "capability", t.RequiredCapability, "reason", resp.Reason, "message", resp.Message)
	} else {
		a.log.Info("task accepted", "task_id", t.TaskID, "capability", t.RequiredCapability, "estimated_minutes", resp.EstimatedDuration)
	}
	return resp
}

func (a *LocalAgent) offer(t task.OrchestrationTask) task.Response {
	if err := t.Validate(); err != nil {
		return task.Rejected(t.TaskID, a.id, task.ReasonInvalidParameters, err.Error())
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.canAcceptLocked() {
		msg := fmt.Sprintf("agent is %s", a.status)
		if a.current != nil {
			msg = "agent is busy with task " + a.current.TaskID
		}
		return task.Rejected(t.TaskID, a.id, task.ReasonAgentBusy, msg)
	}
	if !a.HasCapability(t.RequiredCapability) {
		return task.Rejected(t.TaskID, a.id, task.ReasonCapabilityMismatch,
			fmt.Sprintf("agent does not provide %s", t.RequiredCapability))
	}
	if ok, msg := a.ValidateParameters(t.RequiredCapability, t.Parameters); !ok {
		return task.Rejected(t.TaskID, a.id, task.ReasonInvalidParameters, msg)
	}

	held := t
	execCtx, cancel := context.WithCancel(context.Background())
	a.current = &held
	a.acceptedAt = a.now()
	a.status = agent.StatusBusy
	a.cancelExec = cancel
	a.started = make(chan struct{})
	a.registry.UpdateAgentStatus(a.id, agent.StatusBusy, t.TaskID)

	a.wg.Add(1)
	go a.run(execCtx, held, a.settled, a.started)

	return task.Accepted(t.TaskID, a.id, a.EstimateDuration(t))
}

// run executes an accepted task and reports its terminal state. When the
// context is cancelled the canceller has already reported it. The start
// events wait for the previous transition's events; closing started
// releases terminal reports held back until the start is out.
func (a *LocalAgent) run(ctx context.Context, t task.OrchestrationTask, prev, started chan struct{}) {
	defer a.wg.Done()

	if prev != nil {
		<-prev
	}
	bg := context.WithoutCancel(ctx)
	a.publishStatus(bg, agent.StatusReady, agent.StatusBusy, t.TaskID)
	a.publish(bg, event.TypeTaskStarted, t.TaskID, event.TaskStarted{
		TaskID:     t.TaskID,
		AgentID:    a.id,
		Capability: t.RequiredCapability,
	})
	close(started)
	if ctx.Err() != nil {
		return
	}

	result, err := a.exec.Execute(ctx, t, func(percent int, status string, details map[string]any) {
		a.ReportProgress(bg, t.TaskID, percent, status, details)
	})
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		code, msg := executor.Classify(err)
		a.Fail(bg, t.TaskID, code, msg)
		return
	}
	a.Complete(bg, t.TaskID, result)
}

// ReportProgress emits ecis.task.progress for the held task. Reports for
// any other task id are ignored.
func (a *LocalAgent) ReportProgress(ctx context.Context, taskID string, percent int, status string, details map[string]any) bool {
	if a.CurrentTask() != taskID || taskID == "" {
		return false
	}
	a.publish(ctx, event.TypeTaskProgress, taskID, event.TaskProgress{
		TaskID:   taskID,
		AgentID:  a.id,
		Progress: min(max(percent, 0), 100),
		Status:   status,
		Details:  details,
	})
	return true
}

// Complete emits ecis.task.completed and returns the agent to ready. It is
// a no-op unless taskID is the held task.
func (a *LocalAgent) Complete(ctx context.Context, taskID string, result map[string]any) bool {
	t, elapsed, settled, ok := a.release(ctx, taskID, agent.StatusReady)
	if !ok {
		a.log.Debug("complete ignored, task not held", "task_id", taskID)
		return false
	}
	defer close(settled)
	a.publish(ctx, event.TypeTaskCompleted, taskID, event.TaskCompleted{
		TaskID:      taskID,
		AgentID:     a.id,
		Result:      result,
		DurationSec: elapsed.Seconds(),
	})
	a.publishStatus(ctx, agent.StatusBusy, agent.StatusReady, "")
	a.metrics.RecordTaskDuration(ctx, t.RequiredCapability, "completed", elapsed.Seconds())
	a.log.Info("task completed", "task_id", taskID, "duration", elapsed)
	return true
}

// Fail emits ecis.task.failed and returns the agent to ready. It is a
// no-op unless taskID is the held task.
func (a *LocalAgent) Fail(ctx context.Context, taskID, code, message string) bool {
	t, elapsed, settled, ok := a.release(ctx, taskID, agent.StatusReady)
	if !ok {
		a.log.Debug("fail ignored, task not held", "task_id", taskID)
		return false
	}
	defer close(settled)
	a.publishFailure(ctx, event.TypeTaskFailed, taskID, code, message, elapsed)
	a.publishStatus(ctx, agent.StatusBusy, agent.StatusReady, "")
	a.metrics.RecordTaskDuration(ctx, t.RequiredCapability, "failed", elapsed.Seconds())
	a.log.Warn("task failed", "task_id", taskID, "error_code", code, "error", message)
	return true
}

// Cancel stops the held task, emits exactly one ecis.task.cancelled and
// returns the agent to ready.
func (a *LocalAgent) Cancel(ctx context.Context, reason string) error {
	taskID := a.CurrentTask()
	if taskID == "" {
		return fmt.Errorf("%w: agent %s has no running task", domain.ErrNotFound, a.id)
	}
	t, elapsed, settled, ok := a.release(ctx, taskID, agent.StatusReady)
	if !ok {
		return fmt.Errorf("%w: task %s already finished", domain.ErrNotFound, taskID)
	}
	defer close(settled)
	if reason == "" {
		reason = "cancelled by command"
	}
	a.publishFailure(ctx, event.TypeTaskCancelled, taskID, executor.CodeCancelled, reason, elapsed)
	a.publishStatus(ctx, agent.StatusBusy, agent.StatusReady, "")
	a.metrics.RecordTaskDuration(ctx, t.RequiredCapability, "cancelled", elapsed.Seconds())
	a.log.Info("task cancelled", "task_id", taskID, "reason", reason)
	return nil
}

// Control applies a robot command. Cancel is handled here; the other
// controls are delegated to the executor when it supports them. Failures
// are reported as ecis.robot.error.
func (a *LocalAgent) Control(ctx context.Context, c agent.Control, reason string) error {
	var err error
	switch c {
	case agent.ControlCancel:
		err = a.Cancel(ctx, reason)
	default:
		ctrl, ok := a.exec.(executor.Controller)
		if !ok {
			err = fmt.Errorf("%w: %s", executor.ErrUnsupportedControl, c)
			break
		}
		err = ctrl.Control(ctx, c)
	}
	if err != nil && !errors.Is(err, executor.ErrUnsupportedControl) {
		a.publish(ctx, event.TypeRobotError, a.id, event.RobotError{
			AgentID: a.id,
			Command: string(c),
			Error:   err.Error(),
		})
	}
	return err
}

// SupportsControl reports whether the agent implements c.
func (a *LocalAgent) SupportsControl(c agent.Control) bool {
	if c == agent.ControlCancel {
		return true
	}
	_, ok := a.exec.(executor.Controller)
	return ok
}

// SetOffline marks the agent offline. A held task is stopped and reported
// as failed with AGENT_OFFLINE.
func (a *LocalAgent) SetOffline(ctx context.Context) {
	a.mu.Lock()
	prev := a.status
	if prev == agent.StatusOffline {
		a.mu.Unlock()
		return
	}
	var held *task.OrchestrationTask
	var elapsed time.Duration
	var started chan struct{}
	if a.current != nil {
		held = a.current
		elapsed = a.now().Sub(a.acceptedAt)
		started = a.clearLocked()
	}
	a.status = agent.StatusOffline
	a.registry.UpdateAgentStatus(a.id, agent.StatusOffline, "")
	settled := a.settleLocked()
	a.mu.Unlock()
	defer close(settled)

	if held != nil {
		awaitStart(ctx, started)
		a.publishFailure(ctx, event.TypeTaskFailed, held.TaskID, executor.CodeAgentOffline, "agent went offline", elapsed)
	}
	a.publishStatus(ctx, prev, agent.StatusOffline, "")
	a.log.Info("agent offline", "previous", prev)
}

// SetOnline returns an offline agent to ready.
func (a *LocalAgent) SetOnline(ctx context.Context) {
	a.mu.Lock()
	if a.status != agent.StatusOffline {
		a.mu.Unlock()
		return
	}
	a.status = agent.StatusReady
	a.registry.UpdateAgentStatus(a.id, agent.StatusReady, "")
	settled := a.settleLocked()
	a.mu.Unlock()
	defer close(settled)

	a.publishStatus(ctx, agent.StatusOffline, agent.StatusReady, "")
	a.log.Info("agent online")
}

// Wait blocks until all execution goroutines have returned.
func (a *LocalAgent) Wait() {
	a.wg.Wait()
}

// release clears the held task if it is taskID and sets the next status.
// It returns once the task's start events are published, so a terminal
// event reported afterwards is always the last one for the task.
// The caller closes the returned gate once its own events are published.
func (a *LocalAgent) release(ctx context.Context, taskID string, next agent.Status) (task.OrchestrationTask, time.Duration, chan struct{}, bool) {
	a.mu.Lock()
	if a.current == nil || a.current.TaskID != taskID {
		a.mu.Unlock()
		return task.OrchestrationTask{}, 0, nil, false
	}
	t := *a.current
	elapsed := a.now().Sub(a.acceptedAt)
	started := a.clearLocked()
	a.status = next
	a.registry.UpdateAgentStatus(a.id, next, "")
	settled := a.settleLocked()
	a.mu.Unlock()

	awaitStart(ctx, started)
	return t, elapsed, settled, true
}

// settleLocked opens the gate the next accepted task waits on before
// publishing its start.
func (a *LocalAgent) settleLocked() chan struct{} {
	a.settled = make(chan struct{})
	return a.settled
}

// clearLocked drops the held task and returns its start gate.
func (a *LocalAgent) clearLocked() chan struct{} {
	if a.cancelExec != nil {
		a.cancelExec()
		a.cancelExec = nil
	}
	started := a.started
	a.current = nil
	a.acceptedAt = time.Time{}
	a.started = nil
	return started
}

func awaitStart(ctx context.Context, started chan struct{}) {
	if started == nil {
		return
	}
	select {
	case <-started:
	case <-ctx.Done():
	}
}

func (a *LocalAgent) publishFailure(ctx context.Context, eventType, taskID, code, message string, elapsed time.Duration) {
	a.publish(ctx, eventType, taskID, event.TaskFailed{
		TaskID:       taskID,
		AgentID:      a.id,
		ErrorCode:    code,
		ErrorMessage: message,
		DurationSec:  elapsed.Seconds(),
	})
}

func (a *LocalAgent) publishStatus(ctx context.Context, prev, next agent.Status, taskID string) {
	a.publish(ctx, event.TypeRobotStatusChanged, a.id, event.StatusChanged{
		AgentID:   a.id,
		AgentType: a.agentType,
		Previous:  string(prev),
		Status:    string(next),
		TaskID:    taskID,
	})
}

func (a *LocalAgent) publish(ctx context.Context, eventType, subject string, data any) {
	if _, err := a.events.Publish(ctx, eventType, data, event.WithSubject(subject)); err != nil {
		a.log.Error("build event", "type", eventType, "error", err)
	}
}
