package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	cfotel "github.com/Jonathan7758/linkc-platform-sub000/internal/adapter/otel"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/agent"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/event"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/task"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/logger"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/port/broadcast"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/port/cache"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/port/executor"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/port/gateway"
)

// Command result statuses and reasons.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
	ResultIgnored = "ignored"

	ReasonAgentNotFound      = "agent_not_found"
	ReasonUnsupportedCommand = "unsupported_command"
	ReasonCommandFailed      = "command_failed"
	ReasonInvalidEvent       = "invalid_event"
)

// Result is the outcome of handling one inbound event. For task
// assignment it carries the chosen agent's offer response verbatim.
type Result struct {
	Status            string `json:"status"`
	Reason            string `json:"reason,omitempty"`
	Message           string `json:"message,omitempty"`
	TaskID            string `json:"task_id,omitempty"`
	AgentID           string `json:"agent_id,omitempty"`
	EstimatedDuration int    `json:"estimated_duration,omitempty"`
	Command           string `json:"command,omitempty"`
	EventID           string `json:"event_id,omitempty"`
}

func resultFromResponse(r task.Response) Result {
	return Result{
		Status:            string(r.Status),
		Reason:            string(r.Reason),
		Message:           r.Message,
		TaskID:            r.TaskID,
		AgentID:           r.AgentID,
		EstimatedDuration: r.EstimatedDuration,
	}
}

// HandlerFunc handles an inbound event whose type matched its pattern.
type HandlerFunc func(ctx context.Context, e event.Event) (Result, error)

// Selector picks one agent among ready candidates. Candidates are never
// empty and arrive in registry iteration order.
type Selector func(candidates []agent.CapabilityInfo, t task.OrchestrationTask) agent.CapabilityInfo

// FirstReady selects the first candidate.
func FirstReady(candidates []agent.CapabilityInfo, _ task.OrchestrationTask) agent.CapabilityInfo {
	return candidates[0]
}

// AgentLookup resolves a local agent by id.
type AgentLookup interface {
	LocalAgent(id string) (*LocalAgent, bool)
}

type route struct {
	pattern string
	re      *regexp.Regexp
	handler HandlerFunc
}

// Dispatcher routes inbound events to handlers by type pattern.
type Dispatcher struct {
	registry   *RegistryService
	agents     AgentLookup
	selector   Selector
	federation gateway.Registrar
	results    cache.Cache
	resultTTL  time.Duration
	hub        broadcast.Broadcaster
	metrics    *cfotel.Metrics
	log        *slog.Logger

	mu     sync.RWMutex
	routes []route

	inflight singleflight.Group
}

// NewDispatcher creates a dispatcher with the default task-assignment and
// robot-command handlers registered.
func NewDispatcher(registry *RegistryService, agents AgentLookup, log *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		agents:   agents,
		selector: FirstReady,
		hub:      broadcast.Nop{},
		log:      logger.Component(log, "dispatcher"),
	}
	d.MustRegister(event.TypeOrchestrationAssign, d.handleTaskAssign)
	d.MustRegister(event.TypeRobotCommandPattern, d.handleRobotCommand)
	return d
}

// SetSelector replaces the agent selection strategy.
func (d *Dispatcher) SetSelector(s Selector) { d.selector = s }

// SetFederation restricts task assignment to agents registered with the Gateway.
func (d *Dispatcher) SetFederation(r gateway.Registrar) { d.federation = r }

// SetResultCache enables inbound dedup: results are remembered by event id for ttl.
func (d *Dispatcher) SetResultCache(c cache.Cache, ttl time.Duration) {
	d.results = c
	d.resultTTL = ttl
}

// SetBroadcaster attaches a live broadcaster for dispatch results.
func (d *Dispatcher) SetBroadcaster(b broadcast.Broadcaster) { d.hub = b }

// SetMetrics attaches metric instruments.
func (d *Dispatcher) SetMetrics(m *cfotel.Metrics) { d.metrics = m }

// CompilePattern turns an event type pattern into an anchored regular
// expression. A "*" segment matches exactly one dot-free segment.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty event type pattern", domain.ErrValidation)
	}
	segs := strings.Split(pattern, ".")
	for i, s := range segs {
		switch {
		case s == "*":
			segs[i] = `[^.]+`
		case s == "" || strings.Contains(s, "*"):
			return nil, fmt.Errorf("%w: invalid event type pattern %q", domain.ErrValidation, pattern)
		default:
			segs[i] = regexp.QuoteMeta(s)
		}
	}
	return regexp.Compile(`^` + strings.Join(segs, `\.`) + `$`)
}

// Register adds a handler for pattern. Earlier registrations take precedence.
func (d *Dispatcher) Register(pattern string, h HandlerFunc) error {
	re, err := CompilePattern(pattern)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routes = append(d.routes, route{pattern: pattern, re: re, handler: h})
	return nil
}

// MustRegister is like Register but panics on an invalid pattern.
func (d *Dispatcher) MustRegister(pattern string, h HandlerFunc) {
	if err := d.Register(pattern, h); err != nil {
		panic(err)
	}
}

// Patterns returns the registered patterns in precedence order.
func (d *Dispatcher) Patterns() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.routes))
	for i, r := range d.routes {
		out[i] = r.pattern
	}
	return out
}

// Handle invokes the first handler whose pattern matches e.Type. An event
// with no matching handler is logged and ignored.
func (d *Dispatcher) Handle(ctx context.Context, e event.Event) (Result, error) {
	ctx, span := cfotel.StartDispatchSpan(ctx, e.ID, e.Type)
	defer span.End()
	log := logger.FromContext(ctx, d.log).With("event_id", e.ID, "type", e.Type)

	h, ok := d.match(e.Type)
	if !ok {
		log.Debug("no handler for event type")
		d.metrics.RecordInbound(ctx, e.Type, "ignored")
		return Result{Status: ResultIgnored, EventID: e.ID}, nil
	}

	res, err := h(ctx, e)
	if err != nil {
		span.RecordError(err)
		log.Warn("event handler failed", "error", err)
		d.metrics.RecordInbound(ctx, e.Type, "error")
		return Result{}, err
	}
	res.EventID = e.ID
	d.metrics.RecordInbound(ctx, e.Type, res.Status)
	d.hub.BroadcastEvent(ctx, BroadcastDispatchResult, res)
	log.Info("event handled", "status", res.Status, "reason", res.Reason, "agent_id", res.AgentID)
	return res, nil
}

func (d *Dispatcher) match(eventType string) (HandlerFunc, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, r := range d.routes {
		if r.re.MatchString(eventType) {
			return r.handler, true
		}
	}
	return nil, false
}

// Receive validates an inbound event and handles it once per event id.
// A redelivered event returns the remembered result without re-dispatch.
func (d *Dispatcher) Receive(ctx context.Context, e event.Event) (Result, error) {
	if err := e.Validate(); err != nil {
		return Result{}, err
	}
	if d.results == nil {
		return d.Handle(ctx, e)
	}

	v, err, _ := d.inflight.Do(e.ID, func() (any, error) {
		key := "inbound:" + e.ID
		if raw, ok, err := d.results.Get(ctx, key); err == nil && ok {
			var cached Result
			if err := json.Unmarshal(raw, &cached); err == nil {
				d.log.Info("duplicate inbound event", "event_id", e.ID, "type", e.Type)
				d.metrics.RecordInbound(ctx, e.Type, "duplicate")
				return cached, nil
			}
		}
		res, err := d.Handle(ctx, e)
		if err != nil {
			return Result{}, err
		}
		if raw, err := json.Marshal(res); err == nil {
			if err := d.results.Set(ctx, key, raw, d.resultTTL); err != nil {
				d.log.Warn("cache dispatch result", "event_id", e.ID, "error", err)
			}
		}
		return res, nil
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

// handleTaskAssign offers an orchestration task to one ready agent.
func (d *Dispatcher) handleTaskAssign(ctx context.Context, e event.Event) (Result, error) {
	var t task.OrchestrationTask
	if err := e.DecodeData(&t); err != nil {
		return Result{}, err
	}
	if err := t.Validate(); err != nil {
		return Result{Status: string(task.StatusRejected), Reason: string(task.ReasonInvalidParameters), Message: err.Error(), TaskID: t.TaskID}, nil
	}

	var candidates []agent.CapabilityInfo
	for _, info := range d.registry.FindAgentsByCapability(t.RequiredCapability, agent.StatusReady) {
		if _, ok := d.agents.LocalAgent(info.AgentID); !ok {
			continue
		}
		if d.federation != nil && !d.federation.IsRegistered(info.AgentID) {
			continue
		}
		candidates = append(candidates, info)
	}
	if len(candidates) == 0 {
		return resultFromResponse(task.Rejected(t.TaskID, "", task.ReasonNoAvailableAgent,
			"no ready agent provides "+t.RequiredCapability)), nil
	}

	chosen := d.selector(candidates, t)
	a, _ := d.agents.LocalAgent(chosen.AgentID)
	return resultFromResponse(a.Offer(ctx, t)), nil
}

// handleRobotCommand applies ecis.robot.command.<control> to the target agent.
func (d *Dispatcher) handleRobotCommand(ctx context.Context, e event.Event) (Result, error) {
	token := e.Type[strings.LastIndex(e.Type, ".")+1:]

	var cmd event.RobotCommand
	if err := e.DecodeData(&cmd); err != nil {
		return Result{}, err
	}
	if cmd.AgentID == "" {
		cmd.AgentID = e.Subject
	}
	res := Result{Command: token, AgentID: cmd.AgentID, TaskID: cmd.TaskID}

	a, ok := d.agents.LocalAgent(cmd.AgentID)
	if !ok {
		res.Status, res.Reason = ResultFailed, ReasonAgentNotFound
		res.Message = fmt.Sprintf("agent %q not found", cmd.AgentID)
		return res, nil
	}

	control, ok := agent.ParseControl(token)
	if !ok || !a.SupportsControl(control) {
		res.Status, res.Reason = ResultFailed, ReasonUnsupportedCommand
		res.Message = fmt.Sprintf("agent %s does not support %q", a.ID(), token)
		return res, nil
	}

	if err := a.Control(ctx, control, cmd.Reason); err != nil {
		res.Status, res.Message = ResultFailed, err.Error()
		res.Reason = ReasonCommandFailed
		if errors.Is(err, executor.ErrUnsupportedControl) {
			res.Reason = ReasonUnsupportedCommand
		}
		return res, nil
	}
	res.Status = ResultSuccess
	return res, nil
}
