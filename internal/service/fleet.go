package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	cfotel "github.com/Jonathan7758/linkc-platform-sub000/internal/adapter/otel"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/config"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/capability"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/event"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/logger"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/port/broadcast"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/port/executor"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/port/gateway"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/port/messagequeue"
)

// LinkHealthMessage is broadcast whenever the Gateway link changes state.
type LinkHealthMessage struct {
	Health gateway.Health `json:"health"`
	Error  string         `json:"error,omitempty"`
}

// FleetService composes the registry, the local agents, the event publisher,
// the inbound dispatcher and the Gateway link into one running system.
type FleetService struct {
	system     config.System
	registry   *RegistryService
	publisher  *EventPublisher
	dispatcher *Dispatcher
	link       gateway.Link
	hub        broadcast.Broadcaster
	metrics    *cfotel.Metrics
	log        *slog.Logger

	mu     sync.RWMutex
	agents map[string]*LocalAgent
	order  []string

	life   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFleetService wires a dispatcher over the registry and restricts
// assignment candidates to agents the Gateway has accepted.
func NewFleetService(sys config.System, registry *RegistryService, publisher *EventPublisher, link gateway.Link, log *slog.Logger) *FleetService {
	ctx, cancel := context.WithCancel(context.Background())
	f := &FleetService{
		system:    sys,
		registry:  registry,
		publisher: publisher,
		link:      link,
		hub:       broadcast.Nop{},
		log:       logger.Component(log, "fleet"),
		agents:    make(map[string]*LocalAgent),
		life:      ctx,
		cancel:    cancel,
	}
	f.dispatcher = NewDispatcher(registry, f, log)
	f.dispatcher.SetFederation(link)
	return f
}

// SetBroadcaster fans registry, dispatch and link changes out to b.
func (f *FleetService) SetBroadcaster(b broadcast.Broadcaster) {
	f.hub = b
	f.registry.SetBroadcaster(b)
	f.dispatcher.SetBroadcaster(b)
}

// SetMetrics attaches metric instruments to every component.
func (f *FleetService) SetMetrics(m *cfotel.Metrics) {
	f.metrics = m
	f.publisher.SetMetrics(m)
	f.dispatcher.SetMetrics(m)
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, a := range f.agents {
		a.SetMetrics(m)
	}
}

// Registry returns the capability registry.
func (f *FleetService) Registry() *RegistryService { return f.registry }

// Dispatcher returns the inbound event dispatcher.
func (f *FleetService) Dispatcher() *Dispatcher { return f.dispatcher }

// Publisher returns the outbound event publisher.
func (f *FleetService) Publisher() *EventPublisher { return f.publisher }

// AddAgent creates a local agent backed by exec and registers it in the
// registry. Agent ids are unique within the fleet.
func (f *FleetService) AddAgent(id, agentType string, capabilities []string, exec executor.Executor) (*LocalAgent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.agents[id]; dup {
		return nil, fmt.Errorf("%w: agent %q already exists", domain.ErrValidation, id)
	}
	for _, c := range capabilities {
		if _, ok := f.registry.Capability(c); !ok {
			f.log.Warn("agent capability not in catalog", "agent_id", id, "capability", c)
		}
	}

	a := NewLocalAgent(id, agentType, capabilities, exec, f.registry, f.publisher, f.log)
	a.SetMetrics(f.metrics)
	if err := a.Register(); err != nil {
		return nil, err
	}
	f.agents[id] = a
	f.order = append(f.order, id)
	return a, nil
}

// LocalAgent returns the agent with the given id.
func (f *FleetService) LocalAgent(id string) (*LocalAgent, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	a, ok := f.agents[id]
	return a, ok
}

// LocalAgents returns the agents in the order they were added.
func (f *FleetService) LocalAgents() []*LocalAgent {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*LocalAgent, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.agents[id])
	}
	return out
}

// LoadCatalog registers capability definitions with the registry.
func (f *FleetService) LoadCatalog(caps []capability.Capability) error {
	return f.registry.LoadCatalog(caps)
}

// Start records every local agent with the Gateway and connects. A failed
// initial connect does not fail Start; the reconnect policy runs in the
// background instead.
func (f *FleetService) Start(ctx context.Context) error {
	f.link.OnConnect(f.announce)
	f.link.OnLinkLost(f.linkLost)

	for _, a := range f.LocalAgents() {
		err := f.link.RegisterAgent(ctx, a.ID(), a.Type(), a.Capabilities())
		if err != nil && !errors.Is(err, domain.ErrNotConnected) {
			return fmt.Errorf("register agent %s: %w", a.ID(), err)
		}
	}

	if err := f.link.Connect(ctx); err != nil {
		f.log.Warn("initial gateway connect failed, reconnecting in background", "error", err)
		f.broadcastHealth(ctx, err)
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			if err := f.link.Reconnect(f.life); err != nil && !errors.Is(err, gateway.ErrReconnectInProgress) {
				f.log.Error("gateway unreachable", "error", err)
			}
		}()
	}
	return nil
}

// announce runs after every successful connect.
func (f *FleetService) announce(ctx context.Context) {
	f.broadcastHealth(ctx, nil)
	if _, err := f.publisher.Publish(ctx, event.TypeSystemOnline, f.systemStatus()); err != nil {
		f.log.Warn("publish system online", "error", err)
	}
}

func (f *FleetService) linkLost(err error) {
	f.log.Error("gateway link lost", "error", err)
	f.broadcastHealth(f.life, err)
}

func (f *FleetService) broadcastHealth(ctx context.Context, err error) {
	msg := LinkHealthMessage{Health: f.link.Health()}
	if err != nil {
		msg.Error = err.Error()
	}
	f.hub.BroadcastEvent(ctx, BroadcastLinkHealth, msg)
}

func (f *FleetService) systemStatus() event.SystemStatus {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return event.SystemStatus{SystemID: f.system.ID, SystemType: f.system.Type, Agents: len(f.order)}
}

// Health returns the Gateway link state.
func (f *FleetService) Health() gateway.Health {
	return f.link.Health()
}

// Reconnect is the operator-triggered reconnect. It resets the breaker and
// runs the full reconnect policy.
func (f *FleetService) Reconnect(ctx context.Context) error {
	return f.link.ResetAndReconnect(ctx)
}

// Receive decodes and dispatches one inbound event.
func (f *FleetService) Receive(ctx context.Context, e event.Event) (Result, error) {
	return f.dispatcher.Receive(ctx, e)
}

// QueueHandler adapts the dispatcher to a message-bus subscription. The
// reply body is the JSON dispatch result.
func (f *FleetService) QueueHandler() messagequeue.Handler {
	return func(ctx context.Context, subject string, data []byte) ([]byte, error) {
		var e event.Event
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("%w: decode event on %s: %v", domain.ErrValidation, subject, err)
		}
		res, err := f.dispatcher.Receive(ctx, e)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	}
}

// Stop takes every agent offline, announces the system as offline and
// releases the publisher and the Gateway link. Stop is best-effort: events
// that cannot be delivered are discarded.
func (f *FleetService) Stop(ctx context.Context) {
	agents := f.LocalAgents()
	for _, a := range agents {
		a.SetOffline(ctx)
	}
	for _, a := range agents {
		a.Wait()
	}

	if f.link.IsConnected() {
		if _, err := f.publisher.Publish(ctx, event.TypeSystemOffline, f.systemStatus()); err != nil {
			f.log.Warn("publish system offline", "error", err)
		}
	}

	f.cancel()
	f.wg.Wait()
	f.publisher.Close()
	f.link.Close()
	f.log.Info("fleet stopped", "dropped_events", f.publisher.Dropped())
}
