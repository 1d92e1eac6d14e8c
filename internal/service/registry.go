package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/agent"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/capability"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/logger"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/port/broadcast"
)

// Broadcast message types sent to dashboard clients.
const (
	BroadcastAgentStatus    = "agent.status"
	BroadcastDispatchResult = "dispatch.result"
	BroadcastLinkHealth     = "link.health"
)

// AgentStatusMessage is broadcast on every registry status change.
type AgentStatusMessage struct {
	AgentID     string       `json:"agent_id"`
	Previous    agent.Status `json:"previous,omitempty"`
	Status      agent.Status `json:"status"`
	CurrentTask string       `json:"current_task,omitempty"`
}

// RegistryService indexes capability definitions and the capability sets
// and status of local agents. It never selects between agents.
type RegistryService struct {
	mu           sync.RWMutex
	capabilities map[string]capability.Capability
	capOrder     []string
	agents       map[string]*agent.CapabilityInfo
	agentOrder   []string

	hub broadcast.Broadcaster
	log *slog.Logger
	now func() time.Time

	// Status broadcasts are queued and sent in order by one drain
	// goroutine, so callers holding agent locks never wait on clients.
	feedMu  sync.Mutex
	feed    []AgentStatusMessage
	feeding bool
}

// maxPendingBroadcasts bounds the status feed; the oldest message is
// dropped when a stalled broadcaster lets it fill.
const maxPendingBroadcasts = 1024

// NewRegistryService creates an empty registry.
func NewRegistryService(log *slog.Logger) *RegistryService {
	return &RegistryService{
		capabilities: make(map[string]capability.Capability),
		agents:       make(map[string]*agent.CapabilityInfo),
		hub:          broadcast.Nop{},
		log:          logger.Component(log, "registry"),
		now:          time.Now,
	}
}

// SetBroadcaster attaches a live status broadcaster.
func (r *RegistryService) SetBroadcaster(b broadcast.Broadcaster) {
	r.feedMu.Lock()
	defer r.feedMu.Unlock()
	r.hub = b
}

// RegisterCapability upserts a capability definition by id.
func (r *RegistryService) RegisterCapability(c capability.Capability) error {
	if err := c.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.capabilities[c.ID]; !ok {
		r.capOrder = append(r.capOrder, c.ID)
	}
	r.capabilities[c.ID] = c
	return nil
}

// LoadCatalog registers every capability in caps.
func (r *RegistryService) LoadCatalog(caps []capability.Capability) error {
	for _, c := range caps {
		if err := r.RegisterCapability(c); err != nil {
			return fmt.Errorf("load capability %s: %w", c.ID, err)
		}
	}
	r.log.Info("capability catalog loaded", "count", len(caps))
	return nil
}

// Capability returns the definition for id.
func (r *RegistryService) Capability(id string) (capability.Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.capabilities[id]
	return c, ok
}

// Capabilities returns all definitions in registration order.
func (r *RegistryService) Capabilities() []capability.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]capability.Capability, 0, len(r.capOrder))
	for _, id := range r.capOrder {
		out = append(out, r.capabilities[id])
	}
	return out
}

// RegisterAgentCapabilities creates or replaces an agent record with status
// ready. A replaced agent keeps its position in iteration order.
func (r *RegistryService) RegisterAgentCapabilities(agentID, agentType string, capabilityIDs []string) error {
	if agentID == "" {
		return fmt.Errorf("%w: agent id is required", domain.ErrValidation)
	}
	for _, id := range capabilityIDs {
		if id == "" || strings.Contains(id, "*") {
			return fmt.Errorf("%w: agent %s: invalid capability id %q", domain.ErrValidation, agentID, id)
		}
	}

	r.mu.Lock()
	prev, existed := r.agents[agentID]
	var prevStatus agent.Status
	if existed {
		prevStatus = prev.Status
	} else {
		r.agentOrder = append(r.agentOrder, agentID)
	}
	r.agents[agentID] = &agent.CapabilityInfo{
		AgentID:      agentID,
		AgentType:    agentType,
		Capabilities: slices.Clone(capabilityIDs),
		Status:       agent.StatusReady,
		LastUpdated:  r.now().UTC(),
	}
	r.mu.Unlock()

	r.log.Info("agent registered", "agent_id", agentID, "agent_type", agentType, "capabilities", len(capabilityIDs))
	r.broadcast(AgentStatusMessage{AgentID: agentID, Previous: prevStatus, Status: agent.StatusReady})
	return nil
}

// UpdateAgentStatus sets an agent's status. A status other than busy clears
// the current task; busy requires a task id, either given or already held.
// Unknown agents are a logged no-op. It reports whether the record changed.
func (r *RegistryService) UpdateAgentStatus(agentID string, status agent.Status, currentTask string) bool {
	if !status.Valid() {
		r.log.Warn("ignoring invalid agent status", "agent_id", agentID, "status", status)
		return false
	}

	r.mu.Lock()
	info, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		r.log.Warn("status update for unknown agent", "agent_id", agentID, "status", status)
		return false
	}

	prev := info.Status
	switch {
	case status != agent.StatusBusy:
		info.CurrentTask = ""
	case currentTask != "":
		info.CurrentTask = currentTask
	case info.CurrentTask == "":
		r.mu.Unlock()
		r.log.Warn("busy status without a task", "agent_id", agentID)
		return false
	}
	info.Status = status
	info.LastUpdated = r.now().UTC()
	msg := AgentStatusMessage{AgentID: agentID, Previous: prev, Status: status, CurrentTask: info.CurrentTask}
	r.mu.Unlock()

	r.log.Debug("agent status updated", "agent_id", agentID, "previous", prev, "status", status, "task_id", msg.CurrentTask)
	r.broadcast(msg)
	return true
}

// UnregisterAgent removes an agent record. It reports whether one existed.
func (r *RegistryService) UnregisterAgent(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[agentID]; !ok {
		return false
	}
	delete(r.agents, agentID)
	r.agentOrder = slices.DeleteFunc(r.agentOrder, func(id string) bool { return id == agentID })
	r.log.Info("agent unregistered", "agent_id", agentID)
	return true
}

// FindAgentsByCapability returns every agent whose capability set matches
// pattern, in registration order. An empty statusFilter disables status
// filtering.
func (r *RegistryService) FindAgentsByCapability(pattern string, statusFilter agent.Status) []agent.CapabilityInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []agent.CapabilityInfo
	for _, id := range r.agentOrder {
		info := r.agents[id]
		if !capability.MatchesAny(pattern, info.Capabilities) {
			continue
		}
		if statusFilter != "" && info.Status != statusFilter {
			continue
		}
		out = append(out, info.Clone())
	}
	return out
}

// Agent returns a copy of one agent record.
func (r *RegistryService) Agent(agentID string) (agent.CapabilityInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.agents[agentID]
	if !ok {
		return agent.CapabilityInfo{}, false
	}
	return info.Clone(), true
}

// Agents returns copies of all agent records in registration order.
func (r *RegistryService) Agents() []agent.CapabilityInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]agent.CapabilityInfo, 0, len(r.agentOrder))
	for _, id := range r.agentOrder {
		out = append(out, r.agents[id].Clone())
	}
	return out
}

// broadcast queues msg for the broadcaster and returns without waiting.
func (r *RegistryService) broadcast(msg AgentStatusMessage) {
	r.feedMu.Lock()
	defer r.feedMu.Unlock()
	if len(r.feed) >= maxPendingBroadcasts {
		r.log.Warn("status feed full, dropping oldest", "agent_id", r.feed[0].AgentID)
		r.feed = r.feed[1:]
	}
	r.feed = append(r.feed, msg)
	if !r.feeding {
		r.feeding = true
		go r.drainFeed()
	}
}

// drainFeed sends queued status messages in order and exits once the feed
// is empty.
func (r *RegistryService) drainFeed() {
	for {
		r.feedMu.Lock()
		if len(r.feed) == 0 {
			r.feeding = false
			r.feedMu.Unlock()
			return
		}
		msg := r.feed[0]
		r.feed = r.feed[1:]
		hub := r.hub
		r.feedMu.Unlock()

		hub.BroadcastEvent(context.Background(), BroadcastAgentStatus, msg)
	}
}
