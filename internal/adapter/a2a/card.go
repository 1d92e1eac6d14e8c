// Package a2a publishes the fleet's capabilities as an A2A agent card so
// that agent-to-agent clients can discover what this system can do.
package a2a

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/go-chi/chi/v5"

	"github.com/Jonathan7758/linkc-platform-sub000/internal/config"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/agent"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/capability"
)

// CardPath is the well-known discovery path for the agent card.
const CardPath = "/.well-known/agent-card.json"

// Source supplies the capability catalog and the local agent roster.
type Source interface {
	Capabilities() []capability.Capability
	Agents() []agent.CapabilityInfo
}

// BuildAgentCard describes the system as one A2A agent whose skills are the
// catalog capabilities at least one local agent can perform. Skills are
// sorted by id and tagged with category, action and the agents providing them.
func BuildAgentCard(sys config.System, baseURL, version string, caps []capability.Capability, agents []agent.CapabilityInfo) a2a.AgentCard {
	providers := make(map[string][]string)
	for _, a := range agents {
		for _, id := range a.Capabilities {
			providers[id] = append(providers[id], a.AgentID)
		}
	}

	skills := make([]a2a.AgentSkill, 0, len(providers))
	for _, c := range caps {
		ids, ok := providers[c.ID]
		if !ok {
			continue
		}
		tags := []string{c.Category, c.Action}
		tags = append(tags, ids...)
		skills = append(skills, a2a.AgentSkill{
			ID:          c.ID,
			Name:        c.Name,
			Description: skillDescription(c),
			Tags:        slices.Compact(tags),
			InputModes:  []string{"application/json"},
			OutputModes: []string{"application/json"},
		})
	}
	slices.SortFunc(skills, func(a, b a2a.AgentSkill) int { return strings.Compare(a.ID, b.ID) })

	name := sys.DisplayName
	if name == "" {
		name = sys.ID
	}
	return a2a.AgentCard{
		Name:               name,
		Description:        "Robot fleet " + sys.ID + " (" + sys.Type + ")",
		URL:                baseURL,
		Version:            version,
		Skills:             skills,
		Capabilities:       a2a.AgentCapabilities{Streaming: true},
		DefaultInputModes:  []string{"application/json"},
		DefaultOutputModes: []string{"application/json"},
	}
}

func skillDescription(c capability.Capability) string {
	desc := c.Description
	if req := c.RequiredParameters(); len(req) > 0 {
		if desc != "" {
			desc += ". "
		}
		desc += "Required parameters: " + strings.Join(req, ", ")
	}
	return desc
}

// Handler serves the agent card built from a live Source.
type Handler struct {
	system  config.System
	baseURL string
	version string
	source  Source
}

// NewHandler creates an agent card handler.
func NewHandler(sys config.System, baseURL, version string, source Source) *Handler {
	return &Handler{system: sys, baseURL: baseURL, version: version, source: source}
}

// MountRoutes registers the discovery routes at the router root.
// The legacy agent.json path is kept for older clients.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get(CardPath, h.handleAgentCard)
	r.Get("/.well-known/agent.json", h.handleAgentCard)
}

func (h *Handler) handleAgentCard(w http.ResponseWriter, _ *http.Request) {
	card := BuildAgentCard(h.system, h.baseURL, h.version, h.source.Capabilities(), h.source.Agents())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(card)
}
