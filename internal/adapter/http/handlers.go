package http

import (
	"errors"
	"net/http"

	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/agent"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/capability"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/event"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/port/executor"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/port/gateway"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/service"
)

// Handlers holds the services the HTTP surface reads from and acts on.
type Handlers struct {
	Fleet *service.FleetService
}

// ReceiveEvent handles POST /events: one Gateway-pushed CloudEvent.
// Offer rejections and ignored events are 200 responses; only a malformed
// envelope is a client error.
func (h *Handlers) ReceiveEvent(w http.ResponseWriter, r *http.Request) {
	e, ok := readJSON[event.Event](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	res, err := h.Fleet.Receive(r.Context(), e)
	if err != nil {
		writeDomainError(w, err, "event rejected")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListAgents handles GET /agents?capability=<pattern>&status=<status>
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("capability")
	status := agent.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status "+string(status))
		return
	}

	var infos []agent.CapabilityInfo
	if pattern == "" {
		for _, info := range h.Fleet.Registry().Agents() {
			if status == "" || info.Status == status {
				infos = append(infos, info)
			}
		}
	} else {
		infos = h.Fleet.Registry().FindAgentsByCapability(pattern, status)
	}
	if infos == nil {
		infos = []agent.CapabilityInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

// GetAgent handles GET /agents/{id}
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	info, ok := h.Fleet.Registry().Agent(urlParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type controlRequest struct {
	Control string `json:"control"`
	Reason  string `json:"reason,omitempty"`
}

// ControlAgent handles POST /agents/{id}/control, the operator path for
// pause, resume, cancel and return_home.
func (h *Handlers) ControlAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[controlRequest](w, r, maxRequestBodySize)
	if !ok || !requireField(w, req.Control, "control") {
		return
	}
	c, known := agent.ParseControl(req.Control)
	if !known {
		writeError(w, http.StatusBadRequest, "unknown control "+req.Control)
		return
	}
	a, found := h.Fleet.LocalAgent(urlParam(r, "id"))
	if !found {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}

	err := a.Control(r.Context(), c, req.Reason)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"agent_id": a.ID(), "control": string(c), "status": string(a.Status())})
	case errors.Is(err, executor.ErrUnsupportedControl):
		writeError(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusConflict, "agent has no running task")
	default:
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	}
}

// ListCapabilities handles GET /capabilities?pattern=<pattern>
func (h *Handlers) ListCapabilities(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	out := []capability.Capability{}
	for _, c := range h.Fleet.Registry().Capabilities() {
		if pattern == "" || capability.Matches(pattern, c.ID) {
			out = append(out, c)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type healthResponse struct {
	Status        string         `json:"status"`
	Gateway       gateway.Health `json:"gateway"`
	Agents        int            `json:"agents"`
	PendingEvents int            `json:"pending_events"`
	DroppedEvents int            `json:"dropped_events"`
}

// Health handles GET /health. A lost Gateway link is reported as 503 so
// orchestrators can restart the process.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	link := h.Fleet.Health()
	resp := healthResponse{
		Status:        "ok",
		Gateway:       link,
		Agents:        len(h.Fleet.LocalAgents()),
		PendingEvents: h.Fleet.Publisher().Pending(),
		DroppedEvents: h.Fleet.Publisher().Dropped(),
	}
	status := http.StatusOK
	switch link {
	case gateway.HealthLost:
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	case gateway.HealthReconnecting, gateway.HealthDisconnected:
		resp.Status = "degraded"
	}
	writeJSON(w, status, resp)
}

// Reconnect handles POST /admin/reconnect.
func (h *Handlers) Reconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.Fleet.Reconnect(r.Context()); err != nil {
		if errors.Is(err, gateway.ErrReconnectInProgress) {
			writeJSON(w, http.StatusAccepted, map[string]gateway.Health{"gateway": h.Fleet.Health()})
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]gateway.Health{"gateway": h.Fleet.Health()})
}
