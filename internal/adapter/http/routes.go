package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Jonathan7758/linkc-platform-sub000/internal/middleware"
)

// RouteOptions configures the protection applied to write endpoints.
type RouteOptions struct {
	InboundToken func() string          // bearer token for write routes; nil or empty disables
	Limiter      *middleware.RateLimiter // per-peer limit on POST /events; nil disables
	Timeout      time.Duration           // per-request deadline for API routes; 0 disables
}

// MountRoutes registers the API routes on the given chi router. The
// WebSocket endpoint and the agent card are mounted by the caller because
// they are long-lived or public.
func MountRoutes(r chi.Router, h *Handlers, opts RouteOptions) {
	r.Group(func(r chi.Router) {
		if opts.Timeout > 0 {
			r.Use(chimw.Timeout(opts.Timeout))
		}

		r.Get("/health", h.Health)
		r.Get("/agents", h.ListAgents)
		r.Get("/agents/{id}", h.GetAgent)
		r.Get("/capabilities", h.ListCapabilities)

		r.Group(func(r chi.Router) {
			if opts.InboundToken != nil {
				r.Use(middleware.BearerToken(opts.InboundToken))
			}
			if opts.Limiter != nil {
				r.With(opts.Limiter.Handler).Post("/events", h.ReceiveEvent)
			} else {
				r.Post("/events", h.ReceiveEvent)
			}
			r.Post("/agents/{id}/control", h.ControlAgent)
			r.Post("/admin/reconnect", h.Reconnect)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}
