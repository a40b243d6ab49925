package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// healthCheckTimeout bounds each dependency check in /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware())
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystem)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.With(s.authMiddleware).Post("/", s.handleCreateRule)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRule)
				r.With(s.authMiddleware).Patch("/", s.handleUpdateRule)
				r.With(s.authMiddleware).Delete("/", s.handleDeleteRule)
			})
		})

		r.Route("/racks", func(r chi.Router) {
			r.Get("/", s.handleListRacks)
			r.With(s.authMiddleware).Post("/", s.handleCreateRack)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRack)
				r.With(s.authMiddleware).Patch("/", s.handleUpdateRack)
				r.With(s.authMiddleware).Delete("/", s.handleDeleteRack)
				r.Get("/events", s.handleListRackEvents)
				r.Get("/failures", s.handleListRackFailures)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/ws/ticket", s.handleWSTicket)
		})
	})

	return r
}

// handleHealth returns the server health status. Any failing dependency
// turns the response into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	components := make(map[string]string, len(s.checks))

	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check.HealthCheck(ctx)
		cancel()
		if err != nil {
			components[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}
