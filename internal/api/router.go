package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each component probe during a health request.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket stream. Browsers cannot set an Authorization header on
		// a WebSocket dial, so the handler authenticates the token query
		// parameter itself before upgrading.
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Pump endpoints
			r.Route("/pumps", func(r chi.Router) {
				r.Get("/", s.handleListPumps)
				r.Post("/", s.handleRegisterPump)
				r.Get("/live", s.handleLiveDevices)
				r.Get("/stats", s.handlePumpStats)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetPump)
					r.Delete("/", s.handleDeletePump)
					r.Get("/snapshot", s.handleGetSnapshot)

					// Operator command surface
					r.Route("/infusions", func(r chi.Router) {
						r.Post("/", s.handleStartInfusion)
						r.Get("/", s.handleListInfusions)
						r.Post("/stop", s.handleStopInfusion)
						r.Post("/pause", s.handlePauseInfusion)
						r.Post("/resume", s.handleResumeInfusion)
					})
				})
			})

			// Infusion lookup by ID
			r.Get("/infusions/{id}", s.handleGetInfusion)
		})
	})

	return r
}

// handleHealth aggregates component health into one response. The
// endpoint reports 503 when any component probe fails; the body names
// each component's state either way.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(s.health))
	healthy := true

	for name, checker := range s.health {
		if checker == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := checker.HealthCheck(ctx)
		cancel()

		if err != nil {
			components[name] = err.Error()
			healthy = false
		} else {
			components[name] = "ok"
		}
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}
