package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds the database ping behind /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	if s.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystem)

		r.Route("/sharing", func(r chi.Router) {
			r.Get("/", s.handleGetSharing)
			r.Put("/", s.handleSetSharing)
			r.Post("/refresh", s.handleRefreshSharing)
			r.Get("/events", s.handleListSharingEvents)
		})

		r.Route("/proximity", func(r chi.Router) {
			r.Get("/", s.handleGetProximity)
			r.Put("/radius", s.handleSetRadius)
		})

		r.Post("/settings/{target}", s.handleOpenSettings)
		r.Post("/session/logout", s.handleLogout)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status. A failing database makes
// the daemon unhealthy; a disconnected bus only degrades it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	components := map[string]string{}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.db.HealthCheck(ctx); err != nil {
			s.logger.Warn("database health check failed", "error", err)
			components["database"] = "error"
			status = http.StatusServiceUnavailable
		} else {
			components["database"] = "ok"
		}
	}
	if s.bus != nil {
		if s.bus.IsConnected() {
			components["mqtt"] = "connected"
		} else {
			components["mqtt"] = "disconnected"
		}
	}

	overall := "ok"
	switch {
	case status != http.StatusOK:
		overall = "unhealthy"
	case components["mqtt"] == "disconnected":
		overall = "degraded"
	}

	writeJSON(w, status, map[string]any{
		"status":     overall,
		"version":    s.version,
		"components": components,
	})
}
