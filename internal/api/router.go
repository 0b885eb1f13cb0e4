package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

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
		writeNotFound(w, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	// Prometheus scrape endpoint
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Read-only endpoints (no auth required)
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/config", s.handleConfig)
		r.Get("/status", s.handleStatus)
		r.Get(s.wsPath(), s.handleWebSocket)

		// Commands (bearer token when a JWT secret is configured)
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/run_action", s.handleRunAction)
			r.Post("/reload_config", s.handleReloadConfig)
			r.Post("/sessions/connect", s.handleConnect)
		})
	})

	return r
}

// handleHealth returns the server health status. A failing broker check
// reports "degraded"; the endpoint still answers 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.core.Status()
	resp := map[string]any{
		"status":  "ok",
		"version": s.version,
		"engine":  s.engine,
		"cameras": st.Summary,
	}
	if s.mqtt != nil {
		err := s.mqttHealth(r.Context())
		resp["mqtt_connected"] = err == nil
		if err != nil {
			resp["status"] = "degraded"
			resp["mqtt_error"] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// mqttHealth runs the broker health check bounded by mqttHealthTimeout.
func (s *Server) mqttHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, mqttHealthTimeout)
	defer cancel()
	return s.mqtt.HealthCheck(ctx)
}

// wsPath returns the WebSocket route under /api/v1.
func (s *Server) wsPath() string {
	p := s.wsCfg.Path
	if p == "" {
		return "/ws"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	return p
}
