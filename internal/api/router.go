package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/founek2/IOT-Platforma-zigbee/internal/platform"
)

// healthCheckTimeout bounds each dependency check of /health.
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

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Post("/restart", s.handleRestartDevice)
					r.Post("/reset", s.handleResetDevice)
				})
			})

			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// componentHealth is one entry of the /health components map.
type componentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleHealth reports dependency health and platform counts. It answers
// 503 when a configured dependency is unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]componentHealth{
		"gateway_mqtt": s.check(r.Context(), s.gateway),
		"database":     s.check(r.Context(), s.database),
	}

	platforms := s.devices.Platforms()
	byStatus := make(map[platform.Status]int)
	paired := 0
	for _, p := range platforms {
		byStatus[p.Status()]++
		if p.IsPaired() {
			paired++
		}
	}

	status, code := "ok", http.StatusOK
	for _, c := range components {
		if c.Status == "error" {
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
		"platforms": map[string]any{
			"total":     len(platforms),
			"paired":    paired,
			"by_status": byStatus,
		},
		"websocket_clients": s.hub.ClientCount(),
	})
}

func (s *Server) check(ctx context.Context, hc HealthChecker) componentHealth {
	if hc == nil {
		return componentHealth{Status: "disabled"}
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := hc.HealthCheck(ctx); err != nil {
		return componentHealth{Status: "error", Error: err.Error()}
	}
	return componentHealth{Status: "ok"}
}
