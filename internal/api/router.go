package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// healthCheckTimeout bounds each component check on /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.rateLimitMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Handle("/metrics", promhttp.Handler())

		// Credentials are optional on the event stream and checked in the handler.
		r.Get(s.wsPath(), s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Post("/", s.handleCreateDevice)
				r.Post("/bulk/reboot", s.handleBulkReboot)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Patch("/", s.handleUpdateDevice)
					r.Delete("/", s.handleDeleteDevice)
					r.Post("/commands", s.handleSendCommand)
					r.Post("/reboot", s.handleRebootDevice)
					r.Get("/screenshot", s.handleScreenshot)
					r.Get("/metrics", s.handleDeviceMetrics)
					r.Get("/logs", s.handleDeviceLogs)
					r.Get("/events", s.handleDeviceEvents)
					r.Get("/commands", s.handleDeviceCommands)
				})
			})

			if s.groups != nil {
				r.Route("/groups", func(r chi.Router) {
					r.Get("/", s.handleListGroups)
					r.Post("/", s.handleCreateGroup)

					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", s.handleGetGroup)
						r.Patch("/", s.handleUpdateGroup)
						r.Delete("/", s.handleDeleteGroup)
					})
				})
			}

			r.Route("/alerts", func(r chi.Router) {
				r.Get("/", s.handleListAlerts)
				r.Post("/bulk/acknowledge", s.handleBulkAcknowledge)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetAlert)
					r.Post("/acknowledge", s.handleAcknowledgeAlert)
					r.Delete("/", s.handleDeleteAlert)
				})
			})
		})
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth reports the service and component status. Only a failing
// database makes the service unhealthy; MQTT or InfluxDB outages degrade it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	components := make(map[string]string, len(s.checks)+1)

	check := func(name string, c HealthChecker) bool {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := c.HealthCheck(ctx); err != nil {
			components[name] = err.Error()
			return false
		}
		components[name] = "ok"
		return true
	}

	for name, c := range s.checks {
		if c != nil && !check(name, c) {
			status = "degraded"
		}
	}
	if s.database != nil && !check("database", s.database) {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
		"websocket":  map[string]int{"clients": s.hub.ClientCount()},
	})
}
