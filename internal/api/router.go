package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-ble/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Unauthenticated monitoring
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// WebSocket authenticates from the query string (browsers cannot
		// set headers on the upgrade request).
		r.Get(s.wsPath(), s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Reads: any valid token
			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermDeviceRead))

				r.Get("/adapter", s.handleGetAdapter)
				r.Get("/scan/devices", s.handleListScanDevices)
				r.Get("/devices/connected", s.handleListConnected)
				r.Get("/devices/saved", s.handleListSaved)
				r.Get("/devices/{id}", s.handleGetDevice)
				r.Get("/autopair", s.handleGetAutoPair)
				r.Get("/operations", s.handleListOperations)
				r.Get("/audit", s.handleListAudit)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermScanControl))
				r.Post("/scan/start", s.handleStartScan)
				r.Post("/scan/stop", s.handleStopScan)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermDeviceOperate))
				r.Post("/devices/disconnect-all", s.handleDisconnectAll)
				r.Post("/devices/{id}/connect", s.handleConnect)
				r.Post("/devices/{id}/disconnect", s.handleDisconnect)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermAutoPairing))
				r.Post("/autopair/toggle", s.handleToggleAutoPair)
			})
		})
	})

	return r
}
