package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/enslite/enslite/internal/auth"
	"github.com/enslite/enslite/internal/hub"
	"github.com/enslite/enslite/internal/store"
)

// NewRouter creates and configures the API router
func NewRouter(authService *auth.Service, st store.Store, broadcastHub *hub.Hub, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recovery(logger))
	r.Use(Logger(logger))

	h := NewHandlers(st, authService, logger)

	// Public routes (no auth required)
	r.Get("/health", h.Health)

	// Dashboard subscription: snapshot first, then live broadcasts.
	r.Get("/ws/emergency", broadcastHub.ServeWS)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/login", h.Login)

		// Protected routes (require JWT)
		r.Group(func(r chi.Router) {
			r.Use(JWTAuth(authService))

			r.Route("/event-types", func(r chi.Router) {
				r.Get("/", h.ListEventTypes)
				r.Post("/", h.CreateEventType)
			})

			r.Route("/emergency-events", func(r chi.Router) {
				r.Get("/", h.ListEvents)
				r.Get("/active", h.ActiveEvents)
				r.Get("/{id}", h.GetEvent)
				r.Patch("/{id}/deactivate", h.DeactivateEvent)
			})

			r.Route("/servers", func(r chi.Router) {
				r.Get("/", h.ListServers)
				r.Post("/", h.CreateServer)
				r.Get("/{id}", h.GetServer)
				r.Put("/{id}", h.UpdateServer)
				r.Delete("/{id}", h.DeleteServer)
			})

			r.Route("/drone-data", func(r chi.Router) {
				r.Get("/", h.ListTelemetry)
				r.Get("/latest", h.LatestTelemetry)
			})

			r.Get("/statistics", h.Statistics)
		})
	})

	return r
}
