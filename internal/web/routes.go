package web

import (
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kozaktomas/smart-locker/internal/web/handlers"
	"github.com/kozaktomas/smart-locker/internal/web/middleware"
)

// identifyTimeout bounds detection, encoding and the optional unlock pulse.
const identifyTimeout = 30 * time.Second

func (s *Server) setupRoutes() {
	slotsHandler := handlers.NewSlotsHandler(s.locker)
	identifyHandler := handlers.NewIdentifyHandler(s.locker, s.logger)
	enrollHandler := handlers.NewEnrollHandler(s.locker, s.jobManager, s.logger)
	maintenanceHandler := handlers.NewMaintenanceHandler(s.locker)

	// Health check and metrics (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireToken(s.config.Web.APIToken))

		// Slots
		r.Get("/slots", slotsHandler.Status)
		r.Post("/slots/allocate", slotsHandler.Allocate)
		r.Post("/slots/{id}/open", slotsHandler.Open)

		// Identification
		r.With(chiMiddleware.Timeout(identifyTimeout)).Post("/identify", identifyHandler.Identify)

		// Enrollment (long-running)
		r.Post("/enroll", enrollHandler.Start)
		r.Get("/enroll", enrollHandler.List)
		r.Get("/enroll/{jobId}", enrollHandler.Status)
		r.Get("/enroll/{jobId}/events", enrollHandler.Events)
		r.Delete("/enroll/{jobId}", enrollHandler.Cancel)

		// Maintenance
		r.Get("/audit", maintenanceHandler.Audit)
		r.Post("/reset", maintenanceHandler.Reset)
	})
}
