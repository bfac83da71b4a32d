package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-guard/internal/metrics"
	"github.com/kozaktomas/face-guard/internal/web/handlers"
	"github.com/kozaktomas/face-guard/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	sm := s.sessionManager

	// Create handlers
	authHandler := handlers.NewAuthHandler(s.config, sm, s.deps.Identity)
	engineHandler := handlers.NewEngineHandler(s.deps.Engine, s.logger)
	verifyLimiter := middleware.NewRateLimiter(s.config.Monitor.VerifyPerMinute)

	// Health check and metrics (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)
	if s.deps.Gatherer != nil {
		s.router.Handle("/metrics", metrics.Handler(s.deps.Gatherer))
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/logout", authHandler.Logout)
		r.Get("/auth/status", authHandler.Status)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(sm))

			// Readiness
			r.Get("/status", engineHandler.Status)
			r.Get("/events", engineHandler.Events)
			r.Post("/models/retry", engineHandler.RetryModels)
			r.Post("/camera/start", engineHandler.StartCamera)
			r.Post("/camera/stop", engineHandler.StopCamera)
			r.Post("/reference", engineHandler.LoadReference)

			// Verification and monitoring
			r.With(verifyLimiter.Middleware()).Post("/verify", engineHandler.Verify)
			r.Post("/monitor", engineHandler.StartMonitoring)
			r.Delete("/monitor", engineHandler.StopMonitoring)
			r.Post("/alerts/no-face/ack", engineHandler.AckNoFace)
			r.Post("/alerts/different-person/ack", engineHandler.AckDifferentPerson)
			r.Get("/overlay.png", engineHandler.OverlayPNG)
			r.Get("/snapshot.jpg", engineHandler.Snapshot)

			// Session
			r.Get("/session", engineHandler.Session)
			r.Post("/session/end", engineHandler.EndSession)

			// Audit trail
			if s.deps.Sessions != nil && s.deps.Detections != nil {
				auditHandler := handlers.NewAuditHandler(s.deps.Sessions, s.deps.Detections)
				r.Get("/sessions", auditHandler.List)
				r.Get("/sessions/{id}", auditHandler.Get)
			}
		})
	})
}
