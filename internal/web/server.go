package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/face-guard/internal/config"
	"github.com/kozaktomas/face-guard/internal/database"
	"github.com/kozaktomas/face-guard/internal/identity"
	"github.com/kozaktomas/face-guard/internal/logger"
	"github.com/kozaktomas/face-guard/internal/web/handlers"
	"github.com/kozaktomas/face-guard/internal/web/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Deps are the collaborators the API exposes.
type Deps struct {
	Engine     handlers.Engine
	Identity   *identity.Tracker
	Sessions   database.SessionReader   // optional, enables the audit routes
	Detections database.DetectionReader // optional, enables the audit routes
	Gatherer   prometheus.Gatherer      // optional, enables /metrics
	Logger     *slog.Logger
}

// Server represents the web server
type Server struct {
	config         *config.Config
	deps           Deps
	logger         *slog.Logger
	router         *chi.Mux
	httpServer     *http.Server
	sessionManager *middleware.SessionManager
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, deps Deps) *Server {
	r := chi.NewRouter()
	log := logger.OrDefault(deps.Logger)

	s := &Server{
		config:         cfg,
		deps:           deps,
		logger:         log,
		router:         r,
		sessionManager: middleware.NewSessionManager(cfg.Web.SessionSecret),
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(5 * time.Minute))
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))
	r.Use(middleware.SecurityHeaders())

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute, // Long timeout for SSE
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting web server", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down web server")

	// Stop the session cleanup goroutine
	s.sessionManager.Stop()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}

// SessionManager returns the API session store.
func (s *Server) SessionManager() *middleware.SessionManager {
	return s.sessionManager
}
