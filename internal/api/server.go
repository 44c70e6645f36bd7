package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/callshield/internal/domain"
	"github.com/opensource-finance/callshield/internal/rules"
	"github.com/opensource-finance/callshield/internal/session"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, sessions *session.Manager, matcher *rules.Matcher, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Server {
	handler := NewHandler(sessions, matcher, repo, cache, bus, version)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", metricsHandler(sessions, matcher, bus))

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Upgraded connections bypass compression.
		r.Get("/sessions/{id}/events", handler.SessionEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Compress(5))

			// Session lifecycle
			r.Post("/sessions", handler.StartSession)
			r.Get("/sessions/{id}", handler.GetSession)
			r.Post("/sessions/{id}/fragments", handler.IngestFragment)
			r.Post("/sessions/{id}/stop", handler.StopSession)

			// Archived reports
			r.Get("/reports", handler.ListReports)
			r.Get("/reports/{id}", handler.GetReport)

			// Pattern management
			r.Get("/patterns", handler.ListPatterns)
			r.Post("/patterns", handler.CreatePattern)
		})
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
