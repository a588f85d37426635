// Package server provides the HTTP server setup and wiring.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pendergraft/matchstore/internal/config"
	"github.com/pendergraft/matchstore/internal/observability/metrics"
	verificationTransport "github.com/pendergraft/matchstore/internal/verification/transport"
)

// Server is the HTTP server
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	router *chi.Mux

	verificationSvc verificationTransport.Service
	limiter         *RateLimiter
}

// New creates a new server
func New(cfg *config.Config, svc verificationTransport.Service, logger *slog.Logger) *Server {
	s := &Server{
		cfg:             cfg,
		logger:          logger,
		router:          chi.NewRouter(),
		verificationSvc: svc,
	}
	if cfg.Security.RateLimit.Enabled {
		s.limiter = NewRateLimiter(cfg.Security.RateLimit)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(NewLoggingMiddleware(s.logger))
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(MaxBodySize(int64(s.cfg.Security.MaxBodySizeMB) << 20))
	if s.cfg.Server.RequestTimeout > 0 {
		s.router.Use(middleware.Timeout(time.Duration(s.cfg.Server.RequestTimeout) * time.Second))
	}
}

func (s *Server) setupRoutes() {
	// Health checks
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleHealth)

	if s.cfg.Metrics.Enabled {
		s.router.Handle("/metrics", metrics.Handler())
	}

	verificationHandler := verificationTransport.NewHandler(s.verificationSvc)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Submissions - throttled per client when enabled
		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.limiter.Middleware)
			}
			verificationHandler.RegisterWriteRoutes(r)
		})

		// Lookups - never throttled
		verificationHandler.RegisterReadRoutes(r)
	})
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
