// Package core provides the API chassis for the Upkeep PM engine.
// It creates a chi router and enforces cross-cutting concerns -- panic
// recovery, request identity, logging, and error handling -- before requests
// reach domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"upkeep/internal/config"
)

// Server encapsulates the dependencies for the Upkeep API, allowing for easy
// injection during testing and distinct configuration per environment.
type Server struct {
	Config       *config.Config
	Logger       *slog.Logger
	Validator    *Validator
	HealthProbes []HealthProbe

	router *chi.Mux
}

// NewServer initializes dependencies and prepares the server for route
// mounting. The caller is responsible for mounting routes after construction;
// this separation lets tests customize route registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}

	return s, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// MountMiddleware installs the base middleware chain. Recoverer is outermost
// so every panic in the stack is caught; RequestID runs before the logger so
// log lines always carry an ID.
func (s *Server) MountMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestID)
	s.router.Use(RequestLogger(s.Logger, []string{"Authorization"}))
	s.router.Use(Timeout(s.Config.Server.RequestTimeout))
}

// Shutdown performs a graceful termination of server resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")
	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
