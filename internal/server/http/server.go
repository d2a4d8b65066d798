// Package httpserver provides the administrative HTTP API of the search
// outbox: aborted and pending event counts, reprocessing, clearing and agent
// suspension.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/search-outbox/internal/database"
	"github.com/helixir/search-outbox/internal/domain"
)

// AdminService is the operator surface served over HTTP.
// *pipeline.Admin implements it.
type AdminService interface {
	CountAbortedEvents(ctx context.Context, tenantID string) (int64, error)
	ReprocessAbortedEvents(ctx context.Context, tenantID string) (int64, error)
	ClearAllAbortedEvents(ctx context.Context, tenantID string) (int64, error)
	CountPendingEvents(ctx context.Context, tenantID string) (int64, error)
	ListAgents(ctx context.Context) ([]*domain.Agent, error)
	SuspendAgent(ctx context.Context, id uuid.UUID) error
	ResumeAgent(ctx context.Context, id uuid.UUID) error
}

// HealthChecker reports database health. *database.DB implements it.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// Server is the HTTP admin API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	admin      AdminService
	health     HealthChecker
	logger     zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new HTTP server.
func NewServer(cfg Config, admin AdminService, health HealthChecker, logger zerolog.Logger) *Server {
	s := &Server{
		admin:  admin,
		health: health,
		logger: logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the router, for mounting in tests or other servers.
func (s *Server) Handler() http.Handler {
	return s.router
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(requestLogMiddleware(s.logger))
	r.Use(jsonContentTypeMiddleware)

	// Health endpoints
	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api/v1", func(r chi.Router) {
		// Global scope, for deployments without multi-tenancy.
		r.Route("/events", s.eventRoutes)

		r.Route("/tenants/{tenantID}/events", func(r chi.Router) {
			r.Use(tenantContextMiddleware)
			s.eventRoutes(r)
		})

		r.Get("/agents", s.listAgents)
		r.Post("/agents/{agentID}/suspend", s.suspendAgent)
		r.Post("/agents/{agentID}/resume", s.resumeAgent)
	})

	return r
}

func (s *Server) eventRoutes(r chi.Router) {
	r.Get("/aborted/count", s.countAbortedEvents)
	r.Post("/aborted/reprocess", s.reprocessAbortedEvents)
	r.Delete("/aborted", s.clearAbortedEvents)
	r.Get("/pending/count", s.countPendingEvents)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler returns readiness status including database connectivity.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.health.Health(r.Context())
	if health.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
