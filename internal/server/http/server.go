// Package httpserver provides the operator HTTP API: work registration,
// source and alert inspection, health probes and Prometheus metrics.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/scholarmetrics/harvester/internal/alerts"
	"github.com/scholarmetrics/harvester/internal/database"
	"github.com/scholarmetrics/harvester/internal/queue"
	"github.com/scholarmetrics/harvester/internal/repository"
	"github.com/scholarmetrics/harvester/internal/works"
)

// HealthChecker reports database health for the liveness and readiness
// probes. Satisfied by *database.DB.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// Server is the operator HTTP API server.
type Server struct {
	router        chi.Router
	httpServer    *http.Server
	workSvc       *works.Service
	workRepo      repository.WorkRepository
	sourceRepo    repository.SourceRepository
	retrievalRepo repository.RetrievalRepository
	alertRepo     repository.AlertRepository
	alerts        *alerts.Deduplicator
	gate          *queue.SlotGate
	db            HealthChecker
	logger        zerolog.Logger
	metricsPath   string
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// MetricsPath mounts the Prometheus handler when non-empty.
	MetricsPath string
}

// NewServer creates the operator API server with all dependencies.
func NewServer(
	cfg Config,
	workSvc *works.Service,
	workRepo repository.WorkRepository,
	sourceRepo repository.SourceRepository,
	retrievalRepo repository.RetrievalRepository,
	alertRepo repository.AlertRepository,
	alertSvc *alerts.Deduplicator,
	gate *queue.SlotGate,
	db HealthChecker,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		workSvc:       workSvc,
		workRepo:      workRepo,
		sourceRepo:    sourceRepo,
		retrievalRepo: retrievalRepo,
		alertRepo:     alertRepo,
		alerts:        alertSvc,
		gate:          gate,
		db:            db,
		logger:        logger.With().Str("component", "http-server").Logger(),
		metricsPath:   cfg.MetricsPath,
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

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(s.requestLogMiddleware)
	r.Use(jsonContentTypeMiddleware)

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	if s.metricsPath != "" {
		r.Method(http.MethodGet, s.metricsPath, promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/works", s.createWork)
		r.Get("/works", s.listWorks)
		r.Get("/works/{workID}", s.getWork)
		r.Get("/works/{workID}/status", s.getWorkStatus)

		r.Get("/sources", s.listSources)
		r.Get("/sources/{name}", s.getSource)

		r.Get("/alerts", s.listAlerts)
		r.Post("/alerts/resolve", s.resolveAlerts)
	})

	return r
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
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := s.db.Health(r.Context())
	if health.Status == "healthy" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": health.Status})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status":   "unhealthy",
		"database": health.Status,
		"error":    health.Error,
	})
}

// readinessHandler reports whether the server can serve API traffic.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.db.Health(r.Context())
	if health.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
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
