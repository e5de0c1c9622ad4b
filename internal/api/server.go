// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/touchless-directory/internal/logging"
	"github.com/touchless-directory/internal/metrics"
	"github.com/touchless-directory/internal/models"
	"github.com/touchless-directory/internal/pipeline"
)

// Service interfaces for dependency injection and testing

// BatchSubmitter starts new crawl batches
type BatchSubmitter interface {
	Submit(ctx context.Context, req pipeline.SubmitRequest) (*pipeline.SubmitResult, error)
}

// BatchPoller processes one page of a running batch
type BatchPoller interface {
	Poll(ctx context.Context, jobID, cursor string) (*pipeline.PollResult, error)
}

// StatusReporter reports batch progress
type StatusReporter interface {
	Status(ctx context.Context, jobID string) (*pipeline.StatusReport, error)
}

// JobService creates and advances background jobs
type JobService interface {
	CreateReclassifyJob(ctx context.Context, listingIDs []string) (*models.BackgroundJob, error)
	ProcessJob(ctx context.Context, jobID string) (*pipeline.JobProgress, error)
	JobStatus(ctx context.Context, jobID string) (*pipeline.JobProgress, error)
}

// HealthCheck reports whether one dependency is reachable
type HealthCheck func(ctx context.Context) error

// Services groups the collaborators the handlers call
type Services struct {
	Submitter BatchSubmitter
	Poller    BatchPoller
	Status    StatusReporter
	Jobs      JobService
	Health    map[string]HealthCheck
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	services   Services
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestsPerSec  int // per client key
	Burst           int
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, services Services) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		services: services,
		config:   config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSec, s.config.Burst)

	// order matters: recovery must wrap everything that can panic
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", metrics.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(rateLimiter))
	api.Use(CompressionMiddleware)

	// Batch endpoints
	api.HandleFunc("/batches", s.handleSubmitBatch).Methods("POST")
	api.HandleFunc("/batches/poll", s.handlePollBatch).Methods("POST")
	api.HandleFunc("/batches/status", s.handleBatchStatus).Methods("GET")

	// Background job endpoints
	api.HandleFunc("/jobs/reclassify", s.handleCreateReclassifyJob).Methods("POST")
	api.HandleFunc("/jobs/{id}/process", s.handleProcessJob).Methods("POST")
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods("GET")

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth pings every registered dependency
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.services.Health))
	healthy := true
	for name, check := range s.services.Health {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "unhealthy"
	}
	respondJSON(w, status, map[string]interface{}{
		"status":  state,
		"service": "touchless-directory",
		"checks":  checks,
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
