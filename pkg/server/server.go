// Package server is the HTTP surface: ingestion, task status, review
// workflow and operational endpoints, assembled on chi.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voltaudit/voltaudit/pkg/audit"
	"github.com/voltaudit/voltaudit/pkg/auth"
	"github.com/voltaudit/voltaudit/pkg/broker"
	"github.com/voltaudit/voltaudit/pkg/config"
	"github.com/voltaudit/voltaudit/pkg/objectstore"
	"github.com/voltaudit/voltaudit/pkg/ratelimit"
	"github.com/voltaudit/voltaudit/pkg/storage"
)

// Server owns the router and its collaborators.
type Server struct {
	cfg      *config.Config
	store    *storage.Store
	gateway  objectstore.Gateway
	queue    *broker.Broker
	tokens   *auth.TokenIssuer
	limiter  *ratelimit.Limiter
	auditLog *audit.Logger
	logger   logr.Logger

	httpServer *http.Server
}

// New assembles the server.
func New(cfg *config.Config, store *storage.Store, gateway objectstore.Gateway,
	queue *broker.Broker, tokens *auth.TokenIssuer, limiter *ratelimit.Limiter,
	logger logr.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		gateway:  gateway,
		queue:    queue,
		tokens:   tokens,
		limiter:  limiter,
		auditLog: audit.NewLogger(store.Audit, logger),
		logger:   logger.WithName("server"),
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ListenPort),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the full route tree. Health and metrics endpoints bypass
// authentication and rate limiting.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.logMiddleware)
	r.Use(chimiddleware.Recoverer)
	r.Use(metricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/health/live", s.handleHealth)
	r.Get("/api/health/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	// Anonymous routes are rate-limited by client IP.
	r.Group(func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)
		r.Post("/api/auth/register", s.handleRegister)
		r.Post("/api/auth/login", s.handleLogin)
	})

	// Authenticated routes are rate-limited by user id.
	r.Group(func(r chi.Router) {
		r.Use(s.tokens.Middleware)
		r.Use(s.rateLimitMiddleware)

		r.Post("/api/upload", s.handleUpload)
		r.Get("/api/tasks/{id}", s.handleTaskStatus)
		r.Get("/api/tasks/{id}/result", s.handleTaskResult)

		r.Get("/api/analyses", s.handleListAnalyses)
		r.Get("/api/analyses/{id}", s.handleGetAnalysis)
		r.Put("/api/analyses/{id}/approve", s.handleApprove)
		r.Put("/api/analyses/{id}/reject", s.handleReject)
		r.Get("/api/analyses/{id}/audit", s.handleAuditTrail)
		r.Get("/api/analyses/{id}/report", s.handleReport)
	})

	return r
}

// Run serves until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports readiness: the database and the broker backing store
// must both answer.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"database": "ok", "broker": "ok"}
	healthy := true
	if err := s.store.Ping(ctx); err != nil {
		checks["database"] = err.Error()
		healthy = false
	}
	if err := s.queue.Ping(ctx); err != nil {
		checks["broker"] = err.Error()
		healthy = false
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"status": checks, "ready": healthy})
}
