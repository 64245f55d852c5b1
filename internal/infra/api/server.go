package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"notes-embedding-worker/internal/domain/ports/repository"
	"notes-embedding-worker/internal/infra/worker"
	"notes-embedding-worker/internal/usecase"
)

// WorkerProbe exposes the live state of an in-process worker.
type WorkerProbe interface {
	State() worker.State
}

// RateLimiter is satisfied by the Redis fixed-window limiter.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Deps are the collaborators behind the admin API. Worker, Limiter and
// Health are optional.
type Deps struct {
	Queue    usecase.QueueUseCase
	Audit    usecase.AuditLogger
	Perf     usecase.MetricsRecorder
	Statuses repository.WorkerStatusRepository
	Worker   WorkerProbe
	Limiter  RateLimiter
	Health   func(ctx context.Context) error
	Auth     *AuthManager

	HeartbeatInterval time.Duration
	MaxProcessingTime time.Duration
	RetentionDays     int
	BulkLimit         int
	BulkWindow        time.Duration
	Now               func() time.Time
}

type Server struct {
	deps   Deps
	log    *zerolog.Logger
	server *http.Server
}

func NewServer(deps Deps, logger *zerolog.Logger) *Server {
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.BulkLimit <= 0 {
		deps.BulkLimit = 3
	}
	if deps.BulkWindow <= 0 {
		deps.BulkWindow = 10 * time.Minute
	}
	if deps.RetentionDays <= 0 {
		deps.RetentionDays = 7
	}
	if deps.Auth == nil {
		deps.Auth = NewAuthManager("", "")
	}
	l := logger.With().Str("component", "admin_api").Logger()
	return &Server{deps: deps, log: &l}
}

// Handler builds the router. /health and /metrics are public; everything
// under /api/v1 requires admin credentials.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		TraceID(),
		RequestLog(s.log),
		Recover(s.log),
		Timeout(60*time.Second),
	)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.deps.Auth.Middleware)

		r.Post("/tasks", s.handleEnqueue)
		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/{id}", s.handleGetTask)

		r.Get("/queue/stats", s.handleQueueStats)
		r.Post("/queue/retry", s.handleRetry)
		r.Post("/queue/cleanup", s.handleCleanup)
		r.Post("/queue/recover-stuck", s.handleRecoverStuck)

		r.Get("/articles/needing-embedding", s.handleNeeding)
		r.Post("/bulk", s.handleBulk)
		r.Get("/bulk/{operationID}", s.handleBulkSummary)

		r.Get("/worker/status", s.handleWorkerStatus)
		r.Get("/logs", s.handleLogs)
		r.Get("/metrics/stats", s.handleMetricStats)
		r.Get("/metrics/summary", s.handleMetricSummary)
	})

	return r
}

// Start blocks serving on port until Shutdown.
func (s *Server) Start(port int) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Int("port", port).Msg("admin API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
