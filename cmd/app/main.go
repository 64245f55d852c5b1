// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"notes-embedding-worker/internal/config"
	"notes-embedding-worker/internal/domain/ports/adapter"
	"notes-embedding-worker/internal/domain/ports/repository"
	"notes-embedding-worker/internal/infra/adapters/alert"
	"notes-embedding-worker/internal/infra/adapters/embedding"
	"notes-embedding-worker/internal/infra/api"
	"notes-embedding-worker/internal/infra/bus"
	"notes-embedding-worker/internal/infra/chunker"
	pg "notes-embedding-worker/internal/infra/db/postgres"
	"notes-embedding-worker/internal/infra/logging"
	"notes-embedding-worker/internal/infra/metrics"
	red "notes-embedding-worker/internal/infra/redis"
	"notes-embedding-worker/internal/infra/sched"
	"notes-embedding-worker/internal/infra/worker"
	"notes-embedding-worker/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfgPath := flag.String("config", "", "path to YAML config file (optional)")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("embedding service exited")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	// ---- Redis (optional) ----
	var redisClient *red.Client
	if cfg.Redis.URL != "" {
		redisClient, err = red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable; running without locks, cache or rate limits")
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	// ---- NATS (optional) ----
	var events adapter.EventPublisher
	if cfg.NATS.URL != "" {
		nc, err := bus.Connect(cfg.NATS.URL, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("nats unavailable; task events disabled")
		} else {
			defer nc.Close()
			events = bus.NewTaskEvents(nc, cfg.NATS.SubjectPrefix)
		}
	}

	// ---- Alerts ----
	var alerter adapter.Alerter = alert.NewLogAlerter(logger)
	if cfg.Alerts.TelegramToken != "" {
		tg, err := alert.NewTelegramAlerter(cfg.Alerts.TelegramToken, cfg.Alerts.ChatIDs, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram alerts disabled")
		} else {
			alerter = tg
		}
	}

	// ---- Repositories ----
	txm := pg.NewTxManager(pool)
	tasks := pg.NewEmbeddingTaskRepo(pool, txm)
	articles := pg.NewArticleRepo(pool)
	vectors := pg.NewChunkVectorRepo(pool)
	var statuses repository.WorkerStatusRepository = pg.NewWorkerStatusRepo(pool)
	if redisClient != nil {
		statuses = pg.NewWorkerStatusCacheDecorator(statuses, redisClient, cfg.Queue.HeartbeatInterval(), *logger)
	}

	// ---- Use cases ----
	audit := usecase.NewAuditLogger(pg.NewAuditLogRepo(pool), logger, nil)
	perf := usecase.NewMetricsRecorder(pg.NewPerformanceMetricRepo(pool), logger, nil)
	queue := usecase.NewQueueUseCase(tasks, articles, vectors, audit, perf, usecase.QueueSettings{
		MaxRetries:       cfg.Queue.MaxRetries,
		RetryBackoffBase: cfg.Queue.RetryBackoffBase(),
		BatchSize:        cfg.Queue.BatchSize,
	}, logger, nil)

	g, gctx := errgroup.WithContext(ctx)

	// ---- Worker ----
	var embedWorker *worker.EmbeddingWorker
	if cfg.Queue.Enabled {
		embedder, err := embedding.New(ctx, cfg.Embedding)
		if err != nil {
			return fmt.Errorf("embedding provider: %w", err)
		}
		chunks, err := newChunker(cfg.Chunking, logger)
		if err != nil {
			return err
		}
		opts := worker.Options{
			InstanceID: instanceID(),
			Interval:   cfg.Queue.WorkerInterval(),
			Events:     events,
		}
		if redisClient != nil {
			opts.Heartbeat = red.NewHeartbeatMirror(redisClient, 3*cfg.Queue.HeartbeatInterval())
		}
		embedWorker = worker.NewEmbeddingWorker(queue, articles, chunks, embedder, vectors, statuses, audit, perf, opts, logger)
		if err := embedWorker.Start(gctx); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
		logger.Info().
			Str("provider", cfg.Embedding.Provider).
			Str("model", embedder.Model()).
			Dur("interval", cfg.Queue.WorkerInterval()).
			Msg("embedding worker started")
	} else {
		logger.Info().Msg("embedding queue disabled; worker not started")
	}

	// ---- Housekeeping ----
	var locker red.Locker
	if redisClient != nil {
		locker = red.NewLocker(redisClient)
	}
	hk := sched.NewHousekeeper(queue, audit, perf, statuses, locker, alerter, sched.Settings{
		StuckCleanupEnabled: cfg.Queue.StuckTaskCleanupEnabled,
		StuckCheckInterval:  cfg.Queue.StuckTaskInterval(),
		MaxProcessingTime:   cfg.Queue.MaxProcessingTime(),
		RetryInterval:       cfg.Queue.RetryInterval(),
		CleanupInterval:     cfg.Queue.CleanupInterval(),
		CleanupRetention:    cfg.Queue.CleanupRetention(),
		MetricsInterval:     cfg.Queue.MetricsInterval(),
		HeartbeatInterval:   cfg.Queue.HeartbeatInterval(),
		WorkerInterval:      cfg.Queue.WorkerInterval(),
	}, logger, nil)
	if err := hk.Start(gctx); err != nil {
		return fmt.Errorf("start housekeeper: %w", err)
	}

	// ---- Admin API ----
	deps := api.Deps{
		Queue:             queue,
		Audit:             audit,
		Perf:              perf,
		Statuses:          statuses,
		Health:            pool.Ping,
		Auth:              api.NewAuthManager(cfg.Admin.APIKey, cfg.Admin.JWTSecret),
		HeartbeatInterval: cfg.Queue.HeartbeatInterval(),
		MaxProcessingTime: cfg.Queue.MaxProcessingTime(),
		RetentionDays:     cfg.Queue.CleanupRetentionDays,
		BulkLimit:         cfg.Admin.BulkLimit,
		BulkWindow:        cfg.Admin.BulkWindow(),
	}
	if embedWorker != nil {
		deps.Worker = embedWorker
	}
	if redisClient != nil {
		deps.Limiter = red.NewRateLimiter(redisClient)
	}
	if !deps.Auth.Enabled() {
		logger.Warn().Msg("admin.api_key and admin.jwt_secret are empty; /api/v1 will refuse every request")
	}
	srv := api.NewServer(deps, logger)
	g.Go(func() error { return srv.Start(cfg.Admin.Port) })

	g.Go(func() error {
		reportPoolStats(gctx, pool)
		return nil
	})

	// ---- Graceful shutdown ----
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("admin API shutdown")
		}
		hk.Stop(shutdownCtx)
		if embedWorker != nil {
			if err := embedWorker.Stop(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("worker did not stop in time")
			}
		}
		return nil
	})

	return g.Wait()
}

// newChunker prefers the tiktoken encoding and falls back to word tokens
// when the rank file cannot be loaded.
func newChunker(cfg config.ChunkingConfig, logger *zerolog.Logger) (*chunker.Markdown, error) {
	tok, err := chunker.NewTiktoken(cfg.Encoding)
	if err != nil {
		logger.Warn().Err(err).Msg("tiktoken unavailable; counting whitespace words instead")
		tok = chunker.NewWordTokenizer()
	}
	return chunker.New(tok, chunker.Options{MaxTokens: cfg.MaxTokens, OverlapTokens: cfg.OverlapTokens})
}

func reportPoolStats(ctx context.Context, pool *pgxpool.Pool) {
	t := time.NewTicker(15 * time.Second)
	defer t.Stop()
	for {
		pg.ReportPoolStats(pool)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "embedding-worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
