// File: cmd/queuectl/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"notes-embedding-worker/internal/config"
	"notes-embedding-worker/internal/domain/model"
	"notes-embedding-worker/internal/domain/ports/repository"
	"notes-embedding-worker/internal/infra/api"
	pg "notes-embedding-worker/internal/infra/db/postgres"
	"notes-embedding-worker/internal/infra/logging"
	"notes-embedding-worker/internal/usecase"
)

const usage = `queuectl <command> [flags]

commands:
  stats                      task counts by status and priority
  retry                      reschedule retryable failed tasks
  cleanup -days N            delete completed tasks older than N days
  recover -minutes N         requeue tasks stuck in processing
  needing                    list articles needing embedding
  bulk -priority P           enqueue every article needing embedding
  summary -op ID             show a bulk operation
  logs [-category C] [-level L] [-limit N]
  perf [-hours H]            performance summary
  worker                     worker snapshot
  token [-subject S] [-ttl D]  mint an admin API token
`

type app struct {
	queue      usecase.QueueUseCase
	audit      usecase.AuditLogger
	perf       usecase.MetricsRecorder
	statuses   repository.WorkerStatusRepository
	hbInterval time.Duration
	out        io.Writer
}

func main() {
	cfgPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if flag.Arg(0) == "token" {
		if err := mintToken(os.Stdout, cfg.Admin, flag.Args()[1:]); err != nil {
			log.Fatalf("token: %v", err)
		}
		return
	}
	cfg.Log.Level = "warn"
	logger := logging.New(cfg.Log, false)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 2)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	audit := usecase.NewAuditLogger(pg.NewAuditLogRepo(pool), logger, nil)
	perf := usecase.NewMetricsRecorder(pg.NewPerformanceMetricRepo(pool), logger, nil)
	a := &app{
		queue: usecase.NewQueueUseCase(pg.NewEmbeddingTaskRepo(pool, pg.NewTxManager(pool)), pg.NewArticleRepo(pool),
			pg.NewChunkVectorRepo(pool), audit, perf, usecase.QueueSettings{
				MaxRetries:       cfg.Queue.MaxRetries,
				RetryBackoffBase: cfg.Queue.RetryBackoffBase(),
				BatchSize:        cfg.Queue.BatchSize,
			}, logger, nil),
		audit:      audit,
		perf:       perf,
		statuses:   pg.NewWorkerStatusRepo(pool),
		hbInterval: cfg.Queue.HeartbeatInterval(),
		out:        os.Stdout,
	}

	if err := a.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		log.Fatalf("%s: %v", flag.Arg(0), err)
	}
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	switch cmd {
	case "stats":
		return a.stats(ctx)
	case "retry":
		n, err := a.queue.RetryFailedTasks(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "rescheduled %d failed task(s)\n", n)
		return nil
	case "cleanup":
		days := fs.Int("days", 7, "retention in days")
		_ = fs.Parse(args)
		if *days < 1 {
			return fmt.Errorf("-days must be >= 1")
		}
		n, err := a.queue.ClearCompletedTasks(ctx, time.Duration(*days)*24*time.Hour)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "deleted %d completed task(s) older than %d day(s)\n", n, *days)
		return nil
	case "recover":
		minutes := fs.Int("minutes", 5, "max processing time in minutes")
		_ = fs.Parse(args)
		res, err := a.queue.RecoverStuckTasks(ctx, time.Duration(*minutes)*time.Minute)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "requeued %d, failed %d\n", res.Requeued, res.Failed)
		return nil
	case "needing":
		return a.needing(ctx)
	case "bulk":
		priority := fs.String("priority", string(model.TaskPriorityLow), "low|normal|high|critical")
		_ = fs.Parse(args)
		return a.bulk(ctx, model.TaskPriority(*priority))
	case "summary":
		op := fs.String("op", "", "bulk operation id")
		_ = fs.Parse(args)
		if *op == "" {
			return fmt.Errorf("-op is required")
		}
		return a.summary(ctx, *op)
	case "logs":
		category := fs.String("category", "", "log category")
		level := fs.String("level", "", "debug|info|warn|error")
		limit := fs.Int("limit", 20, "entries to show")
		_ = fs.Parse(args)
		return a.logs(ctx, model.LogCategory(*category), model.LogLevel(*level), *limit)
	case "perf":
		hours := fs.Int("hours", 24, "window in hours")
		_ = fs.Parse(args)
		return a.perfSummary(ctx, *hours)
	case "worker":
		return a.worker(ctx)
	default:
		return fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
	}
}

func mintToken(out io.Writer, admin config.AdminConfig, args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	subject := fs.String("subject", "queuectl", "token subject")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	_ = fs.Parse(args)
	tok, err := api.NewAuthManager("", admin.JWTSecret).Mint(*subject, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, tok)
	return nil
}

func (a *app) stats(ctx context.Context) error {
	s, err := a.queue.GetQueueStats(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "pending\tprocessing\tcompleted\tfailed\ttotal\n")
	fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\n", s.Pending, s.Processing, s.Completed, s.Failed, s.Total)
	return tw.Flush()
}

func (a *app) needing(ctx context.Context) error {
	list, err := a.queue.IdentifyArticlesNeedingEmbedding(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ARTICLE\tSLUG\tREASON\n")
	for _, n := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", n.ArticleID, n.Slug, n.Reason)
	}
	fmt.Fprintf(tw, "\n%d article(s)\n", len(list))
	return tw.Flush()
}

func (a *app) bulk(ctx context.Context, priority model.TaskPriority) error {
	progress := make(chan model.BulkProgress, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range progress {
			fmt.Fprintf(a.out, "[%d/%d] queued=%d skipped=%d errors=%d %s\n",
				p.Processed, p.Total, p.Queued, p.Skipped, p.Errors, p.CurrentSlug)
		}
	}()
	res, err := a.queue.QueueBulkEmbeddingUpdate(ctx, priority, progress)
	<-done
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "operation %s: %d article(s), %d queued, %d skipped, %d error(s)\n",
		res.OperationID, res.TotalArticles, res.QueuedTasks, res.SkippedArticles, len(res.Errors))
	return nil
}

const errorPreview = 5

func (a *app) summary(ctx context.Context, opID string) error {
	s, err := a.queue.GetBulkOperationSummary(ctx, opID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "operation %s: %s\n", s.OperationID, s.Status)
	fmt.Fprintf(a.out, "  total=%d completed=%d failed=%d pending=%d\n",
		s.TotalTasks, s.CompletedTasks, s.FailedTasks, s.PendingTasks)
	fmt.Fprintf(a.out, "  started %s\n", s.StartedAt.Format(time.RFC3339))
	if s.CompletedAt != nil {
		fmt.Fprintf(a.out, "  finished %s\n", s.CompletedAt.Format(time.RFC3339))
	}
	for i, e := range s.Errors {
		if i == errorPreview {
			fmt.Fprintf(a.out, "  ... and %d more\n", len(s.Errors)-errorPreview)
			break
		}
		fmt.Fprintf(a.out, "  ! %s\n", e)
	}
	return nil
}

func (a *app) logs(ctx context.Context, category model.LogCategory, level model.LogLevel, limit int) error {
	page, err := a.audit.Query(ctx, model.AuditLogFilter{Category: category, Level: level}, 1, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	for _, e := range page.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.Level, e.Category, e.TaskID, e.Message)
	}
	return tw.Flush()
}

func (a *app) perfSummary(ctx context.Context, hours int) error {
	to := time.Now().UTC()
	s, err := a.perf.Summary(ctx, to.Add(-time.Duration(hours)*time.Hour), to)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "metric\tvalue\n")
	fmt.Fprintf(tw, "tasks processed\t%d\n", s.TotalTasksProcessed)
	fmt.Fprintf(tw, "avg task processing (ms)\t%.1f\n", s.AverageProcessingTimeMs)
	fmt.Fprintf(tw, "avg embedding generation (ms)\t%.1f\n", s.AverageEmbeddingTimeMs)
	fmt.Fprintf(tw, "avg throughput (tasks/min)\t%.2f\n", s.AverageThroughput)
	fmt.Fprintf(tw, "avg queue depth\t%.1f\n", s.AverageQueueDepth)
	fmt.Fprintf(tw, "peak queue depth\t%.0f\n", s.PeakQueueDepth)
	fmt.Fprintf(tw, "avg error rate (%%)\t%.2f\n", s.AverageErrorRate)
	fmt.Fprintf(tw, "avg utilization (%%)\t%.1f\n", s.AverageUtilization)
	return tw.Flush()
}

func (a *app) worker(ctx context.Context) error {
	s, err := a.statuses.Load(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	state := "stopped"
	switch {
	case s.Stale(now, 3*a.hbInterval):
		state = "stale"
	case s.IsRunning:
		state = "running"
	}
	fmt.Fprintf(a.out, "instance %s: %s\n", s.InstanceID, state)
	if s.LastHeartbeat != nil {
		fmt.Fprintf(a.out, "  last heartbeat %s ago\n", now.Sub(*s.LastHeartbeat).Round(time.Second))
	}
	fmt.Fprintf(a.out, "  uptime %s\n", s.Uptime(now).Round(time.Second))
	fmt.Fprintf(a.out, "  processed=%d succeeded=%d failed=%d success=%.1f%%\n",
		s.TasksProcessed, s.TasksSucceeded, s.TasksFailed, s.SuccessRate())
	return nil
}
