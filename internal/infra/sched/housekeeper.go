package sched

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"notes-embedding-worker/internal/domain"
	"notes-embedding-worker/internal/domain/ports/adapter"
	"notes-embedding-worker/internal/domain/ports/repository"
	"notes-embedding-worker/internal/infra/metrics"
	"notes-embedding-worker/internal/infra/redis"
	"notes-embedding-worker/internal/usecase"
)

// Job names double as lock names and log fields.
const (
	JobStuckSweep = "stuck_sweep"
	JobRetry      = "retry_failed"
	JobRetention  = "retention"
	JobMetrics    = "metrics_snapshot"
	JobLiveness   = "liveness"
)

// Settings control which jobs run and how often.
type Settings struct {
	StuckCleanupEnabled bool
	StuckCheckInterval  time.Duration
	MaxProcessingTime   time.Duration
	RetryInterval       time.Duration
	CleanupInterval     time.Duration
	CleanupRetention    time.Duration
	MetricsInterval     time.Duration
	HeartbeatInterval   time.Duration
	WorkerInterval      time.Duration
}

// Housekeeper runs the periodic queue maintenance jobs on a cron schedule.
type Housekeeper struct {
	queue    usecase.QueueUseCase
	audit    usecase.AuditLogger
	perf     usecase.MetricsRecorder
	statuses repository.WorkerStatusRepository
	locker   redis.Locker
	alerter  adapter.Alerter
	settings Settings
	log      zerolog.Logger
	now      func() time.Time

	cron *cron.Cron
	ctx  context.Context

	mu          sync.Mutex
	lastSample  time.Time
	lastCounts  [2]int64 // processed, failed
	staleAlerts bool
}

// NewHousekeeper wires the jobs. locker and alerter may be nil.
func NewHousekeeper(
	queue usecase.QueueUseCase,
	audit usecase.AuditLogger,
	perf usecase.MetricsRecorder,
	statuses repository.WorkerStatusRepository,
	locker redis.Locker,
	alerter adapter.Alerter,
	settings Settings,
	logger *zerolog.Logger,
	now func() time.Time,
) *Housekeeper {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	l := logger.With().Str("component", "housekeeper").Logger()
	return &Housekeeper{
		queue:    queue,
		audit:    audit,
		perf:     perf,
		statuses: statuses,
		locker:   locker,
		alerter:  alerter,
		settings: settings,
		log:      l,
		now:      now,
	}
}

type schedule struct {
	name    string
	every   time.Duration
	enabled bool
	run     func(context.Context) error
}

func (h *Housekeeper) schedules() []schedule {
	s := h.settings
	return []schedule{
		{name: JobStuckSweep, every: s.StuckCheckInterval, enabled: s.StuckCleanupEnabled, run: h.SweepStuck},
		{name: JobRetry, every: s.RetryInterval, enabled: true, run: h.RetryFailed},
		{name: JobRetention, every: s.CleanupInterval, enabled: true, run: h.Retention},
		{name: JobMetrics, every: s.MetricsInterval, enabled: true, run: h.SnapshotMetrics},
		{name: JobLiveness, every: s.HeartbeatInterval, enabled: true, run: h.CheckLiveness},
	}
}

// Start registers every enabled job and starts the cron runner. Jobs run
// with ctx until Stop is called.
func (h *Housekeeper) Start(ctx context.Context) error {
	if h.cron != nil {
		return errors.New("housekeeper already started")
	}
	cl := cronLogger{log: h.log}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	h.ctx = ctx

	for _, s := range h.schedules() {
		if !s.enabled {
			h.log.Info().Str("job", s.name).Msg("job disabled")
			continue
		}
		if s.every <= 0 {
			return fmt.Errorf("%w: %s interval must be positive", domain.ErrInvalidConfig, s.name)
		}
		job := s
		expr := "@every " + job.every.String()
		if _, err := c.AddFunc(expr, func() { h.runLocked(h.ctx, job.name, job.every, job.run) }); err != nil {
			return fmt.Errorf("schedule %s: %w", job.name, err)
		}
		h.log.Info().Str("job", job.name).Dur("every", job.every).Msg("job scheduled")
	}
	h.cron = c
	c.Start()
	return nil
}

// Stop halts scheduling and waits for running jobs or ctx, whichever ends first.
func (h *Housekeeper) Stop(ctx context.Context) {
	if h.cron == nil {
		return
	}
	done := h.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		h.log.Warn().Msg("housekeeping jobs still running at shutdown")
	}
	h.cron = nil
}

// runLocked takes the Redis sweep lock for job when a locker is configured.
// A lock held elsewhere skips the run; a Redis failure runs the job unlocked.
func (h *Housekeeper) runLocked(ctx context.Context, job string, ttl time.Duration, fn func(context.Context) error) {
	log := h.log.With().Str("job", job).Logger()
	if h.locker != nil {
		key := redis.SweepLockKey(job)
		token, err := h.locker.TryLock(ctx, key, ttl)
		switch {
		case errors.Is(err, domain.ErrLockNotAcquired):
			log.Debug().Msg("lock held elsewhere; skipping run")
			return
		case err != nil:
			log.Warn().Err(err).Msg("lock unavailable; running unlocked")
		default:
			defer func() {
				if err := h.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
					log.Warn().Err(err).Msg("unlock failed")
				}
			}()
		}
	}
	if err := fn(ctx); err != nil {
		log.Error().Err(err).Msg("housekeeping job failed")
	}
}

// SweepStuck requeues or fails tasks stuck in processing.
func (h *Housekeeper) SweepStuck(ctx context.Context) error {
	res, err := h.queue.RecoverStuckTasks(ctx, h.settings.MaxProcessingTime)
	if err != nil {
		return err
	}
	if res.Total() > 0 {
		h.log.Warn().Int("requeued", res.Requeued).Int("failed", res.Failed).Msg("stuck tasks recovered")
	}
	return nil
}

func (h *Housekeeper) RetryFailed(ctx context.Context) error {
	n, err := h.queue.RetryFailedTasks(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		h.log.Info().Int("count", n).Msg("failed tasks rescheduled")
	}
	return nil
}

// Retention deletes completed tasks, audit entries and metric samples older
// than the retention window.
func (h *Housekeeper) Retention(ctx context.Context) error {
	retention := h.settings.CleanupRetention
	var errs []error

	tasks, err := h.queue.ClearCompletedTasks(ctx, retention)
	if err != nil {
		errs = append(errs, err)
	}

	start := time.Now()
	logs, err := h.audit.Purge(ctx, retention)
	if err != nil {
		errs = append(errs, fmt.Errorf("purge audit logs: %w", err))
	} else {
		metrics.AddRetentionDeleted("audit_logs", logs)
	}

	samples, err := h.perf.Purge(ctx, retention)
	if err != nil {
		errs = append(errs, fmt.Errorf("purge metrics: %w", err))
	} else {
		metrics.AddRetentionDeleted("metrics", samples)
	}
	h.audit.QueueMaintenance(ctx, "retention_purge", logs+samples, time.Since(start))

	h.log.Info().Int("tasks", tasks).Int("audit_logs", logs).Int("metrics", samples).Msg("retention sweep finished")
	return errors.Join(errs...)
}

// SnapshotMetrics records queue depth, worker utilization, error rate,
// throughput and memory usage.
func (h *Housekeeper) SnapshotMetrics(ctx context.Context) error {
	stats, err := h.queue.GetQueueStats(ctx)
	if err != nil {
		return err
	}
	h.perf.RecordQueueDepth(ctx, stats.Pending)

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	h.perf.RecordMemoryUsage(ctx, ms.HeapAlloc)

	status, err := h.statuses.Load(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	now := h.now()
	h.mu.Lock()
	prevAt, prev := h.lastSample, h.lastCounts
	h.lastSample = now
	h.lastCounts = [2]int64{status.TasksProcessed, status.TasksFailed}
	h.mu.Unlock()
	if prevAt.IsZero() {
		return nil
	}

	elapsed := now.Sub(prevAt)
	processed := status.TasksProcessed - prev[0]
	failed := status.TasksFailed - prev[1]
	if elapsed <= 0 || processed < 0 {
		// counters were reset by a worker restart
		return nil
	}

	h.perf.RecordThroughput(ctx, float64(processed)/elapsed.Minutes())
	var errRate float64
	if processed > 0 {
		errRate = float64(failed) / float64(processed) * 100
	}
	h.perf.RecordErrorRate(ctx, errRate)
	h.perf.RecordWorkerUtilization(ctx, utilization(status.IsRunning, processed, elapsed, h.settings.WorkerInterval))
	return nil
}

// utilization is the share of poll ticks in the window that processed a task.
func utilization(running bool, processed int64, elapsed, tick time.Duration) float64 {
	if !running || tick <= 0 || elapsed <= 0 {
		return 0
	}
	ticks := float64(elapsed) / float64(tick)
	if ticks < 1 {
		ticks = 1
	}
	u := float64(processed) / ticks * 100
	if u > 100 {
		u = 100
	}
	return u
}

// CheckLiveness flags a worker whose heartbeat is older than three intervals.
// The alert fires once per outage.
func (h *Housekeeper) CheckLiveness(ctx context.Context) error {
	status, err := h.statuses.Load(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	now := h.now()
	threshold := 3 * h.settings.HeartbeatInterval
	if !status.Stale(now, threshold) {
		h.mu.Lock()
		h.staleAlerts = false
		h.mu.Unlock()
		return nil
	}

	var age time.Duration
	if status.LastHeartbeat != nil {
		age = now.Sub(*status.LastHeartbeat)
	}
	h.audit.WorkerHeartbeatStale(ctx, status, age)

	h.mu.Lock()
	already := h.staleAlerts
	h.staleAlerts = true
	h.mu.Unlock()
	if already || h.alerter == nil {
		return nil
	}
	msg := fmt.Sprintf("embedding worker %s has not sent a heartbeat for %s", status.InstanceID, age.Round(time.Second))
	if err := h.alerter.Alert(ctx, msg); err != nil {
		return fmt.Errorf("send stale worker alert: %w", err)
	}
	return nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
