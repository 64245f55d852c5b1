package usecase

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"notes-embedding-worker/internal/domain/model"
	"notes-embedding-worker/internal/domain/ports/repository"
)

// Compile-time check
var _ AuditLogger = (*auditLogger)(nil)

// LogContext carries the optional correlation fields of an audit entry.
type LogContext struct {
	TaskID      string
	ArticleID   string
	OperationID string
	Metadata    map[string]string
	Duration    *time.Duration
	Err         error
}

// AuditLogger records queue facts. Every emitter funnels through Log, and a
// failed write is logged and dropped rather than returned.
type AuditLogger interface {
	Log(ctx context.Context, level model.LogLevel, category model.LogCategory, message string, lc LogContext)

	TaskEnqueued(ctx context.Context, task *model.EmbeddingTask)
	TaskDequeued(ctx context.Context, task *model.EmbeddingTask)
	TaskStarted(ctx context.Context, task *model.EmbeddingTask)
	TaskCompleted(ctx context.Context, task *model.EmbeddingTask, took time.Duration, chunks int)
	TaskFailed(ctx context.Context, task *model.EmbeddingTask, err error, terminal bool)
	WorkerStarted(ctx context.Context, status *model.WorkerStatus)
	WorkerStopped(ctx context.Context, status *model.WorkerStatus)
	WorkerHeartbeatStale(ctx context.Context, status *model.WorkerStatus, age time.Duration)
	BulkStarted(ctx context.Context, operationID string, total int, priority model.TaskPriority)
	BulkProgress(ctx context.Context, p model.BulkProgress)
	BulkCompleted(ctx context.Context, res *model.BulkEnqueueResult, took time.Duration)
	QueueMaintenance(ctx context.Context, action string, affected int, took time.Duration)

	Query(ctx context.Context, filter model.AuditLogFilter, page, pageSize int) (*model.Page[*model.AuditLogEntry], error)
	Purge(ctx context.Context, olderThan time.Duration) (int, error)
}

type auditLogger struct {
	repo repository.AuditLogRepository
	log  zerolog.Logger
	now  Clock
}

func NewAuditLogger(repo repository.AuditLogRepository, logger *zerolog.Logger, now Clock) *auditLogger {
	if now == nil {
		now = systemClock
	}
	return &auditLogger{
		repo: repo,
		log:  logger.With().Str("component", "audit").Logger(),
		now:  now,
	}
}

func (a *auditLogger) Log(ctx context.Context, level model.LogLevel, category model.LogCategory, message string, lc LogContext) {
	entry := &model.AuditLogEntry{
		ID:          uuid.NewString(),
		Timestamp:   a.now(),
		Level:       level,
		Category:    category,
		Message:     message,
		TaskID:      lc.TaskID,
		ArticleID:   lc.ArticleID,
		OperationID: lc.OperationID,
		Metadata:    lc.Metadata,
		Duration:    lc.Duration,
	}
	if lc.Err != nil {
		entry.Error = lc.Err.Error()
	}

	ev := a.log.WithLevel(zerologLevel(level)).Str("category", string(category))
	if lc.TaskID != "" {
		ev = ev.Str("task_id", lc.TaskID)
	}
	if lc.ArticleID != "" {
		ev = ev.Str("article_id", lc.ArticleID)
	}
	if lc.OperationID != "" {
		ev = ev.Str("operation_id", lc.OperationID)
	}
	if lc.Duration != nil {
		ev = ev.Dur("duration", *lc.Duration)
	}
	if lc.Err != nil {
		ev = ev.Err(lc.Err)
	}
	ev.Msg(message)

	if err := a.repo.Insert(ctx, entry); err != nil {
		a.log.Warn().Err(err).Str("category", string(category)).Msg("audit write failed")
	}
}

func zerologLevel(l model.LogLevel) zerolog.Level {
	switch l {
	case model.LogLevelDebug:
		return zerolog.DebugLevel
	case model.LogLevelWarn:
		return zerolog.WarnLevel
	case model.LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func taskContext(t *model.EmbeddingTask) LogContext {
	return LogContext{
		TaskID:      t.ID,
		ArticleID:   t.ArticleID,
		OperationID: t.OperationID(),
		Metadata: map[string]string{
			"slug":      t.Slug,
			"operation": string(t.Operation),
			"priority":  string(t.Priority),
			"attempts":  strconv.Itoa(t.Attempts),
		},
	}
}

func (a *auditLogger) TaskEnqueued(ctx context.Context, t *model.EmbeddingTask) {
	a.Log(ctx, model.LogLevelInfo, model.CategoryTaskLifecycle, "task enqueued", taskContext(t))
}

func (a *auditLogger) TaskDequeued(ctx context.Context, t *model.EmbeddingTask) {
	a.Log(ctx, model.LogLevelDebug, model.CategoryQueueOperations, "task dequeued", taskContext(t))
}

func (a *auditLogger) TaskStarted(ctx context.Context, t *model.EmbeddingTask) {
	a.Log(ctx, model.LogLevelInfo, model.CategoryTaskLifecycle, "task processing started", taskContext(t))
}

func (a *auditLogger) TaskCompleted(ctx context.Context, t *model.EmbeddingTask, took time.Duration, chunks int) {
	lc := taskContext(t)
	lc.Duration = &took
	lc.Metadata["chunks"] = strconv.Itoa(chunks)
	a.Log(ctx, model.LogLevelInfo, model.CategoryTaskLifecycle, "task completed", lc)
}

func (a *auditLogger) TaskFailed(ctx context.Context, t *model.EmbeddingTask, err error, terminal bool) {
	lc := taskContext(t)
	lc.Err = err
	lc.Metadata["terminal"] = strconv.FormatBool(terminal)
	msg := "task failed"
	if terminal {
		msg = "task failed permanently"
	}
	a.Log(ctx, model.LogLevelError, model.CategoryErrorHandling, msg, lc)
}

func workerContext(s *model.WorkerStatus) LogContext {
	return LogContext{Metadata: map[string]string{
		"instance_id":     s.InstanceID,
		"tasks_processed": strconv.FormatInt(s.TasksProcessed, 10),
		"tasks_succeeded": strconv.FormatInt(s.TasksSucceeded, 10),
		"tasks_failed":    strconv.FormatInt(s.TasksFailed, 10),
	}}
}

func (a *auditLogger) WorkerStarted(ctx context.Context, s *model.WorkerStatus) {
	a.Log(ctx, model.LogLevelInfo, model.CategoryWorkerStatus, "worker started", workerContext(s))
}

func (a *auditLogger) WorkerStopped(ctx context.Context, s *model.WorkerStatus) {
	a.Log(ctx, model.LogLevelInfo, model.CategoryWorkerStatus, "worker stopped", workerContext(s))
}

func (a *auditLogger) WorkerHeartbeatStale(ctx context.Context, s *model.WorkerStatus, age time.Duration) {
	lc := workerContext(s)
	lc.Duration = &age
	a.Log(ctx, model.LogLevelError, model.CategoryWorkerStatus, "worker heartbeat is stale", lc)
}

func (a *auditLogger) BulkStarted(ctx context.Context, operationID string, total int, priority model.TaskPriority) {
	a.Log(ctx, model.LogLevelInfo, model.CategoryBulkOperations, "bulk embedding update started", LogContext{
		OperationID: operationID,
		Metadata:    map[string]string{"total": strconv.Itoa(total), "priority": string(priority)},
	})
}

func (a *auditLogger) BulkProgress(ctx context.Context, p model.BulkProgress) {
	a.Log(ctx, model.LogLevelDebug, model.CategoryBulkOperations, "bulk embedding update progress", LogContext{
		OperationID: p.OperationID,
		Metadata: map[string]string{
			"processed": strconv.Itoa(p.Processed),
			"total":     strconv.Itoa(p.Total),
			"queued":    strconv.Itoa(p.Queued),
			"skipped":   strconv.Itoa(p.Skipped),
			"errors":    strconv.Itoa(p.Errors),
		},
	})
}

func (a *auditLogger) BulkCompleted(ctx context.Context, res *model.BulkEnqueueResult, took time.Duration) {
	level := model.LogLevelInfo
	if len(res.Errors) > 0 {
		level = model.LogLevelWarn
	}
	a.Log(ctx, level, model.CategoryBulkOperations, "bulk embedding update finished", LogContext{
		OperationID: res.OperationID,
		Duration:    &took,
		Metadata: map[string]string{
			"total":   strconv.Itoa(res.TotalArticles),
			"queued":  strconv.Itoa(res.QueuedTasks),
			"skipped": strconv.Itoa(res.SkippedArticles),
			"errors":  strconv.Itoa(len(res.Errors)),
		},
	})
}

func (a *auditLogger) QueueMaintenance(ctx context.Context, action string, affected int, took time.Duration) {
	level := model.LogLevelDebug
	if affected > 0 {
		level = model.LogLevelInfo
	}
	a.Log(ctx, level, model.CategoryQueueOperations, "queue maintenance: "+action, LogContext{
		Duration: &took,
		Metadata: map[string]string{"action": action, "affected": strconv.Itoa(affected)},
	})
}

func (a *auditLogger) Query(ctx context.Context, filter model.AuditLogFilter, page, pageSize int) (*model.Page[*model.AuditLogEntry], error) {
	return a.repo.Query(ctx, filter, page, pageSize)
}

func (a *auditLogger) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	return a.repo.DeleteOlderThan(ctx, a.now().Add(-olderThan))
}
