package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"notes-embedding-worker/internal/domain"
	"notes-embedding-worker/internal/domain/model"
	"notes-embedding-worker/internal/domain/ports/repository"
	"notes-embedding-worker/internal/infra/metrics"
)

// Compile-time check
var _ QueueUseCase = (*queueUC)(nil)

// EnqueueRequest describes one unit of embedding work. Zero values take the
// queue defaults: normal priority, the configured max retries, scheduled now.
type EnqueueRequest struct {
	ArticleID   string
	Slug        string
	Operation   model.TaskOperation
	Priority    model.TaskPriority
	MaxAttempts int
	ScheduledAt time.Time
	Metadata    model.TaskMetadata
}

type QueueUseCase interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (string, error)
	// EnqueueIfIdle enqueues only when the article has no pending or processing
	// task; otherwise it returns domain.ErrActiveTaskExists.
	EnqueueIfIdle(ctx context.Context, req EnqueueRequest) (string, error)
	// Dequeue claims the next due task. It returns (nil, nil) when nothing is due.
	Dequeue(ctx context.Context) (*model.EmbeddingTask, error)
	UpdateStatus(ctx context.Context, taskID string, status model.TaskStatus, errMsg string) error
	FailPermanently(ctx context.Context, taskID string, errMsg string) error
	GetTask(ctx context.Context, taskID string) (*model.EmbeddingTask, error)
	ListTasks(ctx context.Context, filter model.TaskFilter, page, pageSize int) (*model.Page[*model.EmbeddingTask], error)

	RetryFailedTasks(ctx context.Context) (int, error)
	ClearCompletedTasks(ctx context.Context, retention time.Duration) (int, error)
	RecoverStuckTasks(ctx context.Context, maxProcessingTime time.Duration) (model.StuckResult, error)
	GetQueueStats(ctx context.Context) (*model.QueueStats, error)

	IdentifyArticlesNeedingEmbedding(ctx context.Context) ([]model.ArticleNeedingEmbedding, error)
	// QueueBulkEmbeddingUpdate enqueues every article needing embedding under
	// one operation id. A snapshot is sent on progress after each article and
	// the channel is closed on return. A nil channel disables progress.
	QueueBulkEmbeddingUpdate(ctx context.Context, priority model.TaskPriority, progress chan<- model.BulkProgress) (*model.BulkEnqueueResult, error)
	GetBulkOperationSummary(ctx context.Context, operationID string) (*model.BulkOperationSummary, error)
}

// QueueSettings is the part of the queue configuration the service needs.
type QueueSettings struct {
	MaxRetries       int
	RetryBackoffBase time.Duration
	BatchSize        int
}

type queueUC struct {
	tasks    repository.EmbeddingTaskRepository
	articles repository.ArticleReader
	vectors  repository.VectorIndex
	audit    AuditLogger
	perf     MetricsRecorder
	settings QueueSettings

	log *zerolog.Logger
	now Clock
}

func NewQueueUseCase(
	tasks repository.EmbeddingTaskRepository,
	articles repository.ArticleReader,
	vectors repository.VectorIndex,
	audit AuditLogger,
	perf MetricsRecorder,
	settings QueueSettings,
	logger *zerolog.Logger,
	now Clock,
) *queueUC {
	if now == nil {
		now = systemClock
	}
	if settings.BatchSize <= 0 {
		settings.BatchSize = 50
	}
	if settings.MaxRetries <= 0 {
		settings.MaxRetries = 3
	}
	l := logger.With().Str("component", "queue").Logger()
	return &queueUC{
		tasks:    tasks,
		articles: articles,
		vectors:  vectors,
		audit:    audit,
		perf:     perf,
		settings: settings,
		log:      &l,
		now:      now,
	}
}

func (q *queueUC) newTask(req EnqueueRequest, now time.Time) (*model.EmbeddingTask, error) {
	if req.Priority == "" {
		req.Priority = model.TaskPriorityNormal
	}
	if req.MaxAttempts == 0 {
		req.MaxAttempts = q.settings.MaxRetries
	}
	return model.NewEmbeddingTask(req.ArticleID, req.Slug, req.Operation, req.Priority, req.MaxAttempts, req.ScheduledAt, now, req.Metadata)
}

func (q *queueUC) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	now := q.now()
	task, err := q.newTask(req, now)
	if err != nil {
		return "", err
	}
	if err := q.tasks.Save(ctx, repository.NoTX, task); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	metrics.IncTaskEnqueued(string(task.Priority), string(task.Operation))
	q.audit.TaskEnqueued(ctx, task)
	return task.ID, nil
}

func (q *queueUC) EnqueueIfIdle(ctx context.Context, req EnqueueRequest) (string, error) {
	active, err := q.tasks.HasActiveTask(ctx, req.ArticleID)
	if err != nil {
		return "", err
	}
	if active {
		return "", domain.ErrActiveTaskExists
	}
	return q.Enqueue(ctx, req)
}

func (q *queueUC) Dequeue(ctx context.Context) (*model.EmbeddingTask, error) {
	start := time.Now()
	task, err := q.tasks.ClaimNext(ctx, q.now())
	q.perf.RecordDatabaseQueryTime(ctx, "claim_next", time.Since(start))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	q.audit.TaskDequeued(ctx, task)
	return task, nil
}

func (q *queueUC) UpdateStatus(ctx context.Context, taskID string, status model.TaskStatus, errMsg string) error {
	if status != model.TaskStatusCompleted && status != model.TaskStatusFailed {
		return fmt.Errorf("%w: status must be completed or failed, got %q", domain.ErrInvalidArgument, status)
	}
	return q.tasks.UpdateStatus(ctx, taskID, status, errMsg, q.now())
}

func (q *queueUC) FailPermanently(ctx context.Context, taskID string, errMsg string) error {
	return q.tasks.FailPermanently(ctx, taskID, errMsg, q.now())
}

func (q *queueUC) GetTask(ctx context.Context, taskID string) (*model.EmbeddingTask, error) {
	return q.tasks.FindByID(ctx, repository.NoTX, taskID)
}

func (q *queueUC) ListTasks(ctx context.Context, filter model.TaskFilter, page, pageSize int) (*model.Page[*model.EmbeddingTask], error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q", domain.ErrInvalidArgument, filter.Status)
	}
	if filter.Priority != "" && !filter.Priority.Valid() {
		return nil, fmt.Errorf("%w: priority %q", domain.ErrInvalidArgument, filter.Priority)
	}
	return q.tasks.List(ctx, filter, page, pageSize)
}

func (q *queueUC) RetryFailedTasks(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := q.tasks.RetryFailed(ctx, q.now(), q.settings.RetryBackoffBase)
	if err != nil {
		return 0, fmt.Errorf("retry failed tasks: %w", err)
	}
	metrics.AddTasksRetried(n)
	q.audit.QueueMaintenance(ctx, "retry_failed", n, time.Since(start))
	return n, nil
}

func (q *queueUC) ClearCompletedTasks(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("%w: retention must be positive", domain.ErrInvalidArgument)
	}
	start := time.Now()
	n, err := q.tasks.DeleteCompletedBefore(ctx, q.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("clear completed tasks: %w", err)
	}
	metrics.AddRetentionDeleted("tasks", n)
	q.audit.QueueMaintenance(ctx, "clear_completed", n, time.Since(start))
	return n, nil
}

func (q *queueUC) RecoverStuckTasks(ctx context.Context, maxProcessingTime time.Duration) (model.StuckResult, error) {
	start := time.Now()
	now := q.now()
	res, err := q.tasks.ResetStuck(ctx, now.Add(-maxProcessingTime), now)
	if err != nil {
		return res, fmt.Errorf("recover stuck tasks: %w", err)
	}
	metrics.AddStuckRecovered(res.Requeued, res.Failed)
	if res.Total() > 0 {
		took := time.Since(start)
		q.audit.Log(ctx, model.LogLevelWarn, model.CategoryQueueOperations, "stuck tasks recovered", LogContext{
			Duration: &took,
			Metadata: map[string]string{
				"requeued": fmt.Sprint(res.Requeued),
				"failed":   fmt.Sprint(res.Failed),
			},
		})
	}
	return res, nil
}

func (q *queueUC) GetQueueStats(ctx context.Context) (*model.QueueStats, error) {
	cells, err := q.tasks.CountByStatusPriority(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	stats := model.NewQueueStats(cells)
	metrics.SetQueueDepth(stats.Pending, stats.Processing, stats.Completed, stats.Failed)
	return stats, nil
}

func (q *queueUC) IdentifyArticlesNeedingEmbedding(ctx context.Context) ([]model.ArticleNeedingEmbedding, error) {
	articles, err := q.articles.ListArticles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	states, err := q.tasks.ArticleTaskStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("article task states: %w", err)
	}
	withVectors, err := q.vectors.ArticlesWithVectors(ctx)
	if err != nil {
		return nil, fmt.Errorf("articles with vectors: %w", err)
	}

	var out []model.ArticleNeedingEmbedding
	for _, a := range articles {
		need := model.ArticleNeedingEmbedding{ArticleID: a.ID, Slug: a.Slug, Title: a.Title}
		st, seen := states[a.ID]
		if seen {
			last := st.LastStatus
			need.LastTaskStatus = &last
			need.LastError = st.LastError
		}
		_, hasVectors := withVectors[a.ID]

		switch {
		case seen && st.LastTerminallyFailed():
			need.Reason = model.ReasonFailedEmbedding
		case !seen || !st.HasCompleted:
			need.Reason = model.ReasonNoCompletedTask
		case !hasVectors:
			need.Reason = model.ReasonMissingEmbedding
		default:
			continue
		}
		out = append(out, need)
	}
	return out, nil
}

func (q *queueUC) QueueBulkEmbeddingUpdate(ctx context.Context, priority model.TaskPriority, progress chan<- model.BulkProgress) (*model.BulkEnqueueResult, error) {
	if progress != nil {
		defer close(progress)
	}
	if priority == "" {
		priority = model.TaskPriorityNormal
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: priority %q", domain.ErrInvalidArgument, priority)
	}

	start := time.Now()
	opID := ulid.Make().String()

	needing, err := q.IdentifyArticlesNeedingEmbedding(ctx)
	if err != nil {
		return nil, err
	}

	res := &model.BulkEnqueueResult{OperationID: opID, TotalArticles: len(needing), Errors: []string{}}
	q.audit.BulkStarted(ctx, opID, len(needing), priority)

	// QueuedTasks only counts tasks whose batch insert succeeded.
	var batch []*model.EmbeddingTask
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := q.tasks.SaveBatch(ctx, batch); err != nil {
			q.log.Error().Err(err).Str("operation_id", opID).Int("batch", len(batch)).Msg("bulk batch insert failed")
			for _, t := range batch {
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", t.Slug, err))
			}
		} else {
			res.QueuedTasks += len(batch)
			for _, t := range batch {
				metrics.IncTaskEnqueued(string(t.Priority), string(t.Operation))
			}
		}
		batch = batch[:0]
	}

	processed := 0
	for _, a := range needing {
		if err := ctx.Err(); err != nil {
			flush()
			return res, err
		}
		processed++

		active, err := q.tasks.HasActiveTask(ctx, a.ArticleID)
		switch {
		case err != nil:
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", a.Slug, err))
		case active:
			res.SkippedArticles++
		default:
			op := model.TaskOperationUpdate
			if a.Reason == model.ReasonNoCompletedTask {
				op = model.TaskOperationCreate
			}
			task, err := q.newTask(EnqueueRequest{
				ArticleID: a.ArticleID,
				Slug:      a.Slug,
				Operation: op,
				Priority:  priority,
				Metadata: model.TaskMetadata{
					model.MetaOperationID: opID,
					model.MetaReason:      string(a.Reason),
					model.MetaSource:      "bulk",
				},
			}, q.now())
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", a.Slug, err))
				break
			}
			batch = append(batch, task)
			if len(batch) >= q.settings.BatchSize {
				flush()
			}
		}
		if processed == len(needing) {
			flush()
		}

		snap := model.BulkProgress{
			OperationID: opID,
			Processed:   processed,
			Total:       res.TotalArticles,
			Queued:      res.QueuedTasks,
			Skipped:     res.SkippedArticles,
			Errors:      len(res.Errors),
			CurrentSlug: a.Slug,
		}
		if progress != nil {
			select {
			case progress <- snap:
			case <-ctx.Done():
				flush()
				return res, ctx.Err()
			}
		}
		if processed%q.settings.BatchSize == 0 {
			q.audit.BulkProgress(ctx, snap)
		}
	}
	flush()

	took := time.Since(start)
	q.perf.RecordBulkOperationTime(ctx, opID, took)
	q.audit.BulkCompleted(ctx, res, took)
	return res, nil
}

func (q *queueUC) GetBulkOperationSummary(ctx context.Context, operationID string) (*model.BulkOperationSummary, error) {
	if operationID == "" {
		return nil, fmt.Errorf("%w: operation id is required", domain.ErrInvalidArgument)
	}
	tasks, err := q.tasks.ListByOperationID(ctx, operationID)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, domain.ErrNotFound
	}
	return model.SummarizeBulkOperation(operationID, tasks), nil
}
