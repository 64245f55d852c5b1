package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"notes-embedding-worker/internal/domain"
	"notes-embedding-worker/internal/domain/model"
	"notes-embedding-worker/internal/domain/ports/adapter"
	"notes-embedding-worker/internal/domain/ports/repository"
	"notes-embedding-worker/internal/infra/metrics"
	"notes-embedding-worker/internal/usecase"

	"github.com/rs/zerolog"
)

// State of the worker lifecycle.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// HeartbeatPublisher mirrors the worker snapshot somewhere cheap to read.
type HeartbeatPublisher interface {
	Publish(ctx context.Context, status *model.WorkerStatus) error
}

// Options tune the worker. Zero values fall back to sane defaults.
type Options struct {
	InstanceID string
	Interval   time.Duration
	Heartbeat  HeartbeatPublisher
	Events     adapter.EventPublisher
	Clock      func() time.Time
}

// EmbeddingWorker claims one task per tick and turns the article into chunk vectors.
type EmbeddingWorker struct {
	queue    usecase.QueueUseCase
	articles repository.ArticleReader
	chunker  adapter.Chunker
	embedder adapter.EmbeddingProvider
	vectors  repository.VectorIndex
	statuses repository.WorkerStatusRepository
	audit    usecase.AuditLogger
	perf     usecase.MetricsRecorder
	opts     Options
	log      zerolog.Logger

	// lifecycle serialises Start and Stop so Stop never races a half-started loop.
	lifecycle sync.Mutex
	state     atomic.Int32

	mu     sync.Mutex
	status model.WorkerStatus

	stopCh     chan struct{}
	done       chan struct{}
	workCancel context.CancelFunc
}

func NewEmbeddingWorker(
	queue usecase.QueueUseCase,
	articles repository.ArticleReader,
	chunker adapter.Chunker,
	embedder adapter.EmbeddingProvider,
	vectors repository.VectorIndex,
	statuses repository.WorkerStatusRepository,
	audit usecase.AuditLogger,
	perf usecase.MetricsRecorder,
	opts Options,
	log *zerolog.Logger,
) *EmbeddingWorker {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.InstanceID == "" {
		opts.InstanceID = "embedding-worker"
	}
	return &EmbeddingWorker{
		queue:    queue,
		articles: articles,
		chunker:  chunker,
		embedder: embedder,
		vectors:  vectors,
		statuses: statuses,
		audit:    audit,
		perf:     perf,
		opts:     opts,
		log:      log.With().Str("component", "embedding_worker").Logger(),
	}
}

func (w *EmbeddingWorker) State() State { return State(w.state.Load()) }

// Snapshot returns a copy of the in-memory status.
func (w *EmbeddingWorker) Snapshot() model.WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Start persists a running snapshot and launches the poll loop in a goroutine.
func (w *EmbeddingWorker) Start(ctx context.Context) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()
	if !w.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return domain.ErrWorkerRunning
	}

	prev, err := w.statuses.Load(ctx)
	switch {
	case err == nil && prev.IsRunning:
		w.log.Warn().Str("instance_id", prev.InstanceID).
			Msg("previous worker snapshot still marked running; it did not shut down cleanly")
		w.audit.Log(ctx, model.LogLevelWarn, model.CategoryWorkerStatus,
			"previous worker did not shut down cleanly", usecase.LogContext{
				Metadata: map[string]string{"previousInstanceId": prev.InstanceID},
			})
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		w.state.Store(int32(StateStopped))
		return fmt.Errorf("load worker status: %w", err)
	}

	now := w.opts.Clock()
	status := model.WorkerStatus{
		InstanceID:    w.opts.InstanceID,
		IsRunning:     true,
		StartedAt:     &now,
		LastHeartbeat: &now,
		UpdatedAt:     now,
	}
	if err := w.statuses.Save(ctx, &status); err != nil {
		w.state.Store(int32(StateStopped))
		return fmt.Errorf("save worker status: %w", err)
	}
	w.mu.Lock()
	w.status = status
	w.mu.Unlock()

	metrics.SetWorkerRunning(true)
	metrics.SetWorkerHeartbeat(float64(now.Unix()))
	w.audit.WorkerStarted(ctx, &status)

	// The in-flight task keeps running after the caller's ctx is cancelled;
	// Stop gives it a chance to finish before cancelling it.
	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.workCancel = cancel
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})
	w.state.Store(int32(StateRunning))

	go w.loop(ctx, workCtx)
	w.log.Info().Dur("interval", w.opts.Interval).Msg("embedding worker started")
	return nil
}

func (w *EmbeddingWorker) loop(parent, workCtx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-parent.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Tick(workCtx)
		}
	}
}

// Tick runs one iteration: heartbeat, claim, process.
func (w *EmbeddingWorker) Tick(ctx context.Context) {
	w.heartbeat(ctx)

	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("failed to claim embedding task")
		return
	}
	if task == nil {
		return
	}
	w.processTask(ctx, task)
}

func (w *EmbeddingWorker) heartbeat(ctx context.Context) {
	now := w.opts.Clock()
	w.mu.Lock()
	w.status.LastHeartbeat = &now
	w.status.UpdatedAt = now
	snap := w.status
	w.mu.Unlock()

	if err := w.statuses.Heartbeat(ctx, now); err != nil {
		w.log.Warn().Err(err).Msg("heartbeat write failed")
	}
	if w.opts.Heartbeat != nil {
		if err := w.opts.Heartbeat.Publish(ctx, &snap); err != nil {
			w.log.Debug().Err(err).Msg("heartbeat mirror failed")
		}
	}
	metrics.SetWorkerHeartbeat(float64(now.Unix()))
}

func (w *EmbeddingWorker) processTask(ctx context.Context, task *model.EmbeddingTask) {
	log := w.log.With().Str("task_id", task.ID).Str("article_id", task.ArticleID).
		Str("operation", string(task.Operation)).Int("attempt", task.Attempts).Logger()
	log.Info().Msg("processing embedding task")
	w.audit.TaskStarted(ctx, task)

	start := w.opts.Clock()
	chunks, runErr := w.run(ctx, task)
	took := w.opts.Clock().Sub(start)

	evt := adapter.TaskEvent{
		TaskID:      task.ID,
		ArticleID:   task.ArticleID,
		Slug:        task.Slug,
		Operation:   string(task.Operation),
		Attempts:    task.Attempts,
		OperationID: task.OperationID(),
		Chunks:      chunks,
	}

	if runErr == nil {
		if err := w.queue.UpdateStatus(ctx, task.ID, model.TaskStatusCompleted, ""); err != nil {
			log.Error().Err(err).Msg("failed to mark task completed")
		}
		w.count(true)
		metrics.IncTaskProcessed(string(model.TaskStatusCompleted))
		metrics.ObserveTaskProcessing(string(task.Operation), float64(took.Milliseconds()))
		w.perf.RecordTaskProcessingTime(ctx, task, took)
		w.audit.TaskCompleted(ctx, task, took, chunks)
		log.Info().Int("chunks", chunks).Dur("took", took).Msg("embedding task completed")

		evt.Status = string(model.TaskStatusCompleted)
		w.publish(ctx, evt)
		return
	}

	terminal := domain.IsTerminal(runErr)
	msg := runErr.Error()
	var err error
	if terminal {
		err = w.queue.FailPermanently(ctx, task.ID, msg)
	} else {
		err = w.queue.UpdateStatus(ctx, task.ID, model.TaskStatusFailed, msg)
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to record task failure")
	}
	w.count(false)
	metrics.IncTaskProcessed(string(model.TaskStatusFailed))
	metrics.ObserveTaskProcessing(string(task.Operation), float64(took.Milliseconds()))
	w.perf.RecordTaskProcessingTime(ctx, task, took)
	w.audit.TaskFailed(ctx, task, runErr, terminal)
	log.Error().Err(runErr).Bool("terminal", terminal).Msg("embedding task failed")

	if terminal {
		evt.Status = string(model.TaskStatusFailed)
		evt.Terminal = true
		evt.Error = msg
		w.publish(ctx, evt)
	}
}

// run does the actual work and returns the number of chunks written.
// Every error it returns is a domain.TaskError.
func (w *EmbeddingWorker) run(ctx context.Context, task *model.EmbeddingTask) (int, error) {
	if task.Operation == model.TaskOperationDelete {
		if err := w.vectors.DeleteAllForArticle(ctx, task.ArticleID); err != nil {
			return 0, domain.Transient("delete_vectors", err)
		}
		return 0, nil
	}

	article, err := w.articles.ReadArticleContent(ctx, task.ArticleID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, domain.Terminal("read_article", err)
		}
		return 0, domain.Transient("read_article", err)
	}
	if strings.TrimSpace(article.Body) == "" {
		return 0, domain.Terminal("read_article", domain.ErrEmptyArticle)
	}

	chunks, err := w.chunker.Chunk(article.Title, article.Body)
	if err != nil {
		return 0, domain.Terminal("chunk", err)
	}
	if len(chunks) == 0 {
		return 0, domain.Terminal("chunk", domain.ErrEmptyArticle)
	}

	embedStart := w.opts.Clock()
	vecs, err := w.embedAll(ctx, chunks)
	if err != nil {
		return 0, err
	}
	w.perf.RecordEmbeddingGenerationTime(ctx, task, w.opts.Clock().Sub(embedStart), len(chunks))

	for i, c := range chunks {
		err := w.vectors.Upsert(ctx, repository.ChunkVector{
			ArticleID:   task.ArticleID,
			ChunkIndex:  c.Index,
			Vector:      vecs[i],
			Text:        c.Text,
			HeadingPath: c.HeadingPath,
		})
		if err != nil {
			return 0, domain.Transient("upsert_vector", err)
		}
	}
	if err := w.vectors.DeleteChunksFrom(ctx, task.ArticleID, len(chunks)); err != nil {
		return 0, domain.Transient("prune_vectors", err)
	}
	metrics.AddChunksEmbedded(w.embedder.Model(), len(chunks))
	return len(chunks), nil
}

// embedAll embeds chunks one at a time, in order.
func (w *EmbeddingWorker) embedAll(ctx context.Context, chunks []model.Chunk) ([][]float32, error) {
	vecs := make([][]float32, 0, len(chunks))
	for _, c := range chunks {
		v, err := w.embedder.Embed(ctx, c.Text)
		if err != nil {
			var te *domain.TaskError
			if errors.As(err, &te) {
				return nil, err
			}
			return nil, domain.Transient("embed", err)
		}
		if len(v) == 0 {
			return nil, domain.Terminal("embed", domain.ErrEmptyEmbedding)
		}
		vecs = append(vecs, v)
	}
	return vecs, nil
}

func (w *EmbeddingWorker) count(success bool) {
	w.mu.Lock()
	w.status.TasksProcessed++
	if success {
		w.status.TasksSucceeded++
	} else {
		w.status.TasksFailed++
	}
	w.status.UpdatedAt = w.opts.Clock()
	snap := w.status
	w.mu.Unlock()

	if err := w.statuses.Save(context.Background(), &snap); err != nil {
		w.log.Warn().Err(err).Msg("failed to persist worker counters")
	}
}

func (w *EmbeddingWorker) publish(ctx context.Context, evt adapter.TaskEvent) {
	if w.opts.Events == nil {
		return
	}
	evt.OccurredAt = w.opts.Clock()
	if err := w.opts.Events.PublishTaskEvent(ctx, evt); err != nil {
		w.log.Warn().Err(err).Str("task_id", evt.TaskID).Msg("task event publish failed")
	}
}

// Stop waits for the in-flight task and persists IsRunning=false.
// Calling it on a stopped worker is a no-op; a Start in progress is waited
// for first. If ctx expires first the in-flight task is cancelled and
// ctx.Err() is returned after the snapshot is saved.
func (w *EmbeddingWorker) Stop(ctx context.Context) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()
	if !w.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return nil
	}
	close(w.stopCh)

	var waitErr error
	select {
	case <-w.done:
	case <-ctx.Done():
		w.workCancel()
		<-w.done
		waitErr = ctx.Err()
	}
	w.workCancel()

	now := w.opts.Clock()
	w.mu.Lock()
	w.status.IsRunning = false
	w.status.StoppedAt = &now
	w.status.UpdatedAt = now
	snap := w.status
	w.mu.Unlock()

	saveCtx := context.WithoutCancel(ctx)
	if err := w.statuses.Save(saveCtx, &snap); err != nil {
		w.log.Error().Err(err).Msg("failed to persist stopped worker status")
	}
	metrics.SetWorkerRunning(false)
	w.audit.WorkerStopped(saveCtx, &snap)
	w.state.Store(int32(StateStopped))
	w.log.Info().Int64("processed", snap.TasksProcessed).Msg("embedding worker stopped")
	return waitErr
}
