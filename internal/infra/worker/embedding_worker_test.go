//go:build !integration

package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notes-embedding-worker/internal/domain"
	"notes-embedding-worker/internal/domain/model"
	"notes-embedding-worker/internal/infra/worker"
)

func TestEmbeddingWorker_Tick(t *testing.T) {
	ctx := context.Background()

	t.Run("should chunk, embed and store vectors for a create task", func(t *testing.T) {
		// --- Arrange ---
		h := newHarness()
		h.articles.Put(model.ArticleContent{ID: "a1", Slug: "a1", Title: "Intro", Body: "one\n\ntwo\n\nthree"})
		taskID := h.enqueue("a1", model.TaskOperationCreate)

		// --- Act ---
		h.worker.Tick(ctx)

		// --- Assert ---
		task, err := h.queue.GetTask(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusCompleted, task.Status)
		assert.NotNil(t, task.CompletedAt)
		assert.Len(t, h.vectors.Chunks("a1"), 3)
		assert.Equal(t, 3, h.embedder.Calls())

		snap := h.worker.Snapshot()
		assert.EqualValues(t, 1, snap.TasksProcessed)
		assert.EqualValues(t, 1, snap.TasksSucceeded)
		assert.Equal(t, 1, h.heartbeat.count)

		events := h.events.All()
		require.Len(t, events, 1)
		assert.Equal(t, "completed", events[0].Status)
		assert.Equal(t, 3, events[0].Chunks)
	})

	t.Run("should embed the chunks of a task one at a time", func(t *testing.T) {
		// --- Arrange ---
		h := newHarness()
		h.articles.Put(model.ArticleContent{ID: "a1", Title: "T", Body: "p1\n\np2\n\np3\n\np4"})
		taskID := h.enqueue("a1", model.TaskOperationCreate)
		var inFlight, peak atomic.Int32
		h.embedder.EmbedFunc = func(ctx context.Context, text string) ([]float32, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			return []float32{1, 2, 3}, nil
		}

		// --- Act ---
		h.worker.Tick(ctx)

		// --- Assert ---
		task, err := h.queue.GetTask(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusCompleted, task.Status)
		assert.Equal(t, 4, h.embedder.Calls())
		assert.EqualValues(t, 1, peak.Load())
	})

	t.Run("should prune chunks left over after the article shrank", func(t *testing.T) {
		// --- Arrange ---
		h := newHarness()
		h.articles.Put(model.ArticleContent{ID: "a1", Title: "T", Body: "p1\n\np2\n\np3\n\np4"})
		h.enqueue("a1", model.TaskOperationCreate)
		h.worker.Tick(ctx)
		require.Len(t, h.vectors.Chunks("a1"), 4)

		h.articles.Put(model.ArticleContent{ID: "a1", Title: "T", Body: "only one paragraph now"})
		h.enqueue("a1", model.TaskOperationUpdate)

		// --- Act ---
		h.worker.Tick(ctx)

		// --- Assert ---
		chunks := h.vectors.Chunks("a1")
		require.Len(t, chunks, 1)
		assert.Equal(t, 0, chunks[0].ChunkIndex)
		assert.Equal(t, "only one paragraph now", chunks[0].Text)
	})

	t.Run("should remove every vector for a delete task without embedding", func(t *testing.T) {
		// --- Arrange ---
		h := newHarness()
		h.articles.Put(model.ArticleContent{ID: "a1", Title: "T", Body: "x\n\ny"})
		h.enqueue("a1", model.TaskOperationCreate)
		h.worker.Tick(ctx)
		calls := h.embedder.Calls()
		h.articles.Delete("a1")
		taskID := h.enqueue("a1", model.TaskOperationDelete)

		// --- Act ---
		h.worker.Tick(ctx)

		// --- Assert ---
		task, err := h.queue.GetTask(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusCompleted, task.Status)
		assert.Empty(t, h.vectors.Chunks("a1"))
		assert.Equal(t, calls, h.embedder.Calls())
	})

	t.Run("should fail permanently when the article does not exist", func(t *testing.T) {
		// --- Arrange ---
		h := newHarness()
		taskID := h.enqueue("ghost", model.TaskOperationCreate)

		// --- Act ---
		h.worker.Tick(ctx)

		// --- Assert ---
		task, err := h.queue.GetTask(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusFailed, task.Status)
		assert.GreaterOrEqual(t, task.Attempts, task.MaxAttempts)
		assert.Contains(t, task.ErrorMessage, "read_article")

		n, err := h.queue.RetryFailedTasks(ctx)
		require.NoError(t, err)
		assert.Zero(t, n, "terminal failures are never retried")

		snap := h.worker.Snapshot()
		assert.EqualValues(t, 1, snap.TasksFailed)

		events := h.events.All()
		require.Len(t, events, 1)
		assert.True(t, events[0].Terminal)
	})

	t.Run("should fail permanently for an empty article body", func(t *testing.T) {
		// --- Arrange ---
		h := newHarness()
		h.articles.Put(model.ArticleContent{ID: "a1", Title: "T", Body: "   \n  "})
		taskID := h.enqueue("a1", model.TaskOperationCreate)

		// --- Act ---
		h.worker.Tick(ctx)

		// --- Assert ---
		task, _ := h.queue.GetTask(ctx, taskID)
		assert.Equal(t, model.TaskStatusFailed, task.Status)
		assert.Contains(t, task.ErrorMessage, domain.ErrEmptyArticle.Error())
		assert.Zero(t, h.embedder.Calls())
	})

	t.Run("should leave transient failures retryable", func(t *testing.T) {
		// --- Arrange ---
		h := newHarness()
		h.articles.Put(model.ArticleContent{ID: "a1", Title: "T", Body: "text"})
		h.embedder.EmbedFunc = func(ctx context.Context, text string) ([]float32, error) {
			return nil, errors.New("connection reset")
		}
		taskID := h.enqueue("a1", model.TaskOperationCreate)

		// --- Act ---
		h.worker.Tick(ctx)

		// --- Assert ---
		task, _ := h.queue.GetTask(ctx, taskID)
		assert.Equal(t, model.TaskStatusFailed, task.Status)
		assert.Equal(t, 1, task.Attempts)
		assert.Contains(t, task.ErrorMessage, "connection reset")
		assert.Empty(t, h.events.All(), "only terminal failures are published")

		n, err := h.queue.RetryFailedTasks(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("should honour terminal errors raised by the embedder", func(t *testing.T) {
		// --- Arrange ---
		h := newHarness()
		h.articles.Put(model.ArticleContent{ID: "a1", Title: "T", Body: "text"})
		h.embedder.EmbedFunc = func(ctx context.Context, text string) ([]float32, error) {
			return nil, domain.Terminal("embed", errors.New("400 bad request"))
		}
		taskID := h.enqueue("a1", model.TaskOperationCreate)

		// --- Act ---
		h.worker.Tick(ctx)

		// --- Assert ---
		task, _ := h.queue.GetTask(ctx, taskID)
		assert.True(t, task.Terminal())
	})

	t.Run("should only heartbeat when the queue is empty", func(t *testing.T) {
		// --- Arrange ---
		h := newHarness()

		// --- Act ---
		h.worker.Tick(ctx)
		h.worker.Tick(ctx)

		// --- Assert ---
		assert.Equal(t, 2, h.heartbeat.count)
		assert.Zero(t, h.worker.Snapshot().TasksProcessed)
	})
}

func TestEmbeddingWorker_Lifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("should start, process queued work and stop cleanly", func(t *testing.T) {
		// --- Arrange ---
		h := newHarness()
		h.articles.Put(model.ArticleContent{ID: "a1", Title: "T", Body: "hello"})
		taskID := h.enqueue("a1", model.TaskOperationCreate)

		// --- Act ---
		require.NoError(t, h.worker.Start(ctx))
		assert.Equal(t, worker.StateRunning, h.worker.State())
		assert.ErrorIs(t, h.worker.Start(ctx), domain.ErrWorkerRunning)

		require.Eventually(t, func() bool {
			task, err := h.queue.GetTask(ctx, taskID)
			return err == nil && task.Status == model.TaskStatusCompleted
		}, 2*time.Second, 5*time.Millisecond)

		stopCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		require.NoError(t, h.worker.Stop(stopCtx))

		// --- Assert ---
		assert.Equal(t, worker.StateStopped, h.worker.State())
		status, err := h.statuses.Load(ctx)
		require.NoError(t, err)
		assert.False(t, status.IsRunning)
		assert.NotNil(t, status.StoppedAt)
		assert.EqualValues(t, 1, status.TasksSucceeded)

		require.NoError(t, h.worker.Stop(stopCtx), "stop is idempotent")
	})

	t.Run("should record an unclean previous shutdown", func(t *testing.T) {
		// --- Arrange ---
		h := newHarness()
		earlier := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
		require.NoError(t, h.statuses.Save(ctx, &model.WorkerStatus{InstanceID: "old", IsRunning: true, StartedAt: &earlier}))

		// --- Act ---
		require.NoError(t, h.worker.Start(ctx))
		defer h.worker.Stop(ctx)

		// --- Assert ---
		found := false
		for _, e := range h.auditLog.All() {
			if e.Level == model.LogLevelWarn && e.Metadata["previousInstanceId"] == "old" {
				found = true
			}
		}
		assert.True(t, found)
		status, _ := h.statuses.Load(ctx)
		assert.Equal(t, "test-worker", status.InstanceID)
		assert.Zero(t, status.TasksProcessed)
	})

	t.Run("should wait for a start in progress before stopping", func(t *testing.T) {
		// --- Arrange ---
		h := newHarness()
		statuses := newGatedStatuses()
		w := worker.NewEmbeddingWorker(h.queue, h.articles, h.chunker, h.embedder, h.vectors, statuses,
			h.audit, h.perf, worker.Options{InstanceID: "gated", Interval: 5 * time.Millisecond, Clock: h.clock.Now},
			newTestLogger())
		startErr := make(chan error, 1)
		go func() { startErr <- w.Start(ctx) }()
		<-statuses.entered
		require.Equal(t, worker.StateStarting, w.State())

		// --- Act ---
		stopped := make(chan error, 1)
		go func() { stopped <- w.Stop(ctx) }()
		assert.Never(t, func() bool { return len(stopped) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
		close(statuses.release)

		// --- Assert ---
		require.NoError(t, <-startErr)
		require.NoError(t, <-stopped)
		assert.Equal(t, worker.StateStopped, w.State())
		status, err := statuses.Load(ctx)
		require.NoError(t, err)
		assert.False(t, status.IsRunning)
	})

	t.Run("should stop the loop when the start context is cancelled", func(t *testing.T) {
		// --- Arrange ---
		h := newHarness()
		runCtx, cancel := context.WithCancel(ctx)
		require.NoError(t, h.worker.Start(runCtx))

		// --- Act ---
		cancel()

		// --- Assert ---
		require.NoError(t, h.worker.Stop(ctx))
		status, _ := h.statuses.Load(ctx)
		assert.False(t, status.IsRunning)
	})
}
