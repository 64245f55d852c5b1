// File: cmd/demo/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"notes-embedding-worker/internal/config"
	"notes-embedding-worker/internal/domain/model"
	"notes-embedding-worker/internal/infra/adapters/embedding"
	"notes-embedding-worker/internal/infra/chunker"
	"notes-embedding-worker/internal/infra/db/memory"
	"notes-embedding-worker/internal/infra/logging"
	"notes-embedding-worker/internal/infra/worker"
	"notes-embedding-worker/internal/usecase"
)

var articles = []model.ArticleContent{
	{ID: "1", Slug: "getting-started", Title: "Getting started", Body: "# Install\n\nRun the installer.\n\n# Configure\n\nEdit config.yaml and set the database url."},
	{ID: "2", Slug: "queues", Title: "Queues", Body: "Tasks are claimed in priority order.\n\nWithin a priority band the oldest task wins."},
	{ID: "3", Slug: "empty", Title: "Empty", Body: "   "},
	{ID: "4", Slug: "retries", Title: "Retries", Body: "## Backoff\n\nFailed tasks are retried with exponential backoff.\n\n```\ndelay = base * 2^attempts\n```"},
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := logging.New(config.LogConfig{Level: "warn", Format: "console"}, true)

	store := memory.NewArticleStore()
	for _, a := range articles {
		store.Put(a)
	}
	vectors := memory.NewVectorIndex()
	statuses := memory.NewWorkerStatusRepo()
	audit := usecase.NewAuditLogger(memory.NewAuditLogRepo(), logger, nil)
	perf := usecase.NewMetricsRecorder(memory.NewMetricRepo(), logger, nil)
	queue := usecase.NewQueueUseCase(memory.NewTaskRepo(), store, vectors, audit, perf,
		usecase.QueueSettings{MaxRetries: 3, RetryBackoffBase: time.Second, BatchSize: 10}, logger, nil)

	embedder, err := embedding.New(ctx, config.EmbeddingConfig{Provider: "noop", Dimensions: 32, ConcurrentLimit: 2})
	if err != nil {
		log.Fatalf("embedder: %v", err)
	}
	chunks, err := chunker.New(chunker.NewWordTokenizer(), chunker.Options{MaxTokens: 16, OverlapTokens: 4})
	if err != nil {
		log.Fatalf("chunker: %v", err)
	}

	// 1. Bulk enqueue everything that has no embeddings yet
	progress := make(chan model.BulkProgress)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for p := range progress {
			fmt.Printf("  bulk [%d/%d] %s\n", p.Processed, p.Total, p.CurrentSlug)
		}
	}()
	res, err := queue.QueueBulkEmbeddingUpdate(ctx, model.TaskPriorityNormal, progress)
	<-printed
	if err != nil {
		log.Fatalf("bulk: %v", err)
	}
	fmt.Printf("operation %s queued %d task(s)\n", res.OperationID, res.QueuedTasks)

	// 2. Drain the queue with the worker
	w := worker.NewEmbeddingWorker(queue, store, chunks, embedder, vectors, statuses, audit, perf,
		worker.Options{InstanceID: "demo", Interval: 50 * time.Millisecond}, logger)
	for i := 0; i < len(articles); i++ {
		w.Tick(ctx)
	}

	// 3. Report
	sum, err := queue.GetBulkOperationSummary(ctx, res.OperationID)
	if err != nil {
		log.Fatalf("summary: %v", err)
	}
	fmt.Printf("status=%s completed=%d failed=%d pending=%d\n", sum.Status, sum.CompletedTasks, sum.FailedTasks, sum.PendingTasks)
	for _, e := range sum.Errors {
		fmt.Printf("  ! %s\n", e)
	}
	for _, a := range articles {
		for _, c := range vectors.Chunks(a.ID) {
			fmt.Printf("  %s#%d [%s] %q\n", a.Slug, c.ChunkIndex, c.HeadingPath, c.Text)
		}
	}
	snap := w.Snapshot()
	fmt.Printf("worker processed=%d succeeded=%d failed=%d\n", snap.TasksProcessed, snap.TasksSucceeded, snap.TasksFailed)
}
