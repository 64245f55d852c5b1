//go:build !integration

package worker_test

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"notes-embedding-worker/internal/domain/model"
	"notes-embedding-worker/internal/domain/ports/adapter"
	"notes-embedding-worker/internal/infra/db/memory"
	"notes-embedding-worker/internal/infra/worker"
	"notes-embedding-worker/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(10 * time.Millisecond)
	return c.now
}

// mockChunker splits on blank lines unless ChunkFunc is set.
type mockChunker struct {
	ChunkFunc func(title, body string) ([]model.Chunk, error)
}

func (m *mockChunker) Chunk(title, body string) ([]model.Chunk, error) {
	if m.ChunkFunc != nil {
		return m.ChunkFunc(title, body)
	}
	var out []model.Chunk
	for _, part := range strings.Split(body, "\n\n") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, model.Chunk{Index: len(out), HeadingPath: title, Text: part, TokenCount: len(strings.Fields(part))})
	}
	return out, nil
}

type mockEmbedder struct {
	mu        sync.Mutex
	calls     int
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return []float32{float32(len(text)), 1, 0}, nil
}

func (m *mockEmbedder) Model() string   { return "test-embedder" }
func (m *mockEmbedder) Dimensions() int { return 3 }

func (m *mockEmbedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type recordingEvents struct {
	mu     sync.Mutex
	events []adapter.TaskEvent
}

func (r *recordingEvents) PublishTaskEvent(ctx context.Context, evt adapter.TaskEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recordingEvents) All() []adapter.TaskEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]adapter.TaskEvent(nil), r.events...)
}

type recordingHeartbeat struct {
	mu    sync.Mutex
	count int
}

func (r *recordingHeartbeat) Publish(ctx context.Context, status *model.WorkerStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	return nil
}

type harness struct {
	clock     *fakeClock
	tasks     *memory.TaskRepo
	articles  *memory.ArticleStore
	vectors   *memory.VectorIndex
	statuses  *memory.WorkerStatusRepo
	auditLog  *memory.AuditLogRepo
	audit     usecase.AuditLogger
	perf      usecase.MetricsRecorder
	queue     usecase.QueueUseCase
	chunker   *mockChunker
	embedder  *mockEmbedder
	events    *recordingEvents
	heartbeat *recordingHeartbeat
	worker    *worker.EmbeddingWorker
}

func newHarness() *harness {
	h := &harness{
		clock:     &fakeClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)},
		tasks:     memory.NewTaskRepo(),
		articles:  memory.NewArticleStore(),
		vectors:   memory.NewVectorIndex(),
		statuses:  memory.NewWorkerStatusRepo(),
		auditLog:  memory.NewAuditLogRepo(),
		chunker:   &mockChunker{},
		embedder:  &mockEmbedder{},
		events:    &recordingEvents{},
		heartbeat: &recordingHeartbeat{},
	}
	logger := newTestLogger()
	h.audit = usecase.NewAuditLogger(h.auditLog, logger, h.clock.Now)
	h.perf = usecase.NewMetricsRecorder(memory.NewMetricRepo(), logger, h.clock.Now)
	h.queue = usecase.NewQueueUseCase(h.tasks, h.articles, h.vectors, h.audit, h.perf,
		usecase.QueueSettings{MaxRetries: 3, RetryBackoffBase: time.Second, BatchSize: 10}, logger, h.clock.Now)
	h.worker = worker.NewEmbeddingWorker(h.queue, h.articles, h.chunker, h.embedder, h.vectors, h.statuses,
		h.audit, h.perf, worker.Options{
			InstanceID: "test-worker",
			Interval:   5 * time.Millisecond,
			Heartbeat:  h.heartbeat,
			Events:     h.events,
			Clock:      h.clock.Now,
		}, logger)
	return h
}

func (h *harness) enqueue(articleID string, op model.TaskOperation) string {
	id, err := h.queue.Enqueue(context.Background(), usecase.EnqueueRequest{
		ArticleID: articleID,
		Slug:      "slug-" + articleID,
		Operation: op,
	})
	if err != nil {
		panic(err)
	}
	return id
}

// gatedStatuses blocks the first Save until release is closed.
type gatedStatuses struct {
	*memory.WorkerStatusRepo
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedStatuses() *gatedStatuses {
	return &gatedStatuses{
		WorkerStatusRepo: memory.NewWorkerStatusRepo(),
		entered:          make(chan struct{}),
		release:          make(chan struct{}),
	}
}

func (g *gatedStatuses) Save(ctx context.Context, status *model.WorkerStatus) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.WorkerStatusRepo.Save(ctx, status)
}
