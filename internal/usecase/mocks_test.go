//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"notes-embedding-worker/internal/domain/model"
	"notes-embedding-worker/internal/infra/db/memory"
	"notes-embedding-worker/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// fakeClock is a settable clock shared by the usecases under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// harness wires the queue service to in-memory stores.
type harness struct {
	clock    *fakeClock
	tasks    *memory.TaskRepo
	articles *memory.ArticleStore
	vectors  *memory.VectorIndex
	auditLog *memory.AuditLogRepo
	perfLog  *memory.MetricRepo
	audit    usecase.AuditLogger
	perf     usecase.MetricsRecorder
	queue    usecase.QueueUseCase
}

func newHarness(settings usecase.QueueSettings) *harness {
	h := &harness{
		clock:    newFakeClock(),
		tasks:    memory.NewTaskRepo(),
		articles: memory.NewArticleStore(),
		vectors:  memory.NewVectorIndex(),
		auditLog: memory.NewAuditLogRepo(),
		perfLog:  memory.NewMetricRepo(),
	}
	logger := newTestLogger()
	h.audit = usecase.NewAuditLogger(h.auditLog, logger, h.clock.Now)
	h.perf = usecase.NewMetricsRecorder(h.perfLog, logger, h.clock.Now)
	h.queue = usecase.NewQueueUseCase(h.tasks, h.articles, h.vectors, h.audit, h.perf, settings, logger, h.clock.Now)
	return h
}

func defaultSettings() usecase.QueueSettings {
	return usecase.QueueSettings{MaxRetries: 3, RetryBackoffBase: 30 * time.Second, BatchSize: 50}
}

func (h *harness) addArticles(n int, prefix string) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := prefix + "-" + itoa(i)
		h.articles.Put(model.ArticleContent{ID: id, Slug: id, Title: "Article " + id, Body: "# " + id + "\n\nbody"})
		ids = append(ids, id)
	}
	return ids
}

func itoa(i int) string {
	const digits = "0123456789"
	if i < 10 {
		return digits[i : i+1]
	}
	return itoa(i/10) + digits[i%10:i%10+1]
}

// failingAuditRepo rejects every write.
type failingAuditRepo struct{ memory.AuditLogRepo }

func (f *failingAuditRepo) Insert(ctx context.Context, e *model.AuditLogEntry) error {
	return context.DeadlineExceeded
}
