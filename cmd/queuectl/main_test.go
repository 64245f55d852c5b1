//go:build !integration

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notes-embedding-worker/internal/config"
	"notes-embedding-worker/internal/domain/model"
	"notes-embedding-worker/internal/infra/api"
	"notes-embedding-worker/internal/infra/db/memory"
	"notes-embedding-worker/internal/usecase"
)

type cliFixture struct {
	articles *memory.ArticleStore
	tasks    *memory.TaskRepo
	statuses *memory.WorkerStatusRepo
	out      *bytes.Buffer
	app      *app
}

func newCLIFixture() *cliFixture {
	logger := zerolog.New(io.Discard)
	f := &cliFixture{
		articles: memory.NewArticleStore(),
		tasks:    memory.NewTaskRepo(),
		statuses: memory.NewWorkerStatusRepo(),
		out:      &bytes.Buffer{},
	}
	audit := usecase.NewAuditLogger(memory.NewAuditLogRepo(), &logger, nil)
	perf := usecase.NewMetricsRecorder(memory.NewMetricRepo(), &logger, nil)
	f.app = &app{
		queue: usecase.NewQueueUseCase(f.tasks, f.articles, memory.NewVectorIndex(), audit, perf,
			usecase.QueueSettings{MaxRetries: 1, RetryBackoffBase: time.Second, BatchSize: 10}, &logger, nil),
		audit:      audit,
		perf:       perf,
		statuses:   f.statuses,
		hbInterval: 30 * time.Second,
		out:        f.out,
	}
	return f
}

func TestQueuectl(t *testing.T) {
	ctx := context.Background()

	t.Run("should print one progress line per article during bulk", func(t *testing.T) {
		// --- Arrange ---
		f := newCLIFixture()
		for i := 0; i < 3; i++ {
			f.articles.Put(model.ArticleContent{ID: fmt.Sprintf("a%d", i), Slug: fmt.Sprintf("s%d", i), Body: "x"})
		}

		// --- Act ---
		err := f.app.run(ctx, "bulk", []string{"-priority", "high"})

		// --- Assert ---
		require.NoError(t, err)
		out := f.out.String()
		assert.Equal(t, 3, strings.Count(out, "queued="))
		assert.Contains(t, out, "3 queued, 0 skipped")
	})

	t.Run("should cap the error preview in a bulk summary", func(t *testing.T) {
		// --- Arrange ---
		f := newCLIFixture()
		for i := 0; i < 7; i++ {
			f.articles.Put(model.ArticleContent{ID: fmt.Sprintf("a%d", i), Slug: fmt.Sprintf("s%d", i), Body: "x"})
		}
		res, err := f.app.queue.QueueBulkEmbeddingUpdate(ctx, model.TaskPriorityNormal, nil)
		require.NoError(t, err)
		for i := 0; i < 7; i++ {
			task, err := f.app.queue.Dequeue(ctx)
			require.NoError(t, err)
			require.NoError(t, f.app.queue.FailPermanently(ctx, task.ID, fmt.Sprintf("boom %d", i)))
		}

		// --- Act ---
		require.NoError(t, f.app.run(ctx, "summary", []string{"-op", res.OperationID}))

		// --- Assert ---
		out := f.out.String()
		assert.Equal(t, 5, strings.Count(out, "  ! "))
		assert.Contains(t, out, "and 2 more")
	})

	t.Run("should report a stale worker", func(t *testing.T) {
		f := newCLIFixture()
		beat := time.Now().UTC().Add(-time.Hour)
		require.NoError(t, f.statuses.Save(ctx, &model.WorkerStatus{InstanceID: "w1", IsRunning: true, LastHeartbeat: &beat}))

		require.NoError(t, f.app.run(ctx, "worker", nil))

		assert.Contains(t, f.out.String(), "instance w1: stale")
	})

	t.Run("should reject an unknown command", func(t *testing.T) {
		f := newCLIFixture()
		assert.Error(t, f.app.run(ctx, "explode", nil))
	})
}

func TestMintToken(t *testing.T) {
	t.Run("should mint a token the admin API accepts", func(t *testing.T) {
		// --- Arrange ---
		admin := config.AdminConfig{JWTSecret: "s3cret"}
		var out bytes.Buffer

		// --- Act ---
		err := mintToken(&out, admin, []string{"-subject", "ops", "-ttl", "5m"})

		// --- Assert ---
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(out.String()))
		subject, err := api.NewAuthManager("", admin.JWTSecret).Authenticate(req)
		require.NoError(t, err)
		assert.Equal(t, "ops", subject)
	})

	t.Run("should fail without a jwt secret", func(t *testing.T) {
		var out bytes.Buffer
		assert.Error(t, mintToken(&out, config.AdminConfig{}, nil))
	})
}
