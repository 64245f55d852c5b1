//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"notes-embedding-worker/internal/domain"
	"notes-embedding-worker/internal/domain/model"
	"notes-embedding-worker/internal/domain/ports/repository"
)

func TestWorkerStatusRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewWorkerStatusRepo(testPool)

	t.Run("should report not found before the first save", func(t *testing.T) {
		cleanup(t)
		if _, err := repo.Load(ctx); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if err := repo.Heartbeat(ctx, time.Now()); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound from heartbeat, got %v", err)
		}
	})

	t.Run("should keep a single row across saves", func(t *testing.T) {
		cleanup(t)
		now := time.Now().UTC().Truncate(time.Millisecond)
		s := &model.WorkerStatus{InstanceID: "w-1", IsRunning: true, StartedAt: &now, UpdatedAt: now}
		if err := repo.Save(ctx, s); err != nil {
			t.Fatalf("save: %v", err)
		}
		s.TasksProcessed, s.TasksSucceeded = 5, 4
		if err := repo.Save(ctx, s); err != nil {
			t.Fatalf("save again: %v", err)
		}
		hb := now.Add(time.Second)
		if err := repo.Heartbeat(ctx, hb); err != nil {
			t.Fatalf("heartbeat: %v", err)
		}

		var rows int
		_ = testPool.QueryRow(ctx, "SELECT COUNT(*) FROM worker_status").Scan(&rows)
		if rows != 1 {
			t.Fatalf("expected 1 row, got %d", rows)
		}
		got, err := repo.Load(ctx)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if got.TasksProcessed != 5 || got.LastHeartbeat == nil || !got.LastHeartbeat.Equal(hb) {
			t.Errorf("unexpected status: %+v", got)
		}
	})
}

func TestAuditAndMetricRepos_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	audit := NewAuditLogRepo(testPool)
	metrics := NewPerformanceMetricRepo(testPool)
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("should filter audit entries and purge old ones", func(t *testing.T) {
		cleanup(t)
		d := 1500 * time.Millisecond
		entries := []*model.AuditLogEntry{
			{Timestamp: now.Add(-10 * 24 * time.Hour), Level: model.LogLevelInfo, Category: model.CategoryTaskLifecycle, Message: "old"},
			{Timestamp: now, Level: model.LogLevelError, Category: model.CategoryErrorHandling, Message: "failed", TaskID: "t1", Error: "boom"},
			{Timestamp: now, Level: model.LogLevelInfo, Category: model.CategoryBulkOperations, Message: "bulk", OperationID: "op", Duration: &d,
				Metadata: map[string]string{"queued": "3"}},
		}
		for _, e := range entries {
			if err := audit.Insert(ctx, e); err != nil {
				t.Fatalf("insert: %v", err)
			}
		}

		page, err := audit.Query(ctx, model.AuditLogFilter{OperationID: "op"}, 1, 10)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if page.TotalItems != 1 || page.Items[0].Metadata["queued"] != "3" || *page.Items[0].Duration != d {
			t.Errorf("unexpected entry: %+v", page.Items)
		}
		page, _ = audit.Query(ctx, model.AuditLogFilter{Level: model.LogLevelError}, 1, 10)
		if page.TotalItems != 1 || page.Items[0].Error != "boom" {
			t.Errorf("expected one error entry, got %d", page.TotalItems)
		}

		n, err := audit.DeleteOlderThan(ctx, now.Add(-7*24*time.Hour))
		if err != nil || n != 1 {
			t.Errorf("expected 1 purged, got %d (%v)", n, err)
		}
	})

	t.Run("should aggregate metric stats over a window", func(t *testing.T) {
		cleanup(t)
		for _, v := range []float64{100, 200, 600} {
			if err := metrics.Insert(ctx, &model.PerformanceMetric{Timestamp: now, MetricType: model.MetricTaskProcessingTime, Value: v, Unit: model.UnitMilliseconds}); err != nil {
				t.Fatalf("insert: %v", err)
			}
		}
		_ = metrics.Insert(ctx, &model.PerformanceMetric{Timestamp: now, MetricType: model.MetricQueueDepth, Value: 9, Unit: model.UnitCount})

		s, err := metrics.Stats(ctx, model.MetricTaskProcessingTime, now.Add(-time.Minute), now.Add(time.Minute))
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if s.Count != 3 || s.Average != 300 || s.Min != 100 || s.Max != 600 {
			t.Errorf("unexpected stats: %+v", s)
		}
		empty, _ := metrics.Stats(ctx, model.MetricErrorRate, now.Add(-time.Minute), now.Add(time.Minute))
		if empty.Count != 0 || empty.Average != 0 {
			t.Errorf("expected empty stats, got %+v", empty)
		}
		page, _ := metrics.Query(ctx, model.MetricFilter{MetricType: model.MetricQueueDepth}, 1, 10)
		if page.TotalItems != 1 {
			t.Errorf("expected one queue depth sample, got %d", page.TotalItems)
		}
	})
}

func TestArticleAndVectorRepos_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	articles := NewArticleRepo(testPool)
	vectors := NewChunkVectorRepo(testPool)

	t.Run("should read articles and maintain chunk vectors", func(t *testing.T) {
		cleanup(t)
		if err := articles.SaveArticle(ctx, &model.ArticleContent{ID: "a1", Slug: "one", Title: "One", Body: "# One\nbody"}); err != nil {
			t.Fatalf("save article: %v", err)
		}
		got, err := articles.ReadArticleContent(ctx, "a1")
		if err != nil || got.Body != "# One\nbody" {
			t.Fatalf("read: %+v %v", got, err)
		}
		if _, err := articles.ReadArticleContent(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		for i := 0; i < 3; i++ {
			v := repository.ChunkVector{ArticleID: "a1", ChunkIndex: i, Vector: []float32{0.1, 0.2}, Text: "t"}
			if err := vectors.Upsert(ctx, v); err != nil {
				t.Fatalf("upsert: %v", err)
			}
		}
		// Upserting the same key twice keeps one row.
		_ = vectors.Upsert(ctx, repository.ChunkVector{ArticleID: "a1", ChunkIndex: 0, Vector: []float32{1}, Text: "t2"})
		if err := vectors.DeleteChunksFrom(ctx, "a1", 2); err != nil {
			t.Fatalf("delete tail: %v", err)
		}
		var n int
		_ = testPool.QueryRow(ctx, "SELECT COUNT(*) FROM article_chunks WHERE article_id = 'a1'").Scan(&n)
		if n != 2 {
			t.Errorf("expected 2 chunks, got %d", n)
		}

		with, _ := vectors.ArticlesWithVectors(ctx)
		if _, ok := with["a1"]; !ok {
			t.Error("expected a1 to have vectors")
		}
		_ = vectors.DeleteAllForArticle(ctx, "a1")
		with, _ = vectors.ArticlesWithVectors(ctx)
		if len(with) != 0 {
			t.Errorf("expected no vectors, got %v", with)
		}
	})
}
