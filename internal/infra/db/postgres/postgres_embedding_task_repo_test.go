//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"notes-embedding-worker/internal/domain"
	"notes-embedding-worker/internal/domain/model"
)

func newTask(t *testing.T, articleID string, prio model.TaskPriority, scheduled, created time.Time) *model.EmbeddingTask {
	t.Helper()
	task, err := model.NewEmbeddingTask(articleID, articleID+"-slug", model.TaskOperationUpdate, prio, 3, scheduled, created, nil)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	return task
}

func TestEmbeddingTaskRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	repo := NewEmbeddingTaskRepo(testPool, NewTxManager(testPool))
	base := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("should save and find a task with metadata", func(t *testing.T) {
		cleanup(t)
		task := newTask(t, "a1", model.TaskPriorityNormal, base, base)
		task.Metadata = model.TaskMetadata{model.MetaOperationID: "op-1", model.MetaReason: "bulk"}

		if err := repo.Save(ctx, nil, task); err != nil {
			t.Fatalf("save: %v", err)
		}
		got, err := repo.FindByID(ctx, nil, task.ID)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if got.Status != model.TaskStatusPending || got.Attempts != 0 || got.MaxAttempts != 3 {
			t.Errorf("unexpected task: %+v", got)
		}
		if got.OperationID() != "op-1" {
			t.Errorf("expected operation id op-1, got %q", got.OperationID())
		}

		if _, err := repo.FindByID(ctx, nil, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("should claim by priority then schedule then creation", func(t *testing.T) {
		cleanup(t)
		low := newTask(t, "low", model.TaskPriorityLow, base.Add(-time.Hour), base.Add(-time.Hour))
		normalLate := newTask(t, "normal-late", model.TaskPriorityNormal, base.Add(-time.Minute), base.Add(-time.Minute))
		normalEarly := newTask(t, "normal-early", model.TaskPriorityNormal, base.Add(-2*time.Minute), base.Add(-time.Minute))
		high := newTask(t, "high", model.TaskPriorityHigh, base, base)
		future := newTask(t, "future", model.TaskPriorityHigh, base.Add(time.Hour), base)
		if err := repo.SaveBatch(ctx, []*model.EmbeddingTask{low, normalLate, normalEarly, high, future}); err != nil {
			t.Fatalf("save batch: %v", err)
		}

		var order []string
		for i := 0; i < 4; i++ {
			task, err := repo.ClaimNext(ctx, base)
			if err != nil {
				t.Fatalf("claim %d: %v", i, err)
			}
			if task.Status != model.TaskStatusProcessing || task.Attempts != 1 || task.ProcessedAt == nil {
				t.Errorf("claim did not mark task: %+v", task)
			}
			order = append(order, task.ArticleID)
		}
		want := []string{"high", "normal-early", "normal-late", "low"}
		for i := range want {
			if order[i] != want[i] {
				t.Fatalf("expected order %v, got %v", want, order)
			}
		}

		if _, err := repo.ClaimNext(ctx, base); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("future task must not be claimable, got %v", err)
		}
	})

	t.Run("should never hand the same task to concurrent claimers", func(t *testing.T) {
		cleanup(t)
		var tasks []*model.EmbeddingTask
		for i := 0; i < 20; i++ {
			tasks = append(tasks, newTask(t, "c"+string(rune('a'+i)), model.TaskPriorityNormal, base, base))
		}
		if err := repo.SaveBatch(ctx, tasks); err != nil {
			t.Fatalf("save batch: %v", err)
		}

		var (
			mu   sync.Mutex
			seen = map[string]int{}
			wg   sync.WaitGroup
		)
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					task, err := repo.ClaimNext(ctx, base)
					if err != nil {
						return
					}
					mu.Lock()
					seen[task.ID]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if len(seen) != 20 {
			t.Fatalf("expected 20 distinct claims, got %d", len(seen))
		}
		for id, n := range seen {
			if n != 1 {
				t.Errorf("task %s claimed %d times", id, n)
			}
		}
	})

	t.Run("should reschedule retryable failures with exponential backoff", func(t *testing.T) {
		cleanup(t)
		once := newTask(t, "once", model.TaskPriorityNormal, base, base)
		once.Status, once.Attempts = model.TaskStatusFailed, 1
		twice := newTask(t, "twice", model.TaskPriorityNormal, base, base)
		twice.Status, twice.Attempts = model.TaskStatusFailed, 2
		exhausted := newTask(t, "exhausted", model.TaskPriorityNormal, base, base)
		exhausted.Status, exhausted.Attempts = model.TaskStatusFailed, 3
		if err := repo.SaveBatch(ctx, []*model.EmbeddingTask{once, twice, exhausted}); err != nil {
			t.Fatalf("save batch: %v", err)
		}

		n, err := repo.RetryFailed(ctx, base, 30*time.Second)
		if err != nil {
			t.Fatalf("retry: %v", err)
		}
		if n != 2 {
			t.Fatalf("expected 2 retried, got %d", n)
		}

		got, _ := repo.FindByID(ctx, nil, once.ID)
		if got.Status != model.TaskStatusPending || !got.ScheduledAt.Equal(base.Add(30*time.Second)) {
			t.Errorf("once: expected pending at +30s, got %s at %v", got.Status, got.ScheduledAt.Sub(base))
		}
		got, _ = repo.FindByID(ctx, nil, twice.ID)
		if !got.ScheduledAt.Equal(base.Add(60 * time.Second)) {
			t.Errorf("twice: expected +60s, got %v", got.ScheduledAt.Sub(base))
		}
		got, _ = repo.FindByID(ctx, nil, exhausted.ID)
		if got.Status != model.TaskStatusFailed {
			t.Errorf("exhausted task must stay failed, got %s", got.Status)
		}
	})

	t.Run("should fail permanently by exhausting attempts", func(t *testing.T) {
		cleanup(t)
		task := newTask(t, "gone", model.TaskPriorityNormal, base, base)
		_ = repo.Save(ctx, nil, task)
		claimed, err := repo.ClaimNext(ctx, base)
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if err := repo.FailPermanently(ctx, claimed.ID, "article not found", base); err != nil {
			t.Fatalf("fail: %v", err)
		}
		got, _ := repo.FindByID(ctx, nil, claimed.ID)
		if got.Attempts != got.MaxAttempts || got.Retryable() {
			t.Errorf("expected exhausted attempts, got %d/%d", got.Attempts, got.MaxAttempts)
		}
		n, _ := repo.RetryFailed(ctx, base, time.Second)
		if n != 0 {
			t.Errorf("terminal failure must not be retried, got %d", n)
		}
	})

	t.Run("should delete only old completed tasks", func(t *testing.T) {
		cleanup(t)
		old := newTask(t, "old", model.TaskPriorityNormal, base, base)
		oldDone := base.Add(-10 * 24 * time.Hour)
		old.Status, old.CompletedAt = model.TaskStatusCompleted, &oldDone
		recent := newTask(t, "recent", model.TaskPriorityNormal, base, base)
		recentDone := base.Add(-time.Hour)
		recent.Status, recent.CompletedAt = model.TaskStatusCompleted, &recentDone
		failed := newTask(t, "failed", model.TaskPriorityNormal, base, base)
		failed.Status = model.TaskStatusFailed
		_ = repo.SaveBatch(ctx, []*model.EmbeddingTask{old, recent, failed})

		n, err := repo.DeleteCompletedBefore(ctx, base.Add(-7*24*time.Hour))
		if err != nil {
			t.Fatalf("delete: %v", err)
		}
		if n != 1 {
			t.Fatalf("expected 1 deleted, got %d", n)
		}
		if _, err := repo.FindByID(ctx, nil, old.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Error("old completed task should be gone")
		}
	})

	t.Run("should reset stuck tasks to pending or failed", func(t *testing.T) {
		cleanup(t)
		started := base.Add(-10 * time.Minute)
		retryable := newTask(t, "retryable", model.TaskPriorityNormal, base, base)
		retryable.Status, retryable.Attempts, retryable.ProcessedAt = model.TaskStatusProcessing, 1, &started
		spent := newTask(t, "spent", model.TaskPriorityNormal, base, base)
		spent.Status, spent.Attempts, spent.ProcessedAt = model.TaskStatusProcessing, 3, &started
		fresh := newTask(t, "fresh", model.TaskPriorityNormal, base, base)
		fresh.Status, fresh.Attempts, fresh.ProcessedAt = model.TaskStatusProcessing, 1, &base
		_ = repo.SaveBatch(ctx, []*model.EmbeddingTask{retryable, spent, fresh})

		res, err := repo.ResetStuck(ctx, base.Add(-5*time.Minute), base)
		if err != nil {
			t.Fatalf("reset: %v", err)
		}
		if res.Requeued != 1 || res.Failed != 1 {
			t.Fatalf("expected 1 requeued and 1 failed, got %+v", res)
		}
		got, _ := repo.FindByID(ctx, nil, fresh.ID)
		if got.Status != model.TaskStatusProcessing {
			t.Errorf("fresh task must stay processing, got %s", got.Status)
		}
		got, _ = repo.FindByID(ctx, nil, spent.ID)
		if got.Status != model.TaskStatusFailed || got.ErrorMessage != StuckTaskError {
			t.Errorf("spent task: %s %q", got.Status, got.ErrorMessage)
		}
	})

	t.Run("should count, list and summarise article states", func(t *testing.T) {
		cleanup(t)
		first := newTask(t, "art", model.TaskPriorityHigh, base, base.Add(-time.Hour))
		done := base.Add(-30 * time.Minute)
		first.Status, first.CompletedAt = model.TaskStatusCompleted, &done
		second := newTask(t, "art", model.TaskPriorityLow, base, base)
		second.Status, second.Attempts, second.ErrorMessage = model.TaskStatusFailed, 3, "boom"
		second.Metadata = model.TaskMetadata{model.MetaOperationID: "op-x"}
		other := newTask(t, "other", model.TaskPriorityLow, base, base)
		_ = repo.SaveBatch(ctx, []*model.EmbeddingTask{first, second, other})

		cells, err := repo.CountByStatusPriority(ctx)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		stats := model.NewQueueStats(cells)
		if stats.Total != 3 || stats.Completed != 1 || stats.Failed != 1 || stats.Pending != 1 {
			t.Errorf("unexpected stats: %+v", stats)
		}
		if stats.ByPriority[model.TaskPriorityLow] != 2 {
			t.Errorf("expected 2 low priority tasks, got %d", stats.ByPriority[model.TaskPriorityLow])
		}

		active, _ := repo.HasActiveTask(ctx, "other")
		if !active {
			t.Error("expected other to have an active task")
		}
		active, _ = repo.HasActiveTask(ctx, "art")
		if active {
			t.Error("expected art to have no active task")
		}

		states, err := repo.ArticleTaskStates(ctx)
		if err != nil {
			t.Fatalf("states: %v", err)
		}
		st := states["art"]
		if !st.HasCompleted || st.LastStatus != model.TaskStatusFailed || !st.LastTerminallyFailed() || st.LastError != "boom" {
			t.Errorf("unexpected article state: %+v", st)
		}

		byOp, err := repo.ListByOperationID(ctx, "op-x")
		if err != nil || len(byOp) != 1 || byOp[0].ID != second.ID {
			t.Errorf("expected one task for op-x, got %d (%v)", len(byOp), err)
		}

		page, err := repo.List(ctx, model.TaskFilter{Priority: model.TaskPriorityLow}, 1, 1)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if page.TotalItems != 2 || len(page.Items) != 1 || !page.HasNextPage {
			t.Errorf("unexpected page: total=%d items=%d next=%v", page.TotalItems, len(page.Items), page.HasNextPage)
		}
	})
}
