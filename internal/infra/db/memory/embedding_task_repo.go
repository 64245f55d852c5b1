// Package memory holds mutex-guarded in-process implementations of the
// repository ports. They follow the Postgres semantics closely enough for the
// demo binary and for unit tests of the layers above the store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"notes-embedding-worker/internal/domain"
	"notes-embedding-worker/internal/domain/model"
	"notes-embedding-worker/internal/domain/ports/repository"
)

var _ repository.EmbeddingTaskRepository = (*TaskRepo)(nil)

// StuckTaskError is recorded on tasks reclaimed by the stuck sweep.
const StuckTaskError = "task exceeded maximum processing time"

type TaskRepo struct {
	mu    sync.Mutex
	tasks map[string]*model.EmbeddingTask
	// FailNextSaveBatch makes the next SaveBatch return this error once.
	FailNextSaveBatch error
}

func NewTaskRepo() *TaskRepo {
	return &TaskRepo{tasks: make(map[string]*model.EmbeddingTask)}
}

func clone(t *model.EmbeddingTask) *model.EmbeddingTask {
	c := *t
	c.Metadata = t.Metadata.Clone()
	if t.ProcessedAt != nil {
		p := *t.ProcessedAt
		c.ProcessedAt = &p
	}
	if t.CompletedAt != nil {
		p := *t.CompletedAt
		c.CompletedAt = &p
	}
	return &c
}

func (r *TaskRepo) Save(ctx context.Context, tx repository.Tx, task *model.EmbeddingTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	r.tasks[task.ID] = clone(task)
	return nil
}

func (r *TaskRepo) SaveBatch(ctx context.Context, tasks []*model.EmbeddingTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.FailNextSaveBatch; err != nil {
		r.FailNextSaveBatch = nil
		return err
	}
	for _, t := range tasks {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		r.tasks[t.ID] = clone(t)
	}
	return nil
}

func (r *TaskRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.EmbeddingTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(t), nil
}

// sorted returns tasks newest first.
func (r *TaskRepo) sorted(keep func(*model.EmbeddingTask) bool) []*model.EmbeddingTask {
	var out []*model.EmbeddingTask
	for _, t := range r.tasks {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (r *TaskRepo) List(ctx context.Context, f model.TaskFilter, page, pageSize int) (*model.Page[*model.EmbeddingTask], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	page, pageSize, offset := model.NormalizePage(page, pageSize)
	all := r.sorted(func(t *model.EmbeddingTask) bool {
		return (f.Status == "" || t.Status == f.Status) &&
			(f.Priority == "" || t.Priority == f.Priority) &&
			(f.ArticleID == "" || t.ArticleID == f.ArticleID)
	})
	var items []*model.EmbeddingTask
	for i := offset; i < len(all) && i < offset+pageSize; i++ {
		items = append(items, clone(all[i]))
	}
	return model.NewPage(items, len(all), page, pageSize), nil
}

func (r *TaskRepo) ClaimNext(ctx context.Context, now time.Time) (*model.EmbeddingTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *model.EmbeddingTask
	for _, t := range r.tasks {
		if !t.Claimable(now) {
			continue
		}
		if best == nil || claimsBefore(t, best) {
			best = t
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	best.Status = model.TaskStatusProcessing
	best.Attempts++
	at := now
	best.ProcessedAt = &at
	return clone(best), nil
}

func claimsBefore(a, b *model.EmbeddingTask) bool {
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() < b.Priority.Rank()
	}
	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.Before(b.ScheduledAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (r *TaskRepo) UpdateStatus(ctx context.Context, id string, status model.TaskStatus, errMsg string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	switch status {
	case model.TaskStatusCompleted:
		t.Status = model.TaskStatusCompleted
		t.ErrorMessage = ""
		at := now
		t.CompletedAt = &at
	case model.TaskStatusFailed:
		t.Status = model.TaskStatusFailed
		t.ErrorMessage = errMsg
	default:
		return domain.ErrInvalidArgument
	}
	return nil
}

func (r *TaskRepo) FailPermanently(ctx context.Context, id string, errMsg string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = model.TaskStatusFailed
	t.ErrorMessage = errMsg
	if t.Attempts < t.MaxAttempts {
		t.Attempts = t.MaxAttempts
	}
	return nil
}

func (r *TaskRepo) RetryFailed(ctx context.Context, now time.Time, backoffBase time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.tasks {
		if !t.Retryable() {
			continue
		}
		t.Status = model.TaskStatusPending
		t.ScheduledAt = now.Add(model.BackoffDelay(backoffBase, t.Attempts))
		n++
	}
	return n, nil
}

func (r *TaskRepo) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, t := range r.tasks {
		if t.Status == model.TaskStatusCompleted && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(r.tasks, id)
			n++
		}
	}
	return n, nil
}

func (r *TaskRepo) ResetStuck(ctx context.Context, startedBefore, now time.Time) (model.StuckResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res model.StuckResult
	for _, t := range r.tasks {
		if t.Status != model.TaskStatusProcessing || t.ProcessedAt == nil || !t.ProcessedAt.Before(startedBefore) {
			continue
		}
		t.ErrorMessage = StuckTaskError
		if t.Attempts < t.MaxAttempts {
			t.Status = model.TaskStatusPending
			t.ScheduledAt = now
			res.Requeued++
		} else {
			t.Status = model.TaskStatusFailed
			res.Failed++
		}
	}
	return res, nil
}

func (r *TaskRepo) CountByStatusPriority(ctx context.Context) ([]model.StatusPriorityCount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	type key struct {
		s model.TaskStatus
		p model.TaskPriority
	}
	counts := map[key]int{}
	for _, t := range r.tasks {
		counts[key{t.Status, t.Priority}]++
	}
	out := make([]model.StatusPriorityCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, model.StatusPriorityCount{Status: k.s, Priority: k.p, Count: n})
	}
	return out, nil
}

func (r *TaskRepo) HasActiveTask(ctx context.Context, articleID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		if t.ArticleID == articleID && t.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (r *TaskRepo) ArticleTaskStates(ctx context.Context) (map[string]model.ArticleTaskState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]model.ArticleTaskState)
	latest := make(map[string]*model.EmbeddingTask)
	completed := make(map[string]bool)
	for _, t := range r.tasks {
		if t.Status == model.TaskStatusCompleted {
			completed[t.ArticleID] = true
		}
		if cur, ok := latest[t.ArticleID]; !ok || t.CreatedAt.After(cur.CreatedAt) ||
			(t.CreatedAt.Equal(cur.CreatedAt) && t.ID > cur.ID) {
			latest[t.ArticleID] = t
		}
	}
	for id, t := range latest {
		out[id] = model.ArticleTaskState{
			ArticleID:       id,
			LastStatus:      t.Status,
			LastAttempts:    t.Attempts,
			LastMaxAttempts: t.MaxAttempts,
			LastError:       t.ErrorMessage,
			HasCompleted:    completed[id],
		}
	}
	return out, nil
}

func (r *TaskRepo) ListByOperationID(ctx context.Context, operationID string) ([]*model.EmbeddingTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.sorted(func(t *model.EmbeddingTask) bool { return t.OperationID() == operationID })
	out := make([]*model.EmbeddingTask, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, clone(all[i]))
	}
	return out, nil
}
