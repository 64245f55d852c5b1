package repository

import (
	"context"
	"time"

	"notes-embedding-worker/internal/domain/model"
)

// EmbeddingTaskRepository is the task store. Every mutating method is a single
// atomic store operation; none of them is a read followed by a separate write.
type EmbeddingTaskRepository interface {
	Save(ctx context.Context, tx Tx, task *model.EmbeddingTask) error
	// SaveBatch inserts all tasks in one transaction.
	SaveBatch(ctx context.Context, tasks []*model.EmbeddingTask) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.EmbeddingTask, error)
	List(ctx context.Context, filter model.TaskFilter, page, pageSize int) (*model.Page[*model.EmbeddingTask], error)

	// ClaimNext atomically moves the best due pending task to processing,
	// incrementing attempts and stamping processedAt. Returns domain.ErrNotFound
	// when nothing is due. Concurrent callers never receive the same task.
	ClaimNext(ctx context.Context, now time.Time) (*model.EmbeddingTask, error)
	UpdateStatus(ctx context.Context, id string, status model.TaskStatus, errMsg string, now time.Time) error
	// FailPermanently marks the task failed with attempts exhausted.
	FailPermanently(ctx context.Context, id string, errMsg string, now time.Time) error
	// RetryFailed reschedules failed tasks with attempts < maxAttempts to
	// now + backoffBase*2^(attempts-1) and returns how many moved.
	RetryFailed(ctx context.Context, now time.Time, backoffBase time.Duration) (int, error)
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int, error)
	// ResetStuck reclaims processing tasks whose processedAt is before startedBefore.
	ResetStuck(ctx context.Context, startedBefore, now time.Time) (model.StuckResult, error)

	CountByStatusPriority(ctx context.Context) ([]model.StatusPriorityCount, error)
	HasActiveTask(ctx context.Context, articleID string) (bool, error)
	ArticleTaskStates(ctx context.Context) (map[string]model.ArticleTaskState, error)
	ListByOperationID(ctx context.Context, operationID string) ([]*model.EmbeddingTask, error)
}
