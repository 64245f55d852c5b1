package repository

import (
	"context"
	"time"

	"notes-embedding-worker/internal/domain/model"
)

// WorkerStatusRepository persists the single worker snapshot.
type WorkerStatusRepository interface {
	// Load returns domain.ErrNotFound before the first Save.
	Load(ctx context.Context) (*model.WorkerStatus, error)
	Save(ctx context.Context, status *model.WorkerStatus) error
	Heartbeat(ctx context.Context, at time.Time) error
}
