package memory

import (
	"context"
	"sync"
	"time"

	"notes-embedding-worker/internal/domain"
	"notes-embedding-worker/internal/domain/model"
	"notes-embedding-worker/internal/domain/ports/repository"
)

var _ repository.WorkerStatusRepository = (*WorkerStatusRepo)(nil)

type WorkerStatusRepo struct {
	mu     sync.Mutex
	status *model.WorkerStatus
}

func NewWorkerStatusRepo() *WorkerStatusRepo { return &WorkerStatusRepo{} }

func (r *WorkerStatusRepo) Load(ctx context.Context) (*model.WorkerStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == nil {
		return nil, domain.ErrNotFound
	}
	c := *r.status
	return &c, nil
}

func (r *WorkerStatusRepo) Save(ctx context.Context, s *model.WorkerStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *s
	r.status = &c
	return nil
}

func (r *WorkerStatusRepo) Heartbeat(ctx context.Context, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == nil {
		return domain.ErrNotFound
	}
	t := at
	r.status.LastHeartbeat = &t
	r.status.UpdatedAt = at
	return nil
}
