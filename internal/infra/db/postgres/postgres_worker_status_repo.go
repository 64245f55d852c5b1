package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"notes-embedding-worker/internal/domain"
	"notes-embedding-worker/internal/domain/model"
	"notes-embedding-worker/internal/domain/ports/repository"
)

var _ repository.WorkerStatusRepository = (*workerStatusRepo)(nil)

// workerStatusRepo keeps a single row (id = 1).
type workerStatusRepo struct {
	pool *pgxpool.Pool
}

func NewWorkerStatusRepo(pool *pgxpool.Pool) *workerStatusRepo {
	return &workerStatusRepo{pool: pool}
}

func (r *workerStatusRepo) Load(ctx context.Context) (*model.WorkerStatus, error) {
	defer observe("worker_status_load", time.Now())
	const q = `
SELECT instance_id, is_running, last_heartbeat, started_at, stopped_at,
       tasks_processed, tasks_succeeded, tasks_failed, updated_at
FROM worker_status WHERE id = 1;`

	row, err := pickRow(ctx, r.pool, repository.NoTX, q)
	if err != nil {
		return nil, err
	}
	var s model.WorkerStatus
	err = row.Scan(&s.InstanceID, &s.IsRunning, &s.LastHeartbeat, &s.StartedAt, &s.StoppedAt,
		&s.TasksProcessed, &s.TasksSucceeded, &s.TasksFailed, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return &s, nil
}

func (r *workerStatusRepo) Save(ctx context.Context, s *model.WorkerStatus) error {
	defer observe("worker_status_save", time.Now())
	const q = `
INSERT INTO worker_status (id, instance_id, is_running, last_heartbeat, started_at, stopped_at,
  tasks_processed, tasks_succeeded, tasks_failed, updated_at)
VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
  instance_id = EXCLUDED.instance_id,
  is_running = EXCLUDED.is_running,
  last_heartbeat = EXCLUDED.last_heartbeat,
  started_at = EXCLUDED.started_at,
  stopped_at = EXCLUDED.stopped_at,
  tasks_processed = EXCLUDED.tasks_processed,
  tasks_succeeded = EXCLUDED.tasks_succeeded,
  tasks_failed = EXCLUDED.tasks_failed,
  updated_at = EXCLUDED.updated_at;`
	_, err := execSQL(ctx, r.pool, repository.NoTX, q, s.InstanceID, s.IsRunning, s.LastHeartbeat,
		s.StartedAt, s.StoppedAt, s.TasksProcessed, s.TasksSucceeded, s.TasksFailed, s.UpdatedAt)
	return err
}

func (r *workerStatusRepo) Heartbeat(ctx context.Context, at time.Time) error {
	defer observe("worker_heartbeat", time.Now())
	tag, err := execSQL(ctx, r.pool, repository.NoTX,
		`UPDATE worker_status SET last_heartbeat = $1, updated_at = $1 WHERE id = 1;`, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
