package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"notes-embedding-worker/internal/domain"
	"notes-embedding-worker/internal/domain/model"
	"notes-embedding-worker/internal/domain/ports/repository"
)

var _ repository.EmbeddingTaskRepository = (*embeddingTaskRepo)(nil)

type embeddingTaskRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewEmbeddingTaskRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *embeddingTaskRepo {
	return &embeddingTaskRepo{
		pool: pool,
		tm:   tm,
	}
}

const taskColumns = `id, article_id, slug, operation, priority, status, attempts, max_attempts,
  created_at, scheduled_at, processed_at, completed_at, error_message, metadata`

const upsertTaskSQL = `
INSERT INTO embedding_tasks (` + taskColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO UPDATE SET
  slug = EXCLUDED.slug,
  priority = EXCLUDED.priority,
  status = EXCLUDED.status,
  attempts = EXCLUDED.attempts,
  max_attempts = EXCLUDED.max_attempts,
  scheduled_at = EXCLUDED.scheduled_at,
  processed_at = EXCLUDED.processed_at,
  completed_at = EXCLUDED.completed_at,
  error_message = EXCLUDED.error_message,
  metadata = EXCLUDED.metadata;`

func taskArgs(t *model.EmbeddingTask) []interface{} {
	meta := t.Metadata
	if meta == nil {
		meta = model.TaskMetadata{}
	}
	return []interface{}{
		t.ID, t.ArticleID, t.Slug, string(t.Operation), string(t.Priority), string(t.Status),
		t.Attempts, t.MaxAttempts, t.CreatedAt, t.ScheduledAt, t.ProcessedAt, t.CompletedAt,
		t.ErrorMessage, meta,
	}
}

func (r *embeddingTaskRepo) Save(ctx context.Context, tx repository.Tx, task *model.EmbeddingTask) error {
	defer observe("task_save", time.Now())
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	_, err := execSQL(ctx, r.pool, tx, upsertTaskSQL, taskArgs(task)...)
	return err
}

func (r *embeddingTaskRepo) SaveBatch(ctx context.Context, tasks []*model.EmbeddingTask) error {
	if len(tasks) == 0 {
		return nil
	}
	defer observe("task_save_batch", time.Now())

	return r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		ptx, ok := tx.(pgx.Tx)
		if !ok {
			return domain.ErrInvalidExecContext
		}
		b := &pgx.Batch{}
		for _, t := range tasks {
			if t.ID == "" {
				t.ID = uuid.NewString()
			}
			b.Queue(upsertTaskSQL, taskArgs(t)...)
		}
		br := ptx.SendBatch(ctx, b)
		for range tasks {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("save batch: %w", err)
			}
		}
		return br.Close()
	})
}

func (r *embeddingTaskRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.EmbeddingTask, error) {
	defer observe("task_find", time.Now())
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+taskColumns+` FROM embedding_tasks WHERE id = $1;`, id)
	if err != nil {
		return nil, err
	}
	return scanTask(row)
}

func (r *embeddingTaskRepo) List(ctx context.Context, filter model.TaskFilter, page, pageSize int) (*model.Page[*model.EmbeddingTask], error) {
	defer observe("task_list", time.Now())
	page, pageSize, offset := model.NormalizePage(page, pageSize)

	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Priority != "" {
		args = append(args, string(filter.Priority))
		where = append(where, fmt.Sprintf("priority = $%d", len(args)))
	}
	if filter.ArticleID != "" {
		args = append(args, filter.ArticleID)
		where = append(where, fmt.Sprintf("article_id = $%d", len(args)))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	row, err := pickRow(ctx, r.pool, repository.NoTX, `SELECT COUNT(*) FROM embedding_tasks`+cond, args...)
	if err != nil {
		return nil, err
	}
	if err := row.Scan(&total); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}

	args = append(args, pageSize, offset)
	q := fmt.Sprintf(`SELECT %s FROM embedding_tasks%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d;`,
		taskColumns, cond, len(args)-1, len(args))
	rows, err := queryRows(ctx, r.pool, repository.NoTX, q, args...)
	if err != nil {
		return nil, err
	}
	items, err := collectTasks(rows)
	if err != nil {
		return nil, err
	}
	return model.NewPage(items, total, page, pageSize), nil
}

// ClaimNext picks and marks in one statement. The inner SELECT locks the
// winning row and skips rows other claimers hold, so two workers never get
// the same task.
func (r *embeddingTaskRepo) ClaimNext(ctx context.Context, now time.Time) (*model.EmbeddingTask, error) {
	defer observe("claim_next", time.Now())
	const q = `
UPDATE embedding_tasks t
SET status = 'processing',
    attempts = t.attempts + 1,
    processed_at = $1
WHERE t.id = (
  SELECT id FROM embedding_tasks
  WHERE status = 'pending' AND scheduled_at <= $1
  ORDER BY priority_rank, scheduled_at, created_at
  LIMIT 1
  FOR UPDATE SKIP LOCKED
) AND t.status = 'pending'
RETURNING ` + taskColumns + `;`

	row, err := pickRow(ctx, r.pool, repository.NoTX, q, now)
	if err != nil {
		return nil, err
	}
	return scanTask(row)
}

func (r *embeddingTaskRepo) UpdateStatus(ctx context.Context, id string, status model.TaskStatus, errMsg string, now time.Time) error {
	defer observe("task_update_status", time.Now())
	var (
		q    string
		args []interface{}
	)
	switch status {
	case model.TaskStatusCompleted:
		q = `UPDATE embedding_tasks SET status = 'completed', error_message = '', completed_at = $2 WHERE id = $1;`
		args = []interface{}{id, now}
	case model.TaskStatusFailed:
		q = `UPDATE embedding_tasks SET status = 'failed', error_message = $2 WHERE id = $1;`
		args = []interface{}{id, errMsg}
	default:
		return fmt.Errorf("%w: cannot set status %q directly", domain.ErrInvalidArgument, status)
	}
	tag, err := execSQL(ctx, r.pool, repository.NoTX, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *embeddingTaskRepo) FailPermanently(ctx context.Context, id string, errMsg string, now time.Time) error {
	defer observe("task_fail_permanently", time.Now())
	const q = `
UPDATE embedding_tasks
SET status = 'failed', attempts = GREATEST(attempts, max_attempts), error_message = $2
WHERE id = $1;`
	tag, err := execSQL(ctx, r.pool, repository.NoTX, q, id, errMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *embeddingTaskRepo) RetryFailed(ctx context.Context, now time.Time, backoffBase time.Duration) (int, error) {
	defer observe("task_retry_failed", time.Now())
	const q = `
UPDATE embedding_tasks
SET status = 'pending',
    scheduled_at = $1::timestamptz
      + ($2::bigint * power(2, LEAST(GREATEST(attempts, 1) - 1, 30))) * interval '1 millisecond'
WHERE status = 'failed' AND attempts < max_attempts;`
	tag, err := execSQL(ctx, r.pool, repository.NoTX, q, now, backoffBase.Milliseconds())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *embeddingTaskRepo) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	defer observe("task_delete_completed", time.Now())
	tag, err := execSQL(ctx, r.pool, repository.NoTX,
		`DELETE FROM embedding_tasks WHERE status = 'completed' AND completed_at < $1;`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *embeddingTaskRepo) ResetStuck(ctx context.Context, startedBefore, now time.Time) (model.StuckResult, error) {
	defer observe("task_reset_stuck", time.Now())
	const q = `
UPDATE embedding_tasks
SET status = CASE WHEN attempts < max_attempts THEN 'pending' ELSE 'failed' END,
    scheduled_at = CASE WHEN attempts < max_attempts THEN $2 ELSE scheduled_at END,
    error_message = $3
WHERE status = 'processing' AND processed_at < $1
RETURNING status;`

	var res model.StuckResult
	rows, err := queryRows(ctx, r.pool, repository.NoTX, q, startedBefore, now, StuckTaskError)
	if err != nil {
		return res, err
	}
	defer rows.Close()
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			return res, domain.ErrReadDatabaseRow
		}
		if model.TaskStatus(st) == model.TaskStatusPending {
			res.Requeued++
		} else {
			res.Failed++
		}
	}
	return res, rows.Err()
}

// StuckTaskError is recorded on tasks reclaimed by the stuck sweep.
const StuckTaskError = "task exceeded maximum processing time"

func (r *embeddingTaskRepo) CountByStatusPriority(ctx context.Context) ([]model.StatusPriorityCount, error) {
	defer observe("task_count", time.Now())
	rows, err := queryRows(ctx, r.pool, repository.NoTX,
		`SELECT status, priority, COUNT(*) FROM embedding_tasks GROUP BY status, priority;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.StatusPriorityCount
	for rows.Next() {
		var st, pr string
		var n int
		if err := rows.Scan(&st, &pr, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, model.StatusPriorityCount{Status: model.TaskStatus(st), Priority: model.TaskPriority(pr), Count: n})
	}
	return out, rows.Err()
}

func (r *embeddingTaskRepo) HasActiveTask(ctx context.Context, articleID string) (bool, error) {
	defer observe("task_has_active", time.Now())
	row, err := pickRow(ctx, r.pool, repository.NoTX, `
SELECT EXISTS (
  SELECT 1 FROM embedding_tasks
  WHERE article_id = $1 AND status IN ('pending', 'processing')
);`, articleID)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := row.Scan(&ok); err != nil {
		return false, domain.ErrReadDatabaseRow
	}
	return ok, nil
}

func (r *embeddingTaskRepo) ArticleTaskStates(ctx context.Context) (map[string]model.ArticleTaskState, error) {
	defer observe("task_article_states", time.Now())
	const q = `
SELECT DISTINCT ON (article_id)
  article_id, status, attempts, max_attempts, error_message,
  bool_or(status = 'completed') OVER (PARTITION BY article_id) AS has_completed
FROM embedding_tasks
ORDER BY article_id, created_at DESC;`
	rows, err := queryRows(ctx, r.pool, repository.NoTX, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]model.ArticleTaskState)
	for rows.Next() {
		var s model.ArticleTaskState
		var st string
		if err := rows.Scan(&s.ArticleID, &st, &s.LastAttempts, &s.LastMaxAttempts, &s.LastError, &s.HasCompleted); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		s.LastStatus = model.TaskStatus(st)
		out[s.ArticleID] = s
	}
	return out, rows.Err()
}

func (r *embeddingTaskRepo) ListByOperationID(ctx context.Context, operationID string) ([]*model.EmbeddingTask, error) {
	defer observe("task_list_operation", time.Now())
	rows, err := queryRows(ctx, r.pool, repository.NoTX,
		`SELECT `+taskColumns+` FROM embedding_tasks WHERE metadata->>'operationId' = $1 ORDER BY created_at;`,
		operationID)
	if err != nil {
		return nil, err
	}
	return collectTasks(rows)
}

func scanTask(row pgx.Row) (*model.EmbeddingTask, error) {
	var (
		t                 model.EmbeddingTask
		op, prio, st      string
		processed, compAt *time.Time
	)
	err := row.Scan(&t.ID, &t.ArticleID, &t.Slug, &op, &prio, &st, &t.Attempts, &t.MaxAttempts,
		&t.CreatedAt, &t.ScheduledAt, &processed, &compAt, &t.ErrorMessage, &t.Metadata)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	t.Operation = model.TaskOperation(op)
	t.Priority = model.TaskPriority(prio)
	t.Status = model.TaskStatus(st)
	t.ProcessedAt = processed
	t.CompletedAt = compAt
	return &t, nil
}

func collectTasks(rows pgx.Rows) ([]*model.EmbeddingTask, error) {
	defer rows.Close()
	var out []*model.EmbeddingTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
