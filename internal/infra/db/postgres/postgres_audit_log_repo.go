package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"notes-embedding-worker/internal/domain"
	"notes-embedding-worker/internal/domain/model"
	"notes-embedding-worker/internal/domain/ports/repository"
)

var _ repository.AuditLogRepository = (*auditLogRepo)(nil)

type auditLogRepo struct {
	pool *pgxpool.Pool
}

func NewAuditLogRepo(pool *pgxpool.Pool) *auditLogRepo {
	return &auditLogRepo{pool: pool}
}

func (r *auditLogRepo) Insert(ctx context.Context, e *model.AuditLogEntry) error {
	defer observe("audit_insert", time.Now())
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	meta, err := marshalMeta(e.Metadata)
	if err != nil {
		return err
	}
	var durMs *int64
	if e.Duration != nil {
		ms := e.Duration.Milliseconds()
		durMs = &ms
	}
	const q = `
INSERT INTO embedding_audit_logs (id, ts, level, category, message, task_id, article_id, operation_id, metadata, duration_ms, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);`
	_, err = execSQL(ctx, r.pool, repository.NoTX, q, e.ID, e.Timestamp, string(e.Level), string(e.Category),
		e.Message, e.TaskID, e.ArticleID, e.OperationID, meta, durMs, e.Error)
	return err
}

func (r *auditLogRepo) Query(ctx context.Context, f model.AuditLogFilter, page, pageSize int) (*model.Page[*model.AuditLogEntry], error) {
	defer observe("audit_query", time.Now())
	page, pageSize, offset := model.NormalizePage(page, pageSize)

	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.From != nil {
		add("ts >= $%d", *f.From)
	}
	if f.To != nil {
		add("ts <= $%d", *f.To)
	}
	if f.Level != "" {
		add("level = $%d", string(f.Level))
	}
	if f.Category != "" {
		add("category = $%d", string(f.Category))
	}
	if f.TaskID != "" {
		add("task_id = $%d", f.TaskID)
	}
	if f.ArticleID != "" {
		add("article_id = $%d", f.ArticleID)
	}
	if f.OperationID != "" {
		add("operation_id = $%d", f.OperationID)
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	row, err := pickRow(ctx, r.pool, repository.NoTX, `SELECT COUNT(*) FROM embedding_audit_logs`+cond, args...)
	if err != nil {
		return nil, err
	}
	if err := row.Scan(&total); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}

	args = append(args, pageSize, offset)
	q := fmt.Sprintf(`
SELECT id, ts, level, category, message, task_id, article_id, operation_id, metadata, duration_ms, error
FROM embedding_audit_logs%s
ORDER BY ts DESC
LIMIT $%d OFFSET $%d;`, cond, len(args)-1, len(args))
	rows, err := queryRows(ctx, r.pool, repository.NoTX, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.AuditLogEntry
	for rows.Next() {
		var (
			e          model.AuditLogEntry
			lvl, cat   string
			meta       []byte
			durationMs *int64
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &lvl, &cat, &e.Message, &e.TaskID, &e.ArticleID,
			&e.OperationID, &meta, &durationMs, &e.Error); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		e.Level = model.LogLevel(lvl)
		e.Category = model.LogCategory(cat)
		if e.Metadata, err = unmarshalMeta(meta); err != nil {
			return nil, err
		}
		if durationMs != nil {
			d := time.Duration(*durationMs) * time.Millisecond
			e.Duration = &d
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return model.NewPage(out, total, page, pageSize), nil
}

func (r *auditLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	defer observe("audit_delete", time.Now())
	tag, err := execSQL(ctx, r.pool, repository.NoTX, `DELETE FROM embedding_audit_logs WHERE ts < $1;`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func marshalMeta(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func unmarshalMeta(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}
