package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"notes-embedding-worker/internal/domain"
	"notes-embedding-worker/internal/domain/model"
	"notes-embedding-worker/internal/domain/ports/repository"
)

var _ repository.PerformanceMetricRepository = (*performanceMetricRepo)(nil)

type performanceMetricRepo struct {
	pool *pgxpool.Pool
}

func NewPerformanceMetricRepo(pool *pgxpool.Pool) *performanceMetricRepo {
	return &performanceMetricRepo{pool: pool}
}

func (r *performanceMetricRepo) Insert(ctx context.Context, m *model.PerformanceMetric) error {
	defer observe("metric_insert", time.Now())
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	meta, err := marshalMeta(m.Metadata)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO embedding_performance_metrics (id, ts, metric_type, value, unit, task_id, article_id, operation_id, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`
	_, err = execSQL(ctx, r.pool, repository.NoTX, q, m.ID, m.Timestamp, string(m.MetricType), m.Value,
		string(m.Unit), m.TaskID, m.ArticleID, m.OperationID, meta)
	return err
}

func (r *performanceMetricRepo) Query(ctx context.Context, f model.MetricFilter, page, pageSize int) (*model.Page[*model.PerformanceMetric], error) {
	defer observe("metric_query", time.Now())
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
	if f.MetricType != "" {
		add("metric_type = $%d", string(f.MetricType))
	}
	if f.TaskID != "" {
		add("task_id = $%d", f.TaskID)
	}
	if f.OperationID != "" {
		add("operation_id = $%d", f.OperationID)
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	row, err := pickRow(ctx, r.pool, repository.NoTX, `SELECT COUNT(*) FROM embedding_performance_metrics`+cond, args...)
	if err != nil {
		return nil, err
	}
	if err := row.Scan(&total); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}

	args = append(args, pageSize, offset)
	q := fmt.Sprintf(`
SELECT id, ts, metric_type, value, unit, task_id, article_id, operation_id, metadata
FROM embedding_performance_metrics%s
ORDER BY ts DESC
LIMIT $%d OFFSET $%d;`, cond, len(args)-1, len(args))
	rows, err := queryRows(ctx, r.pool, repository.NoTX, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.PerformanceMetric
	for rows.Next() {
		var (
			m         model.PerformanceMetric
			typ, unit string
			meta      []byte
		)
		if err := rows.Scan(&m.ID, &m.Timestamp, &typ, &m.Value, &unit, &m.TaskID, &m.ArticleID,
			&m.OperationID, &meta); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		m.MetricType = model.MetricType(typ)
		m.Unit = model.MetricUnit(unit)
		if m.Metadata, err = unmarshalMeta(meta); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return model.NewPage(out, total, page, pageSize), nil
}

func (r *performanceMetricRepo) Stats(ctx context.Context, metricType model.MetricType, from, to time.Time) (*model.MetricStats, error) {
	defer observe("metric_stats", time.Now())
	const q = `
SELECT COUNT(*), COALESCE(AVG(value), 0), COALESCE(MIN(value), 0), COALESCE(MAX(value), 0)
FROM embedding_performance_metrics
WHERE metric_type = $1 AND ts >= $2 AND ts <= $3;`
	row, err := pickRow(ctx, r.pool, repository.NoTX, q, string(metricType), from, to)
	if err != nil {
		return nil, err
	}
	s := &model.MetricStats{MetricType: metricType}
	if err := row.Scan(&s.Count, &s.Average, &s.Min, &s.Max); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return s, nil
}

func (r *performanceMetricRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	defer observe("metric_delete", time.Now())
	tag, err := execSQL(ctx, r.pool, repository.NoTX, `DELETE FROM embedding_performance_metrics WHERE ts < $1;`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
