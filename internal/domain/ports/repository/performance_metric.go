package repository

import (
	"context"
	"time"

	"notes-embedding-worker/internal/domain/model"
)

type PerformanceMetricRepository interface {
	Insert(ctx context.Context, metric *model.PerformanceMetric) error
	Query(ctx context.Context, filter model.MetricFilter, page, pageSize int) (*model.Page[*model.PerformanceMetric], error)
	Stats(ctx context.Context, metricType model.MetricType, from, to time.Time) (*model.MetricStats, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
