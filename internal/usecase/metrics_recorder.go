package usecase

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"notes-embedding-worker/internal/domain/model"
	"notes-embedding-worker/internal/domain/ports/repository"
	"notes-embedding-worker/internal/infra/metrics"
)

// Compile-time check
var _ MetricsRecorder = (*metricsRecorder)(nil)

// MetricContext carries the optional correlation fields of a sample.
type MetricContext struct {
	TaskID      string
	ArticleID   string
	OperationID string
	Metadata    map[string]string
}

// MetricsRecorder stores typed performance samples and mirrors the latest
// value of each type to Prometheus. Write failures are logged, not returned.
type MetricsRecorder interface {
	Record(ctx context.Context, metricType model.MetricType, value float64, unit model.MetricUnit, mc MetricContext)

	RecordTaskProcessingTime(ctx context.Context, task *model.EmbeddingTask, took time.Duration)
	RecordEmbeddingGenerationTime(ctx context.Context, task *model.EmbeddingTask, took time.Duration, chunks int)
	RecordQueueDepth(ctx context.Context, depth int)
	RecordWorkerUtilization(ctx context.Context, percent float64)
	RecordErrorRate(ctx context.Context, percent float64)
	RecordThroughput(ctx context.Context, tasksPerMinute float64)
	RecordBulkOperationTime(ctx context.Context, operationID string, took time.Duration)
	RecordDatabaseQueryTime(ctx context.Context, op string, took time.Duration)
	RecordMemoryUsage(ctx context.Context, bytes uint64)

	Query(ctx context.Context, filter model.MetricFilter, page, pageSize int) (*model.Page[*model.PerformanceMetric], error)
	Stats(ctx context.Context, metricType model.MetricType, from, to time.Time) (*model.MetricStats, error)
	Summary(ctx context.Context, from, to time.Time) (*model.PerformanceSummary, error)
	Purge(ctx context.Context, olderThan time.Duration) (int, error)
}

type metricsRecorder struct {
	repo repository.PerformanceMetricRepository
	log  zerolog.Logger
	now  Clock
}

func NewMetricsRecorder(repo repository.PerformanceMetricRepository, logger *zerolog.Logger, now Clock) *metricsRecorder {
	if now == nil {
		now = systemClock
	}
	return &metricsRecorder{
		repo: repo,
		log:  logger.With().Str("component", "perf_metrics").Logger(),
		now:  now,
	}
}

func (m *metricsRecorder) Record(ctx context.Context, metricType model.MetricType, value float64, unit model.MetricUnit, mc MetricContext) {
	sample := &model.PerformanceMetric{
		ID:          uuid.NewString(),
		Timestamp:   m.now(),
		MetricType:  metricType,
		Value:       value,
		Unit:        unit,
		TaskID:      mc.TaskID,
		ArticleID:   mc.ArticleID,
		OperationID: mc.OperationID,
		Metadata:    mc.Metadata,
	}
	metrics.SetPerformanceSample(string(metricType), string(unit), value)
	if err := m.repo.Insert(ctx, sample); err != nil {
		m.log.Warn().Err(err).Str("metric_type", string(metricType)).Msg("metric write failed")
	}
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }

func (m *metricsRecorder) RecordTaskProcessingTime(ctx context.Context, t *model.EmbeddingTask, took time.Duration) {
	m.Record(ctx, model.MetricTaskProcessingTime, ms(took), model.UnitMilliseconds, MetricContext{
		TaskID: t.ID, ArticleID: t.ArticleID, OperationID: t.OperationID(),
		Metadata: map[string]string{"operation": string(t.Operation)},
	})
}

func (m *metricsRecorder) RecordEmbeddingGenerationTime(ctx context.Context, t *model.EmbeddingTask, took time.Duration, chunks int) {
	m.Record(ctx, model.MetricEmbeddingGenerationTime, ms(took), model.UnitMilliseconds, MetricContext{
		TaskID: t.ID, ArticleID: t.ArticleID, OperationID: t.OperationID(),
		Metadata: map[string]string{"chunks": strconv.Itoa(chunks)},
	})
}

func (m *metricsRecorder) RecordQueueDepth(ctx context.Context, depth int) {
	m.Record(ctx, model.MetricQueueDepth, float64(depth), model.UnitCount, MetricContext{})
}

func (m *metricsRecorder) RecordWorkerUtilization(ctx context.Context, percent float64) {
	m.Record(ctx, model.MetricWorkerUtilization, percent, model.UnitPercent, MetricContext{})
}

func (m *metricsRecorder) RecordErrorRate(ctx context.Context, percent float64) {
	m.Record(ctx, model.MetricErrorRate, percent, model.UnitPercent, MetricContext{})
}

func (m *metricsRecorder) RecordThroughput(ctx context.Context, tasksPerMinute float64) {
	m.Record(ctx, model.MetricQueueThroughput, tasksPerMinute, model.UnitTasksPerMinute, MetricContext{})
}

func (m *metricsRecorder) RecordBulkOperationTime(ctx context.Context, operationID string, took time.Duration) {
	m.Record(ctx, model.MetricBulkOperationTime, ms(took), model.UnitMilliseconds, MetricContext{OperationID: operationID})
}

func (m *metricsRecorder) RecordDatabaseQueryTime(ctx context.Context, op string, took time.Duration) {
	m.Record(ctx, model.MetricDatabaseQueryTime, ms(took), model.UnitMilliseconds, MetricContext{
		Metadata: map[string]string{"op": op},
	})
}

func (m *metricsRecorder) RecordMemoryUsage(ctx context.Context, bytes uint64) {
	m.Record(ctx, model.MetricMemoryUsage, float64(bytes), model.UnitBytes, MetricContext{})
}

func (m *metricsRecorder) Query(ctx context.Context, filter model.MetricFilter, page, pageSize int) (*model.Page[*model.PerformanceMetric], error) {
	return m.repo.Query(ctx, filter, page, pageSize)
}

func (m *metricsRecorder) Stats(ctx context.Context, metricType model.MetricType, from, to time.Time) (*model.MetricStats, error) {
	return m.repo.Stats(ctx, metricType, from, to)
}

func (m *metricsRecorder) Summary(ctx context.Context, from, to time.Time) (*model.PerformanceSummary, error) {
	stat := func(t model.MetricType) (*model.MetricStats, error) { return m.repo.Stats(ctx, t, from, to) }

	proc, err := stat(model.MetricTaskProcessingTime)
	if err != nil {
		return nil, err
	}
	emb, err := stat(model.MetricEmbeddingGenerationTime)
	if err != nil {
		return nil, err
	}
	errRate, err := stat(model.MetricErrorRate)
	if err != nil {
		return nil, err
	}
	thr, err := stat(model.MetricQueueThroughput)
	if err != nil {
		return nil, err
	}
	depth, err := stat(model.MetricQueueDepth)
	if err != nil {
		return nil, err
	}
	util, err := stat(model.MetricWorkerUtilization)
	if err != nil {
		return nil, err
	}

	return &model.PerformanceSummary{
		From:                    from,
		To:                      to,
		TotalTasksProcessed:     proc.Count,
		AverageProcessingTimeMs: proc.Average,
		AverageEmbeddingTimeMs:  emb.Average,
		AverageErrorRate:        errRate.Average,
		AverageThroughput:       thr.Average,
		AverageQueueDepth:       depth.Average,
		PeakQueueDepth:          depth.Max,
		AverageUtilization:      util.Average,
	}, nil
}

func (m *metricsRecorder) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	return m.repo.DeleteOlderThan(ctx, m.now().Add(-olderThan))
}
