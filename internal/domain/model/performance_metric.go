package model

import "time"

type MetricType string

const (
	MetricTaskProcessingTime      MetricType = "task_processing_time"
	MetricQueueThroughput         MetricType = "queue_throughput"
	MetricWorkerUtilization       MetricType = "worker_utilization"
	MetricErrorRate               MetricType = "error_rate"
	MetricQueueDepth              MetricType = "queue_depth"
	MetricEmbeddingGenerationTime MetricType = "embedding_generation_time"
	MetricDatabaseQueryTime       MetricType = "database_query_time"
	MetricBulkOperationTime       MetricType = "bulk_operation_time"
	MetricMemoryUsage             MetricType = "memory_usage"
)

func (t MetricType) Valid() bool {
	switch t {
	case MetricTaskProcessingTime, MetricQueueThroughput, MetricWorkerUtilization,
		MetricErrorRate, MetricQueueDepth, MetricEmbeddingGenerationTime,
		MetricDatabaseQueryTime, MetricBulkOperationTime, MetricMemoryUsage:
		return true
	}
	return false
}

type MetricUnit string

const (
	UnitMilliseconds   MetricUnit = "ms"
	UnitCount          MetricUnit = "count"
	UnitPercent        MetricUnit = "percent"
	UnitTasksPerMinute MetricUnit = "tasks_per_minute"
	UnitBytes          MetricUnit = "bytes"
)

type PerformanceMetric struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	MetricType  MetricType        `json:"metricType"`
	Value       float64           `json:"value"`
	Unit        MetricUnit        `json:"unit"`
	TaskID      string            `json:"taskId,omitempty"`
	ArticleID   string            `json:"articleId,omitempty"`
	OperationID string            `json:"operationId,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type MetricFilter struct {
	From        *time.Time
	To          *time.Time
	MetricType  MetricType
	TaskID      string
	OperationID string
}

// MetricStats aggregates one metric type over a window.
type MetricStats struct {
	MetricType MetricType `json:"metricType"`
	Count      int        `json:"count"`
	Average    float64    `json:"average"`
	Min        float64    `json:"min"`
	Max        float64    `json:"max"`
}

// PerformanceSummary composes several metric types into one report.
type PerformanceSummary struct {
	From                    time.Time `json:"from"`
	To                      time.Time `json:"to"`
	TotalTasksProcessed     int       `json:"totalTasksProcessed"`
	AverageProcessingTimeMs float64   `json:"averageProcessingTimeMs"`
	AverageEmbeddingTimeMs  float64   `json:"averageEmbeddingTimeMs"`
	AverageErrorRate        float64   `json:"averageErrorRate"`
	AverageThroughput       float64   `json:"averageThroughput"`
	AverageQueueDepth       float64   `json:"averageQueueDepth"`
	PeakQueueDepth          float64   `json:"peakQueueDepth"`
	AverageUtilization      float64   `json:"averageUtilization"`
}
