package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		tasksEnqueuedTotal,
		tasksProcessedTotal,
		taskProcessingMs,
		queueDepth,
		tasksRetriedTotal,
		stuckRecoveredTotal,
		retentionDeletedTotal,
		workerRunning,
		workerHeartbeat,
	)
}

var (
	tasksEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_tasks_enqueued_total",
			Help: "Embedding tasks enqueued, by priority and operation.",
		},
		[]string{"priority", "operation"},
	)

	tasksProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_tasks_processed_total",
			Help: "Embedding tasks processed by the worker, labeled by outcome.",
		},
		[]string{"status"}, // 'completed', 'failed', 'terminal'
	)

	taskProcessingMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "embedding_task_processing_ms",
			Help:    "Wall time spent processing one task in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
		[]string{"operation"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "embedding_queue_tasks",
			Help: "Current number of tasks in the queue by status.",
		},
		[]string{"status"},
	)

	tasksRetriedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "embedding_tasks_retried_total",
			Help: "Failed tasks moved back to pending by the retry sweep.",
		},
	)

	stuckRecoveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_stuck_tasks_recovered_total",
			Help: "Tasks reclaimed from processing by the stuck-task sweep.",
		},
		[]string{"outcome"}, // 'requeued', 'failed'
	)

	retentionDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_retention_deleted_total",
			Help: "Rows deleted by retention sweeps.",
		},
		[]string{"kind"}, // 'tasks', 'audit_logs', 'metrics'
	)

	workerRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "embedding_worker_running",
			Help: "1 while the embedding worker loop is running.",
		},
	)

	workerHeartbeat = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "embedding_worker_heartbeat_timestamp_seconds",
			Help: "Unix time of the last worker heartbeat.",
		},
	)
)

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func IncTaskEnqueued(priority, operation string) {
	tasksEnqueuedTotal.WithLabelValues(norm(priority), norm(operation)).Inc()
}

func IncTaskProcessed(status string) {
	tasksProcessedTotal.WithLabelValues(norm(status)).Inc()
}

func ObserveTaskProcessing(operation string, ms float64) {
	taskProcessingMs.WithLabelValues(norm(operation)).Observe(ms)
}

func SetQueueDepth(pending, processing, completed, failed int) {
	queueDepth.WithLabelValues("pending").Set(float64(pending))
	queueDepth.WithLabelValues("processing").Set(float64(processing))
	queueDepth.WithLabelValues("completed").Set(float64(completed))
	queueDepth.WithLabelValues("failed").Set(float64(failed))
}

func AddTasksRetried(n int) { tasksRetriedTotal.Add(float64(n)) }

func AddStuckRecovered(requeued, failed int) {
	stuckRecoveredTotal.WithLabelValues("requeued").Add(float64(requeued))
	stuckRecoveredTotal.WithLabelValues("failed").Add(float64(failed))
}

func AddRetentionDeleted(kind string, n int) {
	retentionDeletedTotal.WithLabelValues(norm(kind)).Add(float64(n))
}

func SetWorkerRunning(running bool) {
	if running {
		workerRunning.Set(1)
		return
	}
	workerRunning.Set(0)
}

func SetWorkerHeartbeat(unixSeconds float64) { workerHeartbeat.Set(unixSeconds) }
