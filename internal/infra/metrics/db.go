package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(dbPoolStats, dbQueryMs) }

var (
	dbPoolStats = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "db_pool_stats",
			Help: "Current state of the database connection pool.",
		},
		[]string{"state"}, // 'total', 'idle', 'in_use'
	)

	dbQueryMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_queue_query_ms",
			Help:    "Latency of queue store operations in milliseconds.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"op"},
	)
)

func SetDBPoolStats(total, idle, inUse int32) {
	dbPoolStats.WithLabelValues("total").Set(float64(total))
	dbPoolStats.WithLabelValues("idle").Set(float64(idle))
	dbPoolStats.WithLabelValues("in_use").Set(float64(inUse))
}

func ObserveDBQuery(op string, ms float64) {
	dbQueryMs.WithLabelValues(norm(op)).Observe(ms)
}
