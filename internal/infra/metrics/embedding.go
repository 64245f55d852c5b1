package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(embeddingCallsLatencyMs, embeddingChunksTotal, performanceSample)
}

var (
	embeddingCallsLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "embedding_calls_latency_ms",
			Help:    "Embedding provider call latency distribution in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000},
		},
		[]string{"provider", "model", "success"},
	)

	embeddingChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_chunks_total",
			Help: "Chunks embedded and upserted into the vector index, per model.",
		},
		[]string{"model"},
	)

	performanceSample = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "embedding_performance_metric",
			Help: "Last recorded value of each performance metric type.",
		},
		[]string{"metric_type", "unit"},
	)
)

func ObserveEmbeddingCall(provider, model string, latencyMs int, success bool) {
	embeddingCallsLatencyMs.WithLabelValues(norm(provider), norm(model), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}

func AddChunksEmbedded(model string, n int) {
	embeddingChunksTotal.WithLabelValues(norm(model)).Add(float64(n))
}

func SetPerformanceSample(metricType, unit string, value float64) {
	performanceSample.WithLabelValues(norm(metricType), norm(unit)).Set(value)
}
