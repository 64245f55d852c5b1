package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(httpRequestsTotal, httpRequestMs) }

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_http_requests_total",
			Help: "Admin API requests by route pattern, method and status code.",
		},
		[]string{"route", "method", "code"},
	)

	httpRequestMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "admin_http_request_ms",
			Help:    "Admin API latency in milliseconds by route pattern.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
		[]string{"route"},
	)
)

func ObserveHTTPRequest(route, method string, code int, ms float64) {
	if route == "" {
		route = "unmatched"
	}
	httpRequestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	httpRequestMs.WithLabelValues(route).Observe(ms)
}
