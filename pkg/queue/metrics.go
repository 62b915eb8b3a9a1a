package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for queue operations.
var (
	queueRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_queue_requests_total",
		Help: "Total dispatched requests by request kind and outcome",
	}, []string{"kind", "outcome"})

	queueRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roster_queue_request_duration_seconds",
		Help:    "Duration of dispatched requests in seconds by request kind",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"kind"})

	queueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roster_queue_length",
		Help: "Number of requests waiting in the queue",
	})

	queueRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_queue_retries_total",
		Help: "Total number of retry attempts by error kind",
	}, []string{"error_kind"})

	queueRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roster_queue_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error kind",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_kind"})

	queueRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_queue_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error kind",
	}, []string{"error_kind"})
)
