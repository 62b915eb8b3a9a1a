package classify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	classifiedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_classified_errors_total",
		Help: "Total classified errors by kind",
	}, []string{"kind"})

	criticalPersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roster_critical_log_persist_failures_total",
		Help: "Total failed writes of the durable critical error log",
	})
)
