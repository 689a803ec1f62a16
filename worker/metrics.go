package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chronos",
		Subsystem: "worker",
		Name:      "jobs_processed_total",
		Help:      "Total execution attempts, labelled by taskType and terminal log status.",
	}, []string{"task_type", "status"})

	jobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chronos",
		Subsystem: "worker",
		Name:      "job_duration_seconds",
		Help:      "End-to-end execution time of a single attempt, in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
	}, []string{"task_type"})

	jobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chronos",
		Subsystem: "worker",
		Name:      "jobs_active",
		Help:      "Jobs this worker is currently executing.",
	})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chronos",
		Subsystem: "worker",
		Name:      "retries_total",
		Help:      "Total retry attempts scheduled after a failed execution.",
	}, []string{"task_type"})

	staleRecoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chronos",
		Subsystem: "worker",
		Name:      "stale_recovered_total",
		Help:      "Jobs reclaimed from a crashed worker's stale lock.",
	})
)
