package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Job runs partitioned by job name and result (ok, error)
	jobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_job_runs_total",
			Help: "Scheduler job executions",
		},
		[]string{"job", "result"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_job_duration_seconds",
			Help:    "Scheduler job run time",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"job"},
	)

	// Items handled by a job, partitioned by outcome (succeeded, failed, skipped, resumed, completed, sent, retried)
	jobItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_job_items_total",
			Help: "Broadcasts and messages handled by scheduler jobs",
		},
		[]string{"job", "outcome"},
	)

	jobLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scheduler_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run",
		},
		[]string{"job"},
	)
)
