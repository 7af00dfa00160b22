package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Recipient outcomes stamped by workers, partitioned by outcome (sent, failed)
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_messages_total",
			Help: "Broadcast recipients resolved by dispatch workers",
		},
		[]string{"outcome"},
	)

	// Provider send latency, one observation per attempt
	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_send_duration_seconds",
			Help:    "Latency of WhatsApp send calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	// Batch lifecycle events (claimed, completed, lease_lost)
	batchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_batches_total",
			Help: "Broadcast batch claims and completions",
		},
		[]string{"event"},
	)

	// Queue traffic (enqueued, enqueue_failed, dequeued, decode_failed)
	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_tasks_total",
			Help: "Dispatch queue task events",
		},
		[]string{"event"},
	)

	broadcastsCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_broadcasts_completed_total",
			Help: "Broadcasts moved to completed",
		},
	)

	busyWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_busy_workers",
			Help: "Number of consumers currently running a batch worker",
		},
	)
)
