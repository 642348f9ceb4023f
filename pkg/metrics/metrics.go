package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are registered with the default registry and served by the
// status API on /metrics.
var (
	// --- Task Metrics ---

	// TasksSubmitted counts accepted submissions per resource.
	TasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stagerun",
			Subsystem: "tasks",
			Name:      "submitted_total",
			Help:      "Total number of tasks submitted",
		},
		[]string{"resource"},
	)

	// TasksFinished counts tasks reaching a terminal status.
	TasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stagerun",
			Subsystem: "tasks",
			Name:      "finished_total",
			Help:      "Total number of tasks by terminal status",
		},
		[]string{"resource", "status"},
	)

	// TasksRunning tracks commands currently executing.
	TasksRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stagerun",
			Subsystem: "tasks",
			Name:      "running",
			Help:      "Number of task commands currently executing",
		},
		[]string{"resource"},
	)

	// TaskDuration tracks command run time.
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stagerun",
			Subsystem: "tasks",
			Name:      "duration_seconds",
			Help:      "Duration of task commands in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 15), // 0.1s to ~1.8h
		},
		[]string{"resource", "status"},
	)

	// --- Staging Metrics ---

	// StagedBytes counts bytes moved between the submit host and resources.
	StagedBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stagerun",
			Subsystem: "staging",
			Name:      "bytes_total",
			Help:      "Total bytes staged, by direction",
		},
		[]string{"resource", "direction"},
	)

	// StagingFailures counts failed transfers.
	StagingFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stagerun",
			Subsystem: "staging",
			Name:      "failures_total",
			Help:      "Total number of failed staging transfers",
		},
		[]string{"resource", "direction"},
	)

	// StagingDuration tracks how long one task's staging phase takes.
	StagingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stagerun",
			Subsystem: "staging",
			Name:      "duration_seconds",
			Help:      "Duration of a staging phase in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 15),
		},
		[]string{"resource", "direction"},
	)
)

// RecordFinished records metrics for a task that reached a terminal status.
func RecordFinished(resource, status string, durationSeconds float64) {
	TasksFinished.WithLabelValues(resource, status).Inc()
	TaskDuration.WithLabelValues(resource, status).Observe(durationSeconds)
}

// RecordStaging records one staging phase.
func RecordStaging(resource, direction string, bytes int64, durationSeconds float64, err error) {
	if err != nil {
		StagingFailures.WithLabelValues(resource, direction).Inc()
	}
	StagedBytes.WithLabelValues(resource, direction).Add(float64(bytes))
	StagingDuration.WithLabelValues(resource, direction).Observe(durationSeconds)
}
