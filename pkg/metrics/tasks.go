package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TaskMetrics records background task throughput and latency.
type TaskMetrics struct {
	enqueued  *prometheus.CounterVec
	processed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

const (
	TaskOutcomeSuccess = "success"
	TaskOutcomeFailure = "failure"
	TaskOutcomeSkipped = "skipped"
)

// NewTaskMetrics registers the task metrics on the provided registerer.
func NewTaskMetrics(reg prometheus.Registerer) *TaskMetrics {
	if reg == nil {
		return &TaskMetrics{}
	}
	enqueued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tasks_enqueued_total",
		Help: "Background tasks handed to the queue.",
	}, []string{"type"})
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tasks_processed_total",
		Help: "Background tasks processed, by outcome.",
	}, []string{"type", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "task_duration_seconds",
		Help:    "Duration of background task handlers in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
	reg.MustRegister(enqueued, processed, duration)
	return &TaskMetrics{
		enqueued:  enqueued,
		processed: processed,
		duration:  duration,
	}
}

// IncEnqueued counts a task handed to the queue.
func (m *TaskMetrics) IncEnqueued(taskType string) {
	if m == nil || m.enqueued == nil {
		return
	}
	m.enqueued.WithLabelValues(normalizeLabel(taskType)).Inc()
}

// ObserveProcessed records the handler outcome and duration.
func (m *TaskMetrics) ObserveProcessed(taskType, outcome string, duration time.Duration) {
	if m == nil || m.processed == nil {
		return
	}
	label := normalizeLabel(taskType)
	m.processed.WithLabelValues(label, outcome).Inc()
	m.duration.WithLabelValues(label).Observe(duration.Seconds())
}
