package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestTaskMetricsCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewTaskMetrics(reg)
	m.IncEnqueued("cache.evict")
	m.IncEnqueued("cache.evict")
	m.ObserveProcessed("cache.evict", TaskOutcomeSuccess, 10*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "tasks_enqueued_total", "type", "cache.evict"); err != nil {
		t.Fatalf("fetch enqueued: %v", err)
	} else if got != 2 {
		t.Fatalf("expected enqueued=2, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "tasks_processed_total", "outcome", TaskOutcomeSuccess); err != nil {
		t.Fatalf("fetch processed: %v", err)
	} else if got != 1 {
		t.Fatalf("expected processed=1, got %f", got)
	}
	if got, err := fetchHistogramSum(mfs, "task_duration_seconds", "type", "cache.evict"); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestTaskMetricsNilSafe(t *testing.T) {
	var m *TaskMetrics
	m.IncEnqueued("x")
	m.ObserveProcessed("x", TaskOutcomeFailure, time.Second)
	NewTaskMetrics(nil).IncEnqueued("x")
}
