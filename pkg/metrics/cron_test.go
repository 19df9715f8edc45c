package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsTalliesRunsAndItems(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewCronJobMetrics(reg)
	metrics.ObserveDuration("checkout-expiry", 250*time.Millisecond)
	metrics.IncSuccess("checkout-expiry")
	metrics.IncFailure("price-drift-sweep")
	metrics.AddItems("checkout-expiry", CronItemScanned, 5)
	metrics.AddItems("checkout-expiry", CronItemCleared, 3)
	metrics.AddItems("price-drift-sweep", CronItemDrifted, 2)
	metrics.AddItems("price-drift-sweep", CronItemDrifted, 0)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	cases := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"cron_job_runs_total", map[string]string{"job": "checkout-expiry", "result": "success"}, 1},
		{"cron_job_runs_total", map[string]string{"job": "price-drift-sweep", "result": "failure"}, 1},
		{"cron_job_items_total", map[string]string{"job": "checkout-expiry", "outcome": CronItemScanned}, 5},
		{"cron_job_items_total", map[string]string{"job": "checkout-expiry", "outcome": CronItemCleared}, 3},
		{"cron_job_items_total", map[string]string{"job": "price-drift-sweep", "outcome": CronItemDrifted}, 2},
	}
	for _, tc := range cases {
		got, err := fetchCounterByLabels(mfs, tc.name, tc.labels)
		if err != nil {
			t.Fatalf("fetch %s %v: %v", tc.name, tc.labels, err)
		}
		if got != tc.want {
			t.Fatalf("%s %v: expected %v, got %v", tc.name, tc.labels, tc.want, got)
		}
	}

	if got, err := fetchHistogramSum(mfs, "cron_job_duration_seconds", "job", "checkout-expiry"); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestCronJobMetricsWithoutRegistererIsNoop(t *testing.T) {
	var nilMetrics *CronJobMetrics
	nilMetrics.AddItems("checkout-expiry", CronItemCleared, 1)
	nilMetrics.IncSuccess("checkout-expiry")

	metrics := NewCronJobMetrics(nil)
	metrics.AddItems("checkout-expiry", CronItemCleared, 1)
	metrics.ObserveDuration("", time.Second)
	metrics.IncFailure("")
}

func fetchCounterByLabels(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		matched := true
		for label, value := range labels {
			if !matchesLabel(metric.GetLabel(), label, value) {
				matched = false
				break
			}
		}
		if matched {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing labels %v", name, labels)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
