package monitoring

import (
	"strings"
	"testing"
	"time"
)

func TestMetricsCollectorSummary(t *testing.T) {
	mc := NewMetricsCollector()
	mc.IncrCounter(MetricPredictions, 1, nil)
	mc.IncrCounter(MetricPredictions, 1, nil)
	mc.SetGauge(MetricTrainingRows, 714, nil)
	mc.ObserveDuration(MetricPredictionLatency, 1500*time.Microsecond, nil)

	summary, err := mc.GetMetricSummary(MetricPredictions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Count != 2 || summary.Sum != 2 || summary.Type != MetricTypeCounter {
		t.Errorf("unexpected counter summary: %+v", summary)
	}

	latency, err := mc.GetMetricSummary(MetricPredictionLatency)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latency.Latest != 1.5 {
		t.Errorf("expected 1.5ms, got %v", latency.Latest)
	}

	if _, err := mc.GetMetricSummary("unknown"); err == nil {
		t.Error("expected an error for an unknown metric")
	}
	if got := len(mc.Summaries()); got != 3 {
		t.Errorf("expected 3 summaries, got %d", got)
	}
}

func TestMetricsCollectorHistoryLimit(t *testing.T) {
	mc := NewMetricsCollector()
	for i := 0; i < historyLimit+50; i++ {
		mc.SetGauge("g", float64(i), nil)
	}
	history, err := mc.GetMetric("g")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != historyLimit {
		t.Fatalf("expected %d samples, got %d", historyLimit, len(history))
	}
	if history[len(history)-1].Value != float64(historyLimit+49) {
		t.Errorf("expected the newest sample last, got %v", history[len(history)-1].Value)
	}
}

func TestExportPrometheus(t *testing.T) {
	mc := NewMetricsCollector()
	mc.IncrCounter(MetricCacheHits, 1, nil)
	mc.IncrCounter(MetricCacheHits, 1, nil)
	mc.SetGauge(MetricTrainingRows, 714, nil)

	out := mc.ExportPrometheus()
	for _, want := range []string{
		"# TYPE prediction_cache_hits_total counter\nprediction_cache_hits_total 2\n",
		"model_training_rows 714\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestNilCollector(t *testing.T) {
	var mc *MetricsCollector
	mc.IncrCounter(MetricPredictions, 1, nil)
	if len(mc.Summaries()) != 0 {
		t.Error("nil collector should have no summaries")
	}
}
