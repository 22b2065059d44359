package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType is the kind of a recorded sample.
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// Names of the metrics recorded by the predictor and the HTTP layer.
const (
	MetricPredictions       = "predictions_total"
	MetricPredictionLatency = "prediction_latency_ms"
	MetricCacheHits         = "prediction_cache_hits_total"
	MetricCacheMisses       = "prediction_cache_misses_total"
	MetricFitDuration       = "model_fit_duration_ms"
	MetricFitIterations     = "model_fit_iterations"
	MetricTrainingRows      = "model_training_rows"
	MetricReloads           = "model_reloads_total"
	MetricReloadFailures    = "model_reload_failures_total"
	MetricHTTPRequests      = "http_requests_total"
	MetricHTTPLatency       = "http_request_latency_ms"
)

// historyLimit caps the samples kept per metric name.
const historyLimit = 1000

// Metric is one recorded sample.
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Help      string            `json:"help,omitempty"`
}

// Summary condenses the history of one metric.
type Summary struct {
	Name      string     `json:"name"`
	Type      MetricType `json:"type"`
	Count     int        `json:"count"`
	Sum       float64    `json:"sum"`
	Latest    float64    `json:"latest"`
	Min       float64    `json:"min"`
	Max       float64    `json:"max"`
	Average   float64    `json:"average"`
	Timestamp time.Time  `json:"timestamp"`
}

// MetricsCollector keeps a bounded in-memory history per metric name.
// A nil *MetricsCollector is valid and records nothing.
type MetricsCollector struct {
	metrics     map[string][]*Metric
	metricsLock sync.RWMutex

	startTime time.Time
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics:   make(map[string][]*Metric),
		startTime: time.Now(),
	}
}

// Run samples runtime gauges every interval until ctx is done.
func (mc *MetricsCollector) Run(ctx context.Context, interval time.Duration) {
	if mc == nil {
		return
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mc.collectRuntimeMetrics()
		}
	}
}

// RecordMetric appends a sample, stamping it with the current time.
func (mc *MetricsCollector) RecordMetric(metric *Metric) {
	if mc == nil {
		return
	}
	mc.metricsLock.Lock()
	defer mc.metricsLock.Unlock()

	metric.Timestamp = time.Now()
	history := append(mc.metrics[metric.Name], metric)
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	mc.metrics[metric.Name] = history
}

// GetMetric returns a copy of the history of name.
func (mc *MetricsCollector) GetMetric(name string) ([]*Metric, error) {
	if mc == nil {
		return nil, fmt.Errorf("metric %s not found", name)
	}
	mc.metricsLock.RLock()
	defer mc.metricsLock.RUnlock()

	metrics, ok := mc.metrics[name]
	if !ok {
		return nil, fmt.Errorf("metric %s not found", name)
	}

	result := make([]*Metric, len(metrics))
	for i, m := range metrics {
		metricCopy := *m
		result[i] = &metricCopy
	}
	return result, nil
}

// GetMetricSummary condenses the history of name.
func (mc *MetricsCollector) GetMetricSummary(name string) (Summary, error) {
	metrics, err := mc.GetMetric(name)
	if err != nil {
		return Summary{}, err
	}
	return summarize(name, metrics), nil
}

// Summaries condenses every recorded metric, keyed by name.
func (mc *MetricsCollector) Summaries() map[string]Summary {
	result := make(map[string]Summary)
	if mc == nil {
		return result
	}
	mc.metricsLock.RLock()
	defer mc.metricsLock.RUnlock()

	for name, metrics := range mc.metrics {
		result[name] = summarize(name, metrics)
	}
	return result
}

func summarize(name string, metrics []*Metric) Summary {
	summary := Summary{Name: name, Count: len(metrics)}
	if len(metrics) == 0 {
		return summary
	}
	last := metrics[len(metrics)-1]
	summary.Type = last.Type
	summary.Latest = last.Value
	summary.Timestamp = last.Timestamp
	summary.Min = metrics[0].Value
	summary.Max = metrics[0].Value
	for _, m := range metrics {
		summary.Sum += m.Value
		if m.Value < summary.Min {
			summary.Min = m.Value
		}
		if m.Value > summary.Max {
			summary.Max = m.Value
		}
	}
	summary.Average = summary.Sum / float64(len(metrics))
	return summary
}

func (mc *MetricsCollector) collectRuntimeMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	mc.SetGauge("memory_heap_alloc", float64(m.HeapAlloc), nil)
	mc.SetGauge("memory_heap_sys", float64(m.HeapSys), nil)
	mc.SetGauge("system_goroutines", float64(runtime.NumGoroutine()), nil)
}

// IncrCounter records an increment of value.
func (mc *MetricsCollector) IncrCounter(name string, value float64, labels map[string]string) {
	mc.RecordMetric(&Metric{
		Name:   name,
		Type:   MetricTypeCounter,
		Value:  value,
		Labels: labels,
	})
}

// SetGauge records the current value of a gauge.
func (mc *MetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	mc.RecordMetric(&Metric{
		Name:   name,
		Type:   MetricTypeGauge,
		Value:  value,
		Labels: labels,
	})
}

// ObserveDuration records d in milliseconds as a histogram sample.
func (mc *MetricsCollector) ObserveDuration(name string, d time.Duration, labels map[string]string) {
	mc.RecordMetric(&Metric{
		Name:   name,
		Type:   MetricTypeHistogram,
		Value:  float64(d.Microseconds()) / 1000,
		Labels: labels,
	})
}

// ExportPrometheus renders the latest sample of every metric in the
// Prometheus text format, ordered by name.
func (mc *MetricsCollector) ExportPrometheus() string {
	summaries := mc.Summaries()
	names := make([]string, 0, len(summaries))
	for name := range summaries {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		s := summaries[name]
		if s.Count == 0 {
			continue
		}
		value := s.Latest
		if s.Type == MetricTypeCounter {
			value = s.Sum
		}
		fmt.Fprintf(&b, "# TYPE %s %s\n", name, s.Type)
		fmt.Fprintf(&b, "%s %g\n", name, value)
	}
	return b.String()
}

func (mc *MetricsCollector) GetUptime() time.Duration {
	if mc == nil {
		return 0
	}
	return time.Since(mc.startTime)
}

// GetSystemStats reports uptime and runtime memory figures.
func (mc *MetricsCollector) GetSystemStats() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"uptime":     mc.GetUptime().String(),
		"goroutines": runtime.NumGoroutine(),
		"memory": map[string]interface{}{
			"alloc":      m.Alloc,
			"sys":        m.Sys,
			"heap_alloc": m.HeapAlloc,
			"heap_inuse": m.HeapInuse,
			"gc_count":   m.NumGC,
		},
		"num_cpu": runtime.NumCPU(),
	}
}
