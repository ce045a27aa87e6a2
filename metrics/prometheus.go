package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exposes a Recorder's running totals as prometheus
// counters and success-rate gauges, for callers who scrape rather than push
// (e.g. wiring orchestrator_orchestrations_total into an existing promhttp.Handler
// instead of, or alongside, the otel meter Recorder already records onto).
type PrometheusCollector struct {
	recorder *Recorder

	orchestrations  *prometheus.Desc
	successRate     *prometheus.Desc
	toolExecutions  *prometheus.Desc
	toolSuccessRate *prometheus.Desc
}

// NewPrometheusCollector wraps recorder for registration with a
// prometheus.Registry.
func NewPrometheusCollector(recorder *Recorder) *PrometheusCollector {
	return &PrometheusCollector{
		recorder: recorder,
		orchestrations: prometheus.NewDesc(
			"orchestrator_orchestrations_total",
			"Total orchestrations run, by outcome.",
			[]string{"outcome"}, nil,
		),
		successRate: prometheus.NewDesc(
			"orchestrator_orchestration_success_rate",
			"Fraction of orchestrations that succeeded.",
			nil, nil,
		),
		toolExecutions: prometheus.NewDesc(
			"orchestrator_tool_executions_total",
			"Total tool executions, by tool name and outcome.",
			[]string{"tool_name", "outcome"}, nil,
		),
		toolSuccessRate: prometheus.NewDesc(
			"orchestrator_tool_success_rate",
			"Fraction of executions that succeeded, by tool name.",
			[]string{"tool_name"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.orchestrations
	ch <- c.successRate
	ch <- c.toolExecutions
	ch <- c.toolSuccessRate
}

// Collect implements prometheus.Collector, rendering the Recorder's current
// Snapshot as a set of point-in-time metric samples.
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.recorder.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.orchestrations, prometheus.CounterValue,
		float64(snap.SuccessfulOrchestrations), "success")
	ch <- prometheus.MustNewConstMetric(c.orchestrations, prometheus.CounterValue,
		float64(snap.FailedOrchestrations), "failure")
	ch <- prometheus.MustNewConstMetric(c.successRate, prometheus.GaugeValue, snap.SuccessRate)

	for name, ts := range snap.ToolMetrics {
		ch <- prometheus.MustNewConstMetric(c.toolExecutions, prometheus.CounterValue,
			float64(ts.Successful), name, "success")
		ch <- prometheus.MustNewConstMetric(c.toolExecutions, prometheus.CounterValue,
			float64(ts.Failed), name, "failure")
		ch <- prometheus.MustNewConstMetric(c.toolSuccessRate, prometheus.GaugeValue, ts.SuccessRate, name)
	}
}
