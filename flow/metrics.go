package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments the engine with Prometheus collectors. A nil
// *Metrics is valid and records nothing, so instrumentation stays
// optional without call-site guards.
type Metrics struct {
	executionsTotal   *prometheus.CounterVec
	executionDuration prometheus.Histogram
	nodeLatency       *prometheus.HistogramVec
	retriesTotal      prometheus.Counter
	inflight          prometheus.Gauge
}

// NewMetrics creates the engine collectors and registers them with reg
// (pass prometheus.DefaultRegisterer for the global registry).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		executionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowengine",
			Name:      "executions_total",
			Help:      "Completed executions by terminal status.",
		}, []string{"status"}),
		executionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flowengine",
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock duration of completed executions.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		nodeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowengine",
			Name:      "node_latency_seconds",
			Help:      "Per-attempt node execution latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"node_type", "status"}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowengine",
			Name:      "retries_total",
			Help:      "Retry attempts scheduled by the reliability manager.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowengine",
			Name:      "executions_inflight",
			Help:      "Executions currently running.",
		}),
	}

	reg.MustRegister(m.executionsTotal, m.executionDuration, m.nodeLatency, m.retriesTotal, m.inflight)
	return m
}

func (m *Metrics) executionStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *Metrics) executionFinished(status Status, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	m.executionsTotal.WithLabelValues(string(status)).Inc()
	m.executionDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) nodeExecuted(nodeType string, status NodeStatus, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.nodeLatency.WithLabelValues(nodeType, string(status)).Observe(elapsed.Seconds())
}

func (m *Metrics) retryScheduled() {
	if m == nil {
		return
	}
	m.retriesTotal.Inc()
}
