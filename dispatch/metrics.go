package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus-compatible instrumentation for the
// Scheduler, the executor cache and the Post-Processor, grounded in the teacher's
// PrometheusMetrics (graph/metrics.go), renamed from per-run state
// merge metrics to per-dispatch node scheduling metrics.
//
// All metrics are namespaced "dispatcher_".
type Metrics struct {
	inflightNodes prometheus.Gauge
	readyQueue    prometheus.Gauge

	nodeLatency *prometheus.HistogramVec

	executorCacheHits *prometheus.CounterVec
	postprocessOutcomes *prometheus.CounterVec
}

// NewMetrics creates and registers every dispatcher metric against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		inflightNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "dispatcher",
			Name:      "inflight_nodes",
			Help:      "Number of nodes currently executing across all workflows.",
		}),
		readyQueue: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "dispatcher",
			Name:      "ready_queue_depth",
			Help:      "Number of nodes whose dependencies are satisfied but not yet dispatched.",
		}),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dispatcher",
			Name:      "node_latency_seconds",
			Help:      "Node execution duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"status"}),
		executorCacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatcher",
			Name:      "executor_cache_hits_total",
			Help:      "Executor instance cache hits vs misses, by outcome.",
		}, []string{"outcome"}),
		postprocessOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatcher",
			Name:      "postprocess_outcomes_total",
			Help:      "Post-processing pass outcomes, by terminal workflow status.",
		}, []string{"status"}),
	}
}

// ObserveNodeLatency records one node's execution duration.
func (m *Metrics) ObserveNodeLatency(status NodeStatus, seconds float64) {
	if m == nil {
		return
	}
	m.nodeLatency.WithLabelValues(string(status)).Observe(seconds)
}

// SetInflightNodes reports the current in-flight node count.
func (m *Metrics) SetInflightNodes(n int) {
	if m == nil {
		return
	}
	m.inflightNodes.Set(float64(n))
}

// SetReadyQueueDepth reports the current ready-queue depth.
func (m *Metrics) SetReadyQueueDepth(n int) {
	if m == nil {
		return
	}
	m.readyQueue.Set(float64(n))
}

// IncExecutorCacheOutcome records a cache hit or miss when resolving an
// executor instance.
func (m *Metrics) IncExecutorCacheOutcome(outcome string) {
	if m == nil {
		return
	}
	m.executorCacheHits.WithLabelValues(outcome).Inc()
}

// IncPostprocessOutcome records a post-processing pass's terminal
// workflow status.
func (m *Metrics) IncPostprocessOutcome(status WorkflowStatus) {
	if m == nil {
		return
	}
	m.postprocessOutcomes.WithLabelValues(string(status)).Inc()
}
