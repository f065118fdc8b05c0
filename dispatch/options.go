package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowlattice/dispatcher/emit"
)

// Option configures an Engine at Open time, following the teacher's
// functional-options pattern (graph/options.go).
type Option func(*engineConfig)

type engineConfig struct {
	workerPoolSize  int
	maxConcurrent   int
	webhookURL      string
	metricsRegistry prometheus.Registerer
	emitters        []emit.Emitter
}

// WithWorkerPoolSize bounds how many store writes the Result Service runs
// concurrently. Default: 8.
func WithWorkerPoolSize(n int) Option {
	return func(cfg *engineConfig) { cfg.workerPoolSize = n }
}

// WithMaxConcurrentNodes bounds how many nodes of a single workflow the
// Scheduler runs at once. Default: 8.
func WithMaxConcurrentNodes(n int) Option {
	return func(cfg *engineConfig) { cfg.maxConcurrent = n }
}

// WithWebhookURL registers a best-effort status webhook, per §6. An empty
// URL disables it (the default).
func WithWebhookURL(url string) Option {
	return func(cfg *engineConfig) { cfg.webhookURL = url }
}

// WithMetricsRegistry wires a Prometheus registerer the Engine's Metrics
// collector registers against. When omitted, no metrics are recorded.
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(cfg *engineConfig) { cfg.metricsRegistry = reg }
}

// WithEmitter adds an observability sink status events are fanned out
// to, in addition to the webhook (if any). May be called more than once.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) { cfg.emitters = append(cfg.emitters, e) }
}
