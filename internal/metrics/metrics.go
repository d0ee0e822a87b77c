package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the service's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	ActiveStreams   prometheus.Gauge
	QueueDepth      *prometheus.GaugeVec
	ToolExecutions  *prometheus.CounterVec
	CacheHits       *prometheus.CounterVec
	CheckpointSaves prometheus.Counter
	CheckpointDrops prometheus.Counter
	StreamsTotal    *prometheus.CounterVec
}

// New creates and registers the collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "conductor_active_streams",
			Help: "Number of SSE streams currently open.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "conductor_admission_queue_depth",
			Help: "Waiters queued per identity.",
		}, []string{"identity"}),
		ToolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_tool_executions_total",
			Help: "Tool executions by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_request_cache_total",
			Help: "Request cache probes by outcome.",
		}, []string{"outcome"}),
		CheckpointSaves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conductor_checkpoint_saves_total",
			Help: "Multi-agent checkpoints written.",
		}),
		CheckpointDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conductor_checkpoint_drops_total",
			Help: "Checkpoints dropped because the save queue was full.",
		}),
		StreamsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_streams_total",
			Help: "Chat streams started by mode.",
		}, []string{"mode"}),
	}

	registry.MustRegister(
		m.ActiveStreams,
		m.QueueDepth,
		m.ToolExecutions,
		m.CacheHits,
		m.CheckpointSaves,
		m.CheckpointDrops,
		m.StreamsTotal,
	)
	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
