package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for one server instance.
// Each instance carries its own registry so embedding programs and
// tests never fight over the default one.
type Metrics struct {
	registry *prometheus.Registry

	Connections       prometheus.Gauge
	BroadcastSuccess  prometheus.Counter
	BroadcastFailures prometheus.Counter
	Reloads           prometheus.Counter
	HTTPRequests      *prometheus.CounterVec
}

// NewMetrics creates and registers the server metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "liveserve_websocket_connections",
			Help: "Currently open WebSocket connections.",
		}),
		BroadcastSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liveserve_broadcast_writes_total",
			Help: "Successful per-connection broadcast writes.",
		}),
		BroadcastFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liveserve_broadcast_failures_total",
			Help: "Failed per-connection broadcast writes.",
		}),
		Reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liveserve_reloads_total",
			Help: "Reload signals broadcast to browsers.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liveserve_http_requests_total",
			Help: "HTTP requests served, labeled by status code.",
		}, []string{"code"}),
	}

	registry.MustRegister(
		m.Connections,
		m.BroadcastSuccess,
		m.BroadcastFailures,
		m.Reloads,
		m.HTTPRequests,
	)
	return m
}

// Handler returns an HTTP handler that serves the metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
