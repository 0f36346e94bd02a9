package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks stream and HTTP activity for the relay service.
type Metrics struct {
	registry *prometheus.Registry

	// EventsEmitted counts canonical events delivered to clients.
	// Labels: type (text_delta, tool_call, done, ...)
	EventsEmitted *prometheus.CounterVec

	// Failovers counts provider failovers.
	// Labels: provider
	Failovers *prometheus.CounterVec

	// ActiveStreams is the number of SSE streams currently open.
	ActiveStreams prometheus.Gauge

	// StreamDuration measures full run duration in seconds.
	StreamDuration prometheus.Histogram

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics on a private
// registry, keeping tests free of duplicate-registration conflicts.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		EventsEmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_events_total",
				Help: "Total number of canonical events delivered by type",
			},
			[]string{"type"},
		),

		Failovers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_failovers_total",
				Help: "Total number of provider failovers by provider",
			},
			[]string{"provider"},
		),

		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_active_streams",
				Help: "Current number of open event streams",
			},
		),

		StreamDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relay_stream_duration_seconds",
				Help:    "Duration of full runs in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// Registry exposes the backing registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
