package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/gauge/histogram the server exposes, grounded
// on internal/metrics/metrics.go (kenchrcum-s3-encryption-gateway)'s
// promauto.With(registry)-factory shape rather than package-level
// init()-registered globals, so tests can construct an isolated registry.
type Metrics struct {
	ConnectionsTotal  prometheus.Counter
	ActiveConnections prometheus.Gauge
	SessionFailures   prometheus.Counter
	SessionResets     prometheus.Counter
	RunsTotal         *prometheus.CounterVec
	RunDuration       prometheus.Histogram
}

// NewMetrics registers metrics against the default Prometheus registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers metrics against reg, useful for tests
// that want an isolated registry per case.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "bolt_connections_total",
			Help: "Total number of accepted Bolt connections.",
		}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bolt_active_connections",
			Help: "Number of currently open Bolt connections.",
		}),
		SessionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "bolt_session_failures_total",
			Help: "Total number of RUN hook errors, each of which moves its session to the FAILED state.",
		}),
		SessionResets: factory.NewCounter(prometheus.CounterOpts{
			Name: "bolt_session_resets_total",
			Help: "Total number of RESET messages handled.",
		}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bolt_runs_total",
			Help: "Total number of RUN messages processed, by outcome.",
		}, []string{"outcome"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bolt_run_duration_seconds",
			Help:    "Time spent in the session's RUN hook per RUN.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
