// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "extractkit"

// Operation outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

// Metrics owns a private registry so tests can build independent instances.
type Metrics struct {
	registry         *prometheus.Registry
	operations       *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	activeWorkspaces prometheus.Gauge
	cleanupFailures  prometheus.Counter
	panics           prometheus.Counter
}

// New registers all collectors, plus Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Operations handled, by operation and outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Wall time of operations, including engine calls.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"operation"}),
		activeWorkspaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workspaces",
			Help:      "Request workspaces currently on disk.",
		}),
		cleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workspace_cleanup_failures_total",
			Help:      "Workspaces that could not be removed.",
		}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_panics_total",
			Help:      "Panics recovered at the operation boundary.",
		}),
	}
	m.registry.MustRegister(
		m.operations,
		m.duration,
		m.activeWorkspaces,
		m.cleanupFailures,
		m.panics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveOperation records one finished operation.
func (m *Metrics) ObserveOperation(operation, outcome string, d time.Duration) {
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecoveredPanic counts a panic turned into a failure envelope.
func (m *Metrics) RecoveredPanic() { m.panics.Inc() }

// WorkspaceAcquired implements workspace.Observer.
func (m *Metrics) WorkspaceAcquired() { m.activeWorkspaces.Inc() }

// WorkspaceReleased implements workspace.Observer.
func (m *Metrics) WorkspaceReleased(err error) {
	m.activeWorkspaces.Dec()
	if err != nil {
		m.cleanupFailures.Inc()
	}
}
