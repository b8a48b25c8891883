package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector provides Prometheus metrics collection for the
// session-context stores.
type PrometheusCollector struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	evictionsTotal    *prometheus.CounterVec
	expiriesTotal     *prometheus.CounterVec
	entryCount        *prometheus.GaugeVec
	executionCount    *prometheus.GaugeVec
	registry          *prometheus.Registry
}

// NewPrometheusCollector creates a collector with its own registry.
func NewPrometheusCollector() *PrometheusCollector {
	registry := prometheus.NewRegistry()

	operationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionmesh_operations_total",
			Help: "Total number of store operations by component, operation and status",
		},
		[]string{"component", "operation", "status"},
	)

	operationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sessionmesh_operation_duration_seconds",
			Help:    "Duration of store operations by component and operation",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"component", "operation"},
	)

	evictionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionmesh_memory_evictions_total",
			Help: "Total number of memory entries evicted by scope",
		},
		[]string{"scope"},
	)

	expiriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionmesh_expiries_total",
			Help: "Total number of lazily expired records by kind",
		},
		[]string{"kind"},
	)

	entryCount := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sessionmesh_memory_entries",
			Help: "Current count of memory entries by scope",
		},
		[]string{"scope"},
	)

	executionCount := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sessionmesh_tool_executions",
			Help: "Current count of tracked tool executions by state",
		},
		[]string{"state"},
	)

	registry.MustRegister(operationsTotal)
	registry.MustRegister(operationDuration)
	registry.MustRegister(evictionsTotal)
	registry.MustRegister(expiriesTotal)
	registry.MustRegister(entryCount)
	registry.MustRegister(executionCount)

	return &PrometheusCollector{
		operationsTotal:   operationsTotal,
		operationDuration: operationDuration,
		evictionsTotal:    evictionsTotal,
		expiriesTotal:     expiriesTotal,
		entryCount:        entryCount,
		executionCount:    executionCount,
		registry:          registry,
	}
}

// RecordOperation records the completion of an operation.
func (m *PrometheusCollector) RecordOperation(component, operation, status string, duration time.Duration) {
	m.operationsTotal.WithLabelValues(component, operation, status).Inc()
	m.operationDuration.WithLabelValues(component, operation).Observe(duration.Seconds())
}

// RecordEviction counts evicted memory entries for a scope.
func (m *PrometheusCollector) RecordEviction(scope string, count int) {
	m.evictionsTotal.WithLabelValues(scope).Add(float64(count))
}

// RecordExpiry counts one lazy expiry.
func (m *PrometheusCollector) RecordExpiry(kind string) {
	m.expiriesTotal.WithLabelValues(kind).Inc()
}

// SetEntryCount sets the current entry gauge for a memory scope.
func (m *PrometheusCollector) SetEntryCount(scope string, count int) {
	m.entryCount.WithLabelValues(scope).Set(float64(count))
}

// SetExecutionCount sets the gauge for executions in a given state.
func (m *PrometheusCollector) SetExecutionCount(state string, count int) {
	m.executionCount.WithLabelValues(state).Set(float64(count))
}

// Registry returns the Prometheus registry for HTTP exposure.
func (m *PrometheusCollector) Registry() *prometheus.Registry {
	return m.registry
}
