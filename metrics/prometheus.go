// ABOUTME: Prometheus counters for the gateway, the replication bus and surface controllers
// ABOUTME: Registered against an injected registerer so tests can use a private registry
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	// Gateway metrics
	GatewayOperations *prometheus.CounterVec
	GatewayFallbacks  *prometheus.CounterVec
	ActivityFailures  *prometheus.CounterVec

	// Bus metrics
	BusPublished *prometheus.CounterVec
	BusReceived  *prometheus.CounterVec
	BusDropped   *prometheus.CounterVec

	// Replica metrics
	ReplicaWrites       *prometheus.CounterVec
	ReplicaCorruptLoads prometheus.Counter

	// Controller metrics
	StageRollbacks prometheus.Counter
	SurfacesActive prometheus.Gauge
}

// New creates and registers the metrics on reg. Pass
// prometheus.DefaultRegisterer in the binary and prometheus.NewRegistry() in
// tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		GatewayOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embudo_gateway_operations_total",
				Help: "Total number of gateway operations by backend and outcome",
			},
			[]string{"operation", "backend", "outcome"},
		),

		GatewayFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embudo_gateway_fallbacks_total",
				Help: "Total number of operations served by the in-memory tables after a backend failure",
			},
			[]string{"operation"},
		),

		ActivityFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embudo_gateway_activity_failures_total",
				Help: "Total number of audit activities that could not be written",
			},
			[]string{"type"},
		),

		BusPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embudo_bus_published_total",
				Help: "Total number of replication messages published",
			},
			[]string{"kind", "transport"},
		),

		BusReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embudo_bus_received_total",
				Help: "Total number of replication messages delivered to a surface",
			},
			[]string{"kind", "transport"},
		),

		BusDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embudo_bus_dropped_total",
				Help: "Total number of replication messages dropped before delivery",
			},
			[]string{"reason"},
		),

		ReplicaWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embudo_replica_writes_total",
				Help: "Total number of local replica writes",
			},
			[]string{"operation", "status"},
		),

		ReplicaCorruptLoads: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "embudo_replica_corrupt_loads_total",
				Help: "Total number of replica loads that discarded a malformed snapshot",
			},
		),

		StageRollbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "embudo_surface_stage_rollbacks_total",
				Help: "Total number of optimistic stage changes reverted after a failed write",
			},
		),

		SurfacesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "embudo_surfaces_active",
				Help: "Number of mounted surfaces in this process",
			},
		),
	}
}

// RecordGatewayOperation records one gateway call.
func (m *Metrics) RecordGatewayOperation(operation, backend, outcome string) {
	if m == nil {
		return
	}
	m.GatewayOperations.WithLabelValues(operation, backend, outcome).Inc()
}

func (m *Metrics) RecordFallback(operation string) {
	if m == nil {
		return
	}
	m.GatewayFallbacks.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordActivityFailure(activityType string) {
	if m == nil {
		return
	}
	m.ActivityFailures.WithLabelValues(activityType).Inc()
}

func (m *Metrics) RecordPublished(kind, transport string) {
	if m == nil {
		return
	}
	m.BusPublished.WithLabelValues(kind, transport).Inc()
}

func (m *Metrics) RecordReceived(kind, transport string) {
	if m == nil {
		return
	}
	m.BusReceived.WithLabelValues(kind, transport).Inc()
}

func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.BusDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordReplicaWrite(operation, status string) {
	if m == nil {
		return
	}
	m.ReplicaWrites.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) RecordCorruptLoad() {
	if m == nil {
		return
	}
	m.ReplicaCorruptLoads.Inc()
}

func (m *Metrics) RecordRollback() {
	if m == nil {
		return
	}
	m.StageRollbacks.Inc()
}

// SurfaceMounted adjusts the active surface gauge by delta.
func (m *Metrics) SurfaceMounted(delta float64) {
	if m == nil {
		return
	}
	m.SurfacesActive.Add(delta)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves the metrics gathered by g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
