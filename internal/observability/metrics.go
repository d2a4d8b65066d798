package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values used when a label has no natural value.
const (
	// NoTenant labels events that carry no tenant.
	NoTenant = "none"
)

// FailureBatch is the failure kind label for whole-batch submission errors.
const FailureBatch = "batch"

// Metrics contains all Prometheus metrics for the search outbox.
// Metrics are organized by subsystem: emitter, pipeline, backend, cluster
// and admin.
type Metrics struct {
	// EventsEmitted counts events written to the outbox, labeled by route.
	EventsEmitted *prometheus.CounterVec

	// EventsDispatched counts events submitted to the backend, labeled by route.
	EventsDispatched *prometheus.CounterVec

	// EventsSucceeded counts events the backend accepted, labeled by route.
	EventsSucceeded *prometheus.CounterVec

	// EventsFailed counts failed deliveries, labeled by failure kind.
	EventsFailed *prometheus.CounterVec

	// EventsAborted counts events moved to ABORTED, labeled by tenant.
	EventsAborted *prometheus.CounterVec

	// DeleteRaces counts succeeded events whose row was already gone.
	DeleteRaces prometheus.Counter

	// EmptyPolls counts passes that found no visible events.
	EmptyPolls prometheus.Counter

	// BatchSize observes the number of events per pass.
	BatchSize prometheus.Histogram

	// BatchDuration observes the end-to-end duration of a pass in seconds.
	BatchDuration prometheus.Histogram

	// BackendSubmitDuration observes backend submission latency in seconds.
	BackendSubmitDuration prometheus.Histogram

	// Rebalances counts coordinator passes.
	Rebalances prometheus.Counter

	// AgentsEvicted counts agents removed for missing their pulse deadline.
	AgentsEvicted prometheus.Counter

	// LiveAgents is the live agent count seen by the last rebalance.
	LiveAgents prometheus.Gauge

	// AgentState is 1 for the current state of this agent and 0 otherwise.
	AgentState *prometheus.GaugeVec

	// AdminOperations counts administrative operations, labeled by operation.
	AdminOperations *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance registered with the default
// Prometheus registry. The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance registered with reg.
func NewMetricsWithRegistry(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Emitter
		EventsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "emitter",
			Name:      "events_total",
			Help:      "Total number of events written to the outbox",
		}, []string{"route"}),

		// Pipeline
		EventsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "events_dispatched_total",
			Help:      "Total number of events submitted to the backend",
		}, []string{"route"}),
		EventsSucceeded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "events_succeeded_total",
			Help:      "Total number of events accepted by the backend",
		}, []string{"route"}),
		EventsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "events_failed_total",
			Help:      "Total number of failed event deliveries",
		}, []string{"kind"}),
		EventsAborted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "events_aborted_total",
			Help:      "Total number of events aborted after exhausting retries",
		}, []string{"tenant"}),
		DeleteRaces: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "delete_races_total",
			Help:      "Total number of processed events already deleted by another agent",
		}),
		EmptyPolls: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "empty_polls_total",
			Help:      "Total number of passes that found no events",
		}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "batch_size",
			Help:      "Number of events per processing pass",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "batch_duration_seconds",
			Help:      "Duration of a processing pass in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Backend
		BackendSubmitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "submit_duration_seconds",
			Help:      "Duration of backend batch submissions in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Cluster
		Rebalances: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "rebalances_total",
			Help:      "Total number of shard rebalances",
		}),
		AgentsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "agents_evicted_total",
			Help:      "Total number of agents evicted after missing their pulse deadline",
		}),
		LiveAgents: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "live_agents",
			Help:      "Number of live agents seen by the last rebalance",
		}),
		AgentState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "agent_state",
			Help:      "Current state of this agent (1 for the active state)",
		}, []string{"state"}),

		// Admin
		AdminOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admin",
			Name:      "operations_total",
			Help:      "Total number of administrative operations",
		}, []string{"operation"}),
	}
}

// TenantLabel maps an empty tenant to NoTenant.
func TenantLabel(tenantID string) string {
	if tenantID == "" {
		return NoTenant
	}
	return tenantID
}

// RecordEmitted records an event written to the outbox.
func (m *Metrics) RecordEmitted(route string) {
	m.EventsEmitted.WithLabelValues(route).Inc()
}

// RecordDispatched records events submitted for a route.
func (m *Metrics) RecordDispatched(route string, count int) {
	m.EventsDispatched.WithLabelValues(route).Add(float64(count))
}

// RecordSucceeded records an event accepted by the backend.
func (m *Metrics) RecordSucceeded(route string) {
	m.EventsSucceeded.WithLabelValues(route).Inc()
}

// RecordFailed records a failed delivery of the given kind.
func (m *Metrics) RecordFailed(kind string) {
	m.EventsFailed.WithLabelValues(kind).Inc()
}

// RecordAborted records an aborted event for tenantID.
func (m *Metrics) RecordAborted(tenantID string) {
	m.EventsAborted.WithLabelValues(TenantLabel(tenantID)).Inc()
}

// RecordDeleteRace records a succeeded event whose row was already gone.
func (m *Metrics) RecordDeleteRace(count int) {
	m.DeleteRaces.Add(float64(count))
}

// RecordEmptyPoll records a pass that found nothing.
func (m *Metrics) RecordEmptyPoll() {
	m.EmptyPolls.Inc()
}

// RecordBatch records the size and duration of a processing pass.
func (m *Metrics) RecordBatch(size int, durationSeconds float64) {
	m.BatchSize.Observe(float64(size))
	m.BatchDuration.Observe(durationSeconds)
}

// RecordBackendSubmit records a backend submission duration.
func (m *Metrics) RecordBackendSubmit(durationSeconds float64) {
	m.BackendSubmitDuration.Observe(durationSeconds)
}

// RecordRebalance records a coordinator pass.
func (m *Metrics) RecordRebalance(liveAgents, evicted int) {
	m.Rebalances.Inc()
	m.LiveAgents.Set(float64(liveAgents))
	m.AgentsEvicted.Add(float64(evicted))
}

// SetAgentState marks state as the current agent state.
func (m *Metrics) SetAgentState(state string, all []string) {
	for _, s := range all {
		value := 0.0
		if s == state {
			value = 1
		}
		m.AgentState.WithLabelValues(s).Set(value)
	}
}

// RecordAdminOperation records an administrative operation.
func (m *Metrics) RecordAdminOperation(operation string) {
	m.AdminOperations.WithLabelValues(operation).Inc()
}
