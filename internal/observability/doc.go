// Package observability provides logging and metrics support for the search
// outbox.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for the emitter, pipeline, backend and cluster
//   - Context helpers for propagating request, agent and tenant identifiers
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//	logger = observability.WithComponent(logger, "pipeline")
//
// # Metrics
//
// Initialize metrics once per process:
//
//	metrics := observability.NewMetrics("search_outbox")
//	metrics.RecordAborted(tenantID)
//
// Tests should pass their own registry to NewMetricsWithRegistry.
//
// # Standard Fields
//
//   - component: emitting component (pipeline, coordinator, agent, admin)
//   - agent_id: agent identifier
//   - tenant_id: tenant identifier, omitted when tenancy is disabled
//   - event_id: outbox event identifier
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
