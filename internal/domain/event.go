// Package domain provides the domain model of the search outbox: pending
// indexing events, the agents that drain them and the shard ranges that
// partition the work between agents.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventStatus represents the processing state of an outbox event.
// These values must match the status column of search_outbox_events.
type EventStatus string

const (
	// EventStatusPending marks an event eligible for draining.
	EventStatusPending EventStatus = "PENDING"
	// EventStatusAborted marks an event that exhausted its retries. It is kept
	// for inspection until an operator reprocesses or clears it.
	EventStatusAborted EventStatus = "ABORTED"
)

// IsValid reports whether the status is part of the event lifecycle.
func (s EventStatus) IsValid() bool {
	switch s {
	case EventStatusPending, EventStatusAborted:
		return true
	default:
		return false
	}
}

// OperationKind is the closed set of indexing operations an event can carry.
type OperationKind string

const (
	OperationAdd         OperationKind = "ADD"
	OperationAddOrUpdate OperationKind = "ADD_OR_UPDATE"
	OperationDelete      OperationKind = "DELETE"
)

// IsValid reports whether the kind is one of the known operations.
func (k OperationKind) IsValid() bool {
	switch k {
	case OperationAdd, OperationAddOrUpdate, OperationDelete:
		return true
	default:
		return false
	}
}

// Event is one pending unit of work: an entity change that must be
// propagated to the search backend.
//
// ID, CreatedAt, Kind, EntityName, EntityID, EntityIDHash and TenantID never
// change once the event is created. RetryCount, Status, ProcessAfter and
// Payload are the only fields the pipeline mutates.
type Event struct {
	ID           uuid.UUID
	CreatedAt    time.Time
	Kind         OperationKind
	EntityName   string
	EntityID     string
	EntityIDHash int32
	Route        string
	Payload      []byte
	TenantID     string
	RetryCount   int
	Status       EventStatus
	ProcessAfter time.Time
}

// IsVisible reports whether the event may be picked up at the given instant.
func (e *Event) IsVisible(now time.Time) bool {
	return e.Status == EventStatusPending && !e.ProcessAfter.After(now)
}

// ShouldAbort reports whether the next failure exhausts the retry budget.
// retryCount is the count after the failed attempt has been recorded.
func ShouldAbort(retryCount, maxRetries int) bool {
	return retryCount >= maxRetries
}
