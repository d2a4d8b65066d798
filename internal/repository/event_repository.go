package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/search-outbox/internal/domain"
)

// EventRepository handles outbox event persistence.
//
// Methods taking a tenantID treat "" as "no tenant filter". Tenancy rules are
// enforced by callers, not here.
type EventRepository interface {
	// Insert stores a new PENDING event. Construct the repository on the
	// caller's transaction so the event commits or rolls back with the
	// business change that produced it.
	// Returns domain.ErrAlreadyExists if an event with the same ID exists.
	Insert(ctx context.Context, event *domain.Event) error

	// InsertBatch stores several events in one round trip.
	InsertBatch(ctx context.Context, events []*domain.Event) error

	// Find returns visible PENDING events matching the filter, oldest first.
	// It takes no row locks.
	Find(ctx context.Context, filter EventFilter) ([]*domain.Event, error)

	// DeleteByIDs removes processed events and returns how many rows were
	// actually deleted. Rows already gone are not an error.
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)

	// RecordFailures increments retry_count of each failed event and either
	// aborts it or delays its next attempt according to policy. Events no
	// longer PENDING are skipped and absent from the result.
	RecordFailures(ctx context.Context, failures []EventFailure, policy RetryPolicy, now time.Time) ([]FailureOutcome, error)

	// CountPending counts PENDING events.
	CountPending(ctx context.Context, tenantID string) (int64, error)

	// CountAborted counts ABORTED events.
	CountAborted(ctx context.Context, tenantID string) (int64, error)

	// ReprocessAborted resets ABORTED events to PENDING with retry_count 0,
	// visible at now, and returns the number of events reset.
	ReprocessAborted(ctx context.Context, tenantID string, now time.Time) (int64, error)

	// ClearAborted deletes ABORTED events and returns the number deleted.
	ClearAborted(ctx context.Context, tenantID string) (int64, error)
}

// EventFilter selects events for draining.
type EventFilter struct {
	// Now is the visibility instant: only events with process_after <= Now match.
	Now time.Time
	// Range restricts entity_id_hash to an inclusive range. Nil means all hashes.
	Range *domain.ShardRange
	// TenantIDs restricts tenant_id. Empty means no tenant filter.
	TenantIDs []string
	// EntityNames restricts entity_name. Empty means all entity types.
	EntityNames []string
	// ExcludeIDs skips events already in flight.
	ExcludeIDs []uuid.UUID
	// Limit bounds the number of returned events.
	Limit int
}

// Validate validates the filter.
func (f *EventFilter) Validate() error {
	if f.Limit <= 0 {
		return domain.NewValidationError("limit", "limit must be positive")
	}
	if f.Range != nil && f.Range.Lower > f.Range.Upper {
		return domain.NewValidationError("range", "lower bound exceeds upper bound")
	}
	if f.Now.IsZero() {
		return domain.NewValidationError("now", "visibility instant is required")
	}
	return nil
}

// EventFailure describes a failed delivery attempt of one event.
type EventFailure struct {
	ID uuid.UUID
	// Poison marks failures that will never succeed; the event is aborted
	// regardless of its retry count.
	Poison bool
}

// RetryPolicy controls what happens to a failed event.
type RetryPolicy struct {
	// MaxRetries is the retry count at which an event is aborted.
	MaxRetries int
	// RetryDelay is how long a retried event stays invisible.
	RetryDelay time.Duration
}

// FailureOutcome reports the state of an event after a recorded failure.
type FailureOutcome struct {
	ID         uuid.UUID
	TenantID   string
	RetryCount int
	Status     domain.EventStatus
}

// Aborted reports whether the failure exhausted the event.
func (o FailureOutcome) Aborted() bool {
	return o.Status == domain.EventStatusAborted
}
