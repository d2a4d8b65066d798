// Package backend defines the boundary between the outbox pipeline and the
// indexing backend, and provides Kafka, NATS and log implementations.
//
// A Backend receives one Batch per pipeline pass, grouped by route, and
// reports a result per item. An error returned from Submit itself means the
// batch as a whole could not be delivered (connectivity, timeout) and every
// item is treated as failed.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Operation is the indexing instruction sent to the backend.
type Operation string

const (
	// OperationAdd indexes a new document.
	OperationAdd Operation = "add"
	// OperationUpsert adds or replaces a document.
	OperationUpsert Operation = "upsert"
	// OperationDelete removes a document.
	OperationDelete Operation = "delete"
)

// Item is one document instruction.
type Item struct {
	EventID    uuid.UUID
	Operation  Operation
	EntityName string
	EntityID   string
	TenantID   string
	Payload    []byte
}

// Group holds the items bound for one route.
type Group struct {
	Route string
	Items []Item
}

// Batch is one backend request.
type Batch struct {
	Groups []Group
}

// Len returns the number of items across all groups.
func (b Batch) Len() int {
	n := 0
	for _, g := range b.Groups {
		n += len(g.Items)
	}
	return n
}

// ItemResult is the outcome of one item. Err is nil on success.
type ItemResult struct {
	EventID uuid.UUID
	Err     error
}

// Succeeded returns a successful result for id.
func Succeeded(id uuid.UUID) ItemResult {
	return ItemResult{EventID: id}
}

// Failed returns a failed result for id.
func Failed(id uuid.UUID, kind FailureKind, err error) ItemResult {
	return ItemResult{EventID: id, Err: NewItemError(kind, err)}
}

// Backend delivers batches to the indexing backend.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// Submit delivers the batch and returns one result per item.
	Submit(ctx context.Context, batch Batch) ([]ItemResult, error)
	// Close releases backend connections.
	Close() error
}

// FailureKind classifies an item failure.
type FailureKind int

const (
	// FailureTransient may succeed on retry (timeouts, unavailable broker).
	FailureTransient FailureKind = iota
	// FailurePermanent means the backend rejected the document. It still
	// follows the retry-then-abort path.
	FailurePermanent
	// FailurePoison will never succeed; the event is aborted immediately.
	FailurePoison
)

// String implements fmt.Stringer.
func (k FailureKind) String() string {
	switch k {
	case FailureTransient:
		return "transient"
	case FailurePermanent:
		return "permanent"
	case FailurePoison:
		return "poison"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

// ItemError is a typed item failure.
type ItemError struct {
	Kind FailureKind
	Err  error
}

// NewItemError creates a new ItemError.
func NewItemError(kind FailureKind, err error) *ItemError {
	return &ItemError{Kind: kind, Err: err}
}

// Error implements the error interface.
func (e *ItemError) Error() string {
	if e.Err == nil {
		return e.Kind.String() + " failure"
	}
	return fmt.Sprintf("%s failure: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *ItemError) Unwrap() error {
	return e.Err
}

// KindOf classifies err. Errors without an ItemError are transient.
func KindOf(err error) FailureKind {
	var itemErr *ItemError
	if errors.As(err, &itemErr) {
		return itemErr.Kind
	}
	return FailureTransient
}

// IsPoison reports whether err must abort the event without retries.
func IsPoison(err error) bool {
	return err != nil && KindOf(err) == FailurePoison
}
