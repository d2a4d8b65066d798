package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/search-outbox/internal/domain"
	"github.com/helixir/search-outbox/internal/repository"
)

// DefaultMaxResults is used when a FindRequest does not bound its size.
const DefaultMaxResults = 50

// FindRequest selects events for one agent pass.
type FindRequest struct {
	// Range is the agent's shard. Nil means the whole hash space.
	Range *domain.ShardRange
	// TenantIDs scopes the find to the given tenants.
	TenantIDs []string
	// MaxResults bounds the batch. Zero or negative uses the finder default.
	MaxResults int
	// ExcludeIDs skips events this agent already has in flight.
	ExcludeIDs []uuid.UUID
	// EntityNames restricts the find to some entity types.
	EntityNames []string
}

// EventFinder selects visible PENDING events for an agent's shard.
//
// Reads take no row locks: near a reassignment boundary two agents may read
// the same row. Double delivery is made safe downstream, where deleting a row
// that a peer already deleted is a no-op.
type EventFinder struct {
	repo       repository.EventRepository
	maxResults int
	now        func() time.Time
}

// NewEventFinder creates a new EventFinder. maxResults <= 0 selects
// DefaultMaxResults.
func NewEventFinder(repo repository.EventRepository, maxResults int) *EventFinder {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &EventFinder{
		repo:       repo,
		maxResults: maxResults,
		now:        time.Now,
	}
}

// Find returns up to req.MaxResults events ordered by creation time then ID.
func (f *EventFinder) Find(ctx context.Context, req FindRequest) ([]*domain.Event, error) {
	limit := req.MaxResults
	if limit <= 0 {
		limit = f.maxResults
	}

	events, err := f.repo.Find(ctx, repository.EventFilter{
		Now:         f.now().UTC(),
		Range:       req.Range,
		TenantIDs:   req.TenantIDs,
		EntityNames: req.EntityNames,
		ExcludeIDs:  req.ExcludeIDs,
		Limit:       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}
	return events, nil
}
