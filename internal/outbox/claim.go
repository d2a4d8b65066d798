package outbox

import (
	"sync"

	"github.com/google/uuid"

	"github.com/helixir/search-outbox/internal/domain"
)

// ClaimSet is an agent-local record of the events it has in flight. Claimed
// IDs are excluded from finds, which keeps delivered events whose delete is
// still outstanding from being delivered again. It is safe for concurrent use.
type ClaimSet struct {
	mu  sync.Mutex
	ids map[uuid.UUID]struct{}
}

// NewClaimSet creates an empty ClaimSet.
func NewClaimSet() *ClaimSet {
	return &ClaimSet{ids: make(map[uuid.UUID]struct{})}
}

// Claim marks events as in flight and returns those that were not already
// claimed, preserving order.
func (c *ClaimSet) Claim(events []*domain.Event) []*domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	claimed := make([]*domain.Event, 0, len(events))
	for _, e := range events {
		if _, ok := c.ids[e.ID]; ok {
			continue
		}
		c.ids[e.ID] = struct{}{}
		claimed = append(claimed, e)
	}
	return claimed
}

// Release forgets the given IDs.
func (c *ClaimSet) Release(ids ...uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range ids {
		delete(c.ids, id)
	}
}

// IDs returns a snapshot of the claimed IDs.
func (c *ClaimSet) IDs() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(c.ids))
	for id := range c.ids {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of claimed events.
func (c *ClaimSet) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}
