package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/search-outbox/internal/domain"
)

// AgentRepository handles cluster membership records.
type AgentRepository interface {
	// Register inserts a new agent record.
	// Returns domain.ErrAlreadyExists if the ID is taken.
	Register(ctx context.Context, agent *domain.Agent) error

	// Get retrieves an agent by ID.
	// Returns domain.ErrNotFound if the agent does not exist (or was evicted).
	Get(ctx context.Context, id uuid.UUID) (*domain.Agent, error)

	// Pulse refreshes last_pulse and returns the stored record, including the
	// operator-controlled state and the latest assignment.
	// Returns domain.ErrNotFound if the agent was evicted.
	Pulse(ctx context.Context, id uuid.UUID, now time.Time) (*domain.Agent, error)

	// UpdateState moves the agent to state if the lifecycle allows it.
	// Returns domain.ErrNotFound or a *domain.TransitionError.
	UpdateState(ctx context.Context, id uuid.UUID, state domain.AgentState) error

	// List returns every agent ordered by ID.
	List(ctx context.Context) ([]*domain.Agent, error)

	// ListLive returns STARTING, RUNNING and SUSPENDED agents ordered by ID.
	ListLive(ctx context.Context) ([]*domain.Agent, error)

	// DeleteExpired removes agents whose last pulse is before cutoff and
	// returns their IDs.
	DeleteExpired(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)

	// SaveAssignments persists TotalShards and Assignment of each agent.
	SaveAssignments(ctx context.Context, agents []*domain.Agent) error

	// Delete removes an agent. Deleting an absent agent is not an error.
	Delete(ctx context.Context, id uuid.UUID) error
}
