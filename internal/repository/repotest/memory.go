// Package repotest provides in-memory repositories with the same semantics as
// the PostgreSQL implementations, for unit tests of the components above them.
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/search-outbox/internal/domain"
	"github.com/helixir/search-outbox/internal/repository"
)

var (
	_ repository.EventRepository = (*EventRepository)(nil)
	_ repository.AgentRepository = (*AgentRepository)(nil)
)

// EventRepository is an in-memory repository.EventRepository.
type EventRepository struct {
	mu     sync.Mutex
	events map[uuid.UUID]domain.Event

	// FindErr, DeleteErr and RecordErr are returned by the matching method when set.
	FindErr   error
	DeleteErr error
	RecordErr error
}

// NewEventRepository creates an empty EventRepository.
func NewEventRepository() *EventRepository {
	return &EventRepository{events: make(map[uuid.UUID]domain.Event)}
}

// Insert stores a copy of event.
func (r *EventRepository) Insert(_ context.Context, event *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.events[event.ID]; ok {
		return domain.NewAlreadyExistsError("event", event.ID.String())
	}
	r.events[event.ID] = *event
	return nil
}

// InsertBatch stores copies of events.
func (r *EventRepository) InsertBatch(ctx context.Context, events []*domain.Event) error {
	for _, e := range events {
		if err := r.Insert(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a copy of the stored event.
func (r *EventRepository) Get(id uuid.UUID) (domain.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	return e, ok
}

// Len returns the number of stored events.
func (r *EventRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Find mirrors the SQL filter and ordering.
func (r *EventRepository) Find(_ context.Context, filter repository.EventFilter) ([]*domain.Event, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FindErr != nil {
		return nil, r.FindErr
	}

	excluded := make(map[uuid.UUID]bool, len(filter.ExcludeIDs))
	for _, id := range filter.ExcludeIDs {
		excluded[id] = true
	}

	var found []*domain.Event
	for _, e := range r.events {
		if !e.IsVisible(filter.Now) || excluded[e.ID] {
			continue
		}
		if filter.Range != nil && !filter.Range.Contains(e.EntityIDHash) {
			continue
		}
		if len(filter.TenantIDs) > 0 && !contains(filter.TenantIDs, e.TenantID) {
			continue
		}
		if len(filter.EntityNames) > 0 && !contains(filter.EntityNames, e.EntityName) {
			continue
		}
		e := e
		found = append(found, &e)
	}

	sort.Slice(found, func(i, j int) bool {
		if !found[i].CreatedAt.Equal(found[j].CreatedAt) {
			return found[i].CreatedAt.Before(found[j].CreatedAt)
		}
		return found[i].ID.String() < found[j].ID.String()
	})
	if len(found) > filter.Limit {
		found = found[:filter.Limit]
	}
	return found, nil
}

// DeleteByIDs removes events and reports how many existed.
func (r *EventRepository) DeleteByIDs(_ context.Context, ids []uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.DeleteErr != nil {
		return 0, r.DeleteErr
	}

	var n int64
	for _, id := range ids {
		if _, ok := r.events[id]; ok {
			delete(r.events, id)
			n++
		}
	}
	return n, nil
}

// RecordFailures applies the same policy as the SQL implementation.
func (r *EventRepository) RecordFailures(_ context.Context, failures []repository.EventFailure, policy repository.RetryPolicy, now time.Time) ([]repository.FailureOutcome, error) {
	if len(failures) == 0 {
		return nil, nil
	}
	if policy.MaxRetries <= 0 {
		return nil, domain.NewValidationError("max_retries", "max retries must be positive")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.RecordErr != nil {
		return nil, r.RecordErr
	}

	var outcomes []repository.FailureOutcome
	for _, f := range failures {
		e, ok := r.events[f.ID]
		if !ok || e.Status != domain.EventStatusPending {
			continue
		}
		e.RetryCount++
		if f.Poison || domain.ShouldAbort(e.RetryCount, policy.MaxRetries) {
			e.Status = domain.EventStatusAborted
		} else {
			e.ProcessAfter = now.Add(policy.RetryDelay)
		}
		r.events[f.ID] = e
		outcomes = append(outcomes, repository.FailureOutcome{
			ID:         e.ID,
			TenantID:   e.TenantID,
			RetryCount: e.RetryCount,
			Status:     e.Status,
		})
	}
	return outcomes, nil
}

func (r *EventRepository) count(status domain.EventStatus, tenantID string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, e := range r.events {
		if e.Status == status && (tenantID == "" || e.TenantID == tenantID) {
			n++
		}
	}
	return n
}

// CountPending counts PENDING events.
func (r *EventRepository) CountPending(_ context.Context, tenantID string) (int64, error) {
	return r.count(domain.EventStatusPending, tenantID), nil
}

// CountAborted counts ABORTED events.
func (r *EventRepository) CountAborted(_ context.Context, tenantID string) (int64, error) {
	return r.count(domain.EventStatusAborted, tenantID), nil
}

// ReprocessAborted resets ABORTED events to PENDING.
func (r *EventRepository) ReprocessAborted(_ context.Context, tenantID string, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, e := range r.events {
		if e.Status != domain.EventStatusAborted || (tenantID != "" && e.TenantID != tenantID) {
			continue
		}
		e.Status = domain.EventStatusPending
		e.RetryCount = 0
		e.ProcessAfter = now
		r.events[id] = e
		n++
	}
	return n, nil
}

// ClearAborted deletes ABORTED events.
func (r *EventRepository) ClearAborted(_ context.Context, tenantID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, e := range r.events {
		if e.Status == domain.EventStatusAborted && (tenantID == "" || e.TenantID == tenantID) {
			delete(r.events, id)
			n++
		}
	}
	return n, nil
}

// AgentRepository is an in-memory repository.AgentRepository.
type AgentRepository struct {
	mu     sync.Mutex
	agents map[uuid.UUID]domain.Agent

	// RegisterErr is returned by Register when set.
	RegisterErr error
}

// NewAgentRepository creates an empty AgentRepository.
func NewAgentRepository() *AgentRepository {
	return &AgentRepository{agents: make(map[uuid.UUID]domain.Agent)}
}

// Register stores a copy of agent.
func (r *AgentRepository) Register(_ context.Context, agent *domain.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.RegisterErr != nil {
		return r.RegisterErr
	}
	if _, ok := r.agents[agent.ID]; ok {
		return domain.NewAlreadyExistsError("agent", agent.ID.String())
	}
	r.agents[agent.ID] = cloneAgent(*agent)
	return nil
}

// Get returns a copy of the stored agent.
func (r *AgentRepository) Get(_ context.Context, id uuid.UUID) (*domain.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return nil, domain.NewNotFoundError("agent", id.String())
	}
	a = cloneAgent(a)
	return &a, nil
}

// Pulse refreshes last_pulse.
func (r *AgentRepository) Pulse(_ context.Context, id uuid.UUID, now time.Time) (*domain.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return nil, domain.NewNotFoundError("agent", id.String())
	}
	a.LastPulse = now
	r.agents[id] = a
	a = cloneAgent(a)
	return &a, nil
}

// UpdateState applies a lifecycle transition.
func (r *AgentRepository) UpdateState(_ context.Context, id uuid.UUID, state domain.AgentState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return domain.NewNotFoundError("agent", id.String())
	}
	if a.State == state {
		return nil
	}
	if err := domain.ValidateAgentTransition(a.State, state); err != nil {
		return err
	}
	a.State = state
	r.agents[id] = a
	return nil
}

func (r *AgentRepository) list(filter func(domain.Agent) bool) []*domain.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var agents []*domain.Agent
	for _, a := range r.agents {
		if filter(a) {
			a := cloneAgent(a)
			agents = append(agents, &a)
		}
	}
	sort.Slice(agents, func(i, j int) bool {
		return agents[i].ID.String() < agents[j].ID.String()
	})
	return agents
}

// List returns every agent ordered by ID.
func (r *AgentRepository) List(_ context.Context) ([]*domain.Agent, error) {
	return r.list(func(domain.Agent) bool { return true }), nil
}

// ListLive returns live-state agents ordered by ID.
func (r *AgentRepository) ListLive(_ context.Context) ([]*domain.Agent, error) {
	return r.list(func(a domain.Agent) bool { return a.State.IsLive() }), nil
}

// DeleteExpired removes agents whose last pulse is before cutoff.
func (r *AgentRepository) DeleteExpired(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []uuid.UUID
	for id, a := range r.agents {
		if a.LastPulse.Before(cutoff) {
			delete(r.agents, id)
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// SaveAssignments persists TotalShards and Assignment.
func (r *AgentRepository) SaveAssignments(_ context.Context, agents []*domain.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, in := range agents {
		a, ok := r.agents[in.ID]
		if !ok {
			continue
		}
		a.TotalShards = in.TotalShards
		a.Assignment = nil
		if in.Assignment != nil {
			assignment := *in.Assignment
			a.Assignment = &assignment
		}
		r.agents[in.ID] = a
	}
	return nil
}

// Delete removes an agent.
func (r *AgentRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, id)
	return nil
}

// SetLastPulse overrides an agent's last pulse, simulating a stalled process.
func (r *AgentRepository) SetLastPulse(id uuid.UUID, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[id]; ok {
		a.LastPulse = at
		r.agents[id] = a
	}
}

func cloneAgent(a domain.Agent) domain.Agent {
	if a.Assignment != nil {
		assignment := *a.Assignment
		a.Assignment = &assignment
	}
	return a
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
