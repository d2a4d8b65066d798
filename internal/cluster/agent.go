package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/search-outbox/internal/domain"
	"github.com/helixir/search-outbox/internal/observability"
	"github.com/helixir/search-outbox/internal/repository"
)

// AgentConfig configures an Agent.
type AgentConfig struct {
	// Name is a human-readable label, e.g. the host name.
	Name string
	// PulseInterval is how often the agent refreshes its liveness record.
	PulseInterval time.Duration
}

// Status is a consistent view of an agent's state and shard.
type Status struct {
	State       domain.AgentState
	TotalShards int
	// Assignment is nil while the agent owns no bucket.
	Assignment *domain.ShardAssignment
}

// Draining reports whether the pipeline may start a new batch.
func (s Status) Draining() bool {
	return s.State == domain.AgentStateRunning && s.Assignment != nil
}

// Agent is the runtime of one cluster member. State and assignment are
// swapped together under a lock, so readers never see a half-applied
// reassignment.
type Agent struct {
	id          uuid.UUID
	config      AgentConfig
	repo        repository.AgentRepository
	coordinator *Coordinator
	logger      zerolog.Logger
	metrics     *observability.Metrics
	now         func() time.Time

	mu     sync.RWMutex
	status Status
}

// NewAgent creates an Agent with a fresh ID. metrics may be nil.
func NewAgent(
	config AgentConfig,
	repo repository.AgentRepository,
	coordinator *Coordinator,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Agent {
	id := uuid.New()
	return &Agent{
		id:          id,
		config:      config,
		repo:        repo,
		coordinator: coordinator,
		logger:      observability.WithAgentContext(observability.WithComponent(logger, "agent"), id.String(), config.Name),
		metrics:     metrics,
		now:         time.Now,
		status:      Status{State: domain.AgentStateStarting},
	}
}

// ID returns the agent ID.
func (a *Agent) ID() uuid.UUID {
	return a.id
}

// Status returns the current state and assignment.
func (a *Agent) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := a.status
	if s.Assignment != nil {
		assignment := *s.Assignment
		s.Assignment = &assignment
	}
	return s
}

// State returns the current lifecycle state.
func (a *Agent) State() domain.AgentState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status.State
}

// setStatus replaces the status. A STOPPED agent never leaves STOPPED, so a
// pulse racing with Stop cannot revive it.
func (a *Agent) setStatus(s Status) {
	a.mu.Lock()
	previous := a.status
	if previous.State.IsTerminal() {
		a.mu.Unlock()
		return
	}
	a.status = s
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.SetAgentState(string(s.State), agentStateLabels())
	}
	if previous.State != s.State {
		a.logger.Info().
			Str("from", string(previous.State)).
			Str("to", string(s.State)).
			Msg("agent state changed")
	}
	if !sameAssignment(previous.Assignment, s.Assignment) {
		event := a.logger.Info().Int("total_shards", s.TotalShards)
		if s.Assignment != nil {
			event = event.Int("bucket", s.Assignment.Index).Str("range", s.Assignment.Range.String())
		}
		event.Msg("shard assignment adopted")
	}
}

// Start registers the agent, obtains an assignment and enters RUNNING.
// Any error leaves the agent out of RUNNING and must abort startup.
func (a *Agent) Start(ctx context.Context) error {
	return a.join(ctx, domain.AgentStateRunning)
}

// join registers the agent and settles it in target, which is RUNNING or
// SUSPENDED. The local status stays STARTING until the record holds target.
func (a *Agent) join(ctx context.Context, target domain.AgentState) error {
	now := a.now().UTC()
	record := &domain.Agent{
		ID:        a.id,
		Type:      domain.AgentTypeEventProcessor,
		Name:      a.config.Name,
		State:     domain.AgentStateStarting,
		LastPulse: now,
		CreatedAt: now,
	}
	if err := a.repo.Register(ctx, record); err != nil {
		return fmt.Errorf("register agent: %w", err)
	}

	snapshot, err := a.coordinator.Rebalance(ctx, now)
	if err != nil {
		return fmt.Errorf("initial rebalance: %w", err)
	}

	if err := a.repo.UpdateState(ctx, a.id, domain.AgentStateRunning); err != nil {
		return fmt.Errorf("enter running state: %w", err)
	}
	if target == domain.AgentStateSuspended {
		if err := a.repo.UpdateState(ctx, a.id, domain.AgentStateSuspended); err != nil {
			return fmt.Errorf("restore suspended state: %w", err)
		}
	}

	a.adopt(target, snapshot)
	return nil
}

// Run pulses every PulseInterval until ctx is done or the agent stops.
func (a *Agent) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.config.PulseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.Pulse(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				a.logger.Error().Err(err).Msg("pulse failed")
			}
			if a.State().IsTerminal() {
				return nil
			}
		}
	}
}

// Pulse refreshes last_pulse, rebalances and adopts the operator-controlled
// state together with the latest assignment. An agent that was evicted while
// stalled registers again and keeps a suspension it was under.
func (a *Agent) Pulse(ctx context.Context) error {
	if a.State().IsTerminal() {
		return nil
	}

	now := a.now().UTC()
	record, err := a.repo.Pulse(ctx, a.id, now)
	if errors.Is(err, domain.ErrNotFound) {
		previous := a.State()
		if previous.IsTerminal() {
			return nil
		}
		target := domain.AgentStateRunning
		if previous == domain.AgentStateSuspended {
			target = domain.AgentStateSuspended
		}
		a.logger.Warn().Str("state", string(target)).Msg("agent record evicted, rejoining cluster")
		a.adopt(domain.AgentStateStarting, nil)
		return a.join(ctx, target)
	}
	if err != nil {
		return fmt.Errorf("pulse: %w", err)
	}

	snapshot, err := a.coordinator.Rebalance(ctx, now)
	if err != nil {
		return err
	}

	a.adopt(record.State, snapshot)
	return nil
}

// adopt swaps state and assignment in one step.
func (a *Agent) adopt(state domain.AgentState, snapshot *Snapshot) {
	s := Status{State: state}
	if snapshot != nil {
		s.TotalShards = snapshot.TotalShards
		if assignment, ok := snapshot.AssignmentFor(a.id); ok {
			s.Assignment = &assignment
		}
	}
	if state.IsTerminal() {
		s.Assignment = nil
	}
	a.setStatus(s)
}

// Suspend pauses draining. The agent keeps its assignment.
func (a *Agent) Suspend(ctx context.Context) error {
	return a.transition(ctx, domain.AgentStateSuspended)
}

// Resume continues draining after Suspend.
func (a *Agent) Resume(ctx context.Context) error {
	return a.transition(ctx, domain.AgentStateRunning)
}

func (a *Agent) transition(ctx context.Context, to domain.AgentState) error {
	if err := a.repo.UpdateState(ctx, a.id, to); err != nil {
		return fmt.Errorf("transition to %s: %w", to, err)
	}

	s := a.Status()
	s.State = to
	a.setStatus(s)
	return nil
}

// Stop enters STOPPED, deregisters and rebalances so that peers pick up the
// released range on their next pulse.
func (a *Agent) Stop(ctx context.Context) error {
	if a.State().IsTerminal() {
		return nil
	}

	if err := a.repo.UpdateState(ctx, a.id, domain.AgentStateStopped); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("transition to STOPPED: %w", err)
	}
	a.adopt(domain.AgentStateStopped, nil)

	if err := a.repo.Delete(ctx, a.id); err != nil {
		return fmt.Errorf("deregister agent: %w", err)
	}
	if _, err := a.coordinator.Rebalance(ctx, a.now().UTC()); err != nil {
		return fmt.Errorf("release shard: %w", err)
	}
	return nil
}

func agentStateLabels() []string {
	states := domain.AllAgentStates()
	labels := make([]string, len(states))
	for i, s := range states {
		labels[i] = string(s)
	}
	return labels
}

func sameAssignment(a, b *domain.ShardAssignment) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
