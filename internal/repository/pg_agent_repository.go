package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/search-outbox/internal/domain"
)

// agentColumns is the column list shared by every agent SELECT.
const agentColumns = `id, type, name, state, last_pulse, total_shards,
			assigned_index, range_lower, range_upper, created_at`

// Compile-time interface verification.
var _ AgentRepository = (*PgAgentRepository)(nil)

// PgAgentRepository is a PostgreSQL implementation of AgentRepository.
type PgAgentRepository struct {
	db DBTX
}

// NewPgAgentRepository creates a new PostgreSQL agent repository.
func NewPgAgentRepository(db DBTX) *PgAgentRepository {
	return &PgAgentRepository{db: db}
}

// Register inserts a new agent record.
func (r *PgAgentRepository) Register(ctx context.Context, agent *domain.Agent) error {
	if agent == nil {
		return domain.NewValidationError("agent", "agent cannot be nil")
	}
	if agent.ID == uuid.Nil {
		return domain.NewValidationError("id", "agent ID is required")
	}
	if !agent.State.IsValid() {
		return domain.NewValidationError("state", fmt.Sprintf("unknown state %q", agent.State))
	}

	index, lower, upper := assignmentArgs(agent.Assignment)
	query := `
		INSERT INTO search_outbox_agents (
			id, type, name, state, last_pulse, total_shards,
			assigned_index, range_lower, range_upper, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		agent.ID, string(agent.Type), agent.Name, string(agent.State), agent.LastPulse, agent.TotalShards,
		index, lower, upper, agent.CreatedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("agent", agent.ID.String())
		}
		return fmt.Errorf("failed to register agent: %w", err)
	}

	return nil
}

// Get retrieves an agent by ID.
func (r *PgAgentRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Agent, error) {
	query := fmt.Sprintf(`SELECT %s FROM search_outbox_agents WHERE id = $1`, agentColumns)

	agent, err := scanAgent(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("agent", id.String())
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return agent, nil
}

// Pulse refreshes last_pulse and returns the stored record.
func (r *PgAgentRepository) Pulse(ctx context.Context, id uuid.UUID, now time.Time) (*domain.Agent, error) {
	query := fmt.Sprintf(`
		UPDATE search_outbox_agents SET last_pulse = $2
		WHERE id = $1
		RETURNING %s`, agentColumns)

	agent, err := scanAgent(r.db.QueryRow(ctx, query, id, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("agent", id.String())
		}
		return nil, fmt.Errorf("failed to pulse agent: %w", err)
	}
	return agent, nil
}

// UpdateState moves the agent to state if the lifecycle allows it. The
// predecessor check runs in the UPDATE itself, so concurrent operators cannot
// race an invalid transition through.
func (r *PgAgentRepository) UpdateState(ctx context.Context, id uuid.UUID, state domain.AgentState) error {
	if !state.IsValid() {
		return domain.NewValidationError("state", fmt.Sprintf("unknown state %q", state))
	}

	from := domain.AgentStatesLeadingTo(state)
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	result, err := r.db.Exec(ctx,
		`UPDATE search_outbox_agents SET state = $2 WHERE id = $1 AND state = ANY($3)`,
		id, string(state), allowed,
	)
	if err != nil {
		return fmt.Errorf("failed to update agent state: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.State == state {
		return nil
	}
	return domain.ValidateAgentTransition(current.State, state)
}

// List returns every agent ordered by ID.
func (r *PgAgentRepository) List(ctx context.Context) ([]*domain.Agent, error) {
	query := fmt.Sprintf(`SELECT %s FROM search_outbox_agents ORDER BY id`, agentColumns)
	return r.query(ctx, query)
}

// ListLive returns STARTING, RUNNING and SUSPENDED agents ordered by ID.
func (r *PgAgentRepository) ListLive(ctx context.Context) ([]*domain.Agent, error) {
	query := fmt.Sprintf(`SELECT %s FROM search_outbox_agents WHERE state = ANY($1) ORDER BY id`, agentColumns)
	live := []string{
		string(domain.AgentStateStarting),
		string(domain.AgentStateRunning),
		string(domain.AgentStateSuspended),
	}
	return r.query(ctx, query, live)
}

func (r *PgAgentRepository) query(ctx context.Context, query string, args ...interface{}) ([]*domain.Agent, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []*domain.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, agent)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agents: %w", err)
	}

	return agents, nil
}

// DeleteExpired removes agents whose last pulse is before cutoff.
func (r *PgAgentRepository) DeleteExpired(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `DELETE FROM search_outbox_agents WHERE last_pulse < $1 RETURNING id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to delete expired agents: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan expired agent id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expired agents: %w", err)
	}

	return ids, nil
}

// SaveAssignments persists TotalShards and Assignment of each agent.
func (r *PgAgentRepository) SaveAssignments(ctx context.Context, agents []*domain.Agent) error {
	if len(agents) == 0 {
		return nil
	}

	query := `
		UPDATE search_outbox_agents
		SET total_shards = $2, assigned_index = $3, range_lower = $4, range_upper = $5
		WHERE id = $1`

	batch := &pgx.Batch{}
	for _, agent := range agents {
		index, lower, upper := assignmentArgs(agent.Assignment)
		batch.Queue(query, agent.ID, agent.TotalShards, index, lower, upper)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for _, agent := range agents {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to save assignment of agent %s: %w", agent.ID, err)
		}
	}

	return nil
}

// Delete removes an agent.
func (r *PgAgentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM search_outbox_agents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	return nil
}

// assignmentArgs flattens an optional assignment into nullable columns.
func assignmentArgs(a *domain.ShardAssignment) (index, lower, upper *int32) {
	if a == nil {
		return nil, nil, nil
	}
	i := int32(a.Index)
	return &i, &a.Range.Lower, &a.Range.Upper
}

// scanAgent scans a single row into an Agent.
func scanAgent(row pgx.Row) (*domain.Agent, error) {
	var (
		agent               domain.Agent
		agentType, state    string
		index, lower, upper *int32
	)
	err := row.Scan(
		&agent.ID, &agentType, &agent.Name, &state, &agent.LastPulse, &agent.TotalShards,
		&index, &lower, &upper, &agent.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	agent.Type = domain.AgentType(agentType)
	agent.State = domain.AgentState(state)
	if index != nil && lower != nil && upper != nil {
		agent.Assignment = &domain.ShardAssignment{
			Index: int(*index),
			Range: domain.ShardRange{Lower: *lower, Upper: *upper},
		}
	}
	return &agent, nil
}
