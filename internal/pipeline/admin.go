package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/search-outbox/internal/config"
	"github.com/helixir/search-outbox/internal/domain"
	"github.com/helixir/search-outbox/internal/observability"
	"github.com/helixir/search-outbox/internal/repository"
)

// Admin operation names, used in errors, logs and metrics.
const (
	OpCountAborted     = "count_aborted_events"
	OpReprocessAborted = "reprocess_aborted_events"
	OpClearAborted     = "clear_all_aborted_events"
	OpCountPending     = "count_pending_events"
	OpListAgents       = "list_agents"
	OpSuspendAgent     = "suspend_agent"
	OpResumeAgent      = "resume_agent"
)

// Admin is the operator surface over aborted events and cluster agents.
//
// Every event operation takes an optional tenant ID. With tenancy disabled a
// non-empty tenant is rejected; with tenancy enabled an empty or unknown
// tenant is rejected. Both cases return a *domain.ConfigurationError.
type Admin struct {
	events  repository.EventRepository
	agents  repository.AgentRepository
	tenancy config.TenancyConfig
	logger  zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewAdmin creates a new Admin. metrics may be nil.
func NewAdmin(
	events repository.EventRepository,
	agents repository.AgentRepository,
	tenancy config.TenancyConfig,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Admin {
	return &Admin{
		events:  events,
		agents:  agents,
		tenancy: tenancy,
		logger:  observability.WithComponent(logger, "admin"),
		metrics: metrics,
		now:     time.Now,
	}
}

// checkTenant applies the tenancy contract to an administrative call.
func (a *Admin) checkTenant(operation, tenantID string) error {
	if !a.tenancy.Enabled {
		if tenantID != "" {
			return domain.NewConfigurationError(operation, "multi-tenancy is disabled, tenant id must be empty")
		}
		return nil
	}
	if tenantID == "" {
		return domain.NewConfigurationError(operation, "multi-tenancy is enabled, tenant id is required")
	}
	if !a.tenancy.IsKnownTenant(tenantID) {
		return domain.NewConfigurationError(operation, fmt.Sprintf("unknown tenant %q", tenantID))
	}
	return nil
}

func (a *Admin) eventOperation(
	ctx context.Context,
	operation, tenantID string,
	fn func(ctx context.Context) (int64, error),
) (int64, error) {
	if err := a.checkTenant(operation, tenantID); err != nil {
		return 0, err
	}

	n, err := fn(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", operation, err)
	}
	if a.metrics != nil {
		a.metrics.RecordAdminOperation(operation)
	}
	return n, nil
}

// CountAbortedEvents counts ABORTED events of the tenant.
func (a *Admin) CountAbortedEvents(ctx context.Context, tenantID string) (int64, error) {
	return a.eventOperation(ctx, OpCountAborted, tenantID, func(ctx context.Context) (int64, error) {
		return a.events.CountAborted(ctx, tenantID)
	})
}

// CountPendingEvents counts PENDING events of the tenant.
func (a *Admin) CountPendingEvents(ctx context.Context, tenantID string) (int64, error) {
	return a.eventOperation(ctx, OpCountPending, tenantID, func(ctx context.Context) (int64, error) {
		return a.events.CountPending(ctx, tenantID)
	})
}

// ReprocessAbortedEvents resets ABORTED events of the tenant to PENDING with
// a zero retry count and returns how many were reset.
func (a *Admin) ReprocessAbortedEvents(ctx context.Context, tenantID string) (int64, error) {
	n, err := a.eventOperation(ctx, OpReprocessAborted, tenantID, func(ctx context.Context) (int64, error) {
		return a.events.ReprocessAborted(ctx, tenantID, a.now().UTC())
	})
	if err == nil {
		logger := observability.WithTenant(a.logger, tenantID)
		logger.Info().Int64("count", n).Msg("aborted events reprocessed")
	}
	return n, err
}

// ClearAllAbortedEvents deletes ABORTED events of the tenant and returns how
// many were deleted.
func (a *Admin) ClearAllAbortedEvents(ctx context.Context, tenantID string) (int64, error) {
	n, err := a.eventOperation(ctx, OpClearAborted, tenantID, func(ctx context.Context) (int64, error) {
		return a.events.ClearAborted(ctx, tenantID)
	})
	if err == nil {
		logger := observability.WithTenant(a.logger, tenantID)
		logger.Info().Int64("count", n).Msg("aborted events cleared")
	}
	return n, err
}

// ListAgents returns every registered agent.
func (a *Admin) ListAgents(ctx context.Context) ([]*domain.Agent, error) {
	agents, err := a.agents.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", OpListAgents, err)
	}
	if a.metrics != nil {
		a.metrics.RecordAdminOperation(OpListAgents)
	}
	return agents, nil
}

// SuspendAgent pauses draining on an agent. The agent adopts the state on
// its next pulse and keeps its shard.
func (a *Admin) SuspendAgent(ctx context.Context, id uuid.UUID) error {
	return a.setAgentState(ctx, OpSuspendAgent, id, domain.AgentStateSuspended)
}

// ResumeAgent resumes draining on a suspended agent.
func (a *Admin) ResumeAgent(ctx context.Context, id uuid.UUID) error {
	return a.setAgentState(ctx, OpResumeAgent, id, domain.AgentStateRunning)
}

func (a *Admin) setAgentState(ctx context.Context, operation string, id uuid.UUID, state domain.AgentState) error {
	if err := a.agents.UpdateState(ctx, id, state); err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	if a.metrics != nil {
		a.metrics.RecordAdminOperation(operation)
	}
	a.logger.Info().
		Str("agent_id", id.String()).
		Str("state", string(state)).
		Msg("agent state changed by operator")
	return nil
}
