package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/helixir/search-outbox/internal/database"
	"github.com/helixir/search-outbox/internal/domain"
	"github.com/helixir/search-outbox/internal/observability"
	"github.com/helixir/search-outbox/internal/repository"
)

// RebalanceLockKey is the advisory lock serializing rebalance passes.
const RebalanceLockKey int64 = 0x5345_4152_4348_0001

// Membership runs fn against the agent table inside one transaction that
// holds the rebalance lock.
type Membership interface {
	Rebalance(ctx context.Context, fn func(agents repository.AgentRepository) error) error
}

// PostgresMembership implements Membership on a pgx pool.
type PostgresMembership struct {
	db     database.TxBeginner
	logger zerolog.Logger
}

// NewPostgresMembership creates a new PostgresMembership.
func NewPostgresMembership(db database.TxBeginner, logger zerolog.Logger) *PostgresMembership {
	return &PostgresMembership{db: db, logger: logger}
}

// Rebalance implements Membership.
func (m *PostgresMembership) Rebalance(ctx context.Context, fn func(agents repository.AgentRepository) error) error {
	return database.RunInTx(ctx, m.db, pgx.TxOptions{}, m.logger, func(tx pgx.Tx) error {
		if err := database.AcquireAdvisoryLockTx(ctx, tx, RebalanceLockKey); err != nil {
			return err
		}
		return fn(repository.NewPgAgentRepository(tx))
	})
}

// Snapshot is the membership view produced by one rebalance pass.
type Snapshot struct {
	// Live lists live agent IDs in assignment order.
	Live []uuid.UUID
	// Evicted lists agents removed for missing the pulse deadline.
	Evicted []uuid.UUID
	// TotalShards is the number of buckets, equal to len(Live).
	TotalShards int
	// Assignments maps each live agent to its bucket.
	Assignments map[uuid.UUID]domain.ShardAssignment
}

// AssignmentFor returns the assignment of id, if it is live.
func (s *Snapshot) AssignmentFor(id uuid.UUID) (domain.ShardAssignment, bool) {
	a, ok := s.Assignments[id]
	return a, ok
}

// Coordinator recomputes shard assignments from the live agent set.
// It keeps only agent IDs; agent records are re-read on every pass.
type Coordinator struct {
	membership       Membership
	newTable         TableFactory
	deadAgentTimeout time.Duration
	logger           zerolog.Logger
	metrics          *observability.Metrics
}

// NewCoordinator creates a new Coordinator. newTable nil selects
// DefaultTableFactory; metrics may be nil.
func NewCoordinator(
	membership Membership,
	newTable TableFactory,
	deadAgentTimeout time.Duration,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Coordinator {
	if newTable == nil {
		newTable = DefaultTableFactory
	}
	return &Coordinator{
		membership:       membership,
		newTable:         newTable,
		deadAgentTimeout: deadAgentTimeout,
		logger:           observability.WithComponent(logger, "coordinator"),
		metrics:          metrics,
	}
}

// Rebalance evicts expired agents, assigns buckets to the live ones and
// persists assignments that changed.
func (c *Coordinator) Rebalance(ctx context.Context, now time.Time) (*Snapshot, error) {
	var snapshot *Snapshot

	err := c.membership.Rebalance(ctx, func(agents repository.AgentRepository) error {
		evicted, err := agents.DeleteExpired(ctx, now.Add(-c.deadAgentTimeout))
		if err != nil {
			return err
		}

		live, err := agents.ListLive(ctx)
		if err != nil {
			return err
		}

		ids := make([]uuid.UUID, len(live))
		for i, a := range live {
			ids[i] = a.ID
		}
		SortIDs(ids)

		assignments, err := computeAssignments(c.newTable, ids)
		if err != nil {
			return err
		}

		var changed []*domain.Agent
		for _, a := range live {
			assignment := assignments[a.ID]
			if a.TotalShards == len(ids) && a.Assignment != nil && *a.Assignment == assignment {
				continue
			}
			a.TotalShards = len(ids)
			a.Assignment = &assignment
			changed = append(changed, a)
		}
		if err := agents.SaveAssignments(ctx, changed); err != nil {
			return err
		}

		snapshot = &Snapshot{
			Live:        ids,
			Evicted:     evicted,
			TotalShards: len(ids),
			Assignments: assignments,
		}

		if len(evicted) > 0 || len(changed) > 0 {
			c.logger.Info().
				Int("live_agents", len(ids)).
				Int("evicted", len(evicted)).
				Int("reassigned", len(changed)).
				Msg("shard assignments updated")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rebalance agents: %w", err)
	}

	if c.metrics != nil {
		c.metrics.RecordRebalance(snapshot.TotalShards, len(snapshot.Evicted))
	}
	return snapshot, nil
}
