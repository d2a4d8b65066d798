package cluster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/search-outbox/internal/domain"
	"github.com/helixir/search-outbox/internal/hashing"
	"github.com/helixir/search-outbox/internal/observability"
	"github.com/helixir/search-outbox/internal/repository"
	"github.com/helixir/search-outbox/internal/repository/repotest"
)

const testDeadAgentTimeout = 30 * time.Second

// memoryMembership runs rebalance passes directly against an in-memory repository.
type memoryMembership struct {
	mu     sync.Mutex
	agents *repotest.AgentRepository
	err    error
}

func (m *memoryMembership) Rebalance(_ context.Context, fn func(agents repository.AgentRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	return fn(m.agents)
}

func registerAgent(t *testing.T, repo *repotest.AgentRepository, state domain.AgentState, lastPulse time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, repo.Register(context.Background(), &domain.Agent{
		ID:        id,
		Type:      domain.AgentTypeEventProcessor,
		Name:      "worker",
		State:     state,
		LastPulse: lastPulse,
		CreatedAt: lastPulse,
	}))
	return id
}

func TestCoordinator_Rebalance(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("assigns every live agent", func(t *testing.T) {
		agents := repotest.NewAgentRepository()
		a := registerAgent(t, agents, domain.AgentStateRunning, now)
		b := registerAgent(t, agents, domain.AgentStateStarting, now)
		c := registerAgent(t, agents, domain.AgentStateSuspended, now)

		coordinator := NewCoordinator(&memoryMembership{agents: agents}, nil, testDeadAgentTimeout, zerolog.Nop(), nil)
		snapshot, err := coordinator.Rebalance(ctx, now)
		require.NoError(t, err)

		assert.Equal(t, 3, snapshot.TotalShards)
		assert.Empty(t, snapshot.Evicted)
		assert.Equal(t, ComputeAssignments([]uuid.UUID{a, b, c}), snapshot.Assignments)

		for _, id := range []uuid.UUID{a, b, c} {
			stored, err := agents.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, 3, stored.TotalShards)
			require.NotNil(t, stored.Assignment)
			assert.Equal(t, snapshot.Assignments[id], *stored.Assignment)
		}
	})

	t.Run("evicts agents that missed the pulse deadline", func(t *testing.T) {
		agents := repotest.NewAgentRepository()
		alive := registerAgent(t, agents, domain.AgentStateRunning, now.Add(-10*time.Second))
		stalled := registerAgent(t, agents, domain.AgentStateRunning, now.Add(-time.Minute))

		reg := prometheus.NewRegistry()
		metrics := observability.NewMetricsWithRegistry("test", reg)
		coordinator := NewCoordinator(&memoryMembership{agents: agents}, nil, testDeadAgentTimeout, zerolog.Nop(), metrics)

		snapshot, err := coordinator.Rebalance(ctx, now)
		require.NoError(t, err)

		assert.Equal(t, []uuid.UUID{stalled}, snapshot.Evicted)
		assert.Equal(t, []uuid.UUID{alive}, snapshot.Live)
		assignment, ok := snapshot.AssignmentFor(alive)
		require.True(t, ok)
		assert.Equal(t, domain.FullRange(), assignment.Range)

		_, err = agents.Get(ctx, stalled)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AgentsEvicted))
	})

	t.Run("stopped agents release their range", func(t *testing.T) {
		agents := repotest.NewAgentRepository()
		a := registerAgent(t, agents, domain.AgentStateRunning, now)
		b := registerAgent(t, agents, domain.AgentStateRunning, now)
		coordinator := NewCoordinator(&memoryMembership{agents: agents}, nil, testDeadAgentTimeout, zerolog.Nop(), nil)

		_, err := coordinator.Rebalance(ctx, now)
		require.NoError(t, err)

		require.NoError(t, agents.UpdateState(ctx, b, domain.AgentStateStopped))
		snapshot, err := coordinator.Rebalance(ctx, now)
		require.NoError(t, err)

		assert.Equal(t, 1, snapshot.TotalShards)
		_, ok := snapshot.AssignmentFor(b)
		assert.False(t, ok)
		assert.Equal(t, domain.FullRange(), snapshot.Assignments[a].Range)
	})

	t.Run("no live agents", func(t *testing.T) {
		coordinator := NewCoordinator(&memoryMembership{agents: repotest.NewAgentRepository()}, nil, testDeadAgentTimeout, zerolog.Nop(), nil)
		snapshot, err := coordinator.Rebalance(ctx, now)
		require.NoError(t, err)
		assert.Zero(t, snapshot.TotalShards)
		assert.Empty(t, snapshot.Assignments)
	})

	t.Run("membership error", func(t *testing.T) {
		membership := &memoryMembership{agents: repotest.NewAgentRepository(), err: errors.New("connection refused")}
		coordinator := NewCoordinator(membership, nil, testDeadAgentTimeout, zerolog.Nop(), nil)

		_, err := coordinator.Rebalance(ctx, now)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rebalance agents")
	})

	t.Run("table factory error", func(t *testing.T) {
		agents := repotest.NewAgentRepository()
		registerAgent(t, agents, domain.AgentStateRunning, now)
		failing := func(int) (hashing.RangedTable, error) { return nil, errors.New("unsupported") }
		coordinator := NewCoordinator(&memoryMembership{agents: agents}, failing, testDeadAgentTimeout, zerolog.Nop(), nil)

		_, err := coordinator.Rebalance(ctx, now)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "build hash table")
	})
}

func TestPostgresMembership_Rebalance(t *testing.T) {
	ctx := context.Background()

	t.Run("holds the advisory lock for the pass", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").
			WithArgs(RebalanceLockKey).
			WillReturnResult(pgxmock.NewResult("SELECT", 1))
		mock.ExpectQuery("SELECT .+ FROM search_outbox_agents WHERE state = ANY").
			WithArgs([]string{"STARTING", "RUNNING", "SUSPENDED"}).
			WillReturnRows(pgxmock.NewRows([]string{"id"}))
		mock.ExpectCommit()

		membership := NewPostgresMembership(mock, zerolog.Nop())
		err = membership.Rebalance(ctx, func(agents repository.AgentRepository) error {
			_, err := agents.ListLive(ctx)
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when the lock fails", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").
			WithArgs(RebalanceLockKey).
			WillReturnError(errors.New("canceling statement"))
		mock.ExpectRollback()

		called := false
		membership := NewPostgresMembership(mock, zerolog.Nop())
		err = membership.Rebalance(ctx, func(repository.AgentRepository) error {
			called = true
			return nil
		})
		require.Error(t, err)
		assert.False(t, called)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin().WillReturnError(pgx.ErrTxClosed)

		membership := NewPostgresMembership(mock, zerolog.Nop())
		err = membership.Rebalance(ctx, func(repository.AgentRepository) error { return nil })
		require.Error(t, err)
		assert.ErrorIs(t, err, pgx.ErrTxClosed)
	})
}
