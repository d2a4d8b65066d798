package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/search-outbox/internal/backend"
	"github.com/helixir/search-outbox/internal/config"
	"github.com/helixir/search-outbox/internal/domain"
	"github.com/helixir/search-outbox/internal/observability"
	"github.com/helixir/search-outbox/internal/repository/repotest"
)

func tenancy(tenants ...string) config.TenancyConfig {
	return config.TenancyConfig{Enabled: len(tenants) > 0, Tenants: tenants}
}

func abort(t *testing.T, repo *repotest.EventRepository, events ...*domain.Event) {
	t.Helper()
	for _, e := range events {
		stored, ok := repo.Get(e.ID)
		require.True(t, ok)
		stored.Status = domain.EventStatusAborted
		_, err := repo.DeleteByIDs(context.Background(), []uuid.UUID{e.ID})
		require.NoError(t, err)
		require.NoError(t, repo.Insert(context.Background(), &stored))
	}
}

func TestAdmin_TenancyContract(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		tenancy  config.TenancyConfig
		tenantID string
		wantErr  bool
	}{
		{name: "disabled without tenant", tenancy: tenancy(), tenantID: ""},
		{name: "disabled with tenant", tenancy: tenancy(), tenantID: "t1", wantErr: true},
		{name: "enabled with known tenant", tenancy: tenancy("t1", "t2"), tenantID: "t2"},
		{name: "enabled without tenant", tenancy: tenancy("t1"), tenantID: "", wantErr: true},
		{name: "enabled with unknown tenant", tenancy: tenancy("t1"), tenantID: "t9", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admin := NewAdmin(repotest.NewEventRepository(), repotest.NewAgentRepository(), tt.tenancy, zerolog.Nop(), nil)

			operations := map[string]func(context.Context, string) (int64, error){
				OpCountAborted:     admin.CountAbortedEvents,
				OpReprocessAborted: admin.ReprocessAbortedEvents,
				OpClearAborted:     admin.ClearAllAbortedEvents,
				OpCountPending:     admin.CountPendingEvents,
			}
			for name, op := range operations {
				_, err := op(ctx, tt.tenantID)
				if !tt.wantErr {
					assert.NoError(t, err, name)
					continue
				}

				require.Error(t, err, name)
				assert.ErrorIs(t, err, domain.ErrConfiguration, name)
				var cfgErr *domain.ConfigurationError
				require.True(t, errors.As(err, &cfgErr), name)
				assert.Equal(t, name, cfgErr.Operation)
			}
		})
	}
}

func TestAdmin_CountsAreTenantScoped(t *testing.T) {
	ctx := context.Background()
	events := repotest.NewEventRepository()
	a := insertEvent(t, events, "b-1", "books", "t1", domain.OperationAdd)
	insertEvent(t, events, "b-2", "books", "t1", domain.OperationAdd)
	b := insertEvent(t, events, "b-3", "books", "t2", domain.OperationAdd)
	abort(t, events, a, b)

	admin := NewAdmin(events, repotest.NewAgentRepository(), tenancy("t1", "t2"), zerolog.Nop(), nil)

	aborted, err := admin.CountAbortedEvents(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), aborted)

	pending, err := admin.CountPendingEvents(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	pending, err = admin.CountPendingEvents(ctx, "t2")
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestAdmin_ClearAllAbortedEventsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	events := repotest.NewEventRepository()
	var aborted []*domain.Event
	for _, id := range []string{"b-1", "b-2", "b-3"} {
		aborted = append(aborted, insertEvent(t, events, id, "books", "", domain.OperationAdd))
	}
	insertEvent(t, events, "b-4", "books", "", domain.OperationAdd)
	abort(t, events, aborted...)

	metrics := observability.NewMetricsWithRegistry("test", prometheus.NewRegistry())
	admin := NewAdmin(events, repotest.NewAgentRepository(), tenancy(), zerolog.Nop(), metrics)

	n, err := admin.ClearAllAbortedEvents(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = admin.ClearAllAbortedEvents(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, 1, events.Len())
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.AdminOperations.WithLabelValues(OpClearAborted)))
}

func TestAdmin_ReprocessRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(testConfig(), running(domain.FullRange()))
	event := insertEvent(t, f.events, "b-1", "books", "", domain.OperationAdd)
	f.backend.respond = failWhere(backend.FailurePoison, func(backend.Item) bool { return true })

	_, err := f.pipeline.ProcessOnce(ctx)
	require.NoError(t, err)

	admin := NewAdmin(f.events, repotest.NewAgentRepository(), tenancy(), zerolog.Nop(), nil)
	aborted, err := admin.CountAbortedEvents(ctx, "")
	require.NoError(t, err)
	require.Equal(t, int64(1), aborted)

	n, err := admin.ReprocessAbortedEvents(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stored, ok := f.events.Get(event.ID)
	require.True(t, ok)
	assert.Equal(t, domain.EventStatusPending, stored.Status)
	assert.Zero(t, stored.RetryCount)

	f.backend.respond = nil
	result, err := f.pipeline.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)

	aborted, err = admin.CountAbortedEvents(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, aborted)
	pending, err := admin.CountPendingEvents(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestAdmin_RepositoryErrorIsWrapped(t *testing.T) {
	admin := NewAdmin(failingCounts{EventRepository: repotest.NewEventRepository()}, repotest.NewAgentRepository(), tenancy(), zerolog.Nop(), nil)

	_, err := admin.CountAbortedEvents(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), OpCountAborted)
	assert.NotErrorIs(t, err, domain.ErrConfiguration)
}

type failingCounts struct {
	*repotest.EventRepository
}

func (failingCounts) CountAborted(context.Context, string) (int64, error) {
	return 0, errors.New("connection reset")
}

func TestAdmin_Agents(t *testing.T) {
	ctx := context.Background()
	agents := repotest.NewAgentRepository()
	id := uuid.New()
	require.NoError(t, agents.Register(ctx, &domain.Agent{
		ID:        id,
		Type:      domain.AgentTypeEventProcessor,
		Name:      "worker-1",
		State:     domain.AgentStateRunning,
		LastPulse: time.Now().UTC(),
	}))

	admin := NewAdmin(repotest.NewEventRepository(), agents, tenancy(), zerolog.Nop(), nil)

	listed, err := admin.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "worker-1", listed[0].Name)

	require.NoError(t, admin.SuspendAgent(ctx, id))
	stored, err := agents.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStateSuspended, stored.State)

	require.NoError(t, admin.ResumeAgent(ctx, id))
	stored, err = agents.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStateRunning, stored.State)

	err = admin.SuspendAgent(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
