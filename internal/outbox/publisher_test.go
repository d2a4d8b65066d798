package outbox

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/helixir/search-outbox/internal/domain"
	"github.com/helixir/search-outbox/internal/observability"
	"github.com/helixir/search-outbox/internal/repository"
)

// MockInserter is a mock implementation of the Inserter interface.
type MockInserter struct {
	mock.Mock
}

func (m *MockInserter) Insert(ctx context.Context, event *domain.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockInserter) InsertBatch(ctx context.Context, events []*domain.Event) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

func newTestPublisher(t *testing.T, inserter *MockInserter) (*Publisher, *observability.Metrics, *[]repository.DBTX) {
	t.Helper()
	metrics := observability.NewMetricsWithRegistry("test", prometheus.NewRegistry())
	var bound []repository.DBTX
	factory := func(db repository.DBTX) Inserter {
		bound = append(bound, db)
		return inserter
	}
	emitter := NewEmitter(EmitterConfig{})
	return NewPublisherWithInserter(emitter, factory, metrics), metrics, &bound
}

func TestPublisher_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts on the given transaction", func(t *testing.T) {
		inserter := new(MockInserter)
		publisher, metrics, bound := newTestPublisher(t, inserter)

		inserter.On("Insert", ctx, mock.MatchedBy(func(e *domain.Event) bool {
			return e.EntityID == "42" && e.Route == "books"
		})).Return(nil)

		event, err := publisher.Publish(ctx, nil, validParams())
		require.NoError(t, err)
		assert.Equal(t, "Book", event.EntityName)
		assert.Len(t, *bound, 1)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EventsEmitted.WithLabelValues("books")))
		inserter.AssertExpectations(t)
	})

	t.Run("does not insert invalid params", func(t *testing.T) {
		inserter := new(MockInserter)
		publisher, _, _ := newTestPublisher(t, inserter)

		params := validParams()
		params.Route = ""
		_, err := publisher.Publish(ctx, nil, params)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
		inserter.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	})

	t.Run("wraps insert errors", func(t *testing.T) {
		inserter := new(MockInserter)
		publisher, metrics, _ := newTestPublisher(t, inserter)

		inserter.On("Insert", ctx, mock.Anything).Return(errors.New("db down"))

		_, err := publisher.Publish(ctx, nil, validParams())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "store event")
		assert.Equal(t, 0.0, testutil.ToFloat64(metrics.EventsEmitted.WithLabelValues("books")))
	})
}

func TestPublisher_PublishBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts every event", func(t *testing.T) {
		inserter := new(MockInserter)
		publisher, metrics, _ := newTestPublisher(t, inserter)

		inserter.On("InsertBatch", ctx, mock.MatchedBy(func(events []*domain.Event) bool {
			return len(events) == 2
		})).Return(nil)

		events, err := publisher.PublishBatch(ctx, nil, []EmitParams{validParams(), validParams()})
		require.NoError(t, err)
		assert.Len(t, events, 2)
		assert.Equal(t, 2.0, testutil.ToFloat64(metrics.EventsEmitted.WithLabelValues("books")))
	})

	t.Run("rejects the whole batch on one invalid entry", func(t *testing.T) {
		inserter := new(MockInserter)
		publisher, _, _ := newTestPublisher(t, inserter)

		bad := validParams()
		bad.EntityID = ""
		_, err := publisher.PublishBatch(ctx, nil, []EmitParams{validParams(), bad})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "index 1")
		inserter.AssertNotCalled(t, "InsertBatch", mock.Anything, mock.Anything)
	})
}

func TestPostgresInserter(t *testing.T) {
	_, ok := PostgresInserter(nil).(*repository.PgEventRepository)
	assert.True(t, ok)
}
