package outbox

import (
	"context"
	"fmt"

	"github.com/helixir/search-outbox/internal/domain"
	"github.com/helixir/search-outbox/internal/observability"
	"github.com/helixir/search-outbox/internal/repository"
)

// Inserter is the subset of repository.EventRepository needed to publish.
// This interface allows for easy mocking in tests.
type Inserter interface {
	Insert(ctx context.Context, event *domain.Event) error
	InsertBatch(ctx context.Context, events []*domain.Event) error
}

// InserterFactory binds an Inserter to a transaction or pool.
type InserterFactory func(db repository.DBTX) Inserter

// PostgresInserter is the default InserterFactory.
func PostgresInserter(db repository.DBTX) Inserter {
	return repository.NewPgEventRepository(db)
}

// Publisher combines the Emitter and the event repository for a complete
// publishing workflow.
type Publisher struct {
	emitter     *Emitter
	newInserter InserterFactory
	metrics     *observability.Metrics
}

// NewPublisher creates a Publisher writing through PostgresInserter.
// metrics may be nil.
func NewPublisher(emitter *Emitter, metrics *observability.Metrics) *Publisher {
	return NewPublisherWithInserter(emitter, PostgresInserter, metrics)
}

// NewPublisherWithInserter creates a Publisher with a custom InserterFactory.
func NewPublisherWithInserter(emitter *Emitter, factory InserterFactory, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		emitter:     emitter,
		newInserter: factory,
		metrics:     metrics,
	}
}

// Publish emits an event and inserts it on tx. Pass the transaction that
// carries the business change; the event is then durable exactly when that
// change is.
func (p *Publisher) Publish(ctx context.Context, tx repository.DBTX, params EmitParams) (*domain.Event, error) {
	event, err := p.emitter.Emit(params)
	if err != nil {
		return nil, fmt.Errorf("emit event: %w", err)
	}

	if err := p.newInserter(tx).Insert(ctx, event); err != nil {
		return nil, fmt.Errorf("store event: %w", err)
	}

	if p.metrics != nil {
		p.metrics.RecordEmitted(event.Route)
	}
	return event, nil
}

// PublishBatch emits and inserts several events in one round trip.
// Nothing is inserted if any params fail validation.
func (p *Publisher) PublishBatch(ctx context.Context, tx repository.DBTX, params []EmitParams) ([]*domain.Event, error) {
	events := make([]*domain.Event, 0, len(params))
	for i, param := range params {
		event, err := p.emitter.Emit(param)
		if err != nil {
			return nil, fmt.Errorf("emit event at index %d: %w", i, err)
		}
		events = append(events, event)
	}

	if err := p.newInserter(tx).InsertBatch(ctx, events); err != nil {
		return nil, fmt.Errorf("store events: %w", err)
	}

	if p.metrics != nil {
		for _, event := range events {
			p.metrics.RecordEmitted(event.Route)
		}
	}
	return events, nil
}

// Emitter returns the underlying emitter for direct event creation.
func (p *Publisher) Emitter() *Emitter {
	return p.emitter
}
