package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/search-outbox/internal/backend"
	"github.com/helixir/search-outbox/internal/cluster"
	"github.com/helixir/search-outbox/internal/config"
	"github.com/helixir/search-outbox/internal/domain"
	"github.com/helixir/search-outbox/internal/observability"
	"github.com/helixir/search-outbox/internal/outbox"
	"github.com/helixir/search-outbox/internal/repository"
)

// errNoResult marks submitted items the backend did not report on.
var errNoResult = errors.New("backend returned no result for item")

// Config holds the draining and retry settings of a Pipeline.
type Config struct {
	BatchSize      int
	MaxRetries     int
	RetryDelay     time.Duration
	PollInterval   time.Duration
	BackendTimeout time.Duration
	// TenantIDs scopes draining to the configured tenants. Empty drains all.
	TenantIDs []string
	// EntityNames restricts draining to some entity types. Empty drains all.
	EntityNames []string
}

// ConfigFrom builds a Config from the service configuration.
func ConfigFrom(cfg *config.Config) Config {
	c := Config{
		BatchSize:      cfg.Outbox.BatchSize,
		MaxRetries:     cfg.Outbox.MaxRetries,
		RetryDelay:     cfg.Outbox.RetryDelay,
		PollInterval:   cfg.Outbox.PollInterval,
		BackendTimeout: cfg.Outbox.BackendTimeout,
	}
	if cfg.Tenancy.Enabled {
		c.TenantIDs = cfg.Tenancy.Tenants
	}
	return c
}

// StatusSource reports whether the owning agent may drain and which range
// it owns. *cluster.Agent implements it.
type StatusSource interface {
	Status() cluster.Status
}

// Result summarizes one pass.
type Result struct {
	// Idle is set when the agent was not draining and no find was issued.
	Idle      bool
	Found     int
	Succeeded int
	Retried   int
	Aborted   int
	// DeleteRaces counts succeeded events whose rows were already gone.
	DeleteRaces int
	// SubmitErr is the batch-level backend error, if any.
	SubmitErr error
}

// Pipeline drains the outbox events of one agent's shard.
type Pipeline struct {
	finder  *outbox.EventFinder
	events  repository.EventRepository
	backend backend.Backend
	status  StatusSource
	claims  *outbox.ClaimSet
	config  Config
	logger  zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time

	// undeleted holds delivered events whose delete failed. They stay
	// claimed until a later pass deletes them.
	undeleted []uuid.UUID
}

// New creates a new Pipeline. metrics may be nil.
func New(
	finder *outbox.EventFinder,
	events repository.EventRepository,
	b backend.Backend,
	status StatusSource,
	cfg Config,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Pipeline {
	return &Pipeline{
		finder:  finder,
		events:  events,
		backend: b,
		status:  status,
		claims:  outbox.NewClaimSet(),
		config:  cfg,
		logger:  observability.WithComponent(logger, "pipeline"),
		metrics: metrics,
		now:     time.Now,
	}
}

// Run processes batches until ctx is done. It never returns on a failed
// pass; failures are logged and the loop backs off.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info().
		Int("batch_size", p.config.BatchSize).
		Int("max_retries", p.config.MaxRetries).
		Str("backend", p.backend.Name()).
		Msg("starting pipeline")

	for {
		if ctx.Err() != nil {
			p.logger.Info().Msg("pipeline stopped via context cancellation")
			return ctx.Err()
		}

		result, err := p.ProcessOnce(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			p.logger.Error().Err(err).Msg("pipeline pass failed")
			wait = p.config.RetryDelay
		case result.SubmitErr != nil:
			wait = p.config.RetryDelay
		case result.Idle || result.Found == 0:
			wait = p.config.PollInterval
		}

		if wait > 0 {
			if err := sleep(ctx, wait); err != nil {
				p.logger.Info().Msg("pipeline stopped via context cancellation")
				return err
			}
		}
	}
}

// ProcessOnce runs exactly one find-submit-record pass. Passes must not
// overlap; Run is the only caller in the service.
func (p *Pipeline) ProcessOnce(ctx context.Context) (Result, error) {
	if err := p.retryDeletes(ctx); err != nil {
		p.logger.Warn().Err(err).Int("count", len(p.undeleted)).Msg("delivered events still awaiting delete")
	}

	status := p.status.Status()
	if !status.Draining() {
		return Result{Idle: true}, nil
	}

	start := time.Now()
	shard := status.Assignment.Range
	found, err := p.finder.Find(ctx, outbox.FindRequest{
		Range:       &shard,
		TenantIDs:   p.config.TenantIDs,
		MaxResults:  p.config.BatchSize,
		ExcludeIDs:  p.claims.IDs(),
		EntityNames: p.config.EntityNames,
	})
	if err != nil {
		return Result{}, err
	}

	events := p.claims.Claim(found)
	result := Result{Found: len(events)}
	if len(events) == 0 {
		if p.metrics != nil {
			p.metrics.RecordEmptyPoll()
		}
		return result, nil
	}
	defer p.releaseClaims(events)

	// Once a batch is submitted its outcome is recorded even during shutdown.
	bookkeeping := context.WithoutCancel(ctx)

	batch, rejected := buildBatch(events)
	results, submitErr := p.submit(bookkeeping, batch)
	result.SubmitErr = submitErr
	results = append(results, rejected...)

	byID := make(map[uuid.UUID]*domain.Event, len(events))
	for _, e := range events {
		byID[e.ID] = e
	}

	var (
		succeeded []uuid.UUID
		failures  []repository.EventFailure
	)
	for _, r := range results {
		e := byID[r.EventID]
		if r.Err == nil {
			succeeded = append(succeeded, r.EventID)
			if p.metrics != nil {
				p.metrics.RecordSucceeded(e.Route)
			}
			continue
		}

		kind := backend.KindOf(r.Err)
		failures = append(failures, repository.EventFailure{ID: r.EventID, Poison: kind == backend.FailurePoison})
		if p.metrics != nil {
			p.metrics.RecordFailed(kind.String())
		}
		eventLogger := observability.WithEventContext(p.logger, e.ID.String(), e.EntityName, e.EntityID)
		eventLogger.Debug().
			Err(r.Err).
			Str("failure", kind.String()).
			Int("retry_count", e.RetryCount).
			Msg("event delivery failed")
	}
	result.Succeeded = len(succeeded)

	// A failed delete must not skip the failure bookkeeping of the same batch.
	var deleteErr, recordErr error
	if len(succeeded) > 0 {
		deleted, err := p.events.DeleteByIDs(bookkeeping, succeeded)
		if err != nil {
			deleteErr = fmt.Errorf("delete processed events: %w", err)
			p.undeleted = append(p.undeleted, succeeded...)
		} else if races := len(succeeded) - int(deleted); races > 0 {
			result.DeleteRaces = races
			p.logger.Debug().
				Int("expected", len(succeeded)).
				Int64("deleted", deleted).
				Msg("processed events already deleted by a peer")
			if p.metrics != nil {
				p.metrics.RecordDeleteRace(races)
			}
		}
	}

	if len(failures) > 0 {
		policy := repository.RetryPolicy{MaxRetries: p.config.MaxRetries, RetryDelay: p.config.RetryDelay}
		outcomes, err := p.events.RecordFailures(bookkeeping, failures, policy, p.now().UTC())
		if err != nil {
			recordErr = fmt.Errorf("record failed events: %w", err)
		}
		for _, o := range outcomes {
			if !o.Aborted() {
				result.Retried++
				continue
			}
			result.Aborted++
			if p.metrics != nil {
				p.metrics.RecordAborted(o.TenantID)
			}
			tenantLogger := observability.WithTenant(p.logger, o.TenantID)
			tenantLogger.Warn().
				Str("event_id", o.ID.String()).
				Int("retry_count", o.RetryCount).
				Msg("event aborted")
		}
	}

	if err := errors.Join(deleteErr, recordErr); err != nil {
		return result, err
	}

	if p.metrics != nil {
		p.metrics.RecordBatch(len(events), time.Since(start).Seconds())
	}

	event := p.logger.Debug()
	if submitErr != nil {
		event = p.logger.Warn().Err(submitErr)
	}
	event.
		Int("found", result.Found).
		Int("succeeded", result.Succeeded).
		Int("retried", result.Retried).
		Int("aborted", result.Aborted).
		Msg("batch processed")

	return result, nil
}

// retryDeletes removes the delivered events a previous pass failed to
// delete. Until it succeeds they stay claimed and so out of every find.
func (p *Pipeline) retryDeletes(ctx context.Context) error {
	if len(p.undeleted) == 0 {
		return nil
	}
	if _, err := p.events.DeleteByIDs(ctx, p.undeleted); err != nil {
		return fmt.Errorf("delete processed events: %w", err)
	}
	p.logger.Debug().Int("count", len(p.undeleted)).Msg("deleted events left over from a failed pass")
	p.claims.Release(p.undeleted...)
	p.undeleted = nil
	return nil
}

// releaseClaims releases the claims of a finished pass except those of
// events still waiting for their delete.
func (p *Pipeline) releaseClaims(events []*domain.Event) {
	held := make(map[uuid.UUID]struct{}, len(p.undeleted))
	for _, id := range p.undeleted {
		held[id] = struct{}{}
	}
	for _, e := range events {
		if _, ok := held[e.ID]; !ok {
			p.claims.Release(e.ID)
		}
	}
}

// submit sends batch and returns one result per item. A batch-level error
// fails every item as transient.
func (p *Pipeline) submit(ctx context.Context, batch backend.Batch) ([]backend.ItemResult, error) {
	if batch.Len() == 0 {
		return nil, nil
	}

	if p.config.BackendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.BackendTimeout)
		defer cancel()
	}

	if p.metrics != nil {
		for _, g := range batch.Groups {
			p.metrics.RecordDispatched(g.Route, len(g.Items))
		}
	}

	start := time.Now()
	reported, err := p.backend.Submit(ctx, batch)
	if p.metrics != nil {
		p.metrics.RecordBackendSubmit(time.Since(start).Seconds())
	}

	results := make([]backend.ItemResult, 0, batch.Len())
	if err != nil {
		failure := backend.NewItemError(backend.FailureTransient, err)
		for _, g := range batch.Groups {
			for _, item := range g.Items {
				results = append(results, backend.ItemResult{EventID: item.EventID, Err: failure})
			}
		}
		return results, err
	}

	byID := make(map[uuid.UUID]error, len(reported))
	for _, r := range reported {
		byID[r.EventID] = r.Err
	}
	for _, g := range batch.Groups {
		for _, item := range g.Items {
			itemErr, ok := byID[item.EventID]
			if !ok {
				itemErr = backend.NewItemError(backend.FailureTransient, errNoResult)
			}
			results = append(results, backend.ItemResult{EventID: item.EventID, Err: itemErr})
		}
	}
	return results, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
