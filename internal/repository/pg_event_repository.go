package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/search-outbox/internal/domain"
)

// eventColumns is the column list shared by every event SELECT.
const eventColumns = `id, created_at, kind, entity_name, entity_id, entity_id_hash,
			route, payload, tenant_id, retry_count, status, process_after`

// Compile-time interface verification.
var _ EventRepository = (*PgEventRepository)(nil)

// PgEventRepository is a PostgreSQL implementation of EventRepository.
type PgEventRepository struct {
	db DBTX
}

// NewPgEventRepository creates a new PostgreSQL event repository.
func NewPgEventRepository(db DBTX) *PgEventRepository {
	return &PgEventRepository{db: db}
}

const insertEventQuery = `
		INSERT INTO search_outbox_events (
			id, created_at, kind, entity_name, entity_id, entity_id_hash,
			route, payload, tenant_id, retry_count, status, process_after
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12
		)`

// Insert stores a new event.
func (r *PgEventRepository) Insert(ctx context.Context, event *domain.Event) error {
	if err := validateEvent(event); err != nil {
		return err
	}

	_, err := r.db.Exec(ctx, insertEventQuery, eventArgs(event)...)
	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("event", event.ID.String())
		}
		return fmt.Errorf("failed to insert event: %w", err)
	}

	return nil
}

// InsertBatch stores several events in one round trip.
func (r *PgEventRepository) InsertBatch(ctx context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i, event := range events {
		if err := validateEvent(event); err != nil {
			return fmt.Errorf("event at index %d: %w", i, err)
		}
		batch.Queue(insertEventQuery, eventArgs(event)...)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for i, event := range events {
		if _, err := br.Exec(); err != nil {
			if isPgUniqueViolation(err) {
				return domain.NewAlreadyExistsError("event", event.ID.String())
			}
			return fmt.Errorf("failed to insert event at index %d: %w", i, err)
		}
	}

	return nil
}

func validateEvent(event *domain.Event) error {
	if event == nil {
		return domain.NewValidationError("event", "event cannot be nil")
	}
	if event.ID == uuid.Nil {
		return domain.NewValidationError("id", "event ID is required")
	}
	if !event.Kind.IsValid() {
		return domain.NewValidationError("kind", fmt.Sprintf("unknown operation kind %q", event.Kind))
	}
	if !event.Status.IsValid() {
		return domain.NewValidationError("status", fmt.Sprintf("unknown status %q", event.Status))
	}
	if event.EntityName == "" {
		return domain.NewValidationError("entity_name", "entity name is required")
	}
	if event.EntityID == "" {
		return domain.NewValidationError("entity_id", "entity ID is required")
	}
	return nil
}

func eventArgs(event *domain.Event) []interface{} {
	return []interface{}{
		event.ID, event.CreatedAt, string(event.Kind), event.EntityName, event.EntityID, event.EntityIDHash,
		event.Route, event.Payload, nullString(event.TenantID), event.RetryCount, string(event.Status), event.ProcessAfter,
	}
}

// Find returns visible PENDING events matching the filter, oldest first.
// The SELECT takes no row locks so concurrent writers are never blocked.
func (r *PgEventRepository) Find(ctx context.Context, filter EventFilter) ([]*domain.Event, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	conditions := []string{"status = $1", "process_after <= $2"}
	args := []interface{}{string(domain.EventStatusPending), filter.Now}
	argIndex := 3

	if filter.Range != nil {
		conditions = append(conditions, fmt.Sprintf("entity_id_hash BETWEEN $%d AND $%d", argIndex, argIndex+1))
		args = append(args, filter.Range.Lower, filter.Range.Upper)
		argIndex += 2
	}

	if len(filter.TenantIDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("tenant_id = ANY($%d)", argIndex))
		args = append(args, filter.TenantIDs)
		argIndex++
	}

	if len(filter.EntityNames) > 0 {
		conditions = append(conditions, fmt.Sprintf("entity_name = ANY($%d)", argIndex))
		args = append(args, filter.EntityNames)
		argIndex++
	}

	if len(filter.ExcludeIDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("NOT (id = ANY($%d))", argIndex))
		args = append(args, filter.ExcludeIDs)
		argIndex++
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM search_outbox_events
		WHERE %s
		ORDER BY created_at, id
		LIMIT $%d`,
		eventColumns, strings.Join(conditions, " AND "), argIndex)
	args = append(args, filter.Limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find events: %w", err)
	}
	defer rows.Close()

	events := make([]*domain.Event, 0, filter.Limit)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// DeleteByIDs removes processed events.
func (r *PgEventRepository) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result, err := r.db.Exec(ctx, `DELETE FROM search_outbox_events WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}

	return result.RowsAffected(), nil
}

// recordFailureQuery evaluates the CASE expressions against the pre-update
// retry_count, so retry_count + 1 is the count after this failure.
const recordFailureQuery = `
		UPDATE search_outbox_events
		SET retry_count = retry_count + 1,
			status = CASE WHEN $2 OR retry_count + 1 >= $3 THEN 'ABORTED' ELSE 'PENDING' END,
			process_after = CASE WHEN $2 OR retry_count + 1 >= $3 THEN process_after ELSE $4 END
		WHERE id = $1 AND status = 'PENDING'
		RETURNING retry_count, status, tenant_id`

// RecordFailures applies the retry policy to each failed event.
func (r *PgEventRepository) RecordFailures(ctx context.Context, failures []EventFailure, policy RetryPolicy, now time.Time) ([]FailureOutcome, error) {
	if len(failures) == 0 {
		return nil, nil
	}
	if policy.MaxRetries <= 0 {
		return nil, domain.NewValidationError("max_retries", "max retries must be positive")
	}

	nextVisible := now.Add(policy.RetryDelay)
	batch := &pgx.Batch{}
	for _, failure := range failures {
		batch.Queue(recordFailureQuery, failure.ID, failure.Poison, policy.MaxRetries, nextVisible)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	outcomes := make([]FailureOutcome, 0, len(failures))
	for _, failure := range failures {
		var (
			status   string
			tenantID *string
		)
		outcome := FailureOutcome{ID: failure.ID}
		err := br.QueryRow().Scan(&outcome.RetryCount, &status, &tenantID)
		if err != nil {
			// Deleted or aborted concurrently.
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			return nil, fmt.Errorf("failed to record failure of event %s: %w", failure.ID, err)
		}
		outcome.Status = domain.EventStatus(status)
		if tenantID != nil {
			outcome.TenantID = *tenantID
		}
		outcomes = append(outcomes, outcome)
	}

	return outcomes, nil
}

// tenantCondition appends a tenant predicate when tenantID is set.
func tenantCondition(conditions []string, args []interface{}, tenantID string) ([]string, []interface{}) {
	if tenantID == "" {
		return conditions, args
	}
	args = append(args, tenantID)
	return append(conditions, fmt.Sprintf("tenant_id = $%d", len(args))), args
}

func (r *PgEventRepository) countByStatus(ctx context.Context, status domain.EventStatus, tenantID string) (int64, error) {
	conditions, args := tenantCondition([]string{"status = $1"}, []interface{}{string(status)}, tenantID)
	query := fmt.Sprintf("SELECT COUNT(*) FROM search_outbox_events WHERE %s", strings.Join(conditions, " AND "))

	var count int64
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s events: %w", strings.ToLower(string(status)), err)
	}
	return count, nil
}

// CountPending counts PENDING events.
func (r *PgEventRepository) CountPending(ctx context.Context, tenantID string) (int64, error) {
	return r.countByStatus(ctx, domain.EventStatusPending, tenantID)
}

// CountAborted counts ABORTED events.
func (r *PgEventRepository) CountAborted(ctx context.Context, tenantID string) (int64, error) {
	return r.countByStatus(ctx, domain.EventStatusAborted, tenantID)
}

// ReprocessAborted resets ABORTED events to PENDING.
func (r *PgEventRepository) ReprocessAborted(ctx context.Context, tenantID string, now time.Time) (int64, error) {
	conditions, args := tenantCondition(
		[]string{"status = $1"},
		[]interface{}{string(domain.EventStatusAborted), string(domain.EventStatusPending), now},
		tenantID,
	)
	query := fmt.Sprintf(`
		UPDATE search_outbox_events
		SET status = $2, retry_count = 0, process_after = $3
		WHERE %s`, strings.Join(conditions, " AND "))

	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to reprocess aborted events: %w", err)
	}
	return result.RowsAffected(), nil
}

// ClearAborted deletes ABORTED events.
func (r *PgEventRepository) ClearAborted(ctx context.Context, tenantID string) (int64, error) {
	conditions, args := tenantCondition([]string{"status = $1"}, []interface{}{string(domain.EventStatusAborted)}, tenantID)
	query := fmt.Sprintf("DELETE FROM search_outbox_events WHERE %s", strings.Join(conditions, " AND "))

	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to clear aborted events: %w", err)
	}
	return result.RowsAffected(), nil
}

// scanEvent scans the current row into an Event.
func scanEvent(row pgx.Row) (*domain.Event, error) {
	var (
		event    domain.Event
		kind     string
		status   string
		tenantID *string
	)
	err := row.Scan(
		&event.ID, &event.CreatedAt, &kind, &event.EntityName, &event.EntityID, &event.EntityIDHash,
		&event.Route, &event.Payload, &tenantID, &event.RetryCount, &status, &event.ProcessAfter,
	)
	if err != nil {
		return nil, err
	}
	event.Kind = domain.OperationKind(kind)
	event.Status = domain.EventStatus(status)
	if tenantID != nil {
		event.TenantID = *tenantID
	}
	return &event, nil
}
