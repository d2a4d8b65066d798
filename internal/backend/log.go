package backend

import (
	"context"

	"github.com/rs/zerolog"
)

// LogBackend logs each item and reports success. It is a dry-run backend for
// local development.
type LogBackend struct {
	logger zerolog.Logger
}

// NewLogBackend creates a new LogBackend.
func NewLogBackend(logger zerolog.Logger) *LogBackend {
	return &LogBackend{logger: logger.With().Str("component", "log_backend").Logger()}
}

// Name implements Backend.
func (b *LogBackend) Name() string { return KindLog }

// Submit implements Backend.
func (b *LogBackend) Submit(ctx context.Context, batch Batch) ([]ItemResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]ItemResult, 0, batch.Len())
	for _, g := range batch.Groups {
		for _, item := range g.Items {
			b.logger.Info().
				Str("route", g.Route).
				Str("event_id", item.EventID.String()).
				Str("operation", string(item.Operation)).
				Str("entity_name", item.EntityName).
				Str("entity_id", item.EntityID).
				Int("payload_bytes", len(item.Payload)).
				Msg("index instruction")
			results = append(results, Succeeded(item.EventID))
		}
	}
	return results, nil
}

// Close implements Backend.
func (b *LogBackend) Close() error { return nil }
