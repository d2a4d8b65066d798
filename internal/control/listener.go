// Package control provides a Kafka listener for operator commands, so that
// administrative operations can be triggered from tooling that already
// publishes to Kafka.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/search-outbox/internal/pipeline"
)

// Command is one operator instruction read from the control topic.
type Command struct {
	Operation string `json:"operation" validate:"required,oneof=count_aborted_events reprocess_aborted_events clear_all_aborted_events count_pending_events suspend_agent resume_agent"`
	TenantID  string `json:"tenant_id,omitempty" validate:"max=255"`
	AgentID   string `json:"agent_id,omitempty" validate:"omitempty,uuid"`
	// RequestedBy identifies the operator or tool, for the audit log.
	RequestedBy string `json:"requested_by,omitempty"`
}

// Admin is the subset of *pipeline.Admin the listener drives.
type Admin interface {
	CountAbortedEvents(ctx context.Context, tenantID string) (int64, error)
	ReprocessAbortedEvents(ctx context.Context, tenantID string) (int64, error)
	ClearAllAbortedEvents(ctx context.Context, tenantID string) (int64, error)
	CountPendingEvents(ctx context.Context, tenantID string) (int64, error)
	SuspendAgent(ctx context.Context, id uuid.UUID) error
	ResumeAgent(ctx context.Context, id uuid.UUID) error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Config holds configuration for the control listener.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the Kafka topic for operator commands.
	Topic string
	// GroupID is the consumer group ID.
	GroupID string
}

// Listener consumes operator commands from Kafka and applies them.
type Listener struct {
	reader   messageReader
	admin    Admin
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewListener creates a new control listener.
func NewListener(cfg Config, admin Admin, logger zerolog.Logger) *Listener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})
	return newListener(reader, admin, logger)
}

func newListener(reader messageReader, admin Admin, logger zerolog.Logger) *Listener {
	return &Listener{
		reader:   reader,
		admin:    admin,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With().Str("component", "control_listener").Logger(),
	}
}

// Run starts the listener loop. Blocks until context is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info().Msg("starting control listener")

	for {
		msg, err := l.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("control listener stopped via context cancellation")
				return ctx.Err()
			}
			l.logger.Error().Err(err).Msg("failed to read message from Kafka")
			continue
		}

		l.logger.Debug().
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("received control command")

		var cmd Command
		if err := json.Unmarshal(msg.Value, &cmd); err != nil {
			l.logger.Error().Err(err).
				Int64("offset", msg.Offset).
				Msg("failed to unmarshal control command")
			continue
		}

		if err := l.Handle(ctx, cmd); err != nil {
			l.logger.Error().Err(err).
				Str("operation", cmd.Operation).
				Str("tenant_id", cmd.TenantID).
				Str("requested_by", cmd.RequestedBy).
				Msg("control command failed")
		}
	}
}

// Handle validates and applies one command.
func (l *Listener) Handle(ctx context.Context, cmd Command) error {
	if err := l.validate.Struct(cmd); err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}

	switch cmd.Operation {
	case pipeline.OpSuspendAgent, pipeline.OpResumeAgent:
		if cmd.AgentID == "" {
			return fmt.Errorf("invalid command: %s requires agent_id", cmd.Operation)
		}
		id := uuid.MustParse(cmd.AgentID)
		apply := l.admin.SuspendAgent
		if cmd.Operation == pipeline.OpResumeAgent {
			apply = l.admin.ResumeAgent
		}
		if err := apply(ctx, id); err != nil {
			return err
		}
		l.logger.Info().
			Str("operation", cmd.Operation).
			Str("agent_id", cmd.AgentID).
			Str("requested_by", cmd.RequestedBy).
			Msg("control command applied")
		return nil
	}

	var apply func(context.Context, string) (int64, error)
	switch cmd.Operation {
	case pipeline.OpCountAborted:
		apply = l.admin.CountAbortedEvents
	case pipeline.OpReprocessAborted:
		apply = l.admin.ReprocessAbortedEvents
	case pipeline.OpClearAborted:
		apply = l.admin.ClearAllAbortedEvents
	case pipeline.OpCountPending:
		apply = l.admin.CountPendingEvents
	default:
		return fmt.Errorf("unsupported operation %q", cmd.Operation)
	}

	n, err := apply(ctx, cmd.TenantID)
	if err != nil {
		return err
	}
	l.logger.Info().
		Str("operation", cmd.Operation).
		Str("tenant_id", cmd.TenantID).
		Str("requested_by", cmd.RequestedBy).
		Int64("count", n).
		Msg("control command applied")
	return nil
}

// Close closes the Kafka reader.
func (l *Listener) Close() error {
	l.logger.Info().Msg("closing control listener")
	return l.reader.Close()
}
