package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/search-outbox/internal/hashing"
)

// Kafka header names carried on every message.
const (
	HeaderEventID    = "outbox-event-id"
	HeaderOperation  = "outbox-operation"
	HeaderEntityName = "outbox-entity-name"
	HeaderTenantID   = "outbox-tenant-id"
)

// KafkaConfig holds settings for the Kafka backend.
type KafkaConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// TopicPrefix is prepended to the route to form the topic name.
	TopicPrefix string
	// BatchSize is the writer's maximum messages per produce request.
	BatchSize int
	// BatchTimeout bounds how long the writer waits to fill a batch.
	BatchTimeout time.Duration
	// RequiredAcks is -1 (all), 0 (none) or 1 (leader).
	RequiredAcks int
}

// messageWriter is the subset of *kafka.Writer used by KafkaBackend.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaBackend publishes each item as a Kafka message keyed by entity ID,
// on topic TopicPrefix+route. Deletes are sent as tombstones.
type KafkaBackend struct {
	writer      messageWriter
	topicPrefix string
	logger      zerolog.Logger
}

// NewKafkaBackend creates a KafkaBackend with a synchronous kafka.Writer.
func NewKafkaBackend(cfg KafkaConfig, logger zerolog.Logger) (*KafkaBackend, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka backend requires at least one broker")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     NewShardBalancer(),
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
	}

	return newKafkaBackend(writer, cfg.TopicPrefix, logger), nil
}

func newKafkaBackend(w messageWriter, topicPrefix string, logger zerolog.Logger) *KafkaBackend {
	return &KafkaBackend{
		writer:      w,
		topicPrefix: topicPrefix,
		logger:      logger.With().Str("component", "kafka_backend").Logger(),
	}
}

// Name implements Backend.
func (b *KafkaBackend) Name() string { return KindKafka }

// Submit writes every item in one WriteMessages call and maps per-message
// write errors back to items.
func (b *KafkaBackend) Submit(ctx context.Context, batch Batch) ([]ItemResult, error) {
	msgs := make([]kafka.Message, 0, batch.Len())
	items := make([]Item, 0, batch.Len())
	for _, g := range batch.Groups {
		topic := b.topicPrefix + g.Route
		for _, item := range g.Items {
			msgs = append(msgs, b.message(topic, item))
			items = append(items, item)
		}
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	err := b.writer.WriteMessages(ctx, msgs...)
	results := make([]ItemResult, len(msgs))

	var writeErrs kafka.WriteErrors
	switch {
	case err == nil:
		for i, item := range items {
			results[i] = Succeeded(item.EventID)
		}
	case errors.As(err, &writeErrs) && len(writeErrs) == len(msgs):
		for i, item := range items {
			if writeErrs[i] == nil {
				results[i] = Succeeded(item.EventID)
				continue
			}
			results[i] = Failed(item.EventID, classifyKafkaError(writeErrs[i]), writeErrs[i])
		}
		b.logger.Warn().
			Int("failed", writeErrs.Count()).
			Int("total", len(msgs)).
			Msg("partial kafka write failure")
	default:
		return nil, fmt.Errorf("write kafka messages: %w", err)
	}

	return results, nil
}

func (b *KafkaBackend) message(topic string, item Item) kafka.Message {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(item.EntityID),
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte(item.EventID.String())},
			{Key: HeaderOperation, Value: []byte(item.Operation)},
			{Key: HeaderEntityName, Value: []byte(item.EntityName)},
		},
	}
	if item.TenantID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: HeaderTenantID, Value: []byte(item.TenantID)})
	}
	if item.Operation != OperationDelete {
		msg.Value = item.Payload
	}
	return msg
}

// Close implements Backend.
func (b *KafkaBackend) Close() error {
	if err := b.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

// classifyKafkaError maps broker error codes to failure kinds.
func classifyKafkaError(err error) FailureKind {
	var kerr kafka.Error
	if !errors.As(err, &kerr) {
		return FailureTransient
	}
	switch kerr {
	case kafka.MessageSizeTooLarge, kafka.InvalidMessage, kafka.InvalidMessageSize:
		return FailurePoison
	case kafka.InvalidTopic, kafka.TopicAuthorizationFailed, kafka.UnsupportedForMessageFormat:
		return FailurePermanent
	default:
		if kerr.Temporary() {
			return FailureTransient
		}
		return FailurePermanent
	}
}

// ShardBalancer routes a message to a partition with the frozen modulo hash
// of its key, so an entity always lands on the same partition for a given
// partition count.
type ShardBalancer struct {
	fn hashing.Function
}

// NewShardBalancer creates a balancer over the polynomial hash.
func NewShardBalancer() *ShardBalancer {
	return &ShardBalancer{fn: hashing.NewPolynomial()}
}

// Balance implements kafka.Balancer.
func (s *ShardBalancer) Balance(msg kafka.Message, partitions ...int) int {
	if len(partitions) == 0 {
		return 0
	}
	table, err := hashing.NewModuloHashTable(s.fn, len(partitions))
	if err != nil {
		return partitions[0]
	}
	return partitions[table.ComputeIndex(string(msg.Key))]
}
