package backend

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/helixir/search-outbox/internal/hashing"
)

// NATSConfig holds settings for the NATS backend.
type NATSConfig struct {
	// URL is the NATS server URL.
	URL string
	// SubjectPrefix is prepended to the route to form the subject.
	SubjectPrefix string
	// SubjectShards splits each route into this many sub-subjects by entity
	// ID. Zero or one publishes on the route subject itself.
	SubjectShards int
	// ConnectTimeout bounds the initial connection.
	ConnectTimeout time.Duration
	// FlushTimeout bounds the post-publish flush when the caller's context
	// carries no deadline. Defaults to DefaultNATSFlushTimeout.
	FlushTimeout time.Duration
}

// DefaultNATSFlushTimeout matches the timeout nats.Conn.Flush applies.
const DefaultNATSFlushTimeout = 10 * time.Second

// natsConn is the subset of *nats.Conn used by NATSBackend.
type natsConn interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// NATSBackend publishes each item as a NATS message on
// SubjectPrefix.route[.shard].
type NATSBackend struct {
	conn         natsConn
	prefix       string
	shards       hashing.Table
	flushTimeout time.Duration
	logger       zerolog.Logger
}

// NewNATSBackend connects to NATS with automatic reconnection.
func NewNATSBackend(cfg NATSConfig, logger zerolog.Logger) (*NATSBackend, error) {
	opts := []nats.Option{
		nats.Name("search-outbox"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	if cfg.ConnectTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnectTimeout))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.URL, err)
	}

	b, err := newNATSBackend(nc, cfg.SubjectPrefix, cfg.SubjectShards, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	if cfg.FlushTimeout > 0 {
		b.flushTimeout = cfg.FlushTimeout
	}
	return b, nil
}

func newNATSBackend(conn natsConn, prefix string, shards int, logger zerolog.Logger) (*NATSBackend, error) {
	b := &NATSBackend{
		conn:         conn,
		prefix:       prefix,
		flushTimeout: DefaultNATSFlushTimeout,
		logger:       logger.With().Str("component", "nats_backend").Logger(),
	}
	if shards > 1 {
		table, err := hashing.NewModuloHashTable(hashing.NewPolynomial(), shards)
		if err != nil {
			return nil, fmt.Errorf("subject shard table: %w", err)
		}
		b.shards = table
	}
	return b, nil
}

// Name implements Backend.
func (b *NATSBackend) Name() string { return KindNATS }

// Subject returns the subject an item of route is published on.
func (b *NATSBackend) Subject(route, entityID string) string {
	subject := route
	if b.prefix != "" {
		subject = b.prefix + "." + route
	}
	if b.shards != nil {
		subject += "." + strconv.Itoa(b.shards.ComputeIndex(entityID))
	}
	return subject
}

// Submit publishes each item, then flushes so that results reflect what the
// server received. A failed flush fails the whole batch. The flush is bounded
// by the flush timeout when ctx has no deadline of its own.
func (b *NATSBackend) Submit(ctx context.Context, batch Batch) ([]ItemResult, error) {
	results := make([]ItemResult, 0, batch.Len())
	published := 0
	for _, g := range batch.Groups {
		for _, item := range g.Items {
			msg := nats.NewMsg(b.Subject(g.Route, item.EntityID))
			msg.Header.Set(HeaderEventID, item.EventID.String())
			msg.Header.Set(HeaderOperation, string(item.Operation))
			msg.Header.Set(HeaderEntityName, item.EntityName)
			if item.TenantID != "" {
				msg.Header.Set(HeaderTenantID, item.TenantID)
			}
			msg.Data = item.Payload

			if err := b.conn.PublishMsg(msg); err != nil {
				results = append(results, Failed(item.EventID, classifyNATSError(err), err))
				continue
			}
			results = append(results, Succeeded(item.EventID))
			published++
		}
	}

	if published > 0 {
		if err := b.flush(ctx); err != nil {
			return nil, fmt.Errorf("flush nats connection: %w", err)
		}
	}
	return results, nil
}

// flush wraps FlushWithContext, which rejects contexts without a deadline.
func (b *NATSBackend) flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.flushTimeout)
		defer cancel()
	}
	return b.conn.FlushWithContext(ctx)
}

// Close implements Backend.
func (b *NATSBackend) Close() error {
	b.conn.Close()
	return nil
}

func classifyNATSError(err error) FailureKind {
	switch {
	case errors.Is(err, nats.ErrMaxPayload):
		return FailurePoison
	case errors.Is(err, nats.ErrBadSubject), errors.Is(err, nats.ErrHeadersNotSupported):
		return FailurePermanent
	default:
		return FailureTransient
	}
}
