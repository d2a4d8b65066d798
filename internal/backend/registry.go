package backend

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/helixir/search-outbox/internal/config"
	"github.com/helixir/search-outbox/internal/domain"
)

// Built-in backend kinds. These match config.BackendConfig.Kind values.
const (
	KindKafka = config.BackendKafka
	KindNATS  = config.BackendNATS
	KindLog   = config.BackendLog
)

// Factory builds a Backend from configuration.
type Factory func(cfg *config.Config, logger zerolog.Logger) (Backend, error)

// Registry maps backend kinds to factories. The built-in kinds are
// registered by NewRegistry; RegisterCustom adds new kinds by value.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry with the kafka, nats and log backends.
func NewRegistry() *Registry {
	return &Registry{
		factories: map[string]Factory{
			KindKafka: newKafkaFromConfig,
			KindNATS:  newNATSFromConfig,
			KindLog: func(_ *config.Config, logger zerolog.Logger) (Backend, error) {
				return NewLogBackend(logger), nil
			},
		},
	}
}

// RegisterCustom adds a factory under name.
// Returns domain.ErrAlreadyExists if name is taken.
func (r *Registry) RegisterCustom(name string, factory Factory) error {
	if name == "" {
		return domain.NewValidationError("name", "backend name is required")
	}
	if factory == nil {
		return domain.NewValidationError("factory", "backend factory is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[name]; ok {
		return domain.NewAlreadyExistsError("backend", name)
	}
	r.factories[name] = factory
	return nil
}

// New builds the backend selected by cfg.Backend.Kind, wrapped with the
// outbox rate limit when one is configured.
func (r *Registry) New(cfg *config.Config, logger zerolog.Logger) (Backend, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Backend.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported backend kind: %q", cfg.Backend.Kind)
	}

	b, err := factory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", cfg.Backend.Kind, err)
	}
	return NewRateLimited(b, cfg.Outbox.BackendRateLimit, cfg.Outbox.BackendRateBurst), nil
}

// Names returns the registered kinds, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newKafkaFromConfig(cfg *config.Config, logger zerolog.Logger) (Backend, error) {
	return NewKafkaBackend(KafkaConfig{
		Brokers:      cfg.Kafka.Brokers,
		TopicPrefix:  cfg.Kafka.TopicPrefix,
		BatchSize:    cfg.Kafka.BatchSize,
		BatchTimeout: cfg.Kafka.BatchTimeout,
		RequiredAcks: cfg.Kafka.RequiredAcks,
	}, logger)
}

func newNATSFromConfig(cfg *config.Config, logger zerolog.Logger) (Backend, error) {
	return NewNATSBackend(NATSConfig{
		URL:            cfg.NATS.URL,
		SubjectPrefix:  cfg.NATS.SubjectPrefix,
		SubjectShards:  cfg.NATS.SubjectShards,
		ConnectTimeout: cfg.NATS.ConnectTimeout,
		FlushTimeout:   cfg.NATS.FlushTimeout,
	}, logger)
}
