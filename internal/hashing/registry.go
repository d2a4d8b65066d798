package hashing

import (
	"fmt"
	"sort"
	"sync"

	"github.com/helixir/search-outbox/internal/domain"
)

// Strategy names accepted by the registry.
const (
	StrategyModulo = "modulo"
	StrategyRange  = "range"
)

// TableFactory builds a table with the given bucket count.
type TableFactory func(bucketCount int) (Table, error)

// Registry maps strategy names to table factories. Custom strategies are
// registered as factory values.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]TableFactory
}

// NewRegistry returns a registry holding the built-in strategies: modulo over
// the polynomial hash and range over Murmur3.
func NewRegistry() *Registry {
	return &Registry{
		factories: map[string]TableFactory{
			StrategyModulo: func(n int) (Table, error) {
				return NewModuloHashTable(NewPolynomial(), n)
			},
			StrategyRange: func(n int) (Table, error) {
				return NewRangeHashTable(NewMurmur3(), n)
			},
		},
	}
}

// RegisterCustom adds a named strategy. Built-in and already registered names
// cannot be replaced.
func (r *Registry) RegisterCustom(name string, factory TableFactory) error {
	if name == "" {
		return domain.NewValidationError("name", "strategy name is required")
	}
	if factory == nil {
		return domain.NewValidationError("factory", "factory is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return domain.NewAlreadyExistsError("hash table strategy", name)
	}
	r.factories[name] = factory
	return nil
}

// New builds a table for the named strategy.
func (r *Registry) New(name string, bucketCount int) (Table, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, domain.NewConfigurationError("hash table", fmt.Sprintf("unknown strategy %q", name))
	}
	return factory(bucketCount)
}

// NewRanged builds a table for the named strategy and requires it to expose
// hash ranges, as shard assignment does.
func (r *Registry) NewRanged(name string, bucketCount int) (RangedTable, error) {
	table, err := r.New(name, bucketCount)
	if err != nil {
		return nil, err
	}
	ranged, ok := table.(RangedTable)
	if !ok {
		return nil, domain.NewConfigurationError("hash table", fmt.Sprintf("strategy %q does not expose hash ranges", name))
	}
	return ranged, nil
}

// Names returns the registered strategy names, sorted.
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

// FunctionByName returns a built-in hash function.
func FunctionByName(name string) (Function, error) {
	switch name {
	case "polynomial":
		return NewPolynomial(), nil
	case "murmur3":
		return NewMurmur3(), nil
	default:
		return nil, domain.NewConfigurationError("hash function", fmt.Sprintf("unknown hash function %q", name))
	}
}
