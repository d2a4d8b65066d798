package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/helixir/search-outbox/internal/domain"
	"github.com/helixir/search-outbox/internal/hashing"
)

// EmitterConfig configures the Emitter.
type EmitterConfig struct {
	// TenancyEnabled requires every event to carry a tenant.
	TenancyEnabled bool
	// Tenants lists accepted tenant IDs when tenancy is enabled. Empty
	// accepts any non-empty tenant.
	Tenants []string
	// Now overrides the clock (tests).
	Now func() time.Time
}

// EmitParams describes one entity change.
type EmitParams struct {
	// Kind is the indexing operation.
	Kind domain.OperationKind `validate:"required,oneof=ADD ADD_OR_UPDATE DELETE"`
	// EntityName is the entity type, e.g. "Book".
	EntityName string `validate:"required,max=255"`
	// EntityID identifies the entity instance. Its Murmur3 hash decides the shard.
	EntityID string `validate:"required,max=255"`
	// Route is the target index or topic.
	Route string `validate:"required,max=255"`
	// Payload is serialized as JSON unless it is already a []byte or
	// json.RawMessage. Nil is allowed for deletes.
	Payload interface{}
	// TenantID scopes the event when tenancy is enabled.
	TenantID string `validate:"omitempty,max=255"`
	// Delay postpones the first processing attempt.
	Delay time.Duration `validate:"gte=0"`
}

// Emitter creates outbox events from producer parameters.
type Emitter struct {
	config   EmitterConfig
	hash     hashing.Function
	validate *validator.Validate
	tenants  map[string]struct{}
}

// NewEmitter creates a new Emitter. Entity IDs are hashed with Murmur3 so the
// persisted hash lines up with the range hash table agents are assigned from.
func NewEmitter(config EmitterConfig) *Emitter {
	if config.Now == nil {
		config.Now = time.Now
	}
	tenants := make(map[string]struct{}, len(config.Tenants))
	for _, t := range config.Tenants {
		tenants[t] = struct{}{}
	}
	return &Emitter{
		config:   config,
		hash:     hashing.NewMurmur3(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		tenants:  tenants,
	}
}

// Emit builds a PENDING event from params.
func (e *Emitter) Emit(params EmitParams) (*domain.Event, error) {
	if err := e.validate.Struct(params); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return nil, domain.NewValidationError(fe.Field(), fmt.Sprintf("failed on %q validation", fe.Tag()))
		}
		return nil, fmt.Errorf("validate emit params: %w", err)
	}

	if err := e.checkTenant(params.TenantID); err != nil {
		return nil, err
	}

	payload, err := encodePayload(params.Payload)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate event id: %w", err)
	}

	now := e.config.Now().UTC()
	return &domain.Event{
		ID:           id,
		CreatedAt:    now,
		Kind:         params.Kind,
		EntityName:   params.EntityName,
		EntityID:     params.EntityID,
		EntityIDHash: e.hash.Hash(params.EntityID),
		Route:        params.Route,
		Payload:      payload,
		TenantID:     params.TenantID,
		Status:       domain.EventStatusPending,
		ProcessAfter: now.Add(params.Delay),
	}, nil
}

func (e *Emitter) checkTenant(tenantID string) error {
	if !e.config.TenancyEnabled {
		if tenantID != "" {
			return domain.NewConfigurationError("emit event", "multi-tenancy is disabled but a tenant id was given")
		}
		return nil
	}
	if tenantID == "" {
		return domain.NewConfigurationError("emit event", "tenant id is required when multi-tenancy is enabled")
	}
	if len(e.tenants) > 0 {
		if _, ok := e.tenants[tenantID]; !ok {
			return domain.NewConfigurationError("emit event", fmt.Sprintf("unknown tenant id %q", tenantID))
		}
	}
	return nil
}

func encodePayload(payload interface{}) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return b, nil
	}
}
