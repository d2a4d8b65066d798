package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidTransition indicates a state change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrConfiguration indicates a caller used an operation in a way the
	// current configuration does not permit (e.g. tenant misuse).
	ErrConfiguration = errors.New("configuration error")

	// ErrServiceUnavailable indicates that an external service is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrCancelled indicates that an operation was cancelled.
	ErrCancelled = errors.New("cancelled")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// AlreadyExistsError provides details about a duplicate entity.
type AlreadyExistsError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *AlreadyExistsError) Unwrap() error {
	return ErrAlreadyExists
}

// TransitionError describes a rejected lifecycle transition.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot transition from %s to %s", e.Entity, e.From, e.To)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// ConfigurationError is returned synchronously to callers of administrative
// operations when their arguments contradict the configuration. It is never
// corrected silently.
type ConfigurationError struct {
	Operation string
	Message   string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Operation == "" {
		return fmt.Sprintf("configuration error: %s", e.Message)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Operation, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(entity, id string) *AlreadyExistsError {
	return &AlreadyExistsError{
		Entity: entity,
		ID:     id,
	}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewTransitionError creates a new TransitionError.
func NewTransitionError(entity, from, to string) *TransitionError {
	return &TransitionError{
		Entity: entity,
		From:   from,
		To:     to,
	}
}

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(operation, message string) *ConfigurationError {
	return &ConfigurationError{
		Operation: operation,
		Message:   message,
	}
}
