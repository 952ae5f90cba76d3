package contracts

import (
	"errors"
	"fmt"
)

// DomainRule identifies the closed set of domain rule violations the
// core converts into rejected events.
type DomainRule string

const (
	RuleAlreadyExists          DomainRule = "already_exists"
	RuleNotFound               DomainRule = "not_found"
	RuleInvalidStateTransition DomainRule = "invalid_state_transition"
)

// DomainError is a domain rule violation raised by a handler. It is not
// fatal: the rejection mapper converts it into a typed rejected event
// that drives saga compensation.
type DomainError struct {
	Rule     DomainRule
	Entity   string
	EntityID string
	Message  string
}

// Error implements error.
func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s %s: %s", e.Rule, e.Entity, e.EntityID, e.Message)
}

// IsRetryable marks domain errors as non-retryable: retrying a business
// refusal cannot succeed.
func (e *DomainError) IsRetryable() bool {
	return false
}

// NewAlreadyExistsError reports that an entity with the given id already exists.
func NewAlreadyExistsError(entity, entityID string) *DomainError {
	return &DomainError{
		Rule:     RuleAlreadyExists,
		Entity:   entity,
		EntityID: entityID,
		Message:  "already exists",
	}
}

// NewNotFoundError reports that the entity with the given id does not exist.
func NewNotFoundError(entity, entityID string) *DomainError {
	return &DomainError{
		Rule:     RuleNotFound,
		Entity:   entity,
		EntityID: entityID,
		Message:  "not found",
	}
}

// NewInvalidStateError reports an illegal state transition on an entity.
func NewInvalidStateError(entity, entityID, message string) *DomainError {
	return &DomainError{
		Rule:     RuleInvalidStateTransition,
		Entity:   entity,
		EntityID: entityID,
		Message:  message,
	}
}

// AsDomainError unwraps err to a DomainError when possible.
func AsDomainError(err error) (*DomainError, bool) {
	var derr *DomainError
	if errors.As(err, &derr) {
		return derr, true
	}
	return nil, false
}

// ValidationError is a malformed command shape, rejected synchronously at
// dispatch. It never reaches the outbox.
type ValidationError struct {
	MessageType string
	Field       string
	Message     string
}

// Error implements error.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s: %s", e.MessageType, e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.MessageType, e.Message)
}

// IsRetryable marks validation errors as non-retryable.
func (e *ValidationError) IsRetryable() bool {
	return false
}

// HandlerNotFoundError is returned when a message is dispatched and no
// handler is registered for its type.
type HandlerNotFoundError struct {
	MessageType string
}

// Error implements error.
func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("no handler registered for message type: %s", e.MessageType)
}

// InfrastructureError is a transient failure talking to the broker or
// database. The relay retries it with backoff before dead-lettering.
type InfrastructureError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the wrapped error.
func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

// IsRetryable marks infrastructure errors as retryable.
func (e *InfrastructureError) IsRetryable() bool {
	return true
}
