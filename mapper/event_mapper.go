package mapper

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/mamey-io/messaging-go/contracts"
)

// EventMapperFunc translates one domain event into its outward-facing
// integration event. It must be deterministic and side effect free.
type EventMapperFunc func(event contracts.Event) (contracts.Event, error)

// UnmappedEventError is returned when a domain event variant has no
// registered mapping. This is surfaced loudly rather than silently
// dropping the event: an unregistered variant is a wiring bug, not an
// intentional suppression.
type UnmappedEventError struct {
	EventType string
}

// Error implements error.
func (e *UnmappedEventError) Error() string {
	return fmt.Sprintf("no integration mapping registered for domain event: %s", e.EventType)
}

// EventMapper translates internal domain events into zero-or-one
// integration event. Every variant of an aggregate's closed event set
// must be registered explicitly, either with a mapping or with Suppress
// for events that have no wire representation.
type EventMapper struct {
	mappings   map[string]EventMapperFunc
	suppressed map[string]bool
	logger     *slog.Logger
}

// EventMapperOption configures the EventMapper.
type EventMapperOption func(*EventMapper)

// WithEventMapperLogger sets the logger.
func WithEventMapperLogger(logger *slog.Logger) EventMapperOption {
	return func(m *EventMapper) {
		m.logger = logger
	}
}

// NewEventMapper creates an empty event mapper.
func NewEventMapper(options ...EventMapperOption) *EventMapper {
	m := &EventMapper{
		mappings:   make(map[string]EventMapperFunc),
		suppressed: make(map[string]bool),
		logger:     slog.Default(),
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Register binds a domain event type to its integration mapping.
func (m *EventMapper) Register(domainEvent contracts.Event, fn EventMapperFunc) error {
	typeName, err := eventTypeName(domainEvent)
	if err != nil {
		return err
	}
	if _, exists := m.mappings[typeName]; exists || m.suppressed[typeName] {
		return fmt.Errorf("mapping already registered for domain event: %s", typeName)
	}
	m.mappings[typeName] = fn
	return nil
}

// Suppress records that the domain event type intentionally has no wire
// representation. Mapping it yields no event and no error.
func (m *EventMapper) Suppress(domainEvent contracts.Event) error {
	typeName, err := eventTypeName(domainEvent)
	if err != nil {
		return err
	}
	if _, exists := m.mappings[typeName]; exists || m.suppressed[typeName] {
		return fmt.Errorf("mapping already registered for domain event: %s", typeName)
	}
	m.suppressed[typeName] = true
	return nil
}

// Map translates a domain event. It returns (nil, false, nil) for
// suppressed variants, (event, true, nil) for mapped ones, and an
// *UnmappedEventError for variants that were never registered.
func (m *EventMapper) Map(ctx context.Context, domainEvent contracts.Event) (contracts.Event, bool, error) {
	typeName, err := eventTypeName(domainEvent)
	if err != nil {
		return nil, false, err
	}

	if m.suppressed[typeName] {
		return nil, false, nil
	}

	fn, exists := m.mappings[typeName]
	if !exists {
		m.logger.Warn("domain event has no integration mapping",
			"eventType", typeName,
			"aggregateId", domainEvent.GetAggregateID(),
		)
		return nil, false, &UnmappedEventError{EventType: typeName}
	}

	integration, err := fn(domainEvent)
	if err != nil {
		return nil, false, fmt.Errorf("mapping domain event %s: %w", typeName, err)
	}

	// Propagate the message chain: the domain event caused the
	// integration event.
	integration.SetCorrelationID(domainEvent.GetCorrelationID())
	integration.SetCausationID(domainEvent.GetID())

	return integration, true, nil
}

func eventTypeName(event contracts.Event) (string, error) {
	if event == nil {
		return "", fmt.Errorf("event cannot be nil")
	}
	eventType := reflect.TypeOf(event)
	if eventType.Kind() == reflect.Ptr {
		eventType = eventType.Elem()
	}
	typeName := eventType.Name()
	if typeName == "" {
		return "", fmt.Errorf("event type must have a name")
	}
	return typeName, nil
}
