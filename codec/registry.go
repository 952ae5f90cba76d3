// Package codec maps wire type names to Go message types so inbound
// envelopes can be decoded into the concrete structs handlers expect.
//
// Types register under their routing name, conventionally
// "<bounded-context>.<event-name>". The envelope Type field selects the
// factory when decoding.
package codec

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/mamey-io/messaging-go/contracts"
)

// UnknownTypeError indicates a wire type name with no registration.
type UnknownTypeError struct {
	TypeName string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("no message type registered for %q", e.TypeName)
}

// Registry maps wire type names to message types.
type Registry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		types: make(map[string]reflect.Type),
	}
}

// Register binds a wire type name to the struct type of prototype.
// Registering a name twice with a different type is an error;
// re-registering the same type is a no-op.
func (r *Registry) Register(typeName string, prototype contracts.Message) error {
	if typeName == "" {
		return fmt.Errorf("type name cannot be empty")
	}
	if prototype == nil {
		return fmt.Errorf("prototype cannot be nil")
	}

	t := reflect.TypeOf(prototype)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return fmt.Errorf("prototype must be a struct, got %v", t.Kind())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.types[typeName]; exists {
		if existing == t {
			return nil
		}
		return fmt.Errorf("type name %s already registered to %v", typeName, existing)
	}
	r.types[typeName] = t
	return nil
}

// IsRegistered reports whether a wire type name has a registration.
func (r *Registry) IsRegistered(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.types[typeName]
	return exists
}

// TypeNames returns all registered wire type names.
func (r *Registry) TypeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	return names
}

// New creates a zero-valued pointer instance for the wire type name.
func (r *Registry) New(typeName string) (contracts.Message, error) {
	r.mu.RLock()
	t, exists := r.types[typeName]
	r.mu.RUnlock()
	if !exists {
		return nil, &UnknownTypeError{TypeName: typeName}
	}

	instance := reflect.New(t).Interface()
	msg, ok := instance.(contracts.Message)
	if !ok {
		return nil, fmt.Errorf("registered type %s does not implement Message", typeName)
	}
	return msg, nil
}

// Decode materializes the envelope payload as the concrete message type
// named by the envelope. Correlation metadata from the envelope wins
// over whatever the payload carries.
func (r *Registry) Decode(env *contracts.Envelope) (contracts.Message, error) {
	if env == nil {
		return nil, fmt.Errorf("envelope cannot be nil")
	}

	msg, err := r.New(env.Type)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env.Payload, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", env.Type, err)
	}

	if env.CorrelationID != "" {
		msg.SetCorrelationID(env.CorrelationID)
	}
	if env.CausationID != "" {
		msg.SetCausationID(env.CausationID)
	}
	return msg, nil
}
