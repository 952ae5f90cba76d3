package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/mamey-io/messaging-go/contracts"
)

// MessageHandler processes a specific message type.
type MessageHandler interface {
	Handle(ctx context.Context, msg contracts.Message) error
}

// MessageHandlerFunc is a function adapter for MessageHandler.
type MessageHandlerFunc func(ctx context.Context, msg contracts.Message) error

// Handle implements MessageHandler.
func (f MessageHandlerFunc) Handle(ctx context.Context, msg contracts.Message) error {
	return f(ctx, msg)
}

// MiddlewareFunc wraps a handler with cross-cutting behavior. Middleware
// may rewrite the message before delegating or short-circuit by not
// calling next.
type MiddlewareFunc func(ctx context.Context, msg contracts.Message, next MessageHandler) error

// Dispatcher routes a command or query to exactly one registered handler
// by its runtime type. Registration is explicit: there is no discovery,
// and registering two handlers for the same type is an error.
//
// Dispatch is safe for concurrent use; handlers must be stateless.
type Dispatcher struct {
	handlers   map[string]MessageHandler
	mu         sync.RWMutex
	logger     *slog.Logger
	middleware []MiddlewareFunc
}

// DispatcherOption configures the Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMiddleware adds middleware to the dispatcher. Middleware wraps
// handlers in declaration order: the first middleware added sees the
// message first.
func WithMiddleware(middleware ...MiddlewareFunc) DispatcherOption {
	return func(d *Dispatcher) {
		d.middleware = append(d.middleware, middleware...)
	}
}

// NewDispatcher creates a new dispatcher.
func NewDispatcher(options ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[string]MessageHandler),
		logger:   slog.Default(),
	}

	for _, opt := range options {
		opt(d)
	}

	return d
}

// Register registers the handler for the given message type. Exactly one
// handler is allowed per type.
func (d *Dispatcher) Register(messageType contracts.Message, handler MessageHandler) error {
	if messageType == nil {
		return fmt.Errorf("messageType cannot be nil")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	typeName, err := typeNameOf(messageType)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.handlers[typeName]; exists {
		return fmt.Errorf("handler already registered for message type: %s", typeName)
	}
	d.handlers[typeName] = handler

	d.logger.Info("registered message handler", "messageType", typeName)
	return nil
}

// RegisterFunc registers a function as a handler.
func (d *Dispatcher) RegisterFunc(messageType contracts.Message, handler MessageHandlerFunc) error {
	return d.Register(messageType, handler)
}

// Dispatch routes the message to its registered handler through the
// middleware chain. A message without a registered handler fails with
// *contracts.HandlerNotFoundError. Handler errors propagate unchanged
// unless a middleware intercepts them.
func (d *Dispatcher) Dispatch(ctx context.Context, msg contracts.Message) error {
	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}

	typeName, err := typeNameOf(msg)
	if err != nil {
		return err
	}

	d.mu.RLock()
	handler, exists := d.handlers[typeName]
	d.mu.RUnlock()

	if !exists {
		d.logger.Warn("no handler registered for message type", "messageType", typeName)
		return &contracts.HandlerNotFoundError{MessageType: typeName}
	}

	err = d.buildMiddlewareChain(handler).Handle(ctx, msg)
	if err != nil {
		d.logger.Error("handler failed",
			"messageType", typeName,
			"messageId", msg.GetID(),
			"error", err,
		)
		return err
	}

	d.logger.Debug("message dispatched",
		"messageType", typeName,
		"messageId", msg.GetID(),
	)
	return nil
}

// Handle implements MessageHandler so the dispatcher can sit at the end
// of an inbound interceptor pipeline.
func (d *Dispatcher) Handle(ctx context.Context, msg contracts.Message) error {
	return d.Dispatch(ctx, msg)
}

// RegisteredTypes returns all message types that have a handler.
func (d *Dispatcher) RegisteredTypes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	types := make([]string, 0, len(d.handlers))
	for typeName := range d.handlers {
		types = append(types, typeName)
	}
	return types
}

// buildMiddlewareChain wraps the handler with middleware in declaration
// order by composing in reverse.
func (d *Dispatcher) buildMiddlewareChain(handler MessageHandler) MessageHandler {
	result := handler
	for i := len(d.middleware) - 1; i >= 0; i-- {
		middleware := d.middleware[i]
		next := result
		result = MessageHandlerFunc(func(ctx context.Context, msg contracts.Message) error {
			return middleware(ctx, msg, next)
		})
	}
	return result
}

func typeNameOf(msg contracts.Message) (string, error) {
	msgType := reflect.TypeOf(msg)
	if msgType.Kind() == reflect.Ptr {
		msgType = msgType.Elem()
	}
	typeName := msgType.Name()
	if typeName == "" {
		return "", fmt.Errorf("message type must have a name")
	}
	return typeName, nil
}
