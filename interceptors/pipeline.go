package interceptors

import (
	"context"
	"log/slog"
	"time"

	"github.com/mamey-io/messaging-go/contracts"
)

// DeliveryHandler consumes an inbound broker delivery at the end of the
// pipeline.
type DeliveryHandler interface {
	Handle(ctx context.Context, env *contracts.Envelope) error
}

// DeliveryHandlerFunc is a function adapter for DeliveryHandler.
type DeliveryHandlerFunc func(ctx context.Context, env *contracts.Envelope) error

// Handle implements DeliveryHandler.
func (f DeliveryHandlerFunc) Handle(ctx context.Context, env *contracts.Envelope) error {
	return f(ctx, env)
}

// Interceptor processes an inbound delivery before it reaches the final
// handler. An interceptor may transform the context, short-circuit by
// not calling next, or forward unchanged.
type Interceptor interface {
	Intercept(ctx context.Context, env *contracts.Envelope, next DeliveryHandler) error

	// Name returns the interceptor name for logging and debugging.
	Name() string
}

// InterceptorFunc is a function-based interceptor.
type InterceptorFunc struct {
	name string
	fn   func(ctx context.Context, env *contracts.Envelope, next DeliveryHandler) error
}

// NewInterceptorFunc creates a new function-based interceptor.
func NewInterceptorFunc(name string, fn func(ctx context.Context, env *contracts.Envelope, next DeliveryHandler) error) *InterceptorFunc {
	return &InterceptorFunc{name: name, fn: fn}
}

// Intercept implements Interceptor.
func (i *InterceptorFunc) Intercept(ctx context.Context, env *contracts.Envelope, next DeliveryHandler) error {
	return i.fn(ctx, env, next)
}

// Name implements Interceptor.
func (i *InterceptorFunc) Name() string {
	return i.name
}

// Pipeline is an ordered chain of interceptors applied to every inbound
// delivery. It is composed once at startup and holds no per-message
// state; side effects are confined to the plugins themselves.
type Pipeline struct {
	interceptors []Interceptor
	logger       *slog.Logger
}

// NewPipeline creates a new pipeline.
func NewPipeline(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		interceptors: make([]Interceptor, 0),
		logger:       logger,
	}
}

// Add appends an interceptor to the chain.
func (p *Pipeline) Add(interceptor Interceptor) *Pipeline {
	p.interceptors = append(p.interceptors, interceptor)
	return p
}

// Execute runs the delivery through the chain into the final handler.
func (p *Pipeline) Execute(ctx context.Context, env *contracts.Envelope, finalHandler DeliveryHandler) error {
	handler := finalHandler
	for i := len(p.interceptors) - 1; i >= 0; i-- {
		interceptor := p.interceptors[i]
		nextHandler := handler
		handler = DeliveryHandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
			return interceptor.Intercept(ctx, env, nextHandler)
		})
	}
	return handler.Handle(ctx, env)
}

// LoggingInterceptor logs delivery processing with timing information.
type LoggingInterceptor struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor.
func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingInterceptor{logger: logger}
}

// Intercept implements Interceptor.
func (i *LoggingInterceptor) Intercept(ctx context.Context, env *contracts.Envelope, next DeliveryHandler) error {
	start := time.Now()

	i.logger.Info("processing delivery",
		"messageId", env.ID,
		"messageType", env.Type,
		"correlationId", env.CorrelationID,
	)

	err := next.Handle(ctx, env)
	duration := time.Since(start)

	if err != nil {
		i.logger.Error("delivery processing failed",
			"messageId", env.ID,
			"messageType", env.Type,
			"duration", duration,
			"error", err,
		)
	} else {
		i.logger.Info("delivery processed",
			"messageId", env.ID,
			"messageType", env.Type,
			"duration", duration,
		)
	}

	return err
}

// Name implements Interceptor.
func (i *LoggingInterceptor) Name() string {
	return "LoggingInterceptor"
}
