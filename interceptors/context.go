package interceptors

import (
	"context"

	"github.com/mamey-io/messaging-go/contracts"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	tenantIDKey      contextKey = "messaging:tenant-id"
	correlationIDKey contextKey = "messaging:correlation-id"
	causationIDKey   contextKey = "messaging:causation-id"
	sagaStatusKey    contextKey = "messaging:saga-status"
)

// WithTenantID stores the tenant id in the context.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// TenantIDFromContext retrieves the tenant id from the context.
func TenantIDFromContext(ctx context.Context) (string, bool) {
	tenantID, ok := ctx.Value(tenantIDKey).(string)
	return tenantID, ok && tenantID != ""
}

// WithCorrelationID stores the correlation id in the context.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext retrieves the correlation id from the context.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	correlationID, ok := ctx.Value(correlationIDKey).(string)
	return correlationID, ok && correlationID != ""
}

// WithCausationID stores the causation id in the context.
func WithCausationID(ctx context.Context, causationID string) context.Context {
	return context.WithValue(ctx, causationIDKey, causationID)
}

// CausationIDFromContext retrieves the causation id from the context.
func CausationIDFromContext(ctx context.Context) (string, bool) {
	causationID, ok := ctx.Value(causationIDKey).(string)
	return causationID, ok && causationID != ""
}

// WithSagaStatus stores the extracted saga status in the context.
func WithSagaStatus(ctx context.Context, status contracts.SagaStatus) context.Context {
	return context.WithValue(ctx, sagaStatusKey, status)
}

// SagaStatusFromContext retrieves the saga status from the context.
// Deliveries without saga headers resolve to SagaStatusNone.
func SagaStatusFromContext(ctx context.Context) contracts.SagaStatus {
	if status, ok := ctx.Value(sagaStatusKey).(contracts.SagaStatus); ok {
		return status
	}
	return contracts.SagaStatusNone
}

// CorrelationInterceptor lifts correlation and causation ids from the
// envelope into the context for downstream handlers.
type CorrelationInterceptor struct{}

// NewCorrelationInterceptor creates a new correlation interceptor.
func NewCorrelationInterceptor() *CorrelationInterceptor {
	return &CorrelationInterceptor{}
}

// Intercept implements Interceptor.
func (i *CorrelationInterceptor) Intercept(ctx context.Context, env *contracts.Envelope, next DeliveryHandler) error {
	if env.CorrelationID != "" {
		ctx = WithCorrelationID(ctx, env.CorrelationID)
	}
	if env.CausationID != "" {
		ctx = WithCausationID(ctx, env.CausationID)
	}
	return next.Handle(ctx, env)
}

// Name implements Interceptor.
func (i *CorrelationInterceptor) Name() string {
	return "CorrelationInterceptor"
}

// TenantInterceptor lifts the tenant header into the context.
type TenantInterceptor struct{}

// NewTenantInterceptor creates a new tenant interceptor.
func NewTenantInterceptor() *TenantInterceptor {
	return &TenantInterceptor{}
}

// Intercept implements Interceptor.
func (i *TenantInterceptor) Intercept(ctx context.Context, env *contracts.Envelope, next DeliveryHandler) error {
	if tenantID := env.Header(contracts.HeaderTenantID); tenantID != "" {
		ctx = WithTenantID(ctx, tenantID)
	}
	return next.Handle(ctx, env)
}

// Name implements Interceptor.
func (i *TenantInterceptor) Name() string {
	return "TenantInterceptor"
}
