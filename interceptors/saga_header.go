package interceptors

import (
	"context"
	"log/slog"

	"github.com/mamey-io/messaging-go/contracts"
)

// SagaHeaderInterceptor parses the saga status delivery header into a
// typed value and stores it in the context. Unrecognized header values
// resolve to "no saga state" rather than erroring, so non-saga traffic
// flows through untouched.
type SagaHeaderInterceptor struct {
	logger *slog.Logger
}

// NewSagaHeaderInterceptor creates a new saga header interceptor.
func NewSagaHeaderInterceptor(logger *slog.Logger) *SagaHeaderInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SagaHeaderInterceptor{logger: logger}
}

// Intercept implements Interceptor.
func (i *SagaHeaderInterceptor) Intercept(ctx context.Context, env *contracts.Envelope, next DeliveryHandler) error {
	raw := env.Header(contracts.HeaderSagaStatus)
	status := contracts.ParseSagaStatus(raw)

	if raw != "" && status == contracts.SagaStatusNone {
		i.logger.Debug("unrecognized saga status header",
			"messageId", env.ID,
			"value", raw,
		)
	}

	return next.Handle(WithSagaStatus(ctx, status), env)
}

// Name implements Interceptor.
func (i *SagaHeaderInterceptor) Name() string {
	return "SagaHeaderInterceptor"
}
