package interceptors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamey-io/messaging-go/contracts"
)

func TestSagaHeaderInterceptor(t *testing.T) {
	extract := func(t *testing.T, env *contracts.Envelope) contracts.SagaStatus {
		t.Helper()
		interceptor := NewSagaHeaderInterceptor(nil)
		var status contracts.SagaStatus
		err := interceptor.Intercept(context.Background(), env,
			DeliveryHandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
				status = SagaStatusFromContext(ctx)
				return nil
			}))
		require.NoError(t, err)
		return status
	}

	t.Run("known status is stored in context", func(t *testing.T) {
		env := newTestEnvelope("m-1")
		env.SetHeader(contracts.HeaderSagaStatus, "completed")

		assert.Equal(t, contracts.SagaStatusCompleted, extract(t, env))
	})

	t.Run("missing header resolves to none", func(t *testing.T) {
		assert.Equal(t, contracts.SagaStatusNone, extract(t, newTestEnvelope("m-1")))
	})

	t.Run("unrecognized value resolves to none without error", func(t *testing.T) {
		env := newTestEnvelope("m-1")
		env.SetHeader(contracts.HeaderSagaStatus, "almost-done")

		assert.Equal(t, contracts.SagaStatusNone, extract(t, env))
	})
}
