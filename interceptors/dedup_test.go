package interceptors

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamey-io/messaging-go/contracts"
)

func TestInMemoryProcessedStore(t *testing.T) {
	t.Run("first mark returns true, second false", func(t *testing.T) {
		store := NewInMemoryProcessedStore(time.Minute)

		first, err := store.MarkProcessed(context.Background(), "m-1")
		require.NoError(t, err)
		second, err := store.MarkProcessed(context.Background(), "m-1")
		require.NoError(t, err)

		assert.True(t, first)
		assert.False(t, second)
	})

	t.Run("expired entries are seen again", func(t *testing.T) {
		store := NewInMemoryProcessedStore(time.Nanosecond)
		_, err := store.MarkProcessed(context.Background(), "m-1")
		require.NoError(t, err)

		time.Sleep(time.Millisecond)

		seen, err := store.Seen(context.Background(), "m-1")
		require.NoError(t, err)
		assert.False(t, seen)
	})
}

func TestIdempotencyInterceptor(t *testing.T) {
	t.Run("first delivery is processed and recorded", func(t *testing.T) {
		store := NewInMemoryProcessedStore(time.Minute)
		interceptor := NewIdempotencyInterceptor(store, nil)
		env := newTestEnvelope("m-1")

		calls := 0
		handler := DeliveryHandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
			calls++
			return nil
		})

		require.NoError(t, interceptor.Intercept(context.Background(), env, handler))

		assert.Equal(t, 1, calls)
		seen, err := store.Seen(context.Background(), "m-1")
		require.NoError(t, err)
		assert.True(t, seen)
	})

	t.Run("duplicate delivery short-circuits without reprocessing", func(t *testing.T) {
		store := NewInMemoryProcessedStore(time.Minute)
		interceptor := NewIdempotencyInterceptor(store, nil)
		env := newTestEnvelope("m-1")

		calls := 0
		handler := DeliveryHandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
			calls++
			return nil
		})

		require.NoError(t, interceptor.Intercept(context.Background(), env, handler))
		require.NoError(t, interceptor.Intercept(context.Background(), env, handler))

		assert.Equal(t, 1, calls)
	})

	t.Run("concurrent deliveries of the same id process once", func(t *testing.T) {
		store := NewInMemoryProcessedStore(time.Minute)
		interceptor := NewIdempotencyInterceptor(store, nil)
		env := newTestEnvelope("m-1")

		var calls atomic.Int64
		handler := DeliveryHandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
			calls.Add(1)
			time.Sleep(5 * time.Millisecond)
			return nil
		})

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, interceptor.Intercept(context.Background(), env, handler))
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(1), calls.Load())
	})

	t.Run("failed delivery is not recorded and is retried", func(t *testing.T) {
		store := NewInMemoryProcessedStore(time.Minute)
		interceptor := NewIdempotencyInterceptor(store, nil)
		env := newTestEnvelope("m-1")

		calls := 0
		handlerErr := errors.New("storage unavailable")
		handler := DeliveryHandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
			calls++
			if calls == 1 {
				return handlerErr
			}
			return nil
		})

		assert.ErrorIs(t, interceptor.Intercept(context.Background(), env, handler), handlerErr)
		require.NoError(t, interceptor.Intercept(context.Background(), env, handler))

		assert.Equal(t, 2, calls)
	})
}
