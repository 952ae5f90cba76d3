package messaging

import (
	"context"
	"fmt"

	"github.com/mamey-io/messaging-go/codec"
	"github.com/mamey-io/messaging-go/contracts"
	"github.com/mamey-io/messaging-go/interceptors"
)

// NewEnvelopeHandler bridges inbound envelopes to the dispatcher. The
// registry resolves the envelope's wire type name to a concrete struct,
// then the dispatcher routes on that struct's type. Used as the final
// handler of an interceptor pipeline.
func NewEnvelopeHandler(registry *codec.Registry, dispatcher *Dispatcher) interceptors.DeliveryHandler {
	return interceptors.DeliveryHandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
		msg, err := registry.Decode(env)
		if err != nil {
			return fmt.Errorf("decoding %s: %w", env.Type, err)
		}
		return dispatcher.Dispatch(ctx, msg)
	})
}
