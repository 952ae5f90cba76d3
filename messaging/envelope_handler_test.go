package messaging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamey-io/messaging-go/codec"
	"github.com/mamey-io/messaging-go/contracts"
)

func TestNewEnvelopeHandler(t *testing.T) {
	t.Run("decodes envelope and dispatches typed message", func(t *testing.T) {
		registry := codec.NewRegistry()
		require.NoError(t, registry.Register("citizenship.add-application", &addApplication{}))

		dispatcher := NewDispatcher()
		var received *addApplication
		require.NoError(t, dispatcher.RegisterFunc(&addApplication{}, func(ctx context.Context, msg contracts.Message) error {
			received = msg.(*addApplication)
			return nil
		}))

		cmd := &addApplication{
			BaseCommand:   contracts.NewBaseCommand("citizenship.add-application"),
			ApplicantName: "Maria",
		}
		cmd.SetCorrelationID("corr-1")
		env, err := contracts.NewEnvelope(cmd)
		require.NoError(t, err)

		handler := NewEnvelopeHandler(registry, dispatcher)
		require.NoError(t, handler.Handle(context.Background(), env))

		require.NotNil(t, received)
		assert.Equal(t, "Maria", received.ApplicantName)
		assert.Equal(t, "corr-1", received.GetCorrelationID())
	})

	t.Run("unknown wire type fails decode", func(t *testing.T) {
		handler := NewEnvelopeHandler(codec.NewRegistry(), NewDispatcher())
		env := &contracts.Envelope{Type: "citizenship.unknown", Payload: []byte(`{}`)}

		err := handler.Handle(context.Background(), env)

		var unknown *codec.UnknownTypeError
		assert.ErrorAs(t, err, &unknown)
	})
}
