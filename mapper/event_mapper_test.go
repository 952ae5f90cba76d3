package mapper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamey-io/messaging-go/contracts"
)

// Domain events
type applicationAdded struct {
	contracts.BaseEvent
	ApplicantName string `json:"applicantName"`
}

type applicationArchived struct {
	contracts.BaseEvent
}

type applicationScored struct {
	contracts.BaseEvent
	Score int `json:"score"`
}

// Integration event
type applicationAddedIntegration struct {
	contracts.BaseEvent
	ApplicantName string `json:"applicantName"`
}

func TestEventMapper(t *testing.T) {
	t.Run("mapped variant yields integration event with propagated chain", func(t *testing.T) {
		m := NewEventMapper()
		require.NoError(t, m.Register(&applicationAdded{}, func(event contracts.Event) (contracts.Event, error) {
			domain := event.(*applicationAdded)
			integration := &applicationAddedIntegration{
				BaseEvent:     contracts.NewBaseEvent("citizenship.application-added", domain.AggregateID),
				ApplicantName: domain.ApplicantName,
			}
			return integration, nil
		}))

		domain := &applicationAdded{
			BaseEvent:     contracts.NewBaseEvent("ApplicationAdded", "app-1"),
			ApplicantName: "Maria",
		}
		domain.SetCorrelationID("corr-1")

		integration, mapped, err := m.Map(context.Background(), domain)

		require.NoError(t, err)
		require.True(t, mapped)
		assert.Equal(t, "corr-1", integration.GetCorrelationID())
		assert.Equal(t, domain.GetID(), integration.GetCausationID())
		assert.Equal(t, "Maria", integration.(*applicationAddedIntegration).ApplicantName)
	})

	t.Run("suppressed variant yields no event and no error", func(t *testing.T) {
		m := NewEventMapper()
		require.NoError(t, m.Suppress(&applicationArchived{}))

		integration, mapped, err := m.Map(context.Background(), &applicationArchived{
			BaseEvent: contracts.NewBaseEvent("ApplicationArchived", "app-1"),
		})

		require.NoError(t, err)
		assert.False(t, mapped)
		assert.Nil(t, integration)
	})

	t.Run("unregistered variant returns UnmappedEventError", func(t *testing.T) {
		m := NewEventMapper()

		_, mapped, err := m.Map(context.Background(), &applicationScored{
			BaseEvent: contracts.NewBaseEvent("ApplicationScored", "app-1"),
		})

		assert.False(t, mapped)
		var unmapped *UnmappedEventError
		require.ErrorAs(t, err, &unmapped)
		assert.Equal(t, "applicationScored", unmapped.EventType)
	})

	t.Run("duplicate registration fails", func(t *testing.T) {
		m := NewEventMapper()
		identity := func(event contracts.Event) (contracts.Event, error) { return event, nil }

		require.NoError(t, m.Register(&applicationAdded{}, identity))
		assert.Error(t, m.Register(&applicationAdded{}, identity))
		assert.Error(t, m.Suppress(&applicationAdded{}))
	})

	t.Run("mapping function error is wrapped", func(t *testing.T) {
		m := NewEventMapper()
		mapErr := errors.New("bad payload")
		require.NoError(t, m.Register(&applicationAdded{}, func(event contracts.Event) (contracts.Event, error) {
			return nil, mapErr
		}))

		_, _, err := m.Map(context.Background(), &applicationAdded{
			BaseEvent: contracts.NewBaseEvent("ApplicationAdded", "app-1"),
		})

		assert.ErrorIs(t, err, mapErr)
	})
}
