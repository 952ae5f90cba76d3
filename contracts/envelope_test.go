package contracts

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type applicationAdded struct {
	BaseEvent
	ApplicantName string `json:"applicantName"`
}

func TestNewEnvelope(t *testing.T) {
	t.Run("copies message identity and serializes payload", func(t *testing.T) {
		event := &applicationAdded{
			BaseEvent:     NewBaseEvent("citizenship.application-added", "app-123"),
			ApplicantName: "Maria",
		}
		event.SetCorrelationID("corr-1")
		event.SetCausationID("cause-1")

		env, err := NewEnvelope(event)

		require.NoError(t, err)
		assert.Equal(t, event.GetID(), env.ID)
		assert.Equal(t, "corr-1", env.CorrelationID)
		assert.Equal(t, "cause-1", env.CausationID)
		assert.Equal(t, "citizenship.application-added", env.Type)

		var decoded applicationAdded
		require.NoError(t, json.Unmarshal(env.Payload, &decoded))
		assert.Equal(t, "Maria", decoded.ApplicantName)
		assert.Equal(t, "app-123", decoded.AggregateID)
	})

	t.Run("generated IDs are unique across messages", func(t *testing.T) {
		first := NewBaseEvent("citizenship.application-added", "app-1")
		second := NewBaseEvent("citizenship.application-added", "app-1")

		assert.NotEqual(t, first.GetID(), second.GetID())
	})
}

func TestEnvelopeHeaders(t *testing.T) {
	t.Run("Header returns first value", func(t *testing.T) {
		env := &Envelope{}
		env.AddHeader("x-custom", "one")
		env.AddHeader("x-custom", "two")

		assert.Equal(t, "one", env.Header("x-custom"))
	})

	t.Run("Header returns empty string when absent", func(t *testing.T) {
		env := &Envelope{}

		assert.Equal(t, "", env.Header("missing"))
	})

	t.Run("SetHeader replaces existing values", func(t *testing.T) {
		env := &Envelope{}
		env.AddHeader("x-tenant-id", "tenant-a")
		env.SetHeader("x-tenant-id", "tenant-b")

		assert.Equal(t, []string{"tenant-b"}, env.Headers["x-tenant-id"])
	})
}

func TestParseSagaStatus(t *testing.T) {
	t.Run("recognizes known statuses", func(t *testing.T) {
		assert.Equal(t, SagaStatusPending, ParseSagaStatus("pending"))
		assert.Equal(t, SagaStatusCompleted, ParseSagaStatus("completed"))
		assert.Equal(t, SagaStatusRejected, ParseSagaStatus("rejected"))
	})

	t.Run("unknown values resolve to none", func(t *testing.T) {
		assert.Equal(t, SagaStatusNone, ParseSagaStatus("finished"))
		assert.Equal(t, SagaStatusNone, ParseSagaStatus(""))
		assert.Equal(t, SagaStatusNone, ParseSagaStatus("PENDING"))
	})

	t.Run("envelope reads status from headers", func(t *testing.T) {
		env := &Envelope{}
		env.SetHeader(HeaderSagaStatus, "completed")

		assert.Equal(t, SagaStatusCompleted, env.SagaStatus())
	})
}
