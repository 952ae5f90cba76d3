package rabbitmq

import (
	"encoding/json"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamey-io/messaging-go/contracts"
)

type applicationAdded struct {
	contracts.BaseEvent
	ApplicantName string `json:"applicantName"`
}

func TestDecodeDelivery(t *testing.T) {
	t.Run("decodes the canonical envelope body", func(t *testing.T) {
		event := &applicationAdded{
			BaseEvent:     contracts.NewBaseEvent("citizenship.application-added", "app-1"),
			ApplicantName: "Maria",
		}
		env, err := contracts.NewEnvelope(event)
		require.NoError(t, err)
		env.SetHeader(contracts.HeaderTenantID, "tenant-a")
		body, err := json.Marshal(env)
		require.NoError(t, err)

		decoded, err := DecodeDelivery(amqp.Delivery{Body: body})

		require.NoError(t, err)
		assert.Equal(t, env.ID, decoded.ID)
		assert.Equal(t, "citizenship.application-added", decoded.Type)
		assert.Equal(t, "tenant-a", decoded.Header(contracts.HeaderTenantID))
	})

	t.Run("broker properties fill missing envelope fields", func(t *testing.T) {
		decoded, err := DecodeDelivery(amqp.Delivery{
			Body:          []byte(`{"payload":{}}`),
			MessageId:     "m-1",
			CorrelationId: "corr-1",
			Type:          "citizenship.application-added",
		})

		require.NoError(t, err)
		assert.Equal(t, "m-1", decoded.ID)
		assert.Equal(t, "corr-1", decoded.CorrelationID)
		assert.Equal(t, "citizenship.application-added", decoded.Type)
	})

	t.Run("broker headers override body headers", func(t *testing.T) {
		decoded, err := DecodeDelivery(amqp.Delivery{
			Body: []byte(`{"id":"m-1","type":"t","payload":{},"headers":{"x-tenant-id":["tenant-a"]}}`),
			Headers: amqp.Table{
				"x-tenant-id":   "tenant-b",
				"x-saga-status": "completed",
				"x-numeric":     int32(7),
			},
		})

		require.NoError(t, err)
		assert.Equal(t, "tenant-b", decoded.Header(contracts.HeaderTenantID))
		assert.Equal(t, contracts.SagaStatusCompleted, decoded.SagaStatus())
		// Non-string header values are dropped, not errors.
		assert.Equal(t, "", decoded.Header("x-numeric"))
	})

	t.Run("multi-value broker headers keep every value in order", func(t *testing.T) {
		decoded, err := DecodeDelivery(amqp.Delivery{
			Body: []byte(`{"id":"m-1","type":"t","payload":{}}`),
			Headers: amqp.Table{
				"x-audit": []interface{}{"created", "scored", int32(3)},
			},
		})

		require.NoError(t, err)
		assert.Equal(t, []string{"created", "scored"}, decoded.Headers["x-audit"])
	})

	t.Run("malformed body fails", func(t *testing.T) {
		_, err := DecodeDelivery(amqp.Delivery{Body: []byte("not-json")})

		assert.Error(t, err)
	})
}

func TestToTable(t *testing.T) {
	t.Run("encodes every value per key", func(t *testing.T) {
		table := toTable(map[string][]string{
			"x-tenant-id": {"tenant-a"},
			"x-audit":     {"created", "scored"},
			"x-empty":     {},
		})

		assert.Equal(t, "tenant-a", table["x-tenant-id"])
		assert.Equal(t, []interface{}{"created", "scored"}, table["x-audit"])
		_, exists := table["x-empty"]
		assert.False(t, exists)
	})

	t.Run("empty headers produce a nil table", func(t *testing.T) {
		assert.Nil(t, toTable(nil))
		assert.Nil(t, toTable(map[string][]string{}))
	})
}
