package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mamey-io/messaging-go/contracts"
)

// Status tracks a record through its outbox lifecycle.
type Status string

const (
	StatusPending      Status = "pending"
	StatusSent         Status = "sent"
	StatusDeadLettered Status = "dead_lettered"
)

// Record is a staged outbound message. It is created in the same atomic
// unit as the aggregate mutation that produced it, and mutated exactly
// once afterwards: the relay sets SentAt after confirmed broker
// acknowledgment. The relay never deletes rows; a separate retention
// process purges old sent records.
type Record struct {
	ID          uuid.UUID           `json:"id"`
	AggregateID string              `json:"aggregateId"`
	MessageType string              `json:"messageType"`
	Payload     json.RawMessage     `json:"payload"`
	Headers     map[string][]string `json:"headers,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	SentAt      *time.Time          `json:"sentAt,omitempty"`
	TenantID    string              `json:"tenantId,omitempty"`

	// Claim bookkeeping, owned by the store and relay.
	Status         Status     `json:"status"`
	Attempts       int        `json:"attempts"`
	LastError      string     `json:"lastError,omitempty"`
	LeaseExpiresAt *time.Time `json:"leaseExpiresAt,omitempty"`
}

// NewRecord stages an integration event for the given topic. The
// payload is the full wire envelope, so the relay publishes exactly what
// the producer serialized. Topic follows the
// <bounded-context>.<event-name> routing convention.
func NewRecord(event contracts.Event, topic, tenantID string) (*Record, error) {
	if topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}

	env, err := contracts.NewEnvelope(event)
	if err != nil {
		return nil, fmt.Errorf("building envelope for %s: %w", event.GetType(), err)
	}
	if tenantID != "" {
		env.SetHeader(contracts.HeaderTenantID, tenantID)
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("serializing envelope for %s: %w", event.GetType(), err)
	}

	id, err := uuid.Parse(event.GetID())
	if err != nil {
		return nil, fmt.Errorf("event id must be a uuid: %w", err)
	}

	return &Record{
		ID:          id,
		AggregateID: event.GetAggregateID(),
		MessageType: topic,
		Payload:     payload,
		Headers:     env.Headers,
		CreatedAt:   time.Now().UTC(),
		TenantID:    tenantID,
		Status:      StatusPending,
	}, nil
}

// Envelope deserializes the staged wire envelope.
func (r *Record) Envelope() (*contracts.Envelope, error) {
	var env contracts.Envelope
	if err := json.Unmarshal(r.Payload, &env); err != nil {
		return nil, fmt.Errorf("deserializing outbox payload %s: %w", r.ID, err)
	}
	return &env, nil
}
