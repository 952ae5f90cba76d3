package contracts

import (
	"encoding/json"
	"time"
)

// Standard header keys carried on every envelope.
const (
	HeaderTenantID      = "x-tenant-id"
	HeaderTraceID       = "x-trace-id"
	HeaderSagaStatus    = "x-saga-status"
	HeaderCorrelationID = "x-correlation-id"
	HeaderCausationID   = "x-causation-id"
)

// Envelope is the wire-level unit exchanged with the broker. It is
// created once at dispatch time and immutable thereafter; its ID is the
// idempotency key consumers deduplicate on.
type Envelope struct {
	ID            string              `json:"id"`
	CorrelationID string              `json:"correlationId,omitempty"`
	CausationID   string              `json:"causationId,omitempty"`
	Type          string              `json:"type"`
	OccurredAt    time.Time           `json:"occurredAt"`
	Payload       json.RawMessage     `json:"payload"`
	Headers       map[string][]string `json:"headers,omitempty"`
}

// NewEnvelope wraps a message for transport, serializing it as the payload.
func NewEnvelope(msg Message) (*Envelope, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		ID:            msg.GetID(),
		CorrelationID: msg.GetCorrelationID(),
		CausationID:   msg.GetCausationID(),
		Type:          msg.GetType(),
		OccurredAt:    msg.GetOccurredAt().UTC(),
		Payload:       payload,
		Headers:       make(map[string][]string),
	}, nil
}

// Header returns the first value for the given key, or "" when absent.
func (e *Envelope) Header(key string) string {
	if values, ok := e.Headers[key]; ok && len(values) > 0 {
		return values[0]
	}
	return ""
}

// SetHeader replaces all values for the given key.
func (e *Envelope) SetHeader(key string, values ...string) {
	if e.Headers == nil {
		e.Headers = make(map[string][]string)
	}
	e.Headers[key] = values
}

// AddHeader appends a value to the given key, preserving order.
func (e *Envelope) AddHeader(key, value string) {
	if e.Headers == nil {
		e.Headers = make(map[string][]string)
	}
	e.Headers[key] = append(e.Headers[key], value)
}

// SagaStatus is the saga progress marker carried in delivery headers.
type SagaStatus string

const (
	SagaStatusNone      SagaStatus = ""
	SagaStatusPending   SagaStatus = "pending"
	SagaStatusCompleted SagaStatus = "completed"
	SagaStatusRejected  SagaStatus = "rejected"
)

// ParseSagaStatus maps a header value to a typed saga status.
// Unrecognized values resolve to SagaStatusNone rather than erroring.
func ParseSagaStatus(value string) SagaStatus {
	switch SagaStatus(value) {
	case SagaStatusPending, SagaStatusCompleted, SagaStatusRejected:
		return SagaStatus(value)
	default:
		return SagaStatusNone
	}
}

// SagaStatus returns the typed saga status from the envelope headers.
func (e *Envelope) SagaStatus() SagaStatus {
	return ParseSagaStatus(e.Header(HeaderSagaStatus))
}
