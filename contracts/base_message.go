package contracts

import (
	"time"

	"github.com/google/uuid"
)

// BaseMessage provides common fields for all message types.
// The generated ID doubles as the idempotency key on the consumer side,
// so it must never be reused across messages.
type BaseMessage struct {
	ID            string    `json:"id"`
	OccurredAt    time.Time `json:"occurredAt"`
	Type          string    `json:"type"`
	CorrelationID string    `json:"correlationId,omitempty"`
	CausationID   string    `json:"causationId,omitempty"`
}

// NewBaseMessage creates a new base message with generated ID and current timestamp.
func NewBaseMessage(messageType string) BaseMessage {
	return BaseMessage{
		ID:         uuid.New().String(),
		OccurredAt: time.Now().UTC(),
		Type:       messageType,
	}
}

// GetID returns the message ID.
func (m BaseMessage) GetID() string {
	return m.ID
}

// GetOccurredAt returns the message timestamp.
func (m BaseMessage) GetOccurredAt() time.Time {
	return m.OccurredAt
}

// GetType returns the message type.
func (m BaseMessage) GetType() string {
	return m.Type
}

// GetCorrelationID returns the correlation ID.
func (m BaseMessage) GetCorrelationID() string {
	return m.CorrelationID
}

// SetCorrelationID sets the correlation ID.
func (m *BaseMessage) SetCorrelationID(correlationID string) {
	m.CorrelationID = correlationID
}

// GetCausationID returns the ID of the message that caused this one.
// Empty for root messages.
func (m BaseMessage) GetCausationID() string {
	return m.CausationID
}

// SetCausationID sets the causation ID.
func (m *BaseMessage) SetCausationID(causationID string) {
	m.CausationID = causationID
}

// BaseCommand provides common fields for command messages.
type BaseCommand struct {
	BaseMessage
	TargetService string `json:"targetService"`
}

// GetTargetService returns the target service for the command.
func (c BaseCommand) GetTargetService() string {
	return c.TargetService
}

// NewBaseCommand creates a new command with generated ID and current timestamp.
func NewBaseCommand(messageType string) BaseCommand {
	return BaseCommand{
		BaseMessage: NewBaseMessage(messageType),
	}
}

// BaseEvent provides common fields for event messages.
type BaseEvent struct {
	BaseMessage
	AggregateID string `json:"aggregateId"`
	Sequence    int64  `json:"sequence"`
	TenantID    string `json:"tenantId,omitempty"`
}

// GetAggregateID returns the aggregate ID.
func (e BaseEvent) GetAggregateID() string {
	return e.AggregateID
}

// GetSequence returns the event sequence number within the aggregate stream.
func (e BaseEvent) GetSequence() int64 {
	return e.Sequence
}

// NewBaseEvent creates a new event with generated ID and current timestamp.
func NewBaseEvent(messageType, aggregateID string) BaseEvent {
	return BaseEvent{
		BaseMessage: NewBaseMessage(messageType),
		AggregateID: aggregateID,
	}
}

// BaseQuery provides common fields for query messages.
type BaseQuery struct {
	BaseMessage
	ReplyTo string `json:"replyTo"`
}

// GetReplyTo returns the reply-to address.
func (q BaseQuery) GetReplyTo() string {
	return q.ReplyTo
}

// BaseReply provides common fields for reply messages.
type BaseReply struct {
	BaseMessage
	Success bool `json:"success"`
}

// IsSuccess returns whether the reply indicates success.
func (r BaseReply) IsSuccess() bool {
	return r.Success
}

// GetError returns nil for successful replies.
func (r BaseReply) GetError() error {
	return nil
}

// NewBaseReply creates a reply correlated to the originating message.
func NewBaseReply(correlationID string) BaseReply {
	reply := BaseReply{
		BaseMessage: NewBaseMessage("Reply"),
		Success:     true,
	}
	reply.SetCorrelationID(correlationID)
	return reply
}
