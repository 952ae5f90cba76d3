package contracts

import (
	"time"
)

// Message is the base interface for everything that flows through the core.
type Message interface {
	GetID() string
	GetOccurredAt() time.Time
	GetType() string
	GetCorrelationID() string
	SetCorrelationID(correlationID string)
	GetCausationID() string
	SetCausationID(causationID string)
}

// Command represents an action to be performed by exactly one handler.
type Command interface {
	Message
	GetTargetService() string
}

// Event represents something that has happened in an aggregate.
type Event interface {
	Message
	GetAggregateID() string
	GetSequence() int64
}

// Query represents a request for information.
type Query interface {
	Message
	GetReplyTo() string
}

// Reply represents a response to a query or command.
type Reply interface {
	Message
	IsSuccess() bool
	GetError() error
}
