// Package contracts provides the core message types and interfaces shared
// by every handler-owning service.
//
// It defines the contracts for messages that flow through the core:
//   - Message: base interface for all messages
//   - Command: an action to be performed by exactly one handler
//   - Event: something that has happened in an aggregate
//   - Query: a request for information
//   - Reply: a response to a request
//
// Envelope is the wire-level unit exchanged with the broker; its ID is the
// idempotency key downstream consumers deduplicate on. The error types in
// this package form the shared failure taxonomy: validation errors are
// rejected synchronously at dispatch, domain rule violations become typed
// rejected events, and infrastructure errors are retried with backoff.
package contracts
