// Package mapper translates between the domain and the wire.
//
// EventMapper converts internal domain events into zero-or-one
// integration event; every variant of an aggregate's event set must be
// registered explicitly, including intentional suppressions, and
// unregistered variants fail loudly instead of vanishing.
//
// RejectionMapper converts domain rule violations raised by command
// handlers into typed rejected events consumed by saga coordinators.
// Pairs without an explicit mapping fall back to a generic
// CommandRejected event plus a dead-letter record.
package mapper
