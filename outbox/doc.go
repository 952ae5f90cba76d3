// Package outbox implements the transactional outbox: outgoing
// integration events are staged in the same database transaction as the
// aggregate mutation that produced them, then drained by a background
// relay that publishes to the broker and marks rows sent only after
// acknowledgment.
//
// The relay guarantees at-least-once delivery with per-aggregate
// ordering. Concurrent relay instances coordinate through the store's
// lease: claims use FOR UPDATE SKIP LOCKED plus a lease column so the
// same unsent row is never claimed twice. Records that exhaust the
// retry ceiling are dead-lettered and raise an operator alert; the
// relay never deletes rows.
package outbox
