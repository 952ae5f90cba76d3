package outbox

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRecordNotFound is returned when the record id does not exist or
	// is not in the expected state.
	ErrRecordNotFound = errors.New("outbox record not found")
	// ErrDuplicateRecord is returned when a record with the same id has
	// already been staged.
	ErrDuplicateRecord = errors.New("outbox record already exists")
)

// Tx is the transactional handle used by Append.
//
// It aliases *sql.Tx so staging runs inside the exact transaction that
// commits the aggregate's new state, with no adapter layer in between.
// The in-memory store accepts a nil Tx.
type Tx = *sql.Tx

// Store is the durable table of pending outbound messages.
//
// Append must execute inside the caller's existing transaction boundary:
// either both the state change and the outbox insert are durable, or
// neither is. ClaimUnsent leases a batch atomically so multiple
// concurrent relay instances never claim the same row.
type Store interface {
	// Append stages a record inside the caller's transaction.
	Append(ctx context.Context, tx Tx, rec *Record) error

	// ClaimUnsent atomically leases up to limit unsent records, oldest
	// first. Only each aggregate's oldest pending record is eligible:
	// a record whose aggregate still has an earlier unsent record is
	// skipped, so concurrent relay instances never publish an
	// aggregate's stream out of creation order. Rows leased by another
	// instance are excluded until the lease expires.
	ClaimUnsent(ctx context.Context, limit int, lease time.Duration) ([]*Record, error)

	// MarkSent records confirmed broker acknowledgment. It is the only
	// mutation a record receives after creation, and it belongs solely
	// to the relay.
	MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error

	// ReleaseClaim returns a record to the unsent pool after a failed
	// publish, incrementing its attempt counter.
	ReleaseClaim(ctx context.Context, id uuid.UUID, publishErr string) error

	// MarkDeadLettered parks a record that exhausted its retry ceiling
	// for operator remediation.
	MarkDeadLettered(ctx context.Context, id uuid.UUID, reason string) error
}
