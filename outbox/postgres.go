package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Schema creates the outbox table and the claim index. The
// (sent_at, created_at) index serves the claim query's scan.
const Schema = `
CREATE TABLE IF NOT EXISTS outbox (
    id               UUID PRIMARY KEY,
    aggregate_id     TEXT NOT NULL,
    message_type     TEXT NOT NULL,
    payload          JSONB NOT NULL,
    headers          JSONB NOT NULL DEFAULT '{}',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    sent_at          TIMESTAMPTZ,
    tenant_id        TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL DEFAULT 'pending',
    attempts         INT NOT NULL DEFAULT 0,
    last_error       TEXT NOT NULL DEFAULT '',
    lease_expires_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_outbox_claim ON outbox (sent_at, created_at);
CREATE INDEX IF NOT EXISTS idx_outbox_stream ON outbox (aggregate_id, created_at);
`

const outboxColumns = "id, aggregate_id, message_type, payload, headers, created_at, sent_at, tenant_id, status, attempts, last_error, lease_expires_at"

// uniqueViolation is the Postgres error code for duplicate keys.
const uniqueViolation = "23505"

// PostgresStore is the durable Store backed by Postgres. Claims use
// FOR UPDATE SKIP LOCKED plus a lease column so concurrent relay
// instances partition the unsent rows without double-claiming.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the outbox table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("creating outbox schema: %w", err)
	}
	return nil
}

// Append implements Store. It must run inside the caller's transaction
// so the staged message commits atomically with the aggregate mutation.
func (s *PostgresStore) Append(ctx context.Context, tx Tx, rec *Record) error {
	if tx == nil {
		return fmt.Errorf("append requires the caller's transaction")
	}

	headers, err := json.Marshal(rec.Headers)
	if err != nil {
		return fmt.Errorf("serializing headers: %w", err)
	}

	query := `
        INSERT INTO outbox (id, aggregate_id, message_type, payload, headers, created_at, tenant_id, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, query,
		rec.ID, rec.AggregateID, rec.MessageType, []byte(rec.Payload), headers,
		createdAt, rec.TenantID, StatusPending,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return ErrDuplicateRecord
		}
		return fmt.Errorf("inserting outbox record: %w", err)
	}
	return nil
}

// ClaimUnsent implements Store. Only each aggregate's oldest pending
// row is claimable: a row with an earlier pending sibling is skipped,
// whether that sibling is leased, locked, or merely unclaimed. A
// concurrent instance therefore never claims a younger row while the
// elder is unsent or in flight, which keeps per-aggregate publish order
// intact across any number of relay instances.
func (s *PostgresStore) ClaimUnsent(ctx context.Context, limit int, lease time.Duration) ([]*Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	query := `
        SELECT ` + outboxColumns + `
        FROM outbox o
        WHERE o.status = $1 AND (o.lease_expires_at IS NULL OR o.lease_expires_at <= $2)
          AND NOT EXISTS (
              SELECT 1 FROM outbox prior
              WHERE prior.aggregate_id = o.aggregate_id
                AND prior.status = $1
                AND (prior.created_at, prior.id) < (o.created_at, o.id)
          )
        ORDER BY o.created_at ASC
        LIMIT $3
        FOR UPDATE OF o SKIP LOCKED`

	rows, err := tx.QueryContext(ctx, query, StatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("querying unsent records: %w", err)
	}

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, tx.Commit()
	}

	expiry := now.Add(lease)
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID.String()
		leaseCopy := expiry
		rec.LeaseExpiresAt = &leaseCopy
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE outbox SET lease_expires_at = $1 WHERE id = ANY($2)`,
		expiry, pq.Array(ids),
	); err != nil {
		return nil, fmt.Errorf("leasing claimed records: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}
	return records, nil
}

// MarkSent implements Store.
func (s *PostgresStore) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET sent_at = $1, status = $2, lease_expires_at = NULL
         WHERE id = $3 AND status = $4`,
		sentAt.UTC(), StatusSent, id, StatusPending,
	)
	if err != nil {
		return fmt.Errorf("marking record sent: %w", err)
	}
	return ensureRowAffected(result)
}

// ReleaseClaim implements Store.
func (s *PostgresStore) ReleaseClaim(ctx context.Context, id uuid.UUID, publishErr string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET lease_expires_at = NULL, attempts = attempts + 1, last_error = $1
         WHERE id = $2 AND status = $3`,
		publishErr, id, StatusPending,
	)
	if err != nil {
		return fmt.Errorf("releasing claim: %w", err)
	}
	return ensureRowAffected(result)
}

// MarkDeadLettered implements Store.
func (s *PostgresStore) MarkDeadLettered(ctx context.Context, id uuid.UUID, reason string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET status = $1, last_error = $2, lease_expires_at = NULL
         WHERE id = $3`,
		StatusDeadLettered, reason, id,
	)
	if err != nil {
		return fmt.Errorf("marking record dead-lettered: %w", err)
	}
	return ensureRowAffected(result)
}

// PurgeSent removes sent records older than the cutoff. This is the
// retention process's entry point, never called by the relay.
func (s *PostgresStore) PurgeSent(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM outbox WHERE status = $1 AND sent_at < $2`,
		StatusSent, olderThan.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("purging sent records: %w", err)
	}
	return result.RowsAffected()
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec := &Record{}
		var payload, headers []byte
		err := rows.Scan(
			&rec.ID,
			&rec.AggregateID,
			&rec.MessageType,
			&payload,
			&headers,
			&rec.CreatedAt,
			&rec.SentAt,
			&rec.TenantID,
			&rec.Status,
			&rec.Attempts,
			&rec.LastError,
			&rec.LeaseExpiresAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning outbox record: %w", err)
		}
		rec.Payload = payload
		if len(headers) > 0 {
			if err := json.Unmarshal(headers, &rec.Headers); err != nil {
				return nil, fmt.Errorf("deserializing headers for %s: %w", rec.ID, err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func ensureRowAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}
