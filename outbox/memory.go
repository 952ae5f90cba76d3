package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store honoring the same claim and
// lifecycle contract as the Postgres store. It backs tests and
// single-process deployments; the tx handle passed to Append is ignored.
type MemoryStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[uuid.UUID]*Record),
	}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, tx Tx, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return ErrDuplicateRecord
	}

	stored := *rec
	if stored.Status == "" {
		stored.Status = StatusPending
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.records[rec.ID] = &stored
	return nil
}

// ClaimUnsent implements Store. Only the oldest pending record of each
// aggregate is claimable; younger records stay blocked until their elder
// is marked sent, so a concurrent instance can never publish an
// aggregate's stream out of creation order.
func (s *MemoryStore) ClaimUnsent(ctx context.Context, limit int, lease time.Duration) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	heads := make(map[string]*Record)
	for _, rec := range s.records {
		if rec.Status != StatusPending {
			continue
		}
		head, ok := heads[rec.AggregateID]
		if !ok || recordBefore(rec, head) {
			heads[rec.AggregateID] = rec
		}
	}

	now := time.Now().UTC()
	candidates := make([]*Record, 0, limit)
	for _, rec := range heads {
		if rec.LeaseExpiresAt != nil && rec.LeaseExpiresAt.After(now) {
			continue
		}
		candidates = append(candidates, rec)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return recordBefore(candidates[i], candidates[j])
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	expiry := now.Add(lease)
	claimed := make([]*Record, 0, len(candidates))
	for _, rec := range candidates {
		rec.LeaseExpiresAt = &expiry
		clone := *rec
		claimed = append(claimed, &clone)
	}
	return claimed, nil
}

// MarkSent implements Store.
func (s *MemoryStore) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[id]
	if !exists || rec.Status != StatusPending {
		return ErrRecordNotFound
	}
	at := sentAt.UTC()
	rec.SentAt = &at
	rec.Status = StatusSent
	rec.LeaseExpiresAt = nil
	return nil
}

// ReleaseClaim implements Store.
func (s *MemoryStore) ReleaseClaim(ctx context.Context, id uuid.UUID, publishErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[id]
	if !exists || rec.Status != StatusPending {
		return ErrRecordNotFound
	}
	rec.Attempts++
	rec.LastError = publishErr
	rec.LeaseExpiresAt = nil
	return nil
}

// MarkDeadLettered implements Store.
func (s *MemoryStore) MarkDeadLettered(ctx context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[id]
	if !exists {
		return ErrRecordNotFound
	}
	rec.Status = StatusDeadLettered
	rec.LastError = reason
	rec.LeaseExpiresAt = nil
	return nil
}

// PurgeSent removes sent records older than the cutoff. Retention is a
// separate concern from the relay, which never deletes rows.
func (s *MemoryStore) PurgeSent(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, rec := range s.records {
		if rec.Status == StatusSent && rec.SentAt != nil && rec.SentAt.Before(olderThan) {
			delete(s.records, id)
			purged++
		}
	}
	return purged, nil
}

// recordBefore orders records by creation time, breaking timestamp ties
// on the record id so two claimers resolve the same head.
func recordBefore(a, b *Record) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

// Get returns a copy of the record, or nil when absent.
func (s *MemoryStore) Get(id uuid.UUID) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[id]
	if !exists {
		return nil
	}
	clone := *rec
	return &clone
}

// Unsent returns copies of all pending records, oldest first.
func (s *MemoryStore) Unsent() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var unsent []*Record
	for _, rec := range s.records {
		if rec.Status == StatusPending {
			clone := *rec
			unsent = append(unsent, &clone)
		}
	}
	sort.Slice(unsent, func(i, j int) bool {
		return unsent[i].CreatedAt.Before(unsent[j].CreatedAt)
	})
	return unsent
}
