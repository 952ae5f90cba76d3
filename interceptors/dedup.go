package interceptors

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mamey-io/messaging-go/contracts"
)

// ProcessedStore records message ids that have been successfully
// processed, backing the idempotent-delivery guard.
type ProcessedStore interface {
	// MarkProcessed records the id and reports whether this is the first
	// time it has been seen. The check and the record are one atomic
	// step, so two concurrent deliveries of the same id see exactly one
	// true.
	MarkProcessed(ctx context.Context, messageID string) (bool, error)
	// Forget removes a recorded id so a failed delivery can be retried.
	Forget(ctx context.Context, messageID string) error
	// Seen reports whether the id has already been processed.
	Seen(ctx context.Context, messageID string) (bool, error)
}

// InMemoryProcessedStore is a TTL-bounded in-process ProcessedStore.
// Entries past their TTL are dropped lazily on access.
type InMemoryProcessedStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
}

// NewInMemoryProcessedStore creates a store retaining ids for ttl.
// A non-positive ttl retains ids for the life of the process.
func NewInMemoryProcessedStore(ttl time.Duration) *InMemoryProcessedStore {
	return &InMemoryProcessedStore{
		entries: make(map[string]time.Time),
		ttl:     ttl,
	}
}

// MarkProcessed implements ProcessedStore.
func (s *InMemoryProcessedStore) MarkProcessed(ctx context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked()
	if _, exists := s.entries[messageID]; exists {
		return false, nil
	}
	s.entries[messageID] = time.Now()
	return true, nil
}

// Forget implements ProcessedStore.
func (s *InMemoryProcessedStore) Forget(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, messageID)
	return nil
}

// Seen implements ProcessedStore.
func (s *InMemoryProcessedStore) Seen(ctx context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked()
	_, exists := s.entries[messageID]
	return exists, nil
}

func (s *InMemoryProcessedStore) expireLocked() {
	if s.ttl <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.ttl)
	for id, seenAt := range s.entries {
		if seenAt.Before(cutoff) {
			delete(s.entries, id)
		}
	}
}

// IdempotencyInterceptor is the idempotent-delivery guard: a delivery
// whose envelope id has already been processed is acknowledged without
// reprocessing (the chain short-circuits with nil). The id is reserved
// atomically before the rest of the chain runs, so concurrent
// deliveries of the same id process at most once; a failed delivery
// releases the reservation and is retried rather than suppressed.
type IdempotencyInterceptor struct {
	store  ProcessedStore
	logger *slog.Logger
}

// NewIdempotencyInterceptor creates a new idempotency interceptor.
func NewIdempotencyInterceptor(store ProcessedStore, logger *slog.Logger) *IdempotencyInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdempotencyInterceptor{store: store, logger: logger}
}

// Intercept implements Interceptor.
func (i *IdempotencyInterceptor) Intercept(ctx context.Context, env *contracts.Envelope, next DeliveryHandler) error {
	first, err := i.store.MarkProcessed(ctx, env.ID)
	if err != nil {
		return err
	}
	if !first {
		i.logger.Info("duplicate delivery discarded",
			"messageId", env.ID,
			"messageType", env.Type,
		)
		return nil
	}

	if err := next.Handle(ctx, env); err != nil {
		if forgetErr := i.store.Forget(ctx, env.ID); forgetErr != nil {
			i.logger.Error("failed to release idempotency reservation",
				"messageId", env.ID,
				"error", forgetErr,
			)
		}
		return err
	}
	return nil
}

// Name implements Interceptor.
func (i *IdempotencyInterceptor) Name() string {
	return "IdempotencyInterceptor"
}
