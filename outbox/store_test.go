package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamey-io/messaging-go/contracts"
)

type applicationAdded struct {
	contracts.BaseEvent
	ApplicantName string `json:"applicantName"`
}

func newTestRecord(t *testing.T, aggregateID string) *Record {
	t.Helper()
	event := &applicationAdded{
		BaseEvent:     contracts.NewBaseEvent("citizenship.application-added", aggregateID),
		ApplicantName: "Maria",
	}
	rec, err := NewRecord(event, "citizenship.application-added", "tenant-a")
	require.NoError(t, err)
	return rec
}

func TestNewRecord(t *testing.T) {
	t.Run("stages the full wire envelope", func(t *testing.T) {
		rec := newTestRecord(t, "app-1")

		assert.Equal(t, "app-1", rec.AggregateID)
		assert.Equal(t, "citizenship.application-added", rec.MessageType)
		assert.Equal(t, StatusPending, rec.Status)
		assert.Nil(t, rec.SentAt)

		env, err := rec.Envelope()
		require.NoError(t, err)
		assert.Equal(t, rec.ID.String(), env.ID)
		assert.Equal(t, "tenant-a", env.Header(contracts.HeaderTenantID))
	})

	t.Run("empty topic is rejected", func(t *testing.T) {
		event := &applicationAdded{BaseEvent: contracts.NewBaseEvent("citizenship.application-added", "app-1")}

		_, err := NewRecord(event, "", "")

		assert.Error(t, err)
	})
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("appending the same record twice fails", func(t *testing.T) {
		store := NewMemoryStore()
		rec := newTestRecord(t, "app-1")

		require.NoError(t, store.Append(ctx, nil, rec))
		assert.ErrorIs(t, store.Append(ctx, nil, rec), ErrDuplicateRecord)
	})

	t.Run("ClaimUnsent returns oldest first up to limit", func(t *testing.T) {
		store := NewMemoryStore()
		first := newTestRecord(t, "app-1")
		first.CreatedAt = time.Now().UTC().Add(-3 * time.Minute)
		second := newTestRecord(t, "app-2")
		second.CreatedAt = time.Now().UTC().Add(-2 * time.Minute)
		third := newTestRecord(t, "app-3")
		third.CreatedAt = time.Now().UTC().Add(-time.Minute)
		require.NoError(t, store.Append(ctx, nil, third))
		require.NoError(t, store.Append(ctx, nil, first))
		require.NoError(t, store.Append(ctx, nil, second))

		claimed, err := store.ClaimUnsent(ctx, 2, 30*time.Second)

		require.NoError(t, err)
		require.Len(t, claimed, 2)
		assert.Equal(t, first.ID, claimed[0].ID)
		assert.Equal(t, second.ID, claimed[1].ID)
	})

	t.Run("younger records stay blocked while the aggregate head is unsent", func(t *testing.T) {
		store := NewMemoryStore()
		older := newTestRecord(t, "app-1")
		older.CreatedAt = time.Now().UTC().Add(-2 * time.Minute)
		younger := newTestRecord(t, "app-1")
		younger.CreatedAt = time.Now().UTC().Add(-time.Minute)
		require.NoError(t, store.Append(ctx, nil, older))
		require.NoError(t, store.Append(ctx, nil, younger))

		claimed, err := store.ClaimUnsent(ctx, 10, 30*time.Second)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, older.ID, claimed[0].ID)

		// With the head leased elsewhere, the younger sibling must not
		// surface to another claimer.
		again, err := store.ClaimUnsent(ctx, 10, 30*time.Second)
		require.NoError(t, err)
		assert.Empty(t, again)

		require.NoError(t, store.MarkSent(ctx, older.ID, time.Now().UTC()))

		next, err := store.ClaimUnsent(ctx, 10, 30*time.Second)
		require.NoError(t, err)
		require.Len(t, next, 1)
		assert.Equal(t, younger.ID, next[0].ID)
	})

	t.Run("claimed records are excluded until the lease expires", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Append(ctx, nil, newTestRecord(t, "app-1")))

		claimed, err := store.ClaimUnsent(ctx, 10, 30*time.Second)
		require.NoError(t, err)
		require.Len(t, claimed, 1)

		again, err := store.ClaimUnsent(ctx, 10, 30*time.Second)
		require.NoError(t, err)
		assert.Empty(t, again)
	})

	t.Run("expired lease makes the record claimable again", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Append(ctx, nil, newTestRecord(t, "app-1")))

		_, err := store.ClaimUnsent(ctx, 10, -time.Second)
		require.NoError(t, err)

		again, err := store.ClaimUnsent(ctx, 10, 30*time.Second)
		require.NoError(t, err)
		assert.Len(t, again, 1)
	})

	t.Run("concurrent claims never hand out the same record", func(t *testing.T) {
		store := NewMemoryStore()
		for i := 0; i < 50; i++ {
			require.NoError(t, store.Append(ctx, nil, newTestRecord(t, uuid.New().String())))
		}

		var mu sync.Mutex
		seen := make(map[uuid.UUID]int)
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				claimed, err := store.ClaimUnsent(ctx, 10, 30*time.Second)
				assert.NoError(t, err)
				mu.Lock()
				for _, rec := range claimed {
					seen[rec.ID]++
				}
				mu.Unlock()
			}()
		}
		wg.Wait()

		assert.Len(t, seen, 50)
		for id, count := range seen {
			assert.Equal(t, 1, count, "record %s claimed %d times", id, count)
		}
	})

	t.Run("MarkSent finalizes the record", func(t *testing.T) {
		store := NewMemoryStore()
		rec := newTestRecord(t, "app-1")
		require.NoError(t, store.Append(ctx, nil, rec))

		sentAt := time.Now().UTC()
		require.NoError(t, store.MarkSent(ctx, rec.ID, sentAt))

		stored := store.Get(rec.ID)
		require.NotNil(t, stored)
		assert.Equal(t, StatusSent, stored.Status)
		require.NotNil(t, stored.SentAt)
		assert.WithinDuration(t, sentAt, *stored.SentAt, time.Second)
		assert.Empty(t, store.Unsent())
	})

	t.Run("ReleaseClaim increments attempts and records the error", func(t *testing.T) {
		store := NewMemoryStore()
		rec := newTestRecord(t, "app-1")
		require.NoError(t, store.Append(ctx, nil, rec))
		_, err := store.ClaimUnsent(ctx, 1, 30*time.Second)
		require.NoError(t, err)

		require.NoError(t, store.ReleaseClaim(ctx, rec.ID, "connection refused"))

		stored := store.Get(rec.ID)
		assert.Equal(t, 1, stored.Attempts)
		assert.Equal(t, "connection refused", stored.LastError)
		assert.Nil(t, stored.LeaseExpiresAt)
	})

	t.Run("MarkDeadLettered removes the record from the claimable set", func(t *testing.T) {
		store := NewMemoryStore()
		rec := newTestRecord(t, "app-1")
		require.NoError(t, store.Append(ctx, nil, rec))

		require.NoError(t, store.MarkDeadLettered(ctx, rec.ID, "exhausted retries"))

		claimed, err := store.ClaimUnsent(ctx, 10, 30*time.Second)
		require.NoError(t, err)
		assert.Empty(t, claimed)
		assert.Equal(t, StatusDeadLettered, store.Get(rec.ID).Status)
	})

	t.Run("PurgeSent removes only old sent records", func(t *testing.T) {
		store := NewMemoryStore()
		sent := newTestRecord(t, "app-1")
		pending := newTestRecord(t, "app-2")
		require.NoError(t, store.Append(ctx, nil, sent))
		require.NoError(t, store.Append(ctx, nil, pending))
		require.NoError(t, store.MarkSent(ctx, sent.ID, time.Now().UTC().Add(-time.Hour)))

		purged, err := store.PurgeSent(ctx, time.Now().UTC())

		require.NoError(t, err)
		assert.Equal(t, 1, purged)
		assert.Nil(t, store.Get(sent.ID))
		assert.NotNil(t, store.Get(pending.ID))
	})

	t.Run("mutations on missing records fail", func(t *testing.T) {
		store := NewMemoryStore()

		assert.ErrorIs(t, store.MarkSent(ctx, uuid.New(), time.Now()), ErrRecordNotFound)
		assert.ErrorIs(t, store.ReleaseClaim(ctx, uuid.New(), "err"), ErrRecordNotFound)
		assert.ErrorIs(t, store.MarkDeadLettered(ctx, uuid.New(), "err"), ErrRecordNotFound)
	})
}
