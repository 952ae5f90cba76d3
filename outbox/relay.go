package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mamey-io/messaging-go/contracts"
	"github.com/mamey-io/messaging-go/internal/reliability"
)

// Publisher delivers a staged envelope to the broker. Implementations
// must only return nil after broker acknowledgment.
type Publisher interface {
	Publish(ctx context.Context, topic string, env *contracts.Envelope) error
}

// PublisherFunc is a function adapter for Publisher.
type PublisherFunc func(ctx context.Context, topic string, env *contracts.Envelope) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, topic string, env *contracts.Envelope) error {
	return f(ctx, topic, env)
}

// AlertFunc is invoked when a record is dead-lettered so operators can
// be paged.
type AlertFunc func(rec *Record, err error)

// Relay drains unsent outbox records and publishes them in creation
// order per aggregate. Cross-aggregate ordering is not guaranteed.
//
// Delivery is at-least-once: a crash between broker acknowledgment and
// MarkSent re-publishes the record on restart, which downstream
// consumers absorb by deduplicating on the envelope id. Multiple relay
// instances may run concurrently: the store's lease prevents
// double-claims, and the store only hands out aggregate heads, so no
// instance can publish a record while an earlier record of the same
// aggregate is unsent on another instance.
type Relay struct {
	store          Store
	publisher      Publisher
	pollInterval   time.Duration
	batchSize      int
	leaseDuration  time.Duration
	publishTimeout time.Duration
	retryPolicy    reliability.RetryPolicy
	maxAttempts    int
	breaker        *reliability.CircuitBreaker
	alert          AlertFunc
	logger         *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// RelayOption configures the Relay.
type RelayOption func(*Relay)

// WithPollInterval sets how often the relay polls for unsent records.
func WithPollInterval(interval time.Duration) RelayOption {
	return func(r *Relay) {
		r.pollInterval = interval
	}
}

// WithBatchSize sets the maximum records claimed per cycle.
func WithBatchSize(size int) RelayOption {
	return func(r *Relay) {
		r.batchSize = size
	}
}

// WithLeaseDuration sets how long a claim excludes other relay instances.
func WithLeaseDuration(lease time.Duration) RelayOption {
	return func(r *Relay) {
		r.leaseDuration = lease
	}
}

// WithPublishTimeout bounds each publish attempt.
func WithPublishTimeout(timeout time.Duration) RelayOption {
	return func(r *Relay) {
		r.publishTimeout = timeout
	}
}

// WithRelayRetryPolicy sets the in-cycle retry policy for publishes.
func WithRelayRetryPolicy(policy reliability.RetryPolicy) RelayOption {
	return func(r *Relay) {
		r.retryPolicy = policy
	}
}

// WithMaxAttempts sets the cross-cycle attempts ceiling before a record
// is dead-lettered.
func WithMaxAttempts(attempts int) RelayOption {
	return func(r *Relay) {
		r.maxAttempts = attempts
	}
}

// WithRelayCircuitBreaker pauses publishes while the broker is down.
func WithRelayCircuitBreaker(breaker *reliability.CircuitBreaker) RelayOption {
	return func(r *Relay) {
		r.breaker = breaker
	}
}

// WithAlertFunc sets the operator alert hook for dead-lettered records.
func WithAlertFunc(alert AlertFunc) RelayOption {
	return func(r *Relay) {
		r.alert = alert
	}
}

// WithRelayLogger sets the logger.
func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = logger
	}
}

// NewRelay creates a relay over the given store and publisher.
func NewRelay(store Store, publisher Publisher, options ...RelayOption) *Relay {
	r := &Relay{
		store:          store,
		publisher:      publisher,
		pollInterval:   time.Second,
		batchSize:      100,
		leaseDuration:  30 * time.Second,
		publishTimeout: 10 * time.Second,
		retryPolicy:    reliability.NewExponentialBackoff(100*time.Millisecond, 5*time.Second, 2.0, 3),
		maxAttempts:    10,
		logger:         slog.Default(),
		stopCh:         make(chan struct{}),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Start launches the poll loop. It returns immediately; the relay runs
// until Stop is called or the context is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("relay already running")
	}
	r.running = true

	r.wg.Add(1)
	go r.run(ctx)
	return nil
}

// Stop halts claiming and waits for in-flight publish attempts to
// complete. No partial message is half-published.
func (r *Relay) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Relay) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			if err := r.Drain(ctx); err != nil {
				r.logger.Error("outbox drain failed", "error", err)
			}
		}
	}
}

// Drain publishes the claimable backlog. Each pass claims a batch of
// aggregate heads and publishes them in parallel across aggregates;
// passes repeat until one makes no progress, so a burst of records on a
// single aggregate drains within one call. Drain is exported so
// deployments can trigger it on a "new rows" signal instead of waiting
// for the next poll tick.
func (r *Relay) Drain(ctx context.Context) error {
	for {
		sent, err := r.drainBatch(ctx)
		if err != nil || sent == 0 {
			return err
		}
	}
}

func (r *Relay) drainBatch(ctx context.Context) (int, error) {
	records, err := r.store.ClaimUnsent(ctx, r.batchSize, r.leaseDuration)
	if err != nil {
		return 0, fmt.Errorf("claiming unsent records: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	groups := make(map[string][]*Record)
	order := make([]string, 0)
	for _, rec := range records {
		if _, seen := groups[rec.AggregateID]; !seen {
			order = append(order, rec.AggregateID)
		}
		groups[rec.AggregateID] = append(groups[rec.AggregateID], rec)
	}

	var sent atomic.Int64
	var wg sync.WaitGroup
	for _, aggregateID := range order {
		group := groups[aggregateID]
		wg.Add(1)
		go func() {
			defer wg.Done()
			sent.Add(int64(r.drainAggregate(ctx, group)))
		}()
	}
	wg.Wait()
	return int(sent.Load()), nil
}

// drainAggregate publishes a single aggregate's records in creation
// order, returning how many were published and marked sent. The first
// failure stops the group for this pass so later records never overtake
// an earlier one.
func (r *Relay) drainAggregate(ctx context.Context, group []*Record) int {
	sent := 0
	for _, rec := range group {
		if err := r.publishRecord(ctx, rec); err != nil {
			r.handlePublishFailure(ctx, rec, err)
			return sent
		}

		if err := r.store.MarkSent(ctx, rec.ID, time.Now().UTC()); err != nil {
			// The broker has the message but sent_at is not persisted:
			// the record will be re-published next cycle and consumers
			// deduplicate on the envelope id.
			r.logger.Error("failed to mark record sent, duplicate delivery expected",
				"recordId", rec.ID,
				"aggregateId", rec.AggregateID,
				"error", err,
			)
			return sent
		}
		sent++

		r.logger.Debug("outbox record published",
			"recordId", rec.ID,
			"aggregateId", rec.AggregateID,
			"topic", rec.MessageType,
		)
	}
	return sent
}

func (r *Relay) publishRecord(ctx context.Context, rec *Record) error {
	env, err := rec.Envelope()
	if err != nil {
		return err
	}

	// Each attempt gets its own deadline; backoff between attempts is
	// bounded only by the caller's context.
	publish := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, r.publishTimeout)
		defer cancel()
		return r.publisher.Publish(attemptCtx, rec.MessageType, env)
	}
	if r.breaker != nil {
		inner := publish
		publish = func() error {
			return r.breaker.Execute(ctx, inner)
		}
	}

	return reliability.Retry(ctx, r.retryPolicy, publish)
}

func (r *Relay) handlePublishFailure(ctx context.Context, rec *Record, publishErr error) {
	if rec.Attempts+1 >= r.maxAttempts {
		r.logger.Error("outbox record exhausted retries, dead-lettering",
			"recordId", rec.ID,
			"aggregateId", rec.AggregateID,
			"attempts", rec.Attempts+1,
			"error", publishErr,
		)
		if err := r.store.MarkDeadLettered(ctx, rec.ID, publishErr.Error()); err != nil {
			r.logger.Error("failed to dead-letter record", "recordId", rec.ID, "error", err)
			return
		}
		if r.alert != nil {
			r.alert(rec, publishErr)
		}
		return
	}

	r.logger.Warn("publish failed, releasing claim for retry",
		"recordId", rec.ID,
		"aggregateId", rec.AggregateID,
		"attempts", rec.Attempts+1,
		"error", publishErr,
	)
	if err := r.store.ReleaseClaim(ctx, rec.ID, publishErr.Error()); err != nil {
		r.logger.Error("failed to release claim", "recordId", rec.ID, "error", err)
	}
}
