package reliability

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy decides whether and when a failed operation is retried.
type RetryPolicy interface {
	// ShouldRetry determines if a retry should be attempted after the
	// given zero-based attempt failed with err.
	ShouldRetry(attempt int, err error) (bool, time.Duration)
	// MaxAttempts returns the retry ceiling.
	MaxAttempts() int
	// NextDelay calculates the delay before the next attempt.
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff retries with exponentially growing delays and
// optional jitter.
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Ceiling         int
	Jitter          bool
}

// NewExponentialBackoff creates a new exponential backoff policy with
// jitter enabled.
func NewExponentialBackoff(initial, max time.Duration, multiplier float64, maxAttempts int) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      multiplier,
		Ceiling:         maxAttempts,
		Jitter:          true,
	}
}

// ShouldRetry implements RetryPolicy.
func (e *ExponentialBackoff) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if attempt >= e.Ceiling {
		return false, 0
	}
	if !IsRetryable(err) {
		return false, 0
	}
	return true, e.NextDelay(attempt)
}

// MaxAttempts implements RetryPolicy.
func (e *ExponentialBackoff) MaxAttempts() int {
	return e.Ceiling
}

// NextDelay implements RetryPolicy.
func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(e.InitialInterval) * math.Pow(e.Multiplier, float64(attempt))
	if delay > float64(e.MaxInterval) {
		delay = float64(e.MaxInterval)
	}
	if e.Jitter {
		// ±15% around the computed delay
		jitter := rand.Float64() * 0.3 * delay
		delay = delay + jitter - (0.15 * delay)
	}
	return time.Duration(delay)
}

// FixedDelay retries with a constant delay.
type FixedDelay struct {
	Delay   time.Duration
	Ceiling int
}

// NewFixedDelay creates a new fixed delay policy.
func NewFixedDelay(delay time.Duration, maxAttempts int) *FixedDelay {
	return &FixedDelay{Delay: delay, Ceiling: maxAttempts}
}

// ShouldRetry implements RetryPolicy.
func (f *FixedDelay) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if attempt >= f.Ceiling {
		return false, 0
	}
	if !IsRetryable(err) {
		return false, 0
	}
	return true, f.Delay
}

// MaxAttempts implements RetryPolicy.
func (f *FixedDelay) MaxAttempts() int {
	return f.Ceiling
}

// NextDelay implements RetryPolicy.
func (f *FixedDelay) NextDelay(attempt int) time.Duration {
	return f.Delay
}

// Retry executes fn until it succeeds, the policy gives up, or the
// context is cancelled.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		shouldRetry, delay := policy.ShouldRetry(attempt, err)
		if !shouldRetry {
			return lastErr
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// IsRetryable reports whether an error is worth retrying. Errors carrying
// an IsRetryable method decide for themselves; unknown errors default to
// retryable so transient infrastructure failures are not dropped.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	type retryable interface {
		IsRetryable() bool
	}
	if r, ok := err.(retryable); ok {
		return r.IsRetryable()
	}
	return true
}
