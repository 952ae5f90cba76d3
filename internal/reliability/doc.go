// Package reliability provides retry policies and a circuit breaker used
// by the outbox relay. Retry decisions honor the IsRetryable method on
// errors, so domain refusals are never retried while transient
// infrastructure failures are.
package reliability
