// Package interceptors provides the inbound plugin pipeline applied to
// every broker delivery.
//
// The Pipeline is a chain-of-responsibility composed once at startup.
// Each interceptor may inspect and transform the delivery context,
// short-circuit by not calling next, or forward unchanged. Built-in
// interceptors:
//   - SagaHeaderInterceptor: parses delivery headers into a typed saga
//     status; unrecognized values resolve to "no saga state"
//   - IdempotencyInterceptor: discards deliveries whose envelope id has
//     already been processed
//   - TenantInterceptor: lifts the tenant header into the context
//   - CorrelationInterceptor: lifts correlation/causation ids into the
//     context
//   - LoggingInterceptor: logs delivery processing with timing
package interceptors
