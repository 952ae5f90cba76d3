// Package messaging provides in-process dispatch of commands, queries and
// events to explicitly registered handlers.
//
// The Dispatcher keeps a compile-time-populated registration table of
// message type to handler, exactly one handler per type. Cross-cutting
// concerns are an ordered list of middleware functions composed at
// construction time; the built-in PagingMiddleware and
// ValidationMiddleware cover paging normalization and synchronous shape
// validation.
package messaging
