// Package saga coordinates multi-step cross-service workflows.
//
// A Definition names an ordered list of steps; the Coordinator runs it
// as a state machine keyed by correlation id. Each saga moves from
// Pending to exactly one terminal status, Completed or Rejected, and
// never leaves a terminal status. On rejection the coordinator issues
// compensating commands for every step that already completed, in
// reverse order of execution.
//
//	definition := saga.Definition{
//		Name: "citizenship-registration",
//		Steps: []saga.Step{
//			{Name: "add-application", Compensate: removeApplication},
//			{Name: "register-identity", Timeout: 30 * time.Second},
//		},
//	}
//	coordinator, err := saga.NewCoordinator(definition, store, sender)
//
// Transitions for one correlation id are serialized; distinct sagas run
// concurrently. Events arriving for an already-terminal saga are logged
// and ignored rather than reprocessed.
package saga
