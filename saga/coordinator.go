package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mamey-io/messaging-go/contracts"
)

// CompensationFunc builds the compensating command that reverses an
// already-applied step. A nil func means the step needs no reversal.
type CompensationFunc func(state *State) contracts.Command

// Step is one stage of a workflow definition.
type Step struct {
	Name string
	// Timeout, when positive, bounds how long the coordinator waits for
	// the step's completion event before treating the step as rejected.
	Timeout    time.Duration
	Compensate CompensationFunc
}

// Definition is an ordered multi-step workflow.
type Definition struct {
	Name  string
	Steps []Step
}

// CommandSender issues compensating commands. The dispatcher (local
// handlers) and the publisher (remote services) both satisfy it.
type CommandSender interface {
	Send(ctx context.Context, cmd contracts.Command) error
}

// CommandSenderFunc is a function adapter for CommandSender.
type CommandSenderFunc func(ctx context.Context, cmd contracts.Command) error

// Send implements CommandSender.
func (f CommandSenderFunc) Send(ctx context.Context, cmd contracts.Command) error {
	return f(ctx, cmd)
}

// Coordinator drives one workflow definition as a state machine per
// correlation id. Transitions for the same correlation are serialized
// through a per-key lock; distinct sagas proceed fully in parallel.
//
// On a rejected event the coordinator transitions to Rejected and
// synchronously issues compensating commands for every recorded step in
// reverse order of original execution. Events arriving for an
// already-terminal correlation are logged as anomalies and ignored.
type Coordinator struct {
	definition Definition
	store      Store
	sender     CommandSender
	logger     *slog.Logger

	locks  keyedMutex
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// CoordinatorOption configures the Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorLogger sets the logger.
func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// NewCoordinator creates a coordinator for the given workflow.
func NewCoordinator(definition Definition, store Store, sender CommandSender, options ...CoordinatorOption) (*Coordinator, error) {
	if len(definition.Steps) == 0 {
		return nil, fmt.Errorf("workflow %q must have at least one step", definition.Name)
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender cannot be nil")
	}

	c := &Coordinator{
		definition: definition,
		store:      store,
		sender:     sender,
		logger:     slog.Default(),
		timers:     make(map[string]*time.Timer),
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Start creates the saga for a correlation id at the first step.
func (c *Coordinator) Start(ctx context.Context, correlationID string) (*State, error) {
	unlock := c.locks.lock(correlationID)
	defer unlock()

	if _, err := c.store.Load(ctx, correlationID); err == nil {
		return nil, fmt.Errorf("saga already started for correlation %s", correlationID)
	} else if !errors.Is(err, ErrStateNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	state := &State{
		SagaID:        uuid.New().String(),
		CorrelationID: correlationID,
		Step:          0,
		Status:        StatusPending,
		StartedAt:     now,
		UpdatedAt:     now,
	}
	state.addAudit("saga started", c.definition.Steps[0].Name)

	if err := c.store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("saving saga state: %w", err)
	}

	c.armStepTimer(correlationID, 0)
	c.logger.Info("saga started",
		"workflow", c.definition.Name,
		"correlationId", correlationID,
		"sagaId", state.SagaID,
	)
	return state, nil
}

// OnStepCompleted advances the saga past its current step. Completing
// the final step transitions the saga to Completed.
func (c *Coordinator) OnStepCompleted(ctx context.Context, correlationID string) error {
	unlock := c.locks.lock(correlationID)
	defer unlock()

	state, err := c.store.Load(ctx, correlationID)
	if err != nil {
		return err
	}
	if state.Status.Terminal() {
		c.logAnomaly(state, "step completion after terminal status")
		return nil
	}

	step := c.definition.Steps[state.Step]
	state.CompensationLog = append(state.CompensationLog, CompletedStep{
		Step:        state.Step,
		Name:        step.Name,
		CompletedAt: time.Now().UTC(),
	})
	state.addAudit("step completed", step.Name)
	c.cancelStepTimer(correlationID)

	if state.Step == len(c.definition.Steps)-1 {
		state.Status = StatusCompleted
		state.addAudit("saga completed", "")
		c.logger.Info("saga completed",
			"workflow", c.definition.Name,
			"correlationId", correlationID,
		)
		return c.store.Save(ctx, state)
	}

	state.Step++
	if err := c.store.Save(ctx, state); err != nil {
		return fmt.Errorf("saving saga state: %w", err)
	}
	c.armStepTimer(correlationID, state.Step)
	return nil
}

// OnRejected transitions the saga to Rejected and synchronously issues
// compensating commands for every recorded step, in reverse order.
func (c *Coordinator) OnRejected(ctx context.Context, correlationID, reason string) error {
	unlock := c.locks.lock(correlationID)
	defer unlock()

	state, err := c.store.Load(ctx, correlationID)
	if err != nil {
		return err
	}
	if state.Status.Terminal() {
		c.logAnomaly(state, "rejection after terminal status")
		return nil
	}

	return c.rejectLocked(ctx, state, reason)
}

// rejectLocked performs the Rejected transition and compensation. The
// caller must hold the correlation lock.
func (c *Coordinator) rejectLocked(ctx context.Context, state *State, reason string) error {
	state.Status = StatusRejected
	state.Reason = reason
	state.addAudit("saga rejected", reason)
	c.cancelStepTimer(state.CorrelationID)

	if err := c.store.Save(ctx, state); err != nil {
		return fmt.Errorf("saving saga state: %w", err)
	}

	c.logger.Warn("saga rejected, compensating",
		"workflow", c.definition.Name,
		"correlationId", state.CorrelationID,
		"reason", reason,
		"stepsToCompensate", len(state.CompensationLog),
	)
	return c.compensate(ctx, state)
}

// Handle is the event-ingestion entry point for the broker transport.
// It routes on the saga status carried in the envelope headers;
// deliveries without saga state are ignored.
func (c *Coordinator) Handle(ctx context.Context, env *contracts.Envelope) error {
	if env.CorrelationID == "" {
		return nil
	}

	switch env.SagaStatus() {
	case contracts.SagaStatusCompleted:
		return c.OnStepCompleted(ctx, env.CorrelationID)
	case contracts.SagaStatusRejected:
		return c.OnRejected(ctx, env.CorrelationID, env.Type)
	default:
		return nil
	}
}

// State returns the current saga state for a correlation id.
func (c *Coordinator) State(ctx context.Context, correlationID string) (*State, error) {
	return c.store.Load(ctx, correlationID)
}

func (c *Coordinator) compensate(ctx context.Context, state *State) error {
	var errs []error
	for i := len(state.CompensationLog) - 1; i >= 0; i-- {
		applied := state.CompensationLog[i]
		step := c.definition.Steps[applied.Step]
		if step.Compensate == nil {
			continue
		}

		cmd := step.Compensate(state)
		if cmd == nil {
			continue
		}
		cmd.SetCorrelationID(state.CorrelationID)

		if err := c.sender.Send(ctx, cmd); err != nil {
			c.logger.Error("compensating command failed",
				"workflow", c.definition.Name,
				"correlationId", state.CorrelationID,
				"step", applied.Name,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("compensating %s: %w", applied.Name, err))
			continue
		}

		c.logger.Info("compensating command issued",
			"workflow", c.definition.Name,
			"correlationId", state.CorrelationID,
			"step", applied.Name,
			"commandType", cmd.GetType(),
		)
	}
	return errors.Join(errs...)
}

// armStepTimer starts the optional step timeout. Expiry treats the step
// as rejected and begins compensation, unless the saga has already
// advanced past the armed step.
func (c *Coordinator) armStepTimer(correlationID string, step int) {
	timeout := c.definition.Steps[step].Timeout
	if timeout <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.timers[correlationID]; ok {
		existing.Stop()
	}
	c.timers[correlationID] = time.AfterFunc(timeout, func() {
		c.onStepTimeout(correlationID, step)
	})
}

func (c *Coordinator) cancelStepTimer(correlationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if timer, ok := c.timers[correlationID]; ok {
		timer.Stop()
		delete(c.timers, correlationID)
	}
}

func (c *Coordinator) onStepTimeout(correlationID string, step int) {
	ctx := context.Background()

	unlock := c.locks.lock(correlationID)
	defer unlock()

	// Re-read under the lock: a completion racing the timer may have
	// advanced or finished the saga after the timer fired.
	state, err := c.store.Load(ctx, correlationID)
	if err != nil || state.Status.Terminal() || state.Step != step {
		return
	}

	stepName := c.definition.Steps[step].Name
	c.logger.Warn("saga step timed out",
		"workflow", c.definition.Name,
		"correlationId", correlationID,
		"step", stepName,
	)
	if err := c.rejectLocked(ctx, state, fmt.Sprintf("step timeout: %s", stepName)); err != nil {
		c.logger.Error("failed to reject timed-out saga",
			"correlationId", correlationID,
			"error", err,
		)
	}
}

func (c *Coordinator) logAnomaly(state *State, message string) {
	c.logger.Warn("saga anomaly ignored",
		"workflow", c.definition.Name,
		"correlationId", state.CorrelationID,
		"status", string(state.Status),
		"anomaly", message,
	)
}

// keyedMutex serializes work per correlation id while letting distinct
// correlations proceed in parallel.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	lock, exists := k.locks[key]
	if !exists {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
