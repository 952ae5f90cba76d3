package mapper

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/mamey-io/messaging-go/contracts"
)

// RejectionFactory builds the typed rejected event for a domain error
// raised while handling the given command.
type RejectionFactory func(cmd contracts.Command, derr *contracts.DomainError) contracts.Event

// CommandRejected is the generic fallback rejection published for
// (error, command) pairs that have no explicit mapping. Sagas waiting on
// the command still receive a terminal answer instead of hanging.
type CommandRejected struct {
	contracts.BaseEvent
	CommandID   string `json:"commandId"`
	CommandType string `json:"commandType"`
	Reason      string `json:"reason"`
	Code        string `json:"code"`
}

// DeadLetterSink receives command/error pairs that fell through to the
// generic rejection, for operator remediation.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, cmd contracts.Command, err error)
}

// DeadLetterFunc is a function adapter for DeadLetterSink.
type DeadLetterFunc func(ctx context.Context, cmd contracts.Command, err error)

// DeadLetter implements DeadLetterSink.
func (f DeadLetterFunc) DeadLetter(ctx context.Context, cmd contracts.Command, err error) {
	f(ctx, cmd, err)
}

type rejectionKey struct {
	rule        contracts.DomainRule
	commandType string
}

// RejectionMapper converts domain errors raised by handlers into typed
// rejected events, matched on the (domain rule, command type) pair.
// Unmapped pairs never vanish: they produce a generic CommandRejected,
// an error log, and a dead-letter record.
type RejectionMapper struct {
	factories  map[rejectionKey]RejectionFactory
	deadLetter DeadLetterSink
	logger     *slog.Logger
}

// RejectionMapperOption configures the RejectionMapper.
type RejectionMapperOption func(*RejectionMapper)

// WithRejectionLogger sets the logger.
func WithRejectionLogger(logger *slog.Logger) RejectionMapperOption {
	return func(m *RejectionMapper) {
		m.logger = logger
	}
}

// WithDeadLetterSink sets the sink for unmapped rejections.
func WithDeadLetterSink(sink DeadLetterSink) RejectionMapperOption {
	return func(m *RejectionMapper) {
		m.deadLetter = sink
	}
}

// NewRejectionMapper creates an empty rejection mapper.
func NewRejectionMapper(options ...RejectionMapperOption) *RejectionMapper {
	m := &RejectionMapper{
		factories: make(map[rejectionKey]RejectionFactory),
		logger:    slog.Default(),
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Register binds a (domain rule, command type) pair to its rejection
// factory.
func (m *RejectionMapper) Register(rule contracts.DomainRule, command contracts.Command, factory RejectionFactory) error {
	typeName, err := commandTypeName(command)
	if err != nil {
		return err
	}
	key := rejectionKey{rule: rule, commandType: typeName}
	if _, exists := m.factories[key]; exists {
		return fmt.Errorf("rejection mapping already registered for %s/%s", rule, typeName)
	}
	m.factories[key] = factory
	return nil
}

// Map converts the error raised while handling cmd into a rejected
// event. Non-domain errors return (nil, false): they are not business
// refusals and must be handled by the caller's retry path instead.
func (m *RejectionMapper) Map(ctx context.Context, cmd contracts.Command, err error) (contracts.Event, bool) {
	derr, ok := contracts.AsDomainError(err)
	if !ok {
		return nil, false
	}

	typeName, nameErr := commandTypeName(cmd)
	if nameErr != nil {
		return nil, false
	}

	if factory, exists := m.factories[rejectionKey{rule: derr.Rule, commandType: typeName}]; exists {
		rejected := factory(cmd, derr)
		rejected.SetCorrelationID(cmd.GetCorrelationID())
		rejected.SetCausationID(cmd.GetID())
		return rejected, true
	}

	// Unhandled rejection fallback: a saga must never wait forever on a
	// response that was silently dropped.
	m.logger.Error("unmapped rejection, emitting generic CommandRejected",
		"commandType", typeName,
		"commandId", cmd.GetID(),
		"rule", string(derr.Rule),
		"error", err,
	)
	if m.deadLetter != nil {
		m.deadLetter.DeadLetter(ctx, cmd, err)
	}

	rejected := &CommandRejected{
		BaseEvent:   contracts.NewBaseEvent("CommandRejected", derr.EntityID),
		CommandID:   cmd.GetID(),
		CommandType: typeName,
		Reason:      derr.Message,
		Code:        string(derr.Rule),
	}
	rejected.SetCorrelationID(cmd.GetCorrelationID())
	rejected.SetCausationID(cmd.GetID())
	return rejected, true
}

func commandTypeName(cmd contracts.Command) (string, error) {
	if cmd == nil {
		return "", fmt.Errorf("command cannot be nil")
	}
	cmdType := reflect.TypeOf(cmd)
	if cmdType.Kind() == reflect.Ptr {
		cmdType = cmdType.Elem()
	}
	typeName := cmdType.Name()
	if typeName == "" {
		return "", fmt.Errorf("command type must have a name")
	}
	return typeName, nil
}
