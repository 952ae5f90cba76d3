// Package rabbitmq provides the RabbitMQ transport. The Publisher
// satisfies outbox.Publisher with publisher confirms enabled so the
// relay only marks records sent after the broker has accepted them.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mamey-io/messaging-go/contracts"
)

const (
	// ExchangeEvents carries integration events between services.
	ExchangeEvents = "mamey.events"
	// ExchangeCommands carries commands addressed to a single service.
	ExchangeCommands = "mamey.commands"
	// ExchangeDeadLetter receives deliveries that exhausted processing.
	ExchangeDeadLetter = "mamey.dlx"
)

// PublisherConfig holds configuration for the publisher.
type PublisherConfig struct {
	Exchange       string
	ConfirmTimeout time.Duration
}

// PublisherOption configures the publisher.
type PublisherOption func(*PublisherConfig)

// WithExchange overrides the target exchange.
func WithExchange(exchange string) PublisherOption {
	return func(cfg *PublisherConfig) {
		cfg.Exchange = exchange
	}
}

// WithConfirmTimeout bounds how long Publish waits for the broker
// confirm before reporting failure.
func WithConfirmTimeout(timeout time.Duration) PublisherOption {
	return func(cfg *PublisherConfig) {
		cfg.ConfirmTimeout = timeout
	}
}

// Publisher publishes envelopes to a topic exchange in confirm mode.
type Publisher struct {
	conn     *amqp.Connection
	exchange string
	timeout  time.Duration

	mu      sync.Mutex
	channel *amqp.Channel
}

// NewPublisher connects to the broker, declares the standard exchanges
// and opens a confirm-mode channel.
func NewPublisher(connectionString string, options ...PublisherOption) (*Publisher, error) {
	cfg := &PublisherConfig{
		Exchange:       ExchangeEvents,
		ConfirmTimeout: 5 * time.Second,
	}
	for _, opt := range options {
		opt(cfg)
	}

	conn, err := amqp.Dial(connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	p := &Publisher{
		conn:     conn,
		exchange: cfg.Exchange,
		timeout:  cfg.ConfirmTimeout,
	}

	if err := p.declareExchanges(); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := p.getChannel(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// Publish sends the envelope to the exchange using the topic as routing
// key and waits for the broker confirm. An unconfirmed or nacked
// publish returns an error so the caller can retry the record.
func (p *Publisher) Publish(ctx context.Context, topic string, env *contracts.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.ID,
		CorrelationId: env.CorrelationID,
		Type:          env.Type,
		Timestamp:     env.OccurredAt,
		Headers:       toTable(env.Headers),
	}

	channel, err := p.getChannel()
	if err != nil {
		return err
	}

	confirmCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	confirm, err := channel.PublishWithDeferredConfirmWithContext(
		confirmCtx,
		p.exchange,
		topic,
		false, // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		p.dropChannel(channel)
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	acked, err := confirm.WaitContext(confirmCtx)
	if err != nil {
		return fmt.Errorf("waiting for confirm on %s: %w", topic, err)
	}
	if !acked {
		return fmt.Errorf("broker nacked publish to %s", topic)
	}
	return nil
}

// Close closes the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	p.mu.Unlock()
	return p.conn.Close()
}

func (p *Publisher) getChannel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil && !p.channel.IsClosed() {
		return p.channel, nil
	}

	channel, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	if err := channel.Confirm(false); err != nil {
		channel.Close()
		return nil, fmt.Errorf("failed to enable confirms: %w", err)
	}
	p.channel = channel
	return channel, nil
}

// dropChannel discards a channel after a publish error so the next
// publish reopens a fresh one.
func (p *Publisher) dropChannel(channel *amqp.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel == channel {
		p.channel.Close()
		p.channel = nil
	}
}

func (p *Publisher) declareExchanges() error {
	channel, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to create channel: %w", err)
	}
	defer channel.Close()

	exchanges := []string{ExchangeEvents, ExchangeCommands, ExchangeDeadLetter}
	for _, name := range exchanges {
		err = channel.ExchangeDeclare(
			name,
			"topic",
			true,  // durable
			false, // auto-delete
			false, // internal
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", name, err)
		}
	}
	return nil
}

// toTable carries the envelope's multi-value headers onto the AMQP
// table. Single values travel as plain strings, multiple values as an
// ordered array, so nothing is lost in transit.
func toTable(headers map[string][]string) amqp.Table {
	if len(headers) == 0 {
		return nil
	}
	table := make(amqp.Table, len(headers))
	for k, values := range headers {
		switch len(values) {
		case 0:
		case 1:
			table[k] = values[0]
		default:
			list := make([]interface{}, len(values))
			for i, v := range values {
				list[i] = v
			}
			table[k] = list
		}
	}
	return table
}
