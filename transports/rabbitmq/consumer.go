package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mamey-io/messaging-go/contracts"
	"github.com/mamey-io/messaging-go/interceptors"
)

// ConsumerConfig holds configuration for the consumer.
type ConsumerConfig struct {
	PrefetchCount int
	Logger        *slog.Logger
}

// ConsumerOption configures the consumer.
type ConsumerOption func(*ConsumerConfig)

// WithPrefetchCount sets the channel QoS prefetch.
func WithPrefetchCount(count int) ConsumerOption {
	return func(cfg *ConsumerConfig) {
		cfg.PrefetchCount = count
	}
}

// WithConsumerLogger sets the logger.
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(cfg *ConsumerConfig) {
		cfg.Logger = logger
	}
}

// Consumer delivers inbound envelopes through an interceptor pipeline.
// Deliveries are acked only after the pipeline and handler succeed;
// failures are nacked to the dead letter exchange without requeue so
// the broker keeps the poison message out of the live queue.
type Consumer struct {
	conn     *amqp.Connection
	pipeline *interceptors.Pipeline
	prefetch int
	logger   *slog.Logger

	mu            sync.Mutex
	subscriptions map[string]*subscription
}

type subscription struct {
	channel *amqp.Channel
	cancel  context.CancelFunc
}

// NewConsumer connects to the broker.
func NewConsumer(connectionString string, pipeline *interceptors.Pipeline, options ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		PrefetchCount: 10,
		Logger:        slog.Default(),
	}
	for _, opt := range options {
		opt(cfg)
	}

	conn, err := amqp.Dial(connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return &Consumer{
		conn:          conn,
		pipeline:      pipeline,
		prefetch:      cfg.PrefetchCount,
		logger:        cfg.Logger,
		subscriptions: make(map[string]*subscription),
	}, nil
}

// Subscribe declares a durable queue bound to the events exchange and
// consumes it until Unsubscribe or Close.
func (c *Consumer) Subscribe(ctx context.Context, queue, routingKey string, handler interceptors.DeliveryHandler) error {
	channel, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to create channel: %w", err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange": ExchangeDeadLetter,
	}
	if _, err := channel.QueueDeclare(queue, true, false, false, false, args); err != nil {
		channel.Close()
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	if err := channel.QueueBind(queue, routingKey, ExchangeEvents, false, nil); err != nil {
		channel.Close()
		return fmt.Errorf("failed to bind queue %s: %w", queue, err)
	}
	if err := channel.Qos(c.prefetch, 0, false); err != nil {
		channel.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := channel.Consume(
		queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		channel.Close()
		return fmt.Errorf("failed to consume %s: %w", queue, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.subscriptions[queue] = &subscription{channel: channel, cancel: cancel}
	c.mu.Unlock()

	go func() {
		for {
			select {
			case <-subCtx.Done():
				channel.Close()
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				c.process(subCtx, d, handler)
			}
		}
	}()

	return nil
}

// Unsubscribe stops consuming the queue.
func (c *Consumer) Unsubscribe(queue string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, ok := c.subscriptions[queue]; ok {
		sub.cancel()
		delete(c.subscriptions, queue)
	}
	return nil
}

// Close stops all subscriptions and closes the connection.
func (c *Consumer) Close() error {
	c.mu.Lock()
	for queue, sub := range c.subscriptions {
		sub.cancel()
		delete(c.subscriptions, queue)
	}
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *Consumer) process(ctx context.Context, d amqp.Delivery, handler interceptors.DeliveryHandler) {
	env, err := DecodeDelivery(d)
	if err != nil {
		c.logger.Error("failed to decode delivery",
			"messageId", d.MessageId,
			"error", err,
		)
		_ = d.Nack(false, false)
		return
	}

	if err := c.pipeline.Execute(ctx, env, handler); err != nil {
		c.logger.Error("delivery processing failed",
			"messageId", env.ID,
			"type", env.Type,
			"error", err,
		)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

// DecodeDelivery converts an AMQP delivery to an envelope. The body is
// the canonical JSON envelope; broker headers override body headers so
// routing metadata added in transit survives.
func DecodeDelivery(d amqp.Delivery) (*contracts.Envelope, error) {
	var env contracts.Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if env.ID == "" {
		env.ID = d.MessageId
	}
	if env.CorrelationID == "" {
		env.CorrelationID = d.CorrelationId
	}
	if env.Type == "" {
		env.Type = d.Type
	}

	for k, v := range d.Headers {
		switch value := v.(type) {
		case string:
			env.SetHeader(k, value)
		case []interface{}:
			values := make([]string, 0, len(value))
			for _, item := range value {
				if s, ok := item.(string); ok {
					values = append(values, s)
				}
			}
			if len(values) > 0 {
				env.SetHeader(k, values...)
			}
		}
	}
	return &env, nil
}
