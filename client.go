// Package mamey wires the messaging building blocks into a ready-to-use
// client: a dispatcher for local handling, an interceptor pipeline for
// inbound broker deliveries, and an outbox relay for reliable outbound
// publishing over RabbitMQ.
package mamey

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mamey-io/messaging-go/codec"
	"github.com/mamey-io/messaging-go/contracts"
	"github.com/mamey-io/messaging-go/interceptors"
	"github.com/mamey-io/messaging-go/messaging"
	"github.com/mamey-io/messaging-go/outbox"
	"github.com/mamey-io/messaging-go/transports/rabbitmq"
)

type clientConfig struct {
	serviceName  string
	logger       *slog.Logger
	store        outbox.Store
	dedupTTL     time.Duration
	relayOptions []outbox.RelayOption
}

// ClientOption configures the client.
type ClientOption func(*clientConfig)

// WithServiceName sets the service name used for queue naming.
func WithServiceName(name string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.serviceName = name
	}
}

// WithLogger sets the logger for all components.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithOutboxStore sets the outbox store. Defaults to an in-memory store
// suitable only for single-process deployments.
func WithOutboxStore(store outbox.Store) ClientOption {
	return func(cfg *clientConfig) {
		cfg.store = store
	}
}

// WithDedupTTL sets how long processed message ids are retained for the
// idempotent-delivery guard.
func WithDedupTTL(ttl time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.dedupTTL = ttl
	}
}

// WithRelayOptions forwards options to the outbox relay.
func WithRelayOptions(options ...outbox.RelayOption) ClientOption {
	return func(cfg *clientConfig) {
		cfg.relayOptions = append(cfg.relayOptions, options...)
	}
}

// Client is the main entry point. It owns the broker connections and
// the poll loop; Close releases everything.
type Client struct {
	serviceName string
	logger      *slog.Logger

	dispatcher *messaging.Dispatcher
	registry   *codec.Registry
	pipeline   *interceptors.Pipeline
	store      outbox.Store
	relay      *outbox.Relay
	publisher  *rabbitmq.Publisher
	consumer   *rabbitmq.Consumer
}

// NewClient connects to RabbitMQ and assembles the messaging stack.
func NewClient(connectionString string, options ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		serviceName: "service",
		logger:      slog.Default(),
		dedupTTL:    24 * time.Hour,
	}
	for _, opt := range options {
		opt(cfg)
	}
	if cfg.store == nil {
		cfg.store = outbox.NewMemoryStore()
	}

	publisher, err := rabbitmq.NewPublisher(connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}

	pipeline := interceptors.NewPipeline(cfg.logger)
	pipeline.Add(interceptors.NewLoggingInterceptor(cfg.logger))
	pipeline.Add(interceptors.NewCorrelationInterceptor())
	pipeline.Add(interceptors.NewTenantInterceptor())
	pipeline.Add(interceptors.NewSagaHeaderInterceptor(cfg.logger))
	pipeline.Add(interceptors.NewIdempotencyInterceptor(
		interceptors.NewInMemoryProcessedStore(cfg.dedupTTL), cfg.logger))

	consumer, err := rabbitmq.NewConsumer(connectionString, pipeline,
		rabbitmq.WithConsumerLogger(cfg.logger))
	if err != nil {
		publisher.Close()
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	relayOptions := append([]outbox.RelayOption{
		outbox.WithRelayLogger(cfg.logger),
	}, cfg.relayOptions...)

	return &Client{
		serviceName: cfg.serviceName,
		logger:      cfg.logger,
		dispatcher:  messaging.NewDispatcher(messaging.WithDispatcherLogger(cfg.logger)),
		registry:    codec.NewRegistry(),
		pipeline:    pipeline,
		store:       cfg.store,
		relay:       outbox.NewRelay(cfg.store, publisher, relayOptions...),
		publisher:   publisher,
		consumer:    consumer,
	}, nil
}

// Dispatcher returns the local message dispatcher.
func (c *Client) Dispatcher() *messaging.Dispatcher {
	return c.dispatcher
}

// Registry returns the wire type registry for inbound decoding.
func (c *Client) Registry() *codec.Registry {
	return c.registry
}

// Outbox returns the outbox store for transactional appends.
func (c *Client) Outbox() outbox.Store {
	return c.store
}

// Stage stages an integration event in the outbox within the caller's
// transaction. The relay publishes it after the transaction commits.
func (c *Client) Stage(ctx context.Context, tx outbox.Tx, event contracts.Event, topic, tenantID string) error {
	rec, err := outbox.NewRecord(event, topic, tenantID)
	if err != nil {
		return err
	}
	return c.store.Append(ctx, tx, rec)
}

// Subscribe consumes the service queue for the routing key, running
// every delivery through the interceptor pipeline into the dispatcher.
func (c *Client) Subscribe(ctx context.Context, routingKey string) error {
	queue := fmt.Sprintf("%s-queue", c.serviceName)
	handler := messaging.NewEnvelopeHandler(c.registry, c.dispatcher)
	if err := c.consumer.Subscribe(ctx, queue, routingKey, handler); err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", queue, err)
	}
	c.logger.Info("subscribed", "queue", queue, "routingKey", routingKey)
	return nil
}

// Start launches the outbox relay.
func (c *Client) Start(ctx context.Context) error {
	return c.relay.Start(ctx)
}

// Close stops the relay and releases broker connections.
func (c *Client) Close() error {
	c.relay.Stop()
	if err := c.consumer.Close(); err != nil {
		c.logger.Warn("closing consumer", "error", err)
	}
	return c.publisher.Close()
}
