// Package nats provides a NATS transport for deployments that prefer a
// lightweight broker over RabbitMQ. The Publisher satisfies
// outbox.Publisher; the topic maps directly to the NATS subject.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mamey-io/messaging-go/contracts"
)

// PublisherConfig holds configuration for the publisher.
type PublisherConfig struct {
	MaxReconnects int
	FlushTimeout  time.Duration
}

// PublisherOption configures the publisher.
type PublisherOption func(*PublisherConfig)

// WithMaxReconnects sets the reconnect attempt limit.
func WithMaxReconnects(n int) PublisherOption {
	return func(cfg *PublisherConfig) {
		cfg.MaxReconnects = n
	}
}

// WithFlushTimeout bounds how long Publish waits for the server to
// acknowledge buffered messages.
func WithFlushTimeout(timeout time.Duration) PublisherOption {
	return func(cfg *PublisherConfig) {
		cfg.FlushTimeout = timeout
	}
}

// Publisher publishes envelopes to NATS subjects.
type Publisher struct {
	conn    *nats.Conn
	timeout time.Duration
}

// NewPublisher connects to the NATS server.
func NewPublisher(url string, options ...PublisherOption) (*Publisher, error) {
	cfg := &PublisherConfig{
		MaxReconnects: 5,
		FlushTimeout:  5 * time.Second,
	}
	for _, opt := range options {
		opt(cfg)
	}

	conn, err := nats.Connect(url, nats.MaxReconnects(cfg.MaxReconnects))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &Publisher{conn: conn, timeout: cfg.FlushTimeout}, nil
}

// Publish sends the envelope to the subject named by topic and flushes
// so delivery failures surface to the relay instead of being buffered.
func (p *Publisher) Publish(ctx context.Context, topic string, env *contracts.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	msg := nats.NewMsg(topic)
	msg.Data = body
	for k, values := range env.Headers {
		for _, v := range values {
			msg.Header.Add(k, v)
		}
	}
	msg.Header.Set(nats.MsgIdHdr, env.ID)

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	if err := p.conn.FlushTimeout(p.timeout); err != nil {
		return fmt.Errorf("failed to flush publish to %s: %w", topic, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}

// DecodeMsg converts a NATS message to an envelope.
func DecodeMsg(msg *nats.Msg) (*contracts.Envelope, error) {
	var env contracts.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	for k, values := range msg.Header {
		for _, v := range values {
			env.AddHeader(k, v)
		}
	}
	return &env, nil
}
