// Package queue adapts the platform's NATS JetStream work-queue wiring
// to the gateway's two asynchronous job types: delayed settlement and
// notification delivery. Stream/consumer setup, reconnect options and
// the Client wrapper shape are kept from the messaging layer this was
// adapted from; only the stream/subject names and payload types changed.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	SettleStream  = "ORDER_SETTLE"
	SettleSubject = "order.settle"

	NotifyStream  = "ORDER_NOTIFICATION"
	NotifySubject = "order.notification"
)

// Config holds NATS connection configuration.
type Config struct {
	URLs string

	Token    string
	User     string
	Password string

	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		URLs:            "nats://localhost:4222",
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		ReconnectJitter: 500 * time.Millisecond,
	}
}

// Client wraps a NATS connection with JetStream support.
type Client struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	cfg *Config
}

// NewClient connects to NATS and opens a JetStream context.
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter*2),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	} else if cfg.User != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	nc, err := nats.Connect(cfg.URLs, opts...)
	if err != nil {
		return nil, fmt.Errorf("queue: connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("queue: create JetStream context: %w", err)
	}

	return &Client{nc: nc, js: js, cfg: cfg}, nil
}

// Close drains and closes the NATS connection.
func (c *Client) Close() { c.nc.Drain() }

// JetStream exposes the underlying JetStream context for workers.
func (c *Client) JetStream() jetstream.JetStream { return c.js }

// SetupStreams creates the settle and notification work-queue streams.
func (c *Client) SetupStreams(ctx context.Context) error {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        SettleStream,
		Description: "Delayed order settlement jobs",
		Subjects:    []string{SettleSubject},
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      30 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("queue: create settle stream: %w", err)
	}

	_, err = c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        NotifyStream,
		Description: "Merchant notification delivery jobs",
		Subjects:    []string{NotifySubject},
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("queue: create notify stream: %w", err)
	}
	return nil
}

// ConsumerConfig configures a durable work-queue consumer.
type ConsumerConfig struct {
	StreamName    string
	ConsumerName  string
	FilterSubject string
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
}

// DefaultConsumerConfig returns sensible consumer defaults.
func DefaultConsumerConfig(stream, name, filterSubject string) *ConsumerConfig {
	return &ConsumerConfig{
		StreamName:    stream,
		ConsumerName:  name,
		FilterSubject: filterSubject,
		MaxDeliver:    9,
		AckWait:       30 * time.Second,
		MaxAckPending: 500,
	}
}

// CreateWorkQueueConsumer creates (or reuses) a durable consumer.
func (c *Client) CreateWorkQueueConsumer(ctx context.Context, cfg *ConsumerConfig) (jetstream.Consumer, error) {
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
		Durable:       cfg.ConsumerName,
		FilterSubject: cfg.FilterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    cfg.MaxDeliver,
		AckWait:       cfg.AckWait,
		MaxAckPending: cfg.MaxAckPending,
	})
	if err != nil {
		return nil, fmt.Errorf("queue: create consumer %s: %w", cfg.ConsumerName, err)
	}
	return consumer, nil
}

// SettleJob is the payload carried by an order-settle message. NotBefore
// implements the "delayed settlement" requirement: JetStream has no
// native per-message publish delay, so the worker re-NAKs with a delay
// until NotBefore has passed (see queue.Worker.handleSettle).
type SettleJob struct {
	TradeNo   string    `json:"trade_no"`
	NotBefore time.Time `json:"not_before"`
}

// NotifyJob is the payload carried by an order-notification message.
type NotifyJob struct {
	TradeNo string `json:"trade_no"`
}

// PublishSettle implements order.SettleEnqueuer.
func (c *Client) PublishSettle(ctx context.Context, tradeNo string, delay time.Duration, now time.Time) error {
	data, err := json.Marshal(SettleJob{TradeNo: tradeNo, NotBefore: now.Add(delay)})
	if err != nil {
		return fmt.Errorf("queue: marshal settle job: %w", err)
	}
	_, err = c.js.Publish(ctx, SettleSubject, data)
	if err != nil {
		return fmt.Errorf("queue: publish settle job: %w", err)
	}
	return nil
}

// PublishNotify publishes a notification job.
func (c *Client) PublishNotify(ctx context.Context, tradeNo string) error {
	data, err := json.Marshal(NotifyJob{TradeNo: tradeNo})
	if err != nil {
		return fmt.Errorf("queue: marshal notify job: %w", err)
	}
	_, err = c.js.Publish(ctx, NotifySubject, data)
	if err != nil {
		return fmt.Errorf("queue: publish notify job: %w", err)
	}
	return nil
}

// SettleEnqueuer adapts Client to order.SettleEnqueuer.
type SettleEnqueuer struct{ Client *Client }

// EnqueueSettle implements order.SettleEnqueuer.
func (s SettleEnqueuer) EnqueueSettle(ctx context.Context, tradeNo string, delay time.Duration) error {
	return s.Client.PublishSettle(ctx, tradeNo, delay, time.Now())
}

// NotifyEnqueuer adapts Client to order.NotifyEnqueuer.
type NotifyEnqueuer struct{ Client *Client }

// EnqueueNotify implements order.NotifyEnqueuer.
func (n NotifyEnqueuer) EnqueueNotify(ctx context.Context, tradeNo string) error {
	return n.Client.PublishNotify(ctx, tradeNo)
}
