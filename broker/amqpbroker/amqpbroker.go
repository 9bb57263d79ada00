// Package amqpbroker implements broker.Client on RabbitMQ. Work queues are
// durable with per-consumer prefetch 1 and manual acknowledgment; reply
// queues are exclusive and auto-delete, so the broker cleans them up when
// their owning process goes away.
package amqpbroker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/c360/objectrelay/broker"
	"github.com/c360/objectrelay/errors"
	"github.com/c360/objectrelay/pkg/retry"
)

// Client is an AMQP-backed broker.Client
type Client struct {
	url    string
	logger *slog.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	pubCh  *amqp.Channel
	closed bool

	connectRetry retry.Config
}

var _ broker.Client = (*Client)(nil)

// Option configures the client
type Option func(*Client)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithConnectRetry overrides the startup connect retry policy
func WithConnectRetry(cfg retry.Config) Option {
	return func(c *Client) { c.connectRetry = cfg }
}

// New dials the broker, retrying with backoff until it is reachable or ctx
// is cancelled, and opens the shared publish channel.
func New(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := &Client{
		url:          url,
		logger:       slog.Default(),
		connectRetry: retry.Persistent(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "amqpbroker")

	conn, err := retry.DoWithResult(ctx, c.connectRetry, func() (*amqp.Connection, error) {
		conn, dialErr := amqp.Dial(url)
		if dialErr != nil {
			c.logger.Warn("broker not reachable, retrying", "error", dialErr)
		}
		return conn, dialErr
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "AMQPBroker", "New", "dial broker")
	}

	pubCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.WrapTransient(err, "AMQPBroker", "New", "open publish channel")
	}

	c.conn = conn
	c.pubCh = pubCh

	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if amqpErr := <-closeCh; amqpErr != nil {
			c.logger.Error("broker connection lost", "error", amqpErr)
		}
	}()

	c.logger.Info("connected to broker")
	return c, nil
}

// DeclareQueues durably declares the named work queues. Roles call this at
// startup for every queue they publish to without consuming, so a publish
// never races the queue's first consumer.
func (c *Client) DeclareQueues(queues ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return broker.ErrClosed
	}

	for _, queue := range queues {
		_, err := c.pubCh.QueueDeclare(
			queue,
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return errors.WrapTransient(err, "AMQPBroker", "DeclareQueues", "declare "+queue)
		}
	}
	return nil
}

// Publish sends a persistent message to the named queue via the default
// exchange. The queue must already exist (declared by its consumer or by
// DeclareQueues); publishing never declares, since reply queues are owned
// exclusively by their consumer.
func (c *Client) Publish(ctx context.Context, queue string, msg broker.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return broker.ErrClosed
	}

	contentType := msg.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	err := c.pubCh.PublishWithContext(ctx,
		"",    // default exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:   contentType,
			CorrelationId: msg.CorrelationID,
			ReplyTo:       msg.ReplyTo,
			MessageId:     msg.MessageID,
			Timestamp:     time.Now().UTC(),
			DeliveryMode:  amqp.Persistent,
			Body:          msg.Body,
		},
	)
	if err != nil {
		return errors.WrapTransient(err, "AMQPBroker", "Publish", "publish to "+queue)
	}
	return nil
}

// Consume subscribes to a durable work queue with prefetch 1 and manual ack
func (c *Client) Consume(ctx context.Context, queue string) (<-chan broker.Delivery, error) {
	ch, err := c.openChannel()
	if err != nil {
		return nil, err
	}

	_, err = ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, errors.WrapTransient(err, "AMQPBroker", "Consume", "declare "+queue)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return nil, errors.WrapTransient(err, "AMQPBroker", "Consume", "set prefetch")
	}

	msgs, err := ch.Consume(
		queue,
		"",    // consumer tag, server generated
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		_ = ch.Close()
		return nil, errors.WrapTransient(err, "AMQPBroker", "Consume", "register consumer")
	}

	return c.forward(ctx, ch, msgs), nil
}

// ConsumeReply subscribes to a reply queue owned exclusively by this
// process; the broker deletes it once the consumer disconnects
func (c *Client) ConsumeReply(ctx context.Context, queue string) (<-chan broker.Delivery, error) {
	ch, err := c.openChannel()
	if err != nil {
		return nil, err
	}

	_, err = ch.QueueDeclare(
		queue,
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, errors.WrapTransient(err, "AMQPBroker", "ConsumeReply", "declare "+queue)
	}

	msgs, err := ch.Consume(queue, "", false, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, errors.WrapTransient(err, "AMQPBroker", "ConsumeReply", "register consumer")
	}

	return c.forward(ctx, ch, msgs), nil
}

func (c *Client) openChannel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, broker.ErrClosed
	}
	if c.conn == nil {
		return nil, errors.WrapTransient(errors.ErrNoConnection, "AMQPBroker", "openChannel", "open channel")
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, errors.WrapTransient(err, "AMQPBroker", "openChannel", "open channel")
	}
	return ch, nil
}

// forward adapts the amqp delivery stream and ties the channel's lifetime
// to ctx. The out channel closes when ctx is cancelled or the underlying
// channel dies.
func (c *Client) forward(ctx context.Context, ch *amqp.Channel, msgs <-chan amqp.Delivery) <-chan broker.Delivery {
	out := make(chan broker.Delivery)

	go func() {
		<-ctx.Done()
		_ = ch.Close()
	}()

	go func() {
		defer close(out)
		for msg := range msgs {
			m := msg
			d := broker.Delivery{
				Body:          m.Body,
				CorrelationID: m.CorrelationId,
				ReplyTo:       m.ReplyTo,
				AckFunc:       func() error { return m.Ack(false) },
				NackFunc:      func(requeue bool) error { return m.Nack(false, requeue) },
			}
			select {
			case out <- d:
			case <-ctx.Done():
				_ = m.Nack(false, true)
				return
			}
		}
	}()

	return out
}

// Close shuts down the publish channel and connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var firstErr error
	if c.pubCh != nil {
		if err := c.pubCh.Close(); err != nil {
			firstErr = err
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return fmt.Errorf("amqpbroker close: %w", firstErr)
	}
	c.logger.Info("broker connection closed")
	return nil
}
