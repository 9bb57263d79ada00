// Package natsbroker implements broker.Client on NATS JetStream. Every
// named queue is backed by its own work-queue stream, so a message is
// owned by exactly one consumer and survives server restarts. Work queues
// use durable pull consumers shared by competing workers; reply queues use
// ephemeral consumers on memory streams that expire on their own.
package natsbroker

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/objectrelay/broker"
	"github.com/c360/objectrelay/errors"
	"github.com/c360/objectrelay/pkg/retry"
)

// Message headers carried through JetStream
const (
	headerCorrelationID = "Correlation-Id"
	headerReplyTo       = "Reply-To"
	headerContentType   = "Content-Type"
)

// workerDurable names the durable consumer shared by competing workers on
// each work queue. Reply consumers are ephemeral and unnamed.
const workerDurable = "workers"

// replyMaxAge bounds how long an unclaimed reply sits in a reply stream
const replyMaxAge = 10 * time.Minute

// fetchWait bounds a single pull so consumers notice cancellation promptly
const fetchWait = 2 * time.Second

// Client is a JetStream-backed broker.Client
type Client struct {
	url         string
	name        string
	replyPrefix string
	logger      *slog.Logger

	conn *nats.Conn
	js   jetstream.JetStream

	mu      sync.Mutex
	streams map[string]bool
	closed  bool

	connectRetry retry.Config
}

var _ broker.Client = (*Client)(nil)

// Option configures the client
type Option func(*Client)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithName sets the client name reported to the server
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithReplyPrefix sets the queue-name prefix that marks reply queues, so a
// publisher that has to create a missing reply stream picks the reply
// configuration instead of the work-queue one
func WithReplyPrefix(prefix string) Option {
	return func(c *Client) {
		if prefix != "" {
			c.replyPrefix = prefix
		}
	}
}

// WithConnectRetry overrides the startup connect retry policy
func WithConnectRetry(cfg retry.Config) Option {
	return func(c *Client) { c.connectRetry = cfg }
}

// New connects to the server, retrying with backoff until it is reachable
// or ctx is cancelled, and initializes the JetStream context.
func New(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := &Client{
		url:          url,
		name:         "objectrelay",
		replyPrefix:  broker.ReplyQueuePrefix,
		logger:       slog.Default(),
		streams:      make(map[string]bool),
		connectRetry: retry.Persistent(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "natsbroker")

	natsOpts := []nats.Option{
		nats.Name(c.name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(5 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.logger.Warn("broker disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			c.logger.Info("broker reconnected", "url", conn.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.logger.Info("broker connection closed")
		}),
	}

	conn, err := retry.DoWithResult(ctx, c.connectRetry, func() (*nats.Conn, error) {
		conn, dialErr := nats.Connect(url, natsOpts...)
		if dialErr != nil {
			c.logger.Warn("broker not reachable, retrying", "error", dialErr)
		}
		return conn, dialErr
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "NATSBroker", "New", "dial broker")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, errors.WrapTransient(err, "NATSBroker", "New", "initialize JetStream")
	}

	c.conn = conn
	c.js = js

	c.logger.Info("connected to broker", "url", conn.ConnectedUrl())
	return c, nil
}

// streamNameFor maps a queue name to a legal stream name. Stream names may
// not contain dots, so the instance suffix of a reply queue is flattened.
func streamNameFor(queue string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, queue)
	return "OBJ_" + strings.ToUpper(mapped)
}

// isReplyQueue reports whether a queue name belongs to the reply namespace
func (c *Client) isReplyQueue(queue string) bool {
	return queue == c.replyPrefix || strings.HasPrefix(queue, c.replyPrefix+".")
}

// ensureStream makes sure the stream backing a queue exists. An existing
// stream is never updated: its consumer owns the configuration, and reply
// streams are memory-backed while work streams are file-backed, so a
// publisher in another process (a worker answering reply_to) pushing the
// work-queue config onto the orchestrator's reply stream would be rejected
// by the server as a storage change. Only a missing stream is created, with
// the config the reply flag selects.
func (c *Client) ensureStream(ctx context.Context, queue string, reply bool) (string, error) {
	name := streamNameFor(queue)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", broker.ErrClosed
	}
	if c.streams[name] {
		c.mu.Unlock()
		return name, nil
	}
	c.mu.Unlock()

	_, err := c.js.Stream(ctx, name)
	switch {
	case err == nil:

	case stderrors.Is(err, jetstream.ErrStreamNotFound):
		cfg := jetstream.StreamConfig{
			Name:      name,
			Subjects:  []string{queue},
			Retention: jetstream.WorkQueuePolicy,
			Storage:   jetstream.FileStorage,
		}
		if reply {
			cfg.Storage = jetstream.MemoryStorage
			cfg.MaxAge = replyMaxAge
		}
		// Tolerate losing the create race to another process.
		if _, err := c.js.CreateStream(ctx, cfg); err != nil && !stderrors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
			return "", errors.WrapTransient(err, "NATSBroker", "ensureStream", "create stream "+name)
		}

	default:
		return "", errors.WrapTransient(err, "NATSBroker", "ensureStream", "look up stream "+name)
	}

	c.mu.Lock()
	c.streams[name] = true
	c.mu.Unlock()

	c.logger.Debug("stream ready", "stream", name, "queue", queue)
	return name, nil
}

// Publish stores a message on the queue's stream. MessageID, when set, is
// forwarded as the server-side deduplication id.
func (c *Client) Publish(ctx context.Context, queue string, msg broker.Message) error {
	if _, err := c.ensureStream(ctx, queue, c.isReplyQueue(queue)); err != nil {
		return err
	}

	contentType := msg.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	header := nats.Header{}
	header.Set(headerContentType, contentType)
	if msg.CorrelationID != "" {
		header.Set(headerCorrelationID, msg.CorrelationID)
	}
	if msg.ReplyTo != "" {
		header.Set(headerReplyTo, msg.ReplyTo)
	}
	if msg.MessageID != "" {
		header.Set(jetstream.MsgIDHeader, msg.MessageID)
	}

	_, err := c.js.PublishMsg(ctx, &nats.Msg{
		Subject: queue,
		Data:    msg.Body,
		Header:  header,
	})
	if err != nil {
		return errors.WrapTransient(err, "NATSBroker", "Publish", "publish to "+queue)
	}
	return nil
}

// Consume joins the durable pull consumer for a work queue. Competing
// callers share the durable, and each receives one message at a time.
func (c *Client) Consume(ctx context.Context, queue string) (<-chan broker.Delivery, error) {
	stream, err := c.ensureStream(ctx, queue, false)
	if err != nil {
		return nil, err
	}

	consumer, err := c.js.CreateOrUpdateConsumer(ctx, stream, jetstream.ConsumerConfig{
		Durable:       workerDurable,
		FilterSubject: queue,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "NATSBroker", "Consume", "create consumer for "+queue)
	}

	return c.pull(ctx, consumer, queue, ""), nil
}

// ConsumeReply attaches an ephemeral consumer to a reply queue. The stream
// is deleted when the subscription ends, since each reply queue belongs to
// a single process.
func (c *Client) ConsumeReply(ctx context.Context, queue string) (<-chan broker.Delivery, error) {
	stream, err := c.ensureStream(ctx, queue, true)
	if err != nil {
		return nil, err
	}

	consumer, err := c.js.CreateOrUpdateConsumer(ctx, stream, jetstream.ConsumerConfig{
		FilterSubject:     queue,
		AckPolicy:         jetstream.AckExplicitPolicy,
		InactiveThreshold: time.Minute,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "NATSBroker", "ConsumeReply", "create consumer for "+queue)
	}

	return c.pull(ctx, consumer, queue, stream), nil
}

// pull runs the fetch loop for a consumer. A non-empty dropStream marks a
// reply stream that should be removed once the loop ends.
func (c *Client) pull(ctx context.Context, consumer jetstream.Consumer, queue, dropStream string) <-chan broker.Delivery {
	out := make(chan broker.Delivery)

	go func() {
		defer close(out)
		if dropStream != "" {
			defer c.dropStream(dropStream)
		}

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := consumer.Fetch(1, jetstream.FetchMaxWait(fetchWait))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("fetch failed", "queue", queue, "error", err)
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}

			for msg := range batch.Messages() {
				m := msg
				d := broker.Delivery{
					Body:          m.Data(),
					CorrelationID: m.Headers().Get(headerCorrelationID),
					ReplyTo:       m.Headers().Get(headerReplyTo),
					AckFunc:       func() error { return m.Ack() },
					NackFunc: func(requeue bool) error {
						if requeue {
							return m.Nak()
						}
						return m.Term()
					},
				}
				select {
				case out <- d:
				case <-ctx.Done():
					_ = m.Nak()
					return
				}
			}
			if err := batch.Error(); err != nil && !stderrors.Is(err, nats.ErrTimeout) {
				c.logger.Warn("fetch batch error", "queue", queue, "error", err)
			}
		}
	}()

	return out
}

// dropStream removes a reply stream after its consumer is gone
func (c *Client) dropStream(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.mu.Lock()
	delete(c.streams, name)
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	if err := c.js.DeleteStream(ctx, name); err != nil {
		c.logger.Debug("reply stream cleanup failed", "stream", name, "error", err)
	}
}

// Close drains the connection so in-flight acks are flushed before the
// socket goes away
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return fmt.Errorf("natsbroker close: %w", err)
	}
	return nil
}
