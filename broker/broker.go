// Package broker defines the messaging contract the orchestrator, worker,
// and dead-letter handler share. A Client provides durable publish,
// consume-with-ack on work queues, and reply-channel consumption; adapters
// for NATS JetStream, RabbitMQ, and an in-memory broker live in subpackages.
package broker

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed client
var ErrClosed = errors.New("broker client closed")

// Queue names shared by the orchestrator, worker, and dead-letter handler.
// Reply queues are per-instance: ReplyQueuePrefix + "." + instance id.
const (
	WriteQueue       = "object_write_queue"
	ReadQueue        = "object_read_queue"
	ReplyQueuePrefix = "object_response_queue"
	DeadLetterQueue  = "object_dead_letter_queue"
)

// Message is the unit handed to Publish. CorrelationID and ReplyTo are
// mirrored into broker-native metadata where the transport supports it;
// MessageID, when set, feeds broker-side duplicate suppression.
type Message struct {
	Body          []byte
	CorrelationID string
	ReplyTo       string
	ContentType   string
	MessageID     string
}

// Delivery is one consumed message with its acknowledgment handle. Ack and
// Nack are safe to call on deliveries from any adapter; transports without
// acknowledgment semantics (reply channels on some brokers) make them no-ops.
type Delivery struct {
	Body          []byte
	CorrelationID string
	ReplyTo       string

	AckFunc  func() error
	NackFunc func(requeue bool) error
}

// Ack acknowledges the delivery
func (d *Delivery) Ack() error {
	if d.AckFunc == nil {
		return nil
	}
	return d.AckFunc()
}

// Nack rejects the delivery, optionally asking the broker to redeliver it
func (d *Delivery) Nack(requeue bool) error {
	if d.NackFunc == nil {
		return nil
	}
	return d.NackFunc(requeue)
}

// Client is the broker contract. Implementations are safe for concurrent use;
// one Client is opened at process start, shared by every role in the process,
// and closed at shutdown.
type Client interface {
	// Publish durably publishes to a work queue, or to a reply channel when
	// queue names one. It returns once the broker has accepted the message.
	Publish(ctx context.Context, queue string, msg Message) error

	// Consume subscribes to a durable work queue as a competing consumer
	// with prefetch 1. The returned channel closes when ctx is cancelled or
	// the client is closed.
	Consume(ctx context.Context, queue string) (<-chan Delivery, error)

	// ConsumeReply subscribes to a reply channel exclusive to this process.
	// The channel and its broker-side resources are cleaned up when ctx is
	// cancelled or the client is closed.
	ConsumeReply(ctx context.Context, queue string) (<-chan Delivery, error)

	// Close drains and releases the connection.
	Close() error
}
