// Package membroker provides an in-memory broker.Client for tests and
// single-process development mode. Queues are buffered channels; competing
// consumers share one channel, nack-with-requeue re-enqueues, and publish
// failures can be injected to simulate an outage.
package membroker

import (
	"context"
	"sync"

	"github.com/c360/objectrelay/broker"
)

const defaultQueueDepth = 1024

type queued struct {
	body          []byte
	correlationID string
	replyTo       string
}

// Broker is an in-memory broker.Client
type Broker struct {
	mu     sync.Mutex
	queues map[string]chan queued
	depth  int
	closed bool
	done   chan struct{}
	pubErr error
	wg     sync.WaitGroup
}

// Option configures the broker
type Option func(*Broker)

// WithQueueDepth sets the per-queue buffer (default 1024)
func WithQueueDepth(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.depth = n
		}
	}
}

// New creates an in-memory broker
func New(opts ...Option) *Broker {
	b := &Broker{
		queues: make(map[string]chan queued),
		depth:  defaultQueueDepth,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// FailPublishes makes every subsequent Publish fail with err; nil restores
// normal operation. Redelivery via Nack is unaffected.
func (b *Broker) FailPublishes(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pubErr = err
}

// QueueLen reports the number of undelivered messages on a queue
func (b *Broker) QueueLen(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return 0
	}
	return len(q)
}

func (b *Broker) queue(name string) chan queued {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = make(chan queued, b.depth)
		b.queues[name] = q
	}
	return q
}

// Publish places the message on the named queue
func (b *Broker) Publish(_ context.Context, queue string, msg broker.Message) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return broker.ErrClosed
	}
	if b.pubErr != nil {
		err := b.pubErr
		b.mu.Unlock()
		return err
	}
	b.mu.Unlock()

	return b.enqueue(queue, queued{
		body:          msg.Body,
		correlationID: msg.CorrelationID,
		replyTo:       msg.ReplyTo,
	})
}

// enqueue bypasses injected publish failures so Nack redelivery keeps
// working during a simulated outage
func (b *Broker) enqueue(queue string, m queued) error {
	select {
	case b.queue(queue) <- m:
		return nil
	case <-b.done:
		return broker.ErrClosed
	}
}

// Consume returns a delivery channel for the named queue. Multiple calls on
// the same queue compete for messages.
func (b *Broker) Consume(ctx context.Context, queue string) (<-chan broker.Delivery, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, broker.ErrClosed
	}
	b.mu.Unlock()

	q := b.queue(queue)
	out := make(chan broker.Delivery)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(out)
		for {
			var m queued
			select {
			case m = <-q:
			case <-ctx.Done():
				return
			case <-b.done:
				return
			}

			d := broker.Delivery{
				Body:          m.body,
				CorrelationID: m.correlationID,
				ReplyTo:       m.replyTo,
				AckFunc:       func() error { return nil },
			}
			msg := m
			d.NackFunc = func(requeue bool) error {
				if !requeue {
					return nil
				}
				return b.enqueue(queue, msg)
			}

			select {
			case out <- d:
			case <-ctx.Done():
				// Taken but undeliverable; put it back.
				_ = b.enqueue(queue, m)
				return
			case <-b.done:
				return
			}
		}
	}()

	return out, nil
}

// ConsumeReply behaves like Consume; in-memory reply channels need no
// broker-side cleanup
func (b *Broker) ConsumeReply(ctx context.Context, queue string) (<-chan broker.Delivery, error) {
	return b.Consume(ctx, queue)
}

// Close shuts the broker; consumers drain and Publish fails afterwards
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}
