package membroker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/objectrelay/broker"
)

func receive(t *testing.T, ch <-chan broker.Delivery) broker.Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "delivery channel closed unexpectedly")
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return broker.Delivery{}
	}
}

func TestBroker_PublishConsume(t *testing.T) {
	b := New()
	defer func() { _ = b.Close() }()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Consume(ctx, "object_write_queue")
	require.NoError(t, err)

	err = b.Publish(ctx, "object_write_queue", broker.Message{
		Body:          []byte("payload"),
		CorrelationID: "corr-1",
		ReplyTo:       "object_response_queue.x",
	})
	require.NoError(t, err)

	d := receive(t, ch)
	assert.Equal(t, []byte("payload"), d.Body)
	assert.Equal(t, "corr-1", d.CorrelationID)
	assert.Equal(t, "object_response_queue.x", d.ReplyTo)
	assert.NoError(t, d.Ack())
}

// TestBroker_CompetingConsumers verifies each message goes to exactly one
// of the consumers sharing a queue
func TestBroker_CompetingConsumers(t *testing.T) {
	b := New()
	defer func() { _ = b.Close() }()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch1, err := b.Consume(ctx, "q")
	require.NoError(t, err)
	ch2, err := b.Consume(ctx, "q")
	require.NoError(t, err)

	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, b.Publish(ctx, "q", broker.Message{Body: []byte{byte(i)}}))
	}

	seen := make(map[byte]int)
	for i := 0; i < n; i++ {
		select {
		case d := <-ch1:
			seen[d.Body[0]]++
		case d := <-ch2:
			seen[d.Body[0]]++
		case <-time.After(2 * time.Second):
			t.Fatal("timed out draining queue")
		}
	}

	assert.Len(t, seen, n)
	for body, count := range seen {
		assert.Equal(t, 1, count, "message %d delivered more than once", body)
	}
}

func TestBroker_NackRequeue(t *testing.T) {
	b := New()
	defer func() { _ = b.Close() }()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Consume(ctx, "q")
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, "q", broker.Message{Body: []byte("retry me"), CorrelationID: "c"}))

	first := receive(t, ch)
	require.NoError(t, first.Nack(true))

	second := receive(t, ch)
	assert.Equal(t, []byte("retry me"), second.Body)
	assert.Equal(t, "c", second.CorrelationID)

	// Nack without requeue drops the message for good.
	require.NoError(t, second.Nack(false))
	select {
	case d := <-ch:
		t.Fatalf("unexpected redelivery: %q", d.Body)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroker_FailPublishes(t *testing.T) {
	b := New()
	defer func() { _ = b.Close() }()
	ctx := context.Background()

	outage := errors.New("broker unreachable")
	b.FailPublishes(outage)

	err := b.Publish(ctx, "q", broker.Message{Body: []byte("x")})
	assert.ErrorIs(t, err, outage)
	assert.Equal(t, 0, b.QueueLen("q"))

	b.FailPublishes(nil)
	assert.NoError(t, b.Publish(ctx, "q", broker.Message{Body: []byte("x")}))
	assert.Equal(t, 1, b.QueueLen("q"))
}

func TestBroker_Close(t *testing.T) {
	b := New()
	ctx := context.Background()

	ch, err := b.Consume(ctx, "q")
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "Close is idempotent")

	_, open := <-ch
	assert.False(t, open, "consumer channel should close on broker close")

	err = b.Publish(ctx, "q", broker.Message{})
	assert.ErrorIs(t, err, broker.ErrClosed)

	_, err = b.Consume(ctx, "q")
	assert.ErrorIs(t, err, broker.ErrClosed)
}

func TestBroker_ConsumerCancellationRequeuesTakenMessage(t *testing.T) {
	b := New()
	defer func() { _ = b.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Consume(ctx, "q")
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "q", broker.Message{Body: []byte("keep me")}))

	// Cancel mid-flight; whether or not the delivery raced out, the message
	// must survive for the next consumer.
	cancel()
	for d := range ch {
		_ = d.Nack(true)
	}

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	ch2, err := b.Consume(ctx2, "q")
	require.NoError(t, err)

	d := receive(t, ch2)
	assert.Equal(t, []byte("keep me"), d.Body)
}
