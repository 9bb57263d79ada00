package worker

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/objectrelay/blobstore"
	"github.com/c360/objectrelay/blobstore/memstore"
	"github.com/c360/objectrelay/broker"
	"github.com/c360/objectrelay/broker/membroker"
	"github.com/c360/objectrelay/deadletter"
	"github.com/c360/objectrelay/envelope"
	"github.com/c360/objectrelay/errors"
)

const testReplyQueue = "object_response_queue.worker-test"

var pngPayload = []byte("\x89PNG\r\n\x1a\n0000000000IHDR imitation body")

func startWorker(t *testing.T, b broker.Client, store blobstore.Store, opts ...Option) *Worker {
	t.Helper()

	w := New(b, store, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

// subscribe opens a consumer on queue torn down with the test
func subscribe(t *testing.T, b broker.Client, queue string) <-chan broker.Delivery {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	deliveries, err := b.Consume(ctx, queue)
	require.NoError(t, err)
	return deliveries
}

func publish(t *testing.T, b broker.Client, queue string, req *envelope.Request) {
	t.Helper()

	body, err := req.Marshal()
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), queue, broker.Message{
		Body:          body,
		CorrelationID: req.CorrelationID,
		ReplyTo:       req.ReplyTo,
	}))
}

func awaitResult(t *testing.T, replies <-chan broker.Delivery) *envelope.Result {
	t.Helper()

	select {
	case d := <-replies:
		_ = d.Ack()
		result, err := envelope.UnmarshalResult(d.Body)
		require.NoError(t, err)
		return result
	case <-time.After(2 * time.Second):
		t.Fatal("no result within deadline")
		return nil
	}
}

func awaitLetter(t *testing.T, letters <-chan broker.Delivery) *deadletter.Letter {
	t.Helper()

	select {
	case d := <-letters:
		_ = d.Ack()
		letter, err := deadletter.UnmarshalLetter(d.Body)
		require.NoError(t, err)
		return letter
	case <-time.After(2 * time.Second):
		t.Fatal("no dead letter within deadline")
		return nil
	}
}

func assertSilent(t *testing.T, ch <-chan broker.Delivery, window time.Duration, what string) {
	t.Helper()

	select {
	case d := <-ch:
		t.Fatalf("unexpected %s: %s", what, string(d.Body))
	case <-time.After(window):
	}
}

func writeRequest(objType envelope.ObjectType, payload []byte) *envelope.Request {
	return &envelope.Request{
		CorrelationID: uuid.NewString(),
		Operation:     envelope.OpWrite,
		ObjectType:    objType,
		Payload:       envelope.Payload{Inline: payload},
		ReplyTo:       testReplyQueue,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestWriteStoresAndReplies(t *testing.T) {
	b := membroker.New()
	defer b.Close()
	store := memstore.New()
	replies := subscribe(t, b, testReplyQueue)
	startWorker(t, b, store)

	payload := []byte(`{"a":1}`)
	req := writeRequest(envelope.TypeJSON, payload)
	publish(t, b, broker.WriteQueue, req)

	result := awaitResult(t, replies)
	assert.Equal(t, req.CorrelationID, result.CorrelationID)
	assert.Equal(t, string(envelope.OpWrite), result.Operation)
	assert.Equal(t, envelope.StatusOK, result.Status)
	assert.Equal(t, blobstore.ObjectID(payload), result.ObjectID)
	assert.Equal(t, 1, store.Len())
}

func TestWriteValidationMismatchSkipsStore(t *testing.T) {
	b := membroker.New()
	defer b.Close()
	store := memstore.New()
	replies := subscribe(t, b, testReplyQueue)
	startWorker(t, b, store)

	// Declared PDF, actually a PNG signature.
	req := writeRequest(envelope.TypePDF, pngPayload)
	publish(t, b, broker.WriteQueue, req)

	result := awaitResult(t, replies)
	assert.Equal(t, envelope.StatusValidationError, result.Status)
	assert.Contains(t, result.ErrorDetail, "application/pdf")
	assert.Equal(t, 0, store.Len(), "mismatched content must never reach the store")
}

func TestReadRoundTrip(t *testing.T) {
	b := membroker.New()
	defer b.Close()
	store := memstore.New()

	payload := []byte(`{"doc":"content"}`)
	objectID, err := store.Put(context.Background(), payload, blobstore.PutOptions{
		ContentType: "application/json",
		Filename:    "doc.json",
	})
	require.NoError(t, err)

	replies := subscribe(t, b, testReplyQueue)
	startWorker(t, b, store)

	publish(t, b, broker.ReadQueue, &envelope.Request{
		CorrelationID: uuid.NewString(),
		Operation:     envelope.OpRead,
		ObjectID:      objectID,
		ReplyTo:       testReplyQueue,
		CreatedAt:     time.Now().UTC(),
	})

	result := awaitResult(t, replies)
	assert.Equal(t, envelope.StatusOK, result.Status)
	assert.Equal(t, payload, result.Data)
	assert.Equal(t, "application/json", result.ContentType)
	assert.Equal(t, "doc.json", result.Filename)
}

func TestReadNotFound(t *testing.T) {
	b := membroker.New()
	defer b.Close()
	replies := subscribe(t, b, testReplyQueue)
	startWorker(t, b, memstore.New())

	publish(t, b, broker.ReadQueue, &envelope.Request{
		CorrelationID: uuid.NewString(),
		Operation:     envelope.OpRead,
		ObjectID:      "deadbeef",
		ReplyTo:       testReplyQueue,
		CreatedAt:     time.Now().UTC(),
	})

	result := awaitResult(t, replies)
	assert.Equal(t, envelope.StatusNotFound, result.Status)
	assert.Contains(t, result.ErrorDetail, "deadbeef")
}

func TestListPaginates(t *testing.T) {
	b := membroker.New()
	defer b.Close()
	store := memstore.New()

	for _, doc := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		_, err := store.Put(context.Background(), []byte(doc), blobstore.PutOptions{ContentType: "application/json"})
		require.NoError(t, err)
	}

	replies := subscribe(t, b, testReplyQueue)
	startWorker(t, b, store)

	publish(t, b, broker.ReadQueue, &envelope.Request{
		CorrelationID: uuid.NewString(),
		Operation:     envelope.OpList,
		Page:          1,
		PageSize:      2,
		ReplyTo:       testReplyQueue,
		CreatedAt:     time.Now().UTC(),
	})

	result := awaitResult(t, replies)
	assert.Equal(t, envelope.StatusOK, result.Status)
	assert.Len(t, result.Objects, 2)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.TotalPages)
	assert.Equal(t, 1, result.Page)

	publish(t, b, broker.ReadQueue, &envelope.Request{
		CorrelationID: uuid.NewString(),
		Operation:     envelope.OpList,
		Page:          2,
		PageSize:      2,
		ReplyTo:       testReplyQueue,
		CreatedAt:     time.Now().UTC(),
	})

	result = awaitResult(t, replies)
	assert.Len(t, result.Objects, 1)
	assert.Equal(t, 2, result.Page)
}

func TestIdempotentReplay(t *testing.T) {
	b := membroker.New()
	defer b.Close()
	store := memstore.New()
	replies := subscribe(t, b, testReplyQueue)
	startWorker(t, b, store)

	// The same envelope delivered twice, as after a crash between the
	// storage effect and the ack.
	req := writeRequest(envelope.TypeJSON, []byte(`{"replayed":true}`))
	publish(t, b, broker.WriteQueue, req)
	publish(t, b, broker.WriteQueue, req)

	first := awaitResult(t, replies)
	second := awaitResult(t, replies)

	assert.Equal(t, envelope.StatusOK, first.Status)
	assert.Equal(t, envelope.StatusOK, second.Status)
	assert.Equal(t, first.ObjectID, second.ObjectID, "replay must yield the same content address")
	assert.Equal(t, 1, store.Len(), "replay must not store a second object")
}

// flakyStore fails the first N puts with a transient error, then delegates
type flakyStore struct {
	blobstore.Store
	mu       sync.Mutex
	putFails int
}

func (f *flakyStore) Put(ctx context.Context, data []byte, opts blobstore.PutOptions) (string, error) {
	f.mu.Lock()
	if f.putFails > 0 {
		f.putFails--
		f.mu.Unlock()
		return "", errors.WrapTransient(stderrors.New("backend briefly down"), "FlakyStore", "Put", "store object")
	}
	f.mu.Unlock()
	return f.Store.Put(ctx, data, opts)
}

func TestTransientFailureRetriesThenSucceeds(t *testing.T) {
	b := membroker.New()
	defer b.Close()
	store := memstore.New()
	flaky := &flakyStore{Store: store, putFails: 1}
	replies := subscribe(t, b, testReplyQueue)
	startWorker(t, b, flaky)

	payload := []byte(`{"retried":true}`)
	publish(t, b, broker.WriteQueue, writeRequest(envelope.TypeJSON, payload))

	result := awaitResult(t, replies)
	assert.Equal(t, envelope.StatusOK, result.Status)
	assert.Equal(t, blobstore.ObjectID(payload), result.ObjectID)
	assert.Equal(t, 1, store.Len())
}

func TestDeadLetterBound(t *testing.T) {
	b := membroker.New()
	defer b.Close()
	store := memstore.New()
	store.SetPutError(errors.WrapTransient(stderrors.New("backend down for good"), "MemStore", "Put", "store object"))

	replies := subscribe(t, b, testReplyQueue)
	letters := subscribe(t, b, broker.DeadLetterQueue)
	startWorker(t, b, store, WithMaxAttempts(2))

	req := writeRequest(envelope.TypeJSON, []byte(`{"doomed":true}`))
	publish(t, b, broker.WriteQueue, req)

	letter := awaitLetter(t, letters)
	assert.Equal(t, req.CorrelationID, letter.CorrelationID)
	assert.Equal(t, deadletter.ReasonExhausted, letter.Reason)
	assert.Equal(t, 2, letter.Attempts, "letter must carry the exhausted attempt counter")
	assert.Equal(t, string(envelope.OpWrite), letter.Operation)

	// Exactly once in the sink, and no result envelope is ever produced;
	// the caller surfaces this only as a timeout.
	assertSilent(t, letters, 300*time.Millisecond, "second dead letter")
	assertSilent(t, replies, 300*time.Millisecond, "result for dead-lettered request")
}

func TestMalformedEnvelopeDeadLetters(t *testing.T) {
	b := membroker.New()
	defer b.Close()
	store := memstore.New()
	letters := subscribe(t, b, broker.DeadLetterQueue)
	startWorker(t, b, store)

	require.NoError(t, b.Publish(context.Background(), broker.WriteQueue, broker.Message{
		Body: []byte("{this is not an envelope"),
	}))

	letter := awaitLetter(t, letters)
	assert.Equal(t, deadletter.ReasonMalformed, letter.Reason)
	assert.Empty(t, letter.CorrelationID)
	assert.True(t, strings.Contains(string(letter.Envelope), "raw_base64"),
		"raw payload must be preserved for inspection")
	assert.Equal(t, 0, store.Len())
}

func TestStructurallyInvalidEnvelopeDeadLetters(t *testing.T) {
	b := membroker.New()
	defer b.Close()
	letters := subscribe(t, b, broker.DeadLetterQueue)
	startWorker(t, b, memstore.New())

	// Decodes as JSON but violates the envelope invariants (WRITE with no
	// payload); the orchestrator never publishes such envelopes.
	invalid := &envelope.Request{
		CorrelationID: uuid.NewString(),
		Operation:     envelope.OpWrite,
		ObjectType:    envelope.TypeJSON,
		ReplyTo:       testReplyQueue,
		CreatedAt:     time.Now().UTC(),
	}
	body, err := invalid.Marshal()
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), broker.WriteQueue, broker.Message{Body: body}))

	letter := awaitLetter(t, letters)
	assert.Equal(t, deadletter.ReasonMalformed, letter.Reason)
}

func TestStaleEnvelopeDeadLetters(t *testing.T) {
	b := membroker.New()
	defer b.Close()
	store := memstore.New()
	replies := subscribe(t, b, testReplyQueue)
	letters := subscribe(t, b, broker.DeadLetterQueue)
	startWorker(t, b, store, WithStaleAfter(time.Minute))

	req := writeRequest(envelope.TypeJSON, []byte(`{"old":true}`))
	req.CreatedAt = time.Now().UTC().Add(-2 * time.Minute)
	publish(t, b, broker.WriteQueue, req)

	letter := awaitLetter(t, letters)
	assert.Equal(t, deadletter.ReasonStale, letter.Reason)
	assert.Equal(t, req.CorrelationID, letter.CorrelationID)
	assert.Equal(t, 0, store.Len(), "stale work must not be executed")
	assertSilent(t, replies, 200*time.Millisecond, "result for stale request")
}

func TestRunStopsOnCancel(t *testing.T) {
	b := membroker.New()
	defer b.Close()

	w := New(b, memstore.New())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunReportsBrokerLoss(t *testing.T) {
	b := membroker.New()

	w := New(b, memstore.New())
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, b.Close())

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.IsTransient(err))
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not surface the lost subscription")
	}
}
