// Package worker consumes request envelopes from the work queues, applies
// them to the blob store, and publishes result envelopes to each request's
// reply queue. Transient failures are retried by republishing with an
// incremented attempt counter; envelopes that can never succeed, or that
// exhaust their retries, are routed to the dead-letter queue.
package worker

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/objectrelay/blobstore"
	"github.com/c360/objectrelay/broker"
	"github.com/c360/objectrelay/deadletter"
	"github.com/c360/objectrelay/envelope"
	"github.com/c360/objectrelay/errors"
	"github.com/c360/objectrelay/health"
	"github.com/c360/objectrelay/metric"
)

// Defaults for the retry and staleness policy
const (
	DefaultMaxAttempts = 3
	DefaultStaleAfter  = 10 * time.Minute
	DefaultConcurrency = 1
)

// Worker turns request envelopes into storage effects and result envelopes
type Worker struct {
	broker  broker.Client
	store   blobstore.Store
	logger  *slog.Logger
	metrics *metric.Metrics
	monitor *health.Monitor

	queues          []string
	deadLetterQueue string
	maxAttempts     int
	staleAfter      time.Duration
	concurrency     int
}

// Option configures the worker
type Option func(*Worker)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithMetrics attaches pipeline metrics
func WithMetrics(m *metric.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithHealth attaches a health monitor the worker pushes its status to
func WithHealth(monitor *health.Monitor) Option {
	return func(w *Worker) { w.monitor = monitor }
}

// WithQueues overrides the consumed work queues
func WithQueues(queues ...string) Option {
	return func(w *Worker) { w.queues = queues }
}

// WithDeadLetterQueue overrides the dead-letter destination
func WithDeadLetterQueue(queue string) Option {
	return func(w *Worker) { w.deadLetterQueue = queue }
}

// WithMaxAttempts bounds how often a transiently failing envelope is
// republished before it dead-letters
func WithMaxAttempts(n int) Option {
	return func(w *Worker) {
		if n >= 0 {
			w.maxAttempts = n
		}
	}
}

// WithStaleAfter sets the age past which an envelope is dead-lettered
// instead of processed
func WithStaleAfter(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.staleAfter = d
		}
	}
}

// WithConcurrency sets how many competing consumers this process runs per
// work queue
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// New creates a worker over the given broker and blob store
func New(b broker.Client, store blobstore.Store, opts ...Option) *Worker {
	w := &Worker{
		broker:          b,
		store:           store,
		logger:          slog.Default(),
		queues:          []string{broker.WriteQueue, broker.ReadQueue},
		deadLetterQueue: broker.DeadLetterQueue,
		maxAttempts:     DefaultMaxAttempts,
		staleAfter:      DefaultStaleAfter,
		concurrency:     DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "worker")
	return w
}

// Run consumes the work queues until ctx is cancelled. Each queue gets
// the configured number of competing consumers; every consumer handles
// one delivery at a time so in-flight work is bounded by consumer count.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, queue := range w.queues {
		for i := 0; i < w.concurrency; i++ {
			queue := queue
			g.Go(func() error { return w.consume(ctx, queue) })
		}
	}

	if w.monitor != nil {
		w.monitor.UpdateHealthy("worker", fmt.Sprintf("consuming %d queue(s)", len(w.queues)))
	}
	w.logger.Info("worker started",
		"queues", w.queues,
		"concurrency", w.concurrency,
		"max_attempts", w.maxAttempts)

	err := g.Wait()
	if w.monitor != nil {
		w.monitor.UpdateFromError("worker", err)
	}
	return err
}

func (w *Worker) consume(ctx context.Context, queue string) error {
	deliveries, err := w.broker.Consume(ctx, queue)
	if err != nil {
		return errors.WrapTransient(err, "Worker", "Run", "subscribe to "+queue)
	}

	for delivery := range deliveries {
		w.handle(ctx, queue, delivery)
	}

	if ctx.Err() != nil {
		return nil
	}
	return errors.WrapTransient(errors.ErrConnectionLost, "Worker", "Run", "subscription to "+queue+" closed")
}

// handle runs the full pipeline for one delivery: decode, staleness check,
// execute, publish result, then settle the delivery per the retry state
// machine. The delivery is acked only after its outcome (result, retry
// republish, or dead letter) has been durably published.
func (w *Worker) handle(ctx context.Context, queue string, delivery broker.Delivery) {
	if w.metrics != nil {
		w.metrics.RecordMessageConsumed(queue)
	}

	req, err := envelope.UnmarshalRequest(delivery.Body)
	if err != nil {
		w.logger.Warn("malformed envelope", "queue", queue, "error", err)
		letter := deadletter.NewMalformedLetter(delivery.Body, err.Error())
		w.settleDeadLetter(ctx, letter, delivery, "unknown")
		return
	}

	log := w.logger.With(
		"correlation_id", req.CorrelationID,
		"operation", string(req.Operation),
		"attempt", req.Attempt)

	if !req.CreatedAt.IsZero() && time.Since(req.CreatedAt) > w.staleAfter {
		log.Warn("stale envelope", "created_at", req.CreatedAt, "stale_after", w.staleAfter)
		letter := deadletter.NewLetter(req, deadletter.ReasonStale,
			fmt.Sprintf("created %s ago, stale after %s", time.Since(req.CreatedAt).Round(time.Second), w.staleAfter))
		w.settleDeadLetter(ctx, letter, delivery, string(req.Operation))
		return
	}

	err = w.process(ctx, req)

	switch decision := decide(err, req.Attempt, w.maxAttempts); decision {
	case Complete:
		_ = delivery.Ack()
		w.recordOutcome(string(req.Operation), decision)
		log.Debug("envelope processed")

	case Retry:
		w.settleRetry(ctx, queue, req, delivery, err)

	case DeadLetter:
		log.Warn("envelope dead-lettered", "error", err)
		letter := deadletter.NewLetter(req, reasonFor(err), err.Error())
		w.settleDeadLetter(ctx, letter, delivery, string(req.Operation))

	case Discard:
		// Shutdown interrupted processing; hand the delivery back untouched.
		_ = delivery.Nack(true)
		w.recordOutcome(string(req.Operation), decision)
	}
}

// settleRetry republishes the envelope with an incremented attempt counter
// and acks the original. If the republish itself fails the original is
// nacked back to the queue, so the envelope survives either way.
func (w *Worker) settleRetry(ctx context.Context, queue string, req *envelope.Request, delivery broker.Delivery, cause error) {
	retry := *req
	retry.Attempt++

	log := w.logger.With(
		"correlation_id", req.CorrelationID,
		"operation", string(req.Operation),
		"attempt", retry.Attempt,
		"max_attempts", w.maxAttempts)

	body, err := retry.Marshal()
	if err != nil {
		log.Error("retry envelope encode failed", "error", err)
		_ = delivery.Nack(true)
		return
	}

	err = w.broker.Publish(ctx, queue, broker.Message{
		Body:          body,
		CorrelationID: retry.CorrelationID,
		ReplyTo:       retry.ReplyTo,
		ContentType:   "application/json",
		// Each attempt gets its own message id so broker-side duplicate
		// suppression does not swallow the republish.
		MessageID: fmt.Sprintf("%s:%d", retry.CorrelationID, retry.Attempt),
	})
	if err != nil {
		log.Warn("retry republish failed, requeueing original", "error", err)
		_ = delivery.Nack(true)
		return
	}

	_ = delivery.Ack()
	if w.metrics != nil {
		w.metrics.RecordWorkerRetry(string(req.Operation))
		w.metrics.RecordMessagePublished(queue)
	}
	w.recordOutcome(string(req.Operation), Retry)
	log.Info("envelope scheduled for retry", "error", cause)
}

// settleDeadLetter publishes the letter to the dead-letter queue and acks
// the delivery. A failed publish nacks the delivery back to the work queue
// so the letter is not lost.
func (w *Worker) settleDeadLetter(ctx context.Context, letter *deadletter.Letter, delivery broker.Delivery, operation string) {
	body, err := letter.Marshal()
	if err != nil {
		w.logger.Error("dead letter encode failed", "error", err)
		_ = delivery.Nack(true)
		return
	}

	err = w.broker.Publish(ctx, w.deadLetterQueue, broker.Message{
		Body:          body,
		CorrelationID: letter.CorrelationID,
		ContentType:   "application/json",
	})
	if err != nil {
		w.logger.Error("dead letter publish failed, requeueing original", "error", err)
		_ = delivery.Nack(true)
		return
	}

	_ = delivery.Ack()
	if w.metrics != nil {
		w.metrics.RecordDeadLetter(letter.Reason)
		w.metrics.RecordMessagePublished(w.deadLetterQueue)
	}
	w.recordOutcome(operation, DeadLetter)
}

// process executes the request and publishes its result envelope. A nil
// return means the result is durably published; a non-nil return is the
// classified failure the retry state machine settles on.
func (w *Worker) process(ctx context.Context, req *envelope.Request) error {
	result, err := w.execute(ctx, req)
	if err != nil {
		return err
	}
	result.Operation = string(req.Operation)

	body, err := result.Marshal()
	if err != nil {
		return err
	}

	err = w.broker.Publish(ctx, req.ReplyTo, broker.Message{
		Body:          body,
		CorrelationID: req.CorrelationID,
		ContentType:   "application/json",
	})
	if err != nil {
		return errors.WrapTransient(err, "Worker", "process", "publish result")
	}
	if w.metrics != nil {
		// Reply queue names carry a per-instance suffix; label by prefix to
		// keep metric cardinality bounded.
		w.metrics.RecordMessagePublished(broker.ReplyQueuePrefix)
	}
	return nil
}

// execute applies the operation to the blob store. Expected failures
// (content mismatch, missing object, non-retryable storage errors) become
// failure results; only retryable errors are returned.
func (w *Worker) execute(ctx context.Context, req *envelope.Request) (*envelope.Result, error) {
	switch req.Operation {
	case envelope.OpWrite:
		return w.executeWrite(ctx, req)
	case envelope.OpRead:
		return w.executeRead(ctx, req)
	case envelope.OpList:
		return w.executeList(ctx, req)
	default:
		// Unreachable: UnmarshalRequest validates the operation.
		return nil, errors.WrapInvalid(errors.ErrInvalidEnvelope, "Worker", "execute",
			"unknown operation "+string(req.Operation))
	}
}

func (w *Worker) executeWrite(ctx context.Context, req *envelope.Request) (*envelope.Result, error) {
	data := req.Payload.Inline
	if len(data) == 0 && req.Payload.BlobID != "" {
		staged, _, err := w.store.Get(ctx, req.Payload.BlobID)
		switch {
		case stderrors.Is(err, blobstore.ErrNotFound):
			return envelope.Failure(req.CorrelationID, envelope.StatusStorageError,
				"staged blob "+req.Payload.BlobID+" not found"), nil
		case err != nil && errors.IsTransient(err):
			return nil, err
		case err != nil:
			return envelope.Failure(req.CorrelationID, envelope.StatusStorageError, err.Error()), nil
		}
		data = staged
	}

	if err := req.ObjectType.Validate(data); err != nil {
		return envelope.Failure(req.CorrelationID, envelope.StatusValidationError, err.Error()), nil
	}

	objectID, err := w.store.Put(ctx, data, blobstore.PutOptions{
		ContentType: req.ObjectType.ContentType(data),
		Filename:    req.Filename,
	})
	switch {
	case err != nil && errors.IsTransient(err):
		return nil, err
	case err != nil:
		return envelope.Failure(req.CorrelationID, envelope.StatusStorageError, err.Error()), nil
	}

	return envelope.OKWrite(req.CorrelationID, objectID), nil
}

func (w *Worker) executeRead(ctx context.Context, req *envelope.Request) (*envelope.Result, error) {
	data, info, err := w.store.Get(ctx, req.ObjectID)
	switch {
	case stderrors.Is(err, blobstore.ErrNotFound):
		return envelope.Failure(req.CorrelationID, envelope.StatusNotFound,
			"no object with id "+req.ObjectID), nil
	case err != nil && errors.IsTransient(err):
		return nil, err
	case err != nil:
		return envelope.Failure(req.CorrelationID, envelope.StatusStorageError, err.Error()), nil
	}

	return envelope.OKRead(req.CorrelationID, data, info.ContentType, info.Filename), nil
}

func (w *Worker) executeList(ctx context.Context, req *envelope.Request) (*envelope.Result, error) {
	pageNum, pageSize := blobstore.NormalizePage(req.Page, req.PageSize)

	page, err := w.store.List(ctx, pageNum, pageSize)
	switch {
	case err != nil && errors.IsTransient(err):
		return nil, err
	case err != nil:
		return envelope.Failure(req.CorrelationID, envelope.StatusStorageError, err.Error()), nil
	}

	objects := make([]envelope.ObjectSummary, 0, len(page.Objects))
	for _, info := range page.Objects {
		objects = append(objects, envelope.ObjectSummary{
			ObjectID:    info.ObjectID,
			Filename:    info.Filename,
			ContentType: info.ContentType,
			Size:        info.Size,
			StoredAt:    info.StoredAt,
		})
	}

	return &envelope.Result{
		CorrelationID: req.CorrelationID,
		Status:        envelope.StatusOK,
		Objects:       objects,
		Total:         page.Total,
		Page:          page.Page,
		PageSize:      page.PageSize,
		TotalPages:    page.TotalPages,
	}, nil
}

func (w *Worker) recordOutcome(operation string, decision Decision) {
	if w.metrics != nil {
		w.metrics.RecordWorkerOutcome(operation, decision.String())
	}
}

// reasonFor maps a terminal processing failure to its dead-letter reason
func reasonFor(err error) string {
	if errors.IsInvalid(err) {
		return deadletter.ReasonMalformed
	}
	return deadletter.ReasonExhausted
}
