// Package orchestrator accepts object requests from synchronous callers,
// hands them to the worker fleet through the broker, and blocks each
// caller until its result arrives on this instance's reply queue or the
// request times out.
package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360/objectrelay/broker"
	"github.com/c360/objectrelay/envelope"
	"github.com/c360/objectrelay/errors"
	"github.com/c360/objectrelay/metric"
	"github.com/c360/objectrelay/tracker"
)

// DefaultTimeout bounds how long Submit waits for a result
const DefaultTimeout = 30 * time.Second

// Orchestrator bridges synchronous submissions onto the broker
type Orchestrator struct {
	broker  broker.Client
	tracker *tracker.Tracker
	logger  *slog.Logger
	metrics *metric.Metrics

	instance    string
	writeQueue  string
	readQueue   string
	replyPrefix string
	replyQueue  string
	timeout     time.Duration

	resultHook func(envelope.Result)
}

// Option configures the orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics attaches pipeline metrics
func WithMetrics(m *metric.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithInstance sets the instance id that names this orchestrator's reply
// queue. Every instance needs its own so replies come back to the process
// holding the pending slot.
func WithInstance(id string) Option {
	return func(o *Orchestrator) { o.instance = id }
}

// WithQueues overrides the work queue names
func WithQueues(writeQueue, readQueue string) Option {
	return func(o *Orchestrator) {
		o.writeQueue = writeQueue
		o.readQueue = readQueue
	}
}

// WithReplyQueuePrefix overrides the reply queue prefix
func WithReplyQueuePrefix(prefix string) Option {
	return func(o *Orchestrator) { o.replyPrefix = prefix }
}

// WithTimeout sets how long Submit waits for a result
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithResultHook registers a callback invoked for every result received
// on the reply queue, including orphans. The event stream uses it to fan
// results out to subscribed clients.
func WithResultHook(fn func(envelope.Result)) Option {
	return func(o *Orchestrator) { o.resultHook = fn }
}

// New creates an orchestrator. The instance id defaults to a fresh UUID,
// so two unconfigured instances never share a reply queue.
func New(b broker.Client, trk *tracker.Tracker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		broker:      b,
		tracker:     trk,
		logger:      slog.Default(),
		instance:    uuid.NewString(),
		writeQueue:  broker.WriteQueue,
		readQueue:   broker.ReadQueue,
		replyPrefix: broker.ReplyQueuePrefix,
		timeout:     DefaultTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.replyQueue = fmt.Sprintf("%s.%s", o.replyPrefix, o.instance)
	o.logger = o.logger.With("component", "orchestrator", "instance", o.instance)
	return o
}

// ReplyQueue returns the queue this instance receives results on
func (o *Orchestrator) ReplyQueue() string {
	return o.replyQueue
}

// Instance returns the instance id
func (o *Orchestrator) Instance() string {
	return o.instance
}

// Submit assigns the request a correlation id, publishes it to the work
// queue for its operation, and blocks until the result arrives or the
// timeout elapses. A publish failure surfaces immediately and leaves no
// pending slot behind.
func (o *Orchestrator) Submit(ctx context.Context, req envelope.Request) (envelope.Result, error) {
	req.CorrelationID = uuid.NewString()
	req.ReplyTo = o.replyQueue
	req.CreatedAt = time.Now().UTC()
	req.Attempt = 0

	if err := req.Validate(); err != nil {
		return envelope.Result{}, err
	}

	queue := o.queueFor(req.Operation)
	operation := string(req.Operation)

	pending, err := o.tracker.Register(req.CorrelationID)
	if err != nil {
		return envelope.Result{}, errors.WrapFatal(err, "Orchestrator", "Submit", "register pending slot")
	}

	start := time.Now()
	if o.metrics != nil {
		o.metrics.RecordRequestStarted()
	}

	body, err := req.Marshal()
	if err != nil {
		pending.Release()
		o.finish(operation, "ENCODE_ERROR", start)
		return envelope.Result{}, err
	}

	err = o.broker.Publish(ctx, queue, broker.Message{
		Body:          body,
		CorrelationID: req.CorrelationID,
		ReplyTo:       o.replyQueue,
		MessageID:     req.CorrelationID,
		ContentType:   "application/json",
	})
	if err != nil {
		pending.Release()
		o.finish(operation, "BROKER_ERROR", start)
		o.logger.Error("request publish failed",
			"correlation_id", req.CorrelationID,
			"queue", queue,
			"error", err)
		return envelope.Result{}, errors.WrapTransient(err, "Orchestrator", "Submit", "publish request")
	}

	if o.metrics != nil {
		o.metrics.RecordMessagePublished(queue)
	}
	o.logger.Debug("request published",
		"correlation_id", req.CorrelationID,
		"operation", operation,
		"queue", queue)

	result, err := pending.Await(ctx, o.timeout)
	switch {
	case err == nil:
		o.finish(operation, string(result.Status), start)
		return result, nil
	case stderrors.Is(err, tracker.ErrRequestTimeout):
		o.finish(operation, "TIMEOUT", start)
		o.logger.Warn("request timed out",
			"correlation_id", req.CorrelationID,
			"operation", operation,
			"timeout", o.timeout)
		return envelope.Result{}, err
	default:
		o.finish(operation, "CANCELLED", start)
		return envelope.Result{}, err
	}
}

// finish records request completion metrics
func (o *Orchestrator) finish(operation, status string, start time.Time) {
	if o.metrics != nil {
		o.metrics.RecordRequestCompleted(operation, status, time.Since(start))
	}
}

// queueFor routes writes to the write queue and reads and lists to the
// read queue
func (o *Orchestrator) queueFor(op envelope.Operation) string {
	if op == envelope.OpWrite {
		return o.writeQueue
	}
	return o.readQueue
}

// Run consumes this instance's reply queue and resolves pending slots
// until ctx is cancelled. It returns an error if the subscription dies
// while the context is still live, so a supervisor can restart it.
func (o *Orchestrator) Run(ctx context.Context) error {
	deliveries, err := o.broker.ConsumeReply(ctx, o.replyQueue)
	if err != nil {
		return errors.WrapTransient(err, "Orchestrator", "Run", "subscribe to reply queue")
	}

	o.logger.Info("dispatch loop started", "reply_queue", o.replyQueue)

	for delivery := range deliveries {
		if o.metrics != nil {
			// Label by prefix; the instance suffix would blow up cardinality.
			o.metrics.RecordMessageConsumed(broker.ReplyQueuePrefix)
		}

		result, err := envelope.UnmarshalResult(delivery.Body)
		if err != nil {
			// A reply that does not decode can never match a slot.
			o.logger.Error("malformed result dropped", "error", err)
			_ = delivery.Ack()
			continue
		}

		o.tracker.Resolve(result.CorrelationID, *result)
		if o.resultHook != nil {
			o.resultHook(*result)
		}
		_ = delivery.Ack()
	}

	if ctx.Err() != nil {
		o.logger.Info("dispatch loop stopped")
		return nil
	}
	return errors.WrapTransient(errors.ErrConnectionLost, "Orchestrator", "Run", "reply subscription closed")
}
