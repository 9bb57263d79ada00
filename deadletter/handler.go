// Package deadletter is the terminal sink of the pipeline. The worker
// publishes envelopes that can never succeed to the dead-letter queue; the
// handler consumes that queue and persists each letter to Postgres for
// offline inspection. Nothing is ever replayed automatically, and no
// pending slot is resolved from here: a dead-lettered request surfaces to
// its orchestrator only as a timeout.
package deadletter

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/objectrelay/broker"
	"github.com/c360/objectrelay/errors"
	"github.com/c360/objectrelay/health"
	"github.com/c360/objectrelay/metric"
)

// Sink persists letters. *Store is the Postgres implementation.
type Sink interface {
	Insert(ctx context.Context, letter *Letter) error
}

// insertBackoff paces redelivery while the sink is down
const insertBackoff = time.Second

// Handler consumes the dead-letter queue into a sink
type Handler struct {
	broker  broker.Client
	sink    Sink
	logger  *slog.Logger
	metrics *metric.Metrics
	monitor *health.Monitor
	queue   string
}

// HandlerOption configures the handler
type HandlerOption func(*Handler)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = logger }
}

// WithMetrics attaches pipeline metrics
func WithMetrics(m *metric.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithHealth attaches a health monitor the handler pushes its status to
func WithHealth(monitor *health.Monitor) HandlerOption {
	return func(h *Handler) { h.monitor = monitor }
}

// WithQueue overrides the consumed queue
func WithQueue(queue string) HandlerOption {
	return func(h *Handler) { h.queue = queue }
}

// NewHandler creates a handler persisting letters from the dead-letter
// queue into sink
func NewHandler(b broker.Client, sink Sink, opts ...HandlerOption) *Handler {
	h := &Handler{
		broker: b,
		sink:   sink,
		logger: slog.Default(),
		queue:  broker.DeadLetterQueue,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "deadletter")
	return h
}

// Run consumes the dead-letter queue until ctx is cancelled. A letter is
// acked only after it is persisted; insert failures requeue the letter so
// a sink outage loses nothing.
func (h *Handler) Run(ctx context.Context) error {
	deliveries, err := h.broker.Consume(ctx, h.queue)
	if err != nil {
		return errors.WrapTransient(err, "DeadLetterHandler", "Run", "subscribe to "+h.queue)
	}

	if h.monitor != nil {
		h.monitor.UpdateHealthy("deadletter", "consuming "+h.queue)
	}
	h.logger.Info("dead letter handler started", "queue", h.queue)

	for delivery := range deliveries {
		h.handle(ctx, delivery)
	}

	if ctx.Err() != nil {
		h.logger.Info("dead letter handler stopped")
		return nil
	}
	return errors.WrapTransient(errors.ErrConnectionLost, "DeadLetterHandler", "Run", "subscription closed")
}

func (h *Handler) handle(ctx context.Context, delivery broker.Delivery) {
	if h.metrics != nil {
		h.metrics.RecordMessageConsumed(h.queue)
	}

	letter, err := UnmarshalLetter(delivery.Body)
	if err != nil {
		// Not even a letter; there is nowhere further down to send it.
		h.logger.Error("malformed dead letter dropped", "error", err)
		_ = delivery.Ack()
		return
	}

	if err := h.sink.Insert(ctx, letter); err != nil {
		h.logger.Error("dead letter insert failed, requeueing",
			"correlation_id", letter.CorrelationID,
			"reason", letter.Reason,
			"error", err)
		if h.monitor != nil {
			h.monitor.UpdateFromError("deadletter", err)
		}
		_ = delivery.Nack(true)

		// Pace redelivery so a down sink is not hammered.
		select {
		case <-time.After(insertBackoff):
		case <-ctx.Done():
		}
		return
	}

	_ = delivery.Ack()
	if h.monitor != nil {
		h.monitor.UpdateHealthy("deadletter", "consuming "+h.queue)
	}
	h.logger.Info("dead letter persisted",
		"correlation_id", letter.CorrelationID,
		"reason", letter.Reason,
		"attempts", letter.Attempts)
}
