package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics (not request payload data)
type Metrics struct {
	// Request lifecycle
	RequestsInflight prometheus.Gauge
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec

	// Pending slot tracking
	PendingSlots    prometheus.Gauge
	OrphanedResults prometheus.Counter
	SweptSlots      prometheus.Counter

	// Worker processing
	WorkerOutcomes *prometheus.CounterVec
	WorkerRetries  *prometheus.CounterVec

	// Dead letters
	DeadLetters *prometheus.CounterVec

	// Broker connectivity and traffic
	BrokerConnected   prometheus.Gauge
	MessagesPublished *prometheus.CounterVec
	MessagesConsumed  *prometheus.CounterVec

	// Object cache
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Event stream
	EventClients prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "objectrelay",
				Subsystem: "requests",
				Name:      "inflight",
				Help:      "Number of requests awaiting a result",
			},
		),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "objectrelay",
				Subsystem: "requests",
				Name:      "total",
				Help:      "Total number of completed requests",
			},
			[]string{"operation", "status"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "objectrelay",
				Subsystem: "requests",
				Name:      "duration_seconds",
				Help:      "End-to-end request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		PendingSlots: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "objectrelay",
				Subsystem: "tracker",
				Name:      "pending_slots",
				Help:      "Number of registered pending slots",
			},
		),

		OrphanedResults: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "objectrelay",
				Subsystem: "tracker",
				Name:      "orphaned_results_total",
				Help:      "Results that arrived after their slot was gone",
			},
		),

		SweptSlots: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "objectrelay",
				Subsystem: "tracker",
				Name:      "swept_slots_total",
				Help:      "Pending slots removed by the background sweep",
			},
		),

		WorkerOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "objectrelay",
				Subsystem: "worker",
				Name:      "outcomes_total",
				Help:      "Processing outcomes by operation",
			},
			[]string{"operation", "outcome"},
		),

		WorkerRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "objectrelay",
				Subsystem: "worker",
				Name:      "retries_total",
				Help:      "Requests republished for another attempt",
			},
			[]string{"operation"},
		),

		DeadLetters: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "objectrelay",
				Subsystem: "deadletter",
				Name:      "total",
				Help:      "Requests routed to the dead letter queue",
			},
			[]string{"reason"},
		),

		BrokerConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "objectrelay",
				Subsystem: "broker",
				Name:      "connected",
				Help:      "Broker connection status (0=disconnected, 1=connected)",
			},
		),

		MessagesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "objectrelay",
				Subsystem: "broker",
				Name:      "published_total",
				Help:      "Messages published by queue",
			},
			[]string{"queue"},
		),

		MessagesConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "objectrelay",
				Subsystem: "broker",
				Name:      "consumed_total",
				Help:      "Messages consumed by queue",
			},
			[]string{"queue"},
		),

		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "objectrelay",
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Object reads served from the cache",
			},
		),

		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "objectrelay",
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Object reads that fell through to the store",
			},
		),

		EventClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "objectrelay",
				Subsystem: "events",
				Name:      "clients",
				Help:      "Connected event stream clients",
			},
		),
	}
}

// RecordRequestStarted marks a request as in flight
func (c *Metrics) RecordRequestStarted() {
	c.RequestsInflight.Inc()
}

// RecordRequestCompleted marks a request as finished and records its outcome
func (c *Metrics) RecordRequestCompleted(operation, status string, duration time.Duration) {
	c.RequestsInflight.Dec()
	c.RequestsTotal.WithLabelValues(operation, status).Inc()
	c.RequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetPendingSlots updates the pending slot gauge
func (c *Metrics) SetPendingSlots(n int) {
	c.PendingSlots.Set(float64(n))
}

// RecordOrphanedResult counts a result that found no pending slot
func (c *Metrics) RecordOrphanedResult() {
	c.OrphanedResults.Inc()
}

// RecordSweptSlot counts a slot removed by the background sweep
func (c *Metrics) RecordSweptSlot() {
	c.SweptSlots.Inc()
}

// RecordWorkerOutcome counts a processing outcome
func (c *Metrics) RecordWorkerOutcome(operation, outcome string) {
	c.WorkerOutcomes.WithLabelValues(operation, outcome).Inc()
}

// RecordWorkerRetry counts a republished attempt
func (c *Metrics) RecordWorkerRetry(operation string) {
	c.WorkerRetries.WithLabelValues(operation).Inc()
}

// RecordDeadLetter counts a request routed to the dead letter queue
func (c *Metrics) RecordDeadLetter(reason string) {
	c.DeadLetters.WithLabelValues(reason).Inc()
}

// RecordBrokerStatus updates broker connection status
func (c *Metrics) RecordBrokerStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.BrokerConnected.Set(value)
}

// RecordMessagePublished increments the published counter for a queue
func (c *Metrics) RecordMessagePublished(queue string) {
	c.MessagesPublished.WithLabelValues(queue).Inc()
}

// RecordMessageConsumed increments the consumed counter for a queue
func (c *Metrics) RecordMessageConsumed(queue string) {
	c.MessagesConsumed.WithLabelValues(queue).Inc()
}

// RecordCacheHit counts an object read served from the cache
func (c *Metrics) RecordCacheHit() {
	c.CacheHits.Inc()
}

// RecordCacheMiss counts an object read that fell through to the store
func (c *Metrics) RecordCacheMiss() {
	c.CacheMisses.Inc()
}

// SetEventClients updates the connected event client gauge
func (c *Metrics) SetEventClients(n int) {
	c.EventClients.Set(float64(n))
}
