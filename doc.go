// Package objectrelay provides an asynchronous object storage relay that
// bridges synchronous HTTP clients onto queue-based storage workers.
//
// # Philosophy: Synchronous Edge, Asynchronous Core
//
// Clients speak plain request/response HTTP. Everything behind the gateway
// is asynchronous: requests travel over broker queues, workers compete for
// them, and results come back on per-instance reply queues. The correlation
// tracker is the only bridge between the two worlds - each HTTP request
// parks on a pending slot keyed by a correlation id until its result
// arrives or its deadline passes.
//
// The relay is split into three roles that can run in one process or many:
//
//   - Gateway: HTTP API, correlation tracking, reply dispatch
//   - Worker: validation, blob storage, bounded retry
//   - Dead letter: terminal-failure capture into Postgres
//
// # Architecture
//
//	            ┌──────────────────────────────┐
//	 HTTP  ───► │           Gateway            │  orchestrator + tracker
//	            │  POST /objects  GET /objects │  pending slots by corr id
//	            └──────────────┬───────────────┘
//	                           │ publish
//	          object_write_queue / object_read_queue
//	                           │ competing consumers
//	            ┌──────────────▼───────────────┐
//	            │            Worker            │  validate → store → reply
//	            │   (N instances, prefetch 1)  │  retry or dead-letter
//	            └──────┬───────────────┬───────┘
//	                   │               │
//	       object_response_queue.<id>  │ object_dead_letter_queue
//	                   │               │
//	            ┌──────▼──────┐ ┌──────▼───────┐
//	            │   Gateway   │ │ Dead letter  │
//	            │  (resolve)  │ │  (Postgres)  │
//	            └─────────────┘ └──────────────┘
//
// Object bytes land in a content-addressed blob store (MinIO, or memory in
// tests), optionally fronted by a Redis read-through cache. The broker is
// RabbitMQ or NATS JetStream in production and an in-memory double in tests.
//
// # Request Lifecycle
//
// A WRITE walks the full path:
//
//  1. The gateway builds a request envelope, registers a pending slot under
//     a fresh correlation id, and publishes to the write queue.
//  2. A worker consumes the envelope, validates the payload against its
//     declared object type, and stores the bytes under their content hash.
//  3. The worker publishes a result envelope to the reply queue named in
//     the request, then acks the delivery.
//  4. The gateway's dispatch loop resolves the pending slot; the parked
//     HTTP handler wakes and answers the client.
//
// If no result arrives within the request timeout the slot is abandoned and
// the client gets 504. A result arriving after that is an orphan: counted,
// logged, and dropped. Exactly one result is ever honored per correlation
// id.
//
// # Failure Handling
//
// Worker failures are classified, never retried blindly:
//
//   - Invalid input (undecodable envelope, payload/type mismatch) fails
//     fast: a VALIDATION_ERROR result, or a dead letter when the envelope
//     cannot even name a reply queue.
//   - Transient storage failures republish the envelope with an incremented
//     attempt counter, up to the configured maximum, then dead-letter with
//     reason retries_exhausted and answer STORAGE_ERROR.
//   - Stale envelopes (older than the staleness window) dead-letter with
//     reason stale rather than burning storage calls on an abandoned
//     request.
//
// Storage is content addressed, so a redelivered WRITE stores nothing new
// and returns the same object id. Redelivery is safe anywhere in the
// pipeline.
//
// # Observability
//
// Every component logs through log/slog with a component attribute and the
// request's correlation id. Prometheus metrics cover request outcomes and
// latency, pending slot depth, orphaned results, worker retries, dead
// letters, and cache effectiveness, exposed at /metrics. Per-component
// health statuses aggregate at /health. A websocket event stream at /events
// broadcasts each request's terminal status as it resolves.
//
// # Packages
//
//   - envelope: request/result wire format and the object-type validators
//   - broker: queue client interface; membroker, amqpbroker, natsbroker
//   - blobstore: storage interface; memstore, miniostore, rediscache
//   - tracker: correlation slots, timeout, sweep
//   - orchestrator: submit path and reply dispatch
//   - worker: consume, validate, store, retry state machine
//   - deadletter: letter codec, queue consumer, Postgres store
//   - gateway: HTTP API, middleware, event hub
//   - config, metric, health, errors, pkg/retry: ambient infrastructure
//
// cmd/objectrelay assembles the roles selected by configuration into one
// process.
package objectrelay
