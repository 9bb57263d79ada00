// Package gateway is the synchronous HTTP facade over the asynchronous
// object pipeline.
//
// Callers speak plain request/response HTTP; the gateway hides the broker
// round trip behind each call by handing the request to a Submitter
// (normally the orchestrator) and blocking until the correlated result
// comes back or times out. No handler touches the blob store or the broker
// directly.
//
// # Endpoints
//
//   - POST /objects          store a JSON document
//   - POST /objects/image    store an image (multipart, "file" field)
//   - POST /objects/pdf      store a PDF (multipart, "file" field)
//   - GET  /objects/{id}     fetch stored bytes with their content type
//   - GET  /objects          list stored objects (page, page_size)
//   - GET  /deadletters      operator view of the dead-letter sink
//   - GET  /health           aggregated component health
//   - GET  /metrics          Prometheus scrape endpoint
//   - GET  /events           websocket stream of request lifecycle events
//
// # Status mapping
//
// Result statuses map one to one: VALIDATION_ERROR answers 400 with the
// worker's diagnostic, NOT_FOUND answers 404, STORAGE_ERROR answers 502.
// Pipeline errors stay generic toward the client: a broker outage answers
// 503, a pipeline timeout 504, and the detail goes to the log only.
//
// Every response carries an X-Correlation-ID header, honored from the
// request when present. This trace id is independent of the envelope
// correlation id, which the orchestrator mints per submission.
package gateway
