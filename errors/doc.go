// Package errors provides standardized error handling for objectrelay.
//
// # Overview
//
// The package implements a three-class error classification: Transient
// (temporary, retryable), Invalid (bad input, never retried), and Fatal
// (unrecoverable, stop processing). Classification drives the worker's
// retry/dead-letter decision and the orchestrator's fail-fast behavior
// without components matching on error strings.
//
// # Error Classification
//
//   - Transient: broker or storage connectivity failures, timeouts. The worker
//     republishes the envelope with an incremented attempt counter until the
//     retry bound, then dead-letters it.
//   - Invalid: payload/type mismatches, malformed envelopes. Surfaced to the
//     caller immediately as VALIDATION_ERROR; never retried.
//   - Fatal: integrity violations such as a duplicate correlation id.
//     Processing stops; these indicate bugs, not runtime conditions.
//
// The classification integrates with Go's standard error handling, supporting
// errors.Is, errors.As, and wrapping chains.
//
// # Usage
//
// Wrap errors at component boundaries with their classification:
//
//	if err := store.Put(ctx, data, opts); err != nil {
//	    return errors.WrapTransient(err, "Worker", "Process", "store object")
//	}
//
// Consumers branch on the class, not the concrete error:
//
//	switch {
//	case errors.IsInvalid(err):
//	    // publish VALIDATION_ERROR, do not retry
//	case errors.IsTransient(err):
//	    // republish with attempt+1 or dead-letter at the bound
//	}
//
// Sentinels shared by multiple components (ErrNoConnection,
// ErrStorageUnavailable, ...) live here; package-owned sentinels such as
// blobstore.ErrNotFound or tracker.ErrRequestTimeout live with their package
// and are compared with errors.Is as usual.
package errors
