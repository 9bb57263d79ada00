// Package envelope defines the request and result messages exchanged over the
// work and reply queues, the closed object-type variant with its per-tag
// validators, and the envelope codec shared by orchestrator and worker.
package envelope

import (
	"encoding/json"
	"time"

	"github.com/c360/objectrelay/errors"
)

// Operation identifies the storage action a request asks for
type Operation string

const (
	OpWrite Operation = "WRITE"
	OpRead  Operation = "READ"
	OpList  Operation = "LIST"
)

// Valid reports whether the operation is one of the closed set
func (o Operation) Valid() bool {
	switch o {
	case OpWrite, OpRead, OpList:
		return true
	}
	return false
}

// Status is the terminal outcome carried by a Result
type Status string

const (
	StatusOK              Status = "OK"
	StatusValidationError Status = "VALIDATION_ERROR"
	StatusStorageError    Status = "STORAGE_ERROR"
	StatusNotFound        Status = "NOT_FOUND"
)

// Valid reports whether the status is one of the closed set
func (s Status) Valid() bool {
	switch s {
	case StatusOK, StatusValidationError, StatusStorageError, StatusNotFound:
		return true
	}
	return false
}

// Payload carries the object bytes for a WRITE, either inline or as a
// reference to a previously staged blob. Exactly one field is set.
type Payload struct {
	Inline []byte `json:"inline,omitempty"`
	BlobID string `json:"blob_id,omitempty"`
}

// Empty reports whether neither inline bytes nor a blob reference is present
func (p Payload) Empty() bool {
	return len(p.Inline) == 0 && p.BlobID == ""
}

// Request is the unit published to a work queue. The correlation id is the
// sole join key between a request and its eventual result; it is generated
// once per request and never reused.
type Request struct {
	CorrelationID string     `json:"correlation_id"`
	Operation     Operation  `json:"operation"`
	Payload       Payload    `json:"payload_ref"`
	ObjectType    ObjectType `json:"object_type,omitempty"`
	ObjectID      string     `json:"object_id,omitempty"`
	Page          int        `json:"page,omitempty"`
	PageSize      int        `json:"page_size,omitempty"`
	ReplyTo       string     `json:"reply_to"`
	CreatedAt     time.Time  `json:"created_at"`
	Attempt       int        `json:"attempt"`
	Filename      string     `json:"filename,omitempty"`
	ContentType   string     `json:"content_type,omitempty"`
}

// Validate checks the structural invariants every consumer relies on.
// Payload content is not inspected here; that is the worker's job.
func (r *Request) Validate() error {
	switch {
	case r.CorrelationID == "":
		return errors.WrapInvalid(errors.ErrInvalidEnvelope, "Request", "Validate", "missing correlation_id")
	case !r.Operation.Valid():
		return errors.WrapInvalid(errors.ErrInvalidEnvelope, "Request", "Validate", "unknown operation "+string(r.Operation))
	case r.ReplyTo == "":
		return errors.WrapInvalid(errors.ErrInvalidEnvelope, "Request", "Validate", "missing reply_to")
	case r.Attempt < 0:
		return errors.WrapInvalid(errors.ErrInvalidEnvelope, "Request", "Validate", "negative attempt counter")
	}

	switch r.Operation {
	case OpWrite:
		if !r.ObjectType.Valid() {
			return errors.WrapInvalid(errors.ErrInvalidEnvelope, "Request", "Validate", "unknown object_type "+string(r.ObjectType))
		}
		if r.Payload.Empty() {
			return errors.WrapInvalid(errors.ErrEmptyPayload, "Request", "Validate", "WRITE without payload")
		}
	case OpRead:
		if r.ObjectID == "" {
			return errors.WrapInvalid(errors.ErrInvalidEnvelope, "Request", "Validate", "READ without object_id")
		}
	case OpList:
		if r.Page < 0 || r.PageSize < 0 {
			return errors.WrapInvalid(errors.ErrInvalidEnvelope, "Request", "Validate", "negative pagination")
		}
	}

	return nil
}

// Marshal serializes the request for publishing
func (r *Request) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Request", "Marshal", "encode envelope")
	}
	return data, nil
}

// UnmarshalRequest decodes and validates a request envelope from the wire.
// A decode failure or invariant violation is an Invalid-classified error; the
// worker routes such envelopes straight to the dead-letter queue.
func UnmarshalRequest(data []byte) (*Request, error) {
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.WrapInvalid(err, "Request", "Unmarshal", "decode envelope")
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// ObjectSummary is one entry of a LIST result page
type ObjectSummary struct {
	ObjectID    string    `json:"object_id"`
	Filename    string    `json:"filename,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size"`
	StoredAt    time.Time `json:"stored_at,omitempty"`
}

// Result is the unit published to a reply channel. Exactly one Result is
// honored per correlation id; later duplicates are discarded as orphans by
// the tracker.
type Result struct {
	CorrelationID string          `json:"correlation_id"`
	Operation     string          `json:"operation,omitempty"`
	Status        Status          `json:"status"`
	ObjectID      string          `json:"object_id,omitempty"`
	Data          []byte          `json:"data,omitempty"`
	ContentType   string          `json:"content_type,omitempty"`
	Filename      string          `json:"filename,omitempty"`
	Objects       []ObjectSummary `json:"objects,omitempty"`
	Total         int             `json:"total,omitempty"`
	Page          int             `json:"page,omitempty"`
	PageSize      int             `json:"page_size,omitempty"`
	TotalPages    int             `json:"total_pages,omitempty"`
	ErrorDetail   string          `json:"error_detail,omitempty"`
}

// Marshal serializes the result for publishing
func (r *Result) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Result", "Marshal", "encode envelope")
	}
	return data, nil
}

// UnmarshalResult decodes a result envelope from the wire
func UnmarshalResult(data []byte) (*Result, error) {
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.WrapInvalid(err, "Result", "Unmarshal", "decode envelope")
	}
	if r.CorrelationID == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidEnvelope, "Result", "Unmarshal", "missing correlation_id")
	}
	if !r.Status.Valid() {
		return nil, errors.WrapInvalid(errors.ErrInvalidEnvelope, "Result", "Unmarshal", "unknown status "+string(r.Status))
	}
	return &r, nil
}

// OKWrite builds the success result for a completed WRITE
func OKWrite(correlationID, objectID string) *Result {
	return &Result{CorrelationID: correlationID, Status: StatusOK, ObjectID: objectID}
}

// OKRead builds the success result for a completed READ
func OKRead(correlationID string, data []byte, contentType, filename string) *Result {
	return &Result{
		CorrelationID: correlationID,
		Status:        StatusOK,
		Data:          data,
		ContentType:   contentType,
		Filename:      filename,
	}
}

// Failure builds a non-OK result carrying a diagnostic. Panics if called
// with StatusOK since that would drop the success payload.
func Failure(correlationID string, status Status, detail string) *Result {
	if status == StatusOK {
		panic("envelope: Failure called with StatusOK")
	}
	return &Result{CorrelationID: correlationID, Status: status, ErrorDetail: detail}
}
