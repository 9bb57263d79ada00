// Package blobstore defines the content-addressable store consumed by the
// worker. Object ids are derived from content (SHA-256), which makes Put
// idempotent and safe to repeat on redelivery: storing the same bytes twice
// yields the same id and at most one stored object.
//
// Implementations live in subpackages: memstore (in-memory, tests and dev),
// miniostore (MinIO/S3), and rediscache (read-through cache decorator).
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no object exists under the id
var ErrNotFound = errors.New("object not found")

// Pagination bounds for List. The default applies when a request carries no
// page size; the cap bounds reply-envelope size.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// ObjectID derives the content address for a payload
func ObjectID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PutOptions carries the upload metadata stored alongside the object
type PutOptions struct {
	ContentType string
	Filename    string
}

// ObjectInfo describes one stored object. The core treats everything but
// ObjectID as opaque metadata threaded back to the client.
type ObjectInfo struct {
	ObjectID    string
	Filename    string
	ContentType string
	Size        int64
	StoredAt    time.Time
}

// Page is one page of a listing
type Page struct {
	Objects    []ObjectInfo
	Total      int
	Page       int
	PageSize   int
	TotalPages int
}

// Store is the blob store contract. All methods are safe for concurrent use
// and safe to retry with the same logical input.
type Store interface {
	// Put stores the payload under its content address and returns the id.
	// Storing bytes that already exist is a no-op returning the same id.
	Put(ctx context.Context, data []byte, opts PutOptions) (string, error)

	// Get returns the payload and metadata for an id, or ErrNotFound.
	Get(ctx context.Context, objectID string) ([]byte, ObjectInfo, error)

	// List returns one page of stored objects, newest first.
	List(ctx context.Context, page, pageSize int) (Page, error)
}

// NormalizePage clamps pagination parameters to the supported range
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// NewPage assembles a Page with its derived total_pages count
func NewPage(objects []ObjectInfo, total, page, pageSize int) Page {
	totalPages := 0
	if pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	return Page{
		Objects:    objects,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}
}
