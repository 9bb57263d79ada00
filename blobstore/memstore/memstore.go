// Package memstore provides an in-memory blobstore.Store used by tests and
// single-process development mode.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/c360/objectrelay/blobstore"
)

type entry struct {
	data []byte
	info blobstore.ObjectInfo
}

// Store is a map-backed content-addressable store. Fault injection hooks let
// tests simulate a failing backend without a network.
type Store struct {
	mu      sync.RWMutex
	objects map[string]entry
	order   []string // ids in insertion order, newest appended last

	putErr error
	getErr error
}

// New creates an empty store
func New() *Store {
	return &Store{objects: make(map[string]entry)}
}

// SetPutError makes every subsequent Put fail with err (nil restores normal
// operation)
func (s *Store) SetPutError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putErr = err
}

// SetGetError makes every subsequent Get fail with err (nil restores normal
// operation)
func (s *Store) SetGetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getErr = err
}

// Put stores the payload under its content address
func (s *Store) Put(_ context.Context, data []byte, opts blobstore.PutOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.putErr != nil {
		return "", s.putErr
	}

	id := blobstore.ObjectID(data)
	if _, exists := s.objects[id]; exists {
		return id, nil
	}

	stored := make([]byte, len(data))
	copy(stored, data)

	s.objects[id] = entry{
		data: stored,
		info: blobstore.ObjectInfo{
			ObjectID:    id,
			Filename:    opts.Filename,
			ContentType: opts.ContentType,
			Size:        int64(len(data)),
			StoredAt:    time.Now().UTC(),
		},
	}
	s.order = append(s.order, id)
	return id, nil
}

// Get returns a copy of the stored payload
func (s *Store) Get(_ context.Context, objectID string) ([]byte, blobstore.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.getErr != nil {
		return nil, blobstore.ObjectInfo{}, s.getErr
	}

	e, exists := s.objects[objectID]
	if !exists {
		return nil, blobstore.ObjectInfo{}, blobstore.ErrNotFound
	}

	data := make([]byte, len(e.data))
	copy(data, e.data)
	return data, e.info, nil
}

// List returns one page of objects, newest first
func (s *Store) List(_ context.Context, page, pageSize int) (blobstore.Page, error) {
	page, pageSize = blobstore.NormalizePage(page, pageSize)

	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]blobstore.ObjectInfo, 0, len(s.order))
	for _, id := range s.order {
		infos = append(infos, s.objects[id].info)
	}
	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].StoredAt.After(infos[j].StoredAt)
	})

	total := len(infos)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	return blobstore.NewPage(infos[start:end], total, page, pageSize), nil
}

// Len returns the number of stored objects
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
