// Package rediscache wraps a blobstore.Store with a read-through Redis cache.
// Content-addressed ids make the cache correct without invalidation: an id
// always names the same bytes, so entries only ever expire, never go stale.
package rediscache

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/c360/objectrelay/blobstore"
)

const keyPrefix = "object:"

// Cache field names within one object hash
const (
	fieldData        = "data"
	fieldContentType = "content_type"
	fieldFilename    = "filename"
	fieldSize        = "size"
	fieldStoredAt    = "stored_at"
)

// Store decorates an inner blobstore.Store with Redis-backed reads
type Store struct {
	inner  blobstore.Store
	client *redis.Client
	logger *slog.Logger

	ttl      time.Duration
	maxBytes int64

	hits   prometheus.Counter
	misses prometheus.Counter
}

// Option configures the cache decorator
type Option func(*Store)

// WithTTL sets the cache entry lifetime (default 1h)
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithMaxObjectBytes caps the payload size cached (default 1 MiB); larger
// objects always go to the inner store
func WithMaxObjectBytes(n int64) Option {
	return func(s *Store) { s.maxBytes = n }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithCounters wires hit/miss counters
func WithCounters(hits, misses prometheus.Counter) Option {
	return func(s *Store) {
		s.hits = hits
		s.misses = misses
	}
}

// New wraps inner with a read-through cache on client
func New(inner blobstore.Store, client *redis.Client, opts ...Option) *Store {
	s := &Store{
		inner:    inner,
		client:   client,
		logger:   slog.Default(),
		ttl:      time.Hour,
		maxBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "rediscache")
	return s
}

// NewClient builds a Redis client with the pool settings used across the
// system and verifies connectivity
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Put delegates to the inner store. Entries are filled on read, not write;
// a written object that is never read costs no cache memory.
func (s *Store) Put(ctx context.Context, data []byte, opts blobstore.PutOptions) (string, error) {
	return s.inner.Put(ctx, data, opts)
}

// Get serves from Redis when possible and falls through to the inner store,
// back-filling the cache on the way out. Redis failures degrade to plain
// inner-store reads rather than failing the request.
func (s *Store) Get(ctx context.Context, objectID string) ([]byte, blobstore.ObjectInfo, error) {
	if data, info, ok := s.lookup(ctx, objectID); ok {
		if s.hits != nil {
			s.hits.Inc()
		}
		return data, info, nil
	}
	if s.misses != nil {
		s.misses.Inc()
	}

	data, info, err := s.inner.Get(ctx, objectID)
	if err != nil {
		return nil, blobstore.ObjectInfo{}, err
	}

	s.fill(ctx, objectID, data, info)
	return data, info, nil
}

// List delegates to the inner store; listings are not cached
func (s *Store) List(ctx context.Context, page, pageSize int) (blobstore.Page, error) {
	return s.inner.List(ctx, page, pageSize)
}

func (s *Store) lookup(ctx context.Context, objectID string) ([]byte, blobstore.ObjectInfo, bool) {
	fields, err := s.client.HGetAll(ctx, keyPrefix+objectID).Result()
	if err != nil {
		s.logger.Debug("cache lookup failed", "object_id", objectID, "error", err)
		return nil, blobstore.ObjectInfo{}, false
	}
	raw, ok := fields[fieldData]
	if !ok {
		return nil, blobstore.ObjectInfo{}, false
	}

	info := blobstore.ObjectInfo{
		ObjectID:    objectID,
		ContentType: fields[fieldContentType],
		Filename:    fields[fieldFilename],
		Size:        int64(len(raw)),
	}
	if sizeStr := fields[fieldSize]; sizeStr != "" {
		if size, err := strconv.ParseInt(sizeStr, 10, 64); err == nil {
			info.Size = size
		}
	}
	if at := fields[fieldStoredAt]; at != "" {
		if ts, err := time.Parse(time.RFC3339Nano, at); err == nil {
			info.StoredAt = ts
		}
	}
	return []byte(raw), info, true
}

func (s *Store) fill(ctx context.Context, objectID string, data []byte, info blobstore.ObjectInfo) {
	if int64(len(data)) > s.maxBytes {
		return
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, keyPrefix+objectID,
		fieldData, data,
		fieldContentType, info.ContentType,
		fieldFilename, info.Filename,
		fieldSize, strconv.FormatInt(info.Size, 10),
		fieldStoredAt, info.StoredAt.UTC().Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, keyPrefix+objectID, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Debug("cache fill failed", "object_id", objectID, "error", err)
	}
}
