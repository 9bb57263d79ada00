// Package miniostore implements blobstore.Store on MinIO (or any S3
// compatible endpoint). Object keys are the content-addressed ids; upload
// metadata rides along as object content type and user metadata.
package miniostore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/c360/objectrelay/blobstore"
	"github.com/c360/objectrelay/errors"
)

const filenameMetaKey = "Filename"

// Config holds the connection settings for a MinIO-backed store
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Store implements blobstore.Store against one bucket
type Store struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// New creates a store client. The connection is lazy; call EnsureBucket at
// startup to verify reachability and create the bucket.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("missing endpoint"), "MinioStore", "New", "validate config")
	}
	if cfg.Bucket == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("missing bucket"), "MinioStore", "New", "validate config")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.WrapFatal(err, "MinioStore", "New", "create client")
	}

	return &Store{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.With("component", "miniostore", "bucket", cfg.Bucket),
	}, nil
}

// EnsureBucket creates the bucket if it does not exist
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return errors.WrapTransient(err, "MinioStore", "EnsureBucket", "check bucket")
	}
	if exists {
		s.logger.Debug("bucket exists")
		return nil
	}

	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return errors.WrapTransient(err, "MinioStore", "EnsureBucket", "create bucket")
	}
	s.logger.Info("created bucket")
	return nil
}

// Put stores the payload under its content address. An object that already
// exists under the id is left untouched and its id returned, which keeps
// redelivered WRITE envelopes idempotent.
func (s *Store) Put(ctx context.Context, data []byte, opts blobstore.PutOptions) (string, error) {
	id := blobstore.ObjectID(data)

	_, err := s.client.StatObject(ctx, s.bucket, id, minio.StatObjectOptions{})
	if err == nil {
		s.logger.Debug("object already stored", "object_id", id)
		return id, nil
	}
	if !isNoSuchKey(err) {
		return "", classify(err, "Put", "probe object")
	}

	putOpts := minio.PutObjectOptions{ContentType: opts.ContentType}
	if opts.Filename != "" {
		putOpts.UserMetadata = map[string]string{filenameMetaKey: opts.Filename}
	}

	_, err = s.client.PutObject(ctx, s.bucket, id, bytes.NewReader(data), int64(len(data)), putOpts)
	if err != nil {
		return "", classify(err, "Put", "upload object")
	}

	s.logger.Debug("stored object", "object_id", id, "size", len(data))
	return id, nil
}

// Get returns the payload and metadata for an id
func (s *Store) Get(ctx context.Context, objectID string) ([]byte, blobstore.ObjectInfo, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectID, minio.GetObjectOptions{})
	if err != nil {
		return nil, blobstore.ObjectInfo{}, classify(err, "Get", "open object")
	}
	defer func() { _ = obj.Close() }()

	stat, err := obj.Stat()
	if err != nil {
		if isNoSuchKey(err) {
			return nil, blobstore.ObjectInfo{}, blobstore.ErrNotFound
		}
		return nil, blobstore.ObjectInfo{}, classify(err, "Get", "stat object")
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, blobstore.ObjectInfo{}, classify(err, "Get", "read object")
	}

	return data, infoFromStat(stat), nil
}

// List returns one page of stored objects, newest first. Pagination is
// client-side over the bucket listing.
func (s *Store) List(ctx context.Context, page, pageSize int) (blobstore.Page, error) {
	page, pageSize = blobstore.NormalizePage(page, pageSize)

	infos := make([]blobstore.ObjectInfo, 0, 64)
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{WithMetadata: true}) {
		if obj.Err != nil {
			return blobstore.Page{}, classify(obj.Err, "List", "list objects")
		}
		infos = append(infos, infoFromStat(obj))
	}

	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].StoredAt.Equal(infos[j].StoredAt) {
			return infos[i].ObjectID < infos[j].ObjectID
		}
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

func infoFromStat(stat minio.ObjectInfo) blobstore.ObjectInfo {
	filename := stat.UserMetadata[filenameMetaKey]
	if filename == "" {
		// ListObjects surfaces user metadata under the wire header name.
		filename = stat.UserMetadata["X-Amz-Meta-"+filenameMetaKey]
	}
	return blobstore.ObjectInfo{
		ObjectID:    stat.Key,
		Filename:    filename,
		ContentType: stat.ContentType,
		Size:        stat.Size,
		StoredAt:    stat.LastModified,
	}
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey"
}

// classify maps MinIO errors onto the error taxonomy: missing keys are
// ErrNotFound, 4xx responses are Invalid (caller mistakes, not retryable),
// everything else is a transient storage failure.
func classify(err error, method, action string) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey":
		return blobstore.ErrNotFound
	case "AccessDenied", "EntityTooLarge", "InvalidObjectName", "XMinioInvalidObjectName":
		return errors.WrapInvalid(err, "MinioStore", method, action)
	}
	return errors.WrapTransient(err, "MinioStore", method, action)
}
