//go:build integration

package miniostore

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/c360/objectrelay/blobstore"
)

func setupMinioContainer(t *testing.T) (testcontainers.Container, Config) {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     "minioadmin",
			"MINIO_ROOT_PASSWORD": "minioadmin",
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start MinIO container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	cfg := Config{
		Endpoint:  fmt.Sprintf("%s:%s", host, port.Port()),
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "objects-bucket",
	}
	return container, cfg
}

func TestMinioStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	container, cfg := setupMinioContainer(t)
	defer func() { _ = container.Terminate(context.Background()) }()

	ctx := context.Background()
	store, err := New(cfg, slog.Default())
	require.NoError(t, err)
	require.NoError(t, store.EnsureBucket(ctx))

	// EnsureBucket is repeatable.
	require.NoError(t, store.EnsureBucket(ctx))

	t.Run("put get round trip", func(t *testing.T) {
		payload := []byte(`{"a":1}`)
		id, err := store.Put(ctx, payload, blobstore.PutOptions{
			ContentType: "application/json",
			Filename:    "a.json",
		})
		require.NoError(t, err)
		assert.Equal(t, blobstore.ObjectID(payload), id)

		data, info, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, payload, data)
		assert.Equal(t, "application/json", info.ContentType)
		assert.Equal(t, "a.json", info.Filename)
		assert.Equal(t, int64(len(payload)), info.Size)
	})

	t.Run("put is idempotent", func(t *testing.T) {
		payload := []byte("same bytes")
		id1, err := store.Put(ctx, payload, blobstore.PutOptions{Filename: "one.bin"})
		require.NoError(t, err)
		id2, err := store.Put(ctx, payload, blobstore.PutOptions{Filename: "two.bin"})
		require.NoError(t, err)
		assert.Equal(t, id1, id2)
	})

	t.Run("get missing object", func(t *testing.T) {
		_, _, err := store.Get(ctx, "0000000000000000000000000000000000000000000000000000000000000000")
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})

	t.Run("list paginates", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			_, err := store.Put(ctx, []byte(fmt.Sprintf("payload-%d", i)), blobstore.PutOptions{})
			require.NoError(t, err)
		}

		page, err := store.List(ctx, 1, 3)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, page.Total, 5)
		assert.Len(t, page.Objects, 3)
		assert.Equal(t, (page.Total+2)/3, page.TotalPages)
	})
}
