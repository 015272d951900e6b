//go:build integration

package objectstore

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cacophony-project/cacophony-api/pkg/config"
)

func setupMinIO(t *testing.T) *S3Store {
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
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "Failed to start MinIO container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Warning: failed to terminate MinIO container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	store, err := NewS3Store(ctx, config.ObjectStoreConfig{
		Endpoint:     "http://" + host + ":" + port.Port(),
		Region:       "us-east-1",
		Bucket:       "test-recordings",
		AccessKey:    "minioadmin",
		SecretKey:    "minioadmin",
		UsePathStyle: true,
	})
	require.NoError(t, err, "Failed to create S3 store")
	return store
}

func TestS3Store_Integration(t *testing.T) {
	store := setupMinIO(t)
	ctx := context.Background()

	t.Run("put and get round trip", func(t *testing.T) {
		content := "fake mpeg bytes"
		key := "recordings/2024/05/01/round-trip"
		err := store.Put(ctx, key, strings.NewReader(content), int64(len(content)), "audio/mpeg")
		require.NoError(t, err)

		reader, err := store.Get(ctx, key)
		require.NoError(t, err)
		defer reader.Close()

		data, err := io.ReadAll(reader)
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
	})

	t.Run("get missing object fails", func(t *testing.T) {
		_, err := store.Get(ctx, "recordings/does-not-exist")
		assert.Error(t, err)
	})

	t.Run("delete removes the object", func(t *testing.T) {
		content := "doomed"
		key := "recordings/2024/05/01/doomed"
		require.NoError(t, store.Put(ctx, key, strings.NewReader(content), int64(len(content)), "audio/mpeg"))

		require.NoError(t, store.Delete(ctx, key))

		_, err := store.Get(ctx, key)
		assert.Error(t, err)
	})

	t.Run("health check", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		assert.NoError(t, store.HealthCheck(ctx))
	})
}
