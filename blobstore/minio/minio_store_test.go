package minio

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/hupe1980/idfreelist/blobstore"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMinioStore_Integration requires a running MinIO instance.
// Skip if not available.
func TestMinioStore_Integration(t *testing.T) {
	client, err := minio.New("localhost:9000", &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	store := NewStore(client, "test-idfreelist", fmt.Sprintf("run-%d/", time.Now().UnixNano()))
	require.NoError(t, store.EnsureBucket(ctx))

	data := []byte("hello minio world")
	require.NoError(t, store.Put(ctx, "checkpoints/1.ckpt", data))

	blob, err := store.Open(ctx, "checkpoints/1.ckpt")
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, 5)
	n, err := blob.ReadAt(ctx, buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "minio", string(buf[:n]))

	n, err = blob.ReadAt(ctx, make([]byte, 10), 12)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 5, n)
	require.NoError(t, blob.Close())

	got, err := blobstore.ReadAll(ctx, store, "checkpoints/1.ckpt")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	names, err := store.List(ctx, "checkpoints/")
	require.NoError(t, err)
	assert.Equal(t, []string{"checkpoints/1.ckpt"}, names)

	require.NoError(t, store.Delete(ctx, "checkpoints/1.ckpt"))
	_, err = store.Open(ctx, "checkpoints/1.ckpt")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
