package minio

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lexgo/blobstore"
)

func TestObjectKeys(t *testing.T) {
	tests := []struct {
		prefix, name, key string
	}{
		{"", "MANIFEST", "MANIFEST"},
		{"products", "MANIFEST", "products/MANIFEST"},
		{"/collections/products/", "segments/1.idx", "collections/products/segments/1.idx"},
	}
	for _, tt := range tests {
		s := NewStore(nil, "bucket", tt.prefix)
		key := s.objectKey(tt.name)
		assert.Equal(t, tt.key, key)
		assert.Equal(t, tt.name, s.blobName(key))
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/yaml", contentType("EXPORT-7.yaml"))
	assert.Equal(t, "application/octet-stream", contentType("segments/3.idx"))
	assert.Equal(t, "application/octet-stream", contentType("MANIFEST"))
}

// liveStore connects to the MinIO server named by LEXGO_MINIO_ENDPOINT,
// defaulting to localhost:9000, and skips when none answers.
func liveStore(t *testing.T) *Store {
	t.Helper()
	endpoint := os.Getenv("LEXGO_MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:9000"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds: credentials.NewStaticV4("minioadmin", "minioadmin", ""),
	})
	if err != nil {
		t.Skipf("minio client: %v", err)
	}
	ctx := context.Background()
	if _, err := client.ListBuckets(ctx); err != nil {
		t.Skipf("minio not available: %v", err)
	}

	const bucket = "test-lexgo"
	ok, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !ok {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}
	return NewStore(client, bucket, "test-prefix/")
}

func TestMinioStore_Integration(t *testing.T) {
	store := liveStore(t)
	ctx := context.Background()

	t.Run("put and read", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "MANIFEST", []byte("hello minio world")))
		t.Cleanup(func() { _ = store.Delete(ctx, "MANIFEST") })

		data, err := blobstore.Get(ctx, store, "MANIFEST")
		require.NoError(t, err)
		assert.Equal(t, "hello minio world", string(data))

		b, err := store.Open(ctx, "MANIFEST")
		require.NoError(t, err)
		defer func() { _ = b.Close() }()
		rc, err := b.ReadRange(ctx, 6, 5)
		require.NoError(t, err)
		part, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, "minio", string(part))
	})

	t.Run("stream and list", func(t *testing.T) {
		w, err := store.Create(ctx, "segments/1.idx")
		require.NoError(t, err)
		_, err = w.Write([]byte("streamed data"))
		require.NoError(t, err)
		require.NoError(t, w.Close())
		t.Cleanup(func() { _ = store.Delete(ctx, "segments/1.idx") })

		names, err := store.List(ctx, "segments/")
		require.NoError(t, err)
		assert.Contains(t, names, "segments/1.idx")

		b, err := store.Open(ctx, "segments/1.idx")
		require.NoError(t, err)
		assert.Equal(t, int64(13), b.Size())
		require.NoError(t, b.Close())
	})

	t.Run("abort leaves nothing", func(t *testing.T) {
		w, err := store.Create(ctx, "segments/2.idx")
		require.NoError(t, err)
		_, err = w.Write([]byte("partial"))
		require.NoError(t, err)
		require.NoError(t, w.Abort())

		_, err = store.Open(ctx, "segments/2.idx")
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})

	t.Run("delete missing", func(t *testing.T) {
		assert.NoError(t, store.Delete(ctx, "segments/404.idx"))
	})
}
