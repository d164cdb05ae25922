package blobstore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)
	return store
}

func TestPreallocateCreatesExactSize(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Preallocate(ctx, "session-1.zip", 1024))

	size, err := store.Size(ctx, "session-1.zip")
	require.NoError(t, err)
	assert.Equal(t, int64(1024), size)
}

func TestWriteAtNonOverlappingOffsets(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	const chunkSize = 16
	total := int64(chunkSize * 2)
	require.NoError(t, store.Preallocate(ctx, "blob.zip", total))

	chunk0 := bytes.Repeat([]byte{0xAA}, chunkSize)
	chunk1 := bytes.Repeat([]byte{0xBB}, chunkSize)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := store.WriteAt(ctx, "blob.zip", 0, bytes.NewReader(chunk0))
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := store.WriteAt(ctx, "blob.zip", chunkSize, bytes.NewReader(chunk1))
		assert.NoError(t, err)
	}()
	wg.Wait()

	data, err := os.ReadFile(filepath.Join(store.baseDir, "blob.zip"))
	require.NoError(t, err)
	assert.Equal(t, chunk0, data[:chunkSize])
	assert.Equal(t, chunk1, data[chunkSize:])
}

func TestWriteAtDoesNotExtendOrTruncate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Preallocate(ctx, "blob.zip", 10))
	_, err := store.WriteAt(ctx, "blob.zip", 0, bytes.NewReader([]byte("hello")))
	require.NoError(t, err)

	size, err := store.Size(ctx, "blob.zip")
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Delete(ctx, "never-existed.zip"))

	require.NoError(t, store.Preallocate(ctx, "blob.zip", 4))
	require.NoError(t, store.Delete(ctx, "blob.zip"))
	require.NoError(t, store.Delete(ctx, "blob.zip"))

	exists, err := store.Exists(ctx, "blob.zip")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSizeNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Size(ctx, "missing.zip")
	assert.Error(t, err)
}
