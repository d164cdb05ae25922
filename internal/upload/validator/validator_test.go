package validator

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusfiles/upload-coordinator/internal/upload/blobstore"
	"github.com/nimbusfiles/upload-coordinator/pkg/utils"
)

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for name, content := range files {
		entry, err := w.Create(name)
		require.NoError(t, err)
		_, err = entry.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
}

func TestHashBlobMatchesComputeSHA256(t *testing.T) {
	dir := t.TempDir()
	store, err := blobstore.NewStore(dir)
	require.NoError(t, err)

	content := []byte("archive body bytes")
	require.NoError(t, store.Preallocate(context.Background(), "b.zip", int64(len(content))))
	_, err = store.WriteAt(context.Background(), "b.zip", 0, bytes.NewReader(content))
	require.NoError(t, err)

	v := New(store)
	got, err := v.HashBlob("b.zip")
	require.NoError(t, err)
	assert.Equal(t, utils.ComputeSHA256(content), got)
}

func TestIsValidArchiveTrueForWellFormedZip(t *testing.T) {
	dir := t.TempDir()
	store, err := blobstore.NewStore(dir)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "good.zip")
	writeZip(t, path, map[string]string{"a.txt": "hello"})

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, store.Preallocate(context.Background(), "good.zip", info.Size()))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = store.WriteAt(context.Background(), "good.zip", 0, bytes.NewReader(data))
	require.NoError(t, err)

	v := New(store)
	ok, err := v.IsValidArchive("good.zip")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIsValidArchiveFalseForGarbage(t *testing.T) {
	dir := t.TempDir()
	store, err := blobstore.NewStore(dir)
	require.NoError(t, err)

	garbage := []byte("not a zip file at all")
	require.NoError(t, store.Preallocate(context.Background(), "bad.zip", int64(len(garbage))))
	_, err = store.WriteAt(context.Background(), "bad.zip", 0, bytes.NewReader(garbage))
	require.NoError(t, err)

	v := New(store)
	ok, err := v.IsValidArchive("bad.zip")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListEntriesReturnsCentralDirectory(t *testing.T) {
	dir := t.TempDir()
	store, err := blobstore.NewStore(dir)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "multi.zip")
	writeZip(t, path, map[string]string{"a.txt": "hello", "b.txt": "world!!"})

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, store.Preallocate(context.Background(), "multi.zip", info.Size()))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = store.WriteAt(context.Background(), "multi.zip", 0, bytes.NewReader(data))
	require.NoError(t, err)

	v := New(store)
	entries, err := v.ListEntries("multi.zip")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
