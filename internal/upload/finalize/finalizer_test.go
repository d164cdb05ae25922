package finalize

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nimbusfiles/upload-coordinator/internal/common"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/blobstore"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/metastore"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/validator"
	"github.com/nimbusfiles/upload-coordinator/pkg/types"
)

func setupFinalizer(t *testing.T) (*Finalizer, *metastore.Store, *blobstore.Store) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.Session{}, &types.Chunk{}))
	meta := metastore.NewStore(&common.Database{DB: db})

	blobs, err := blobstore.NewStore(t.TempDir())
	require.NoError(t, err)

	v := validator.New(blobs)
	return New(meta, blobs, v), meta, blobs
}

func writeValidZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	entry, err := w.Create("payload.txt")
	require.NoError(t, err)
	_, err = entry.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func createSession(t *testing.T, meta *metastore.Store, blobs *blobstore.Store, status types.SessionStatus, data []byte) uuid.UUID {
	id := uuid.New()
	blobPath := id.String() + ".zip"
	session := &types.Session{
		ID:          id,
		Filename:    "a.zip",
		TotalSize:   int64(len(data)),
		TotalChunks: 1,
		Status:      types.SessionUploading,
		BlobPath:    blobPath,
	}
	chunks := []types.Chunk{{SessionID: id, Index: 0, Status: types.ChunkSuccess}}
	require.NoError(t, meta.CreateSession(context.Background(), session, chunks))
	require.NoError(t, blobs.Preallocate(context.Background(), blobPath, int64(len(data))))
	_, err := blobs.WriteAt(context.Background(), blobPath, 0, bytes.NewReader(data))
	require.NoError(t, err)

	if status != types.SessionUploading {
		require.NoError(t, meta.UpdateSessionStatus(context.Background(), id, status, nil))
	}
	return id
}

func TestFinalizeCompletesValidArchive(t *testing.T) {
	f, meta, blobs := setupFinalizer(t)
	data := writeValidZip(t)
	id := createSession(t, meta, blobs, types.SessionUploading, data)

	require.NoError(t, f.Finalize(context.Background(), id))

	session, err := meta.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.SessionCompleted, session.Status)
	require.NotNil(t, session.FinalHash)
	assert.NotEmpty(t, *session.FinalHash)
	assert.NotNil(t, session.CompletedAt)
}

func TestFinalizeFailsOnInvalidArchive(t *testing.T) {
	f, meta, blobs := setupFinalizer(t)
	id := createSession(t, meta, blobs, types.SessionUploading, []byte("not a zip"))

	err := f.Finalize(context.Background(), id)
	require.Error(t, err)

	session, err2 := meta.GetSession(context.Background(), id)
	require.NoError(t, err2)
	assert.Equal(t, types.SessionFailed, session.Status)
}

func TestFinalizeSkipsSessionNotUploading(t *testing.T) {
	f, meta, blobs := setupFinalizer(t)
	id := createSession(t, meta, blobs, types.SessionCompleted, []byte("x"))

	require.NoError(t, f.Finalize(context.Background(), id))

	session, err := meta.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.SessionCompleted, session.Status)
}

func TestFinalizeFailsOnSizeMismatch(t *testing.T) {
	f, meta, blobs := setupFinalizer(t)
	id := createSession(t, meta, blobs, types.SessionUploading, []byte("short"))

	// Corrupt the recorded total size after the fact to force a mismatch.
	require.NoError(t, meta.UpdateSessionStatus(context.Background(), id, types.SessionUploading, map[string]interface{}{
		"total_size": int64(99999),
	}))

	err := f.Finalize(context.Background(), id)
	require.Error(t, err)

	session, err2 := meta.GetSession(context.Background(), id)
	require.NoError(t, err2)
	assert.Equal(t, types.SessionFailed, session.Status)
}

