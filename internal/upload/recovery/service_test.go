package recovery

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nimbusfiles/upload-coordinator/internal/common"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/blobstore"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/finalize"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/metastore"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/validator"
	"github.com/nimbusfiles/upload-coordinator/pkg/types"
)

func setupService(t *testing.T) (*Service, *metastore.Store, *blobstore.Store) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.Session{}, &types.Chunk{}))
	meta := metastore.NewStore(&common.Database{DB: db})

	blobs, err := blobstore.NewStore(t.TempDir())
	require.NoError(t, err)

	v := validator.New(blobs)
	f := finalize.New(meta, blobs, v)
	return New(meta, blobs, f, 24*time.Hour), meta, blobs
}

func validZipBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	entry, err := w.Create("payload.txt")
	require.NoError(t, err)
	_, err = entry.Write([]byte("ok"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func seedSession(t *testing.T, meta *metastore.Store, blobs *blobstore.Store, status types.SessionStatus, data []byte, chunkStatus types.ChunkStatus, createdAt time.Time) uuid.UUID {
	id := uuid.New()
	blobPath := id.String() + ".zip"
	session := &types.Session{
		ID:          id,
		Filename:    "a.zip",
		TotalSize:   int64(len(data)),
		TotalChunks: 1,
		Status:      types.SessionUploading,
		BlobPath:    blobPath,
		CreatedAt:   createdAt,
	}
	chunks := []types.Chunk{{SessionID: id, Index: 0, Status: chunkStatus}}
	require.NoError(t, meta.CreateSession(context.Background(), session, chunks))
	require.NoError(t, blobs.Preallocate(context.Background(), blobPath, int64(len(data))))
	_, err := blobs.WriteAt(context.Background(), blobPath, 0, bytes.NewReader(data))
	require.NoError(t, err)

	if status != types.SessionUploading {
		require.NoError(t, meta.UpdateSessionStatus(context.Background(), id, status, nil))
	}
	return id
}

func TestSweepAResetsProcessingSessionMissingChunks(t *testing.T) {
	svc, meta, blobs := setupService(t)
	id := seedSession(t, meta, blobs, types.SessionProcessing, []byte("data"), types.ChunkPending, time.Now())

	svc.sweepInterruptedFinalization(context.Background())

	session, err := meta.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.SessionUploading, session.Status)
}

func TestSweepAFailsProcessingSessionWithMissingBlob(t *testing.T) {
	svc, meta, blobs := setupService(t)
	id := seedSession(t, meta, blobs, types.SessionProcessing, []byte("data"), types.ChunkSuccess, time.Now())

	session, err := meta.GetSession(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, blobs.Delete(context.Background(), session.BlobPath))

	svc.sweepInterruptedFinalization(context.Background())

	session, err = meta.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.SessionFailed, session.Status)
}

func TestSweepAResumesInterruptedFinalizeToCompleted(t *testing.T) {
	svc, meta, blobs := setupService(t)
	data := validZipBytes(t)
	id := seedSession(t, meta, blobs, types.SessionProcessing, data, types.ChunkSuccess, time.Now())

	svc.sweepInterruptedFinalization(context.Background())

	session, err := meta.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.SessionCompleted, session.Status)
}

func TestSweepAFinalizesUploadingSessionWithAllChunksSuccess(t *testing.T) {
	svc, meta, blobs := setupService(t)
	data := validZipBytes(t)
	id := seedSession(t, meta, blobs, types.SessionUploading, data, types.ChunkSuccess, time.Now())

	svc.sweepInterruptedFinalization(context.Background())

	session, err := meta.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.SessionCompleted, session.Status)
}

func TestSweepBReapsAbandonedSession(t *testing.T) {
	svc, meta, blobs := setupService(t)
	old := time.Now().Add(-48 * time.Hour)
	id := seedSession(t, meta, blobs, types.SessionUploading, []byte("data"), types.ChunkPending, old)

	svc.sweepAbandonedSessions(context.Background())

	session, err := meta.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.SessionFailed, session.Status)

	exists, err := blobs.Exists(context.Background(), session.BlobPath)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSweepBIgnoresRecentSessions(t *testing.T) {
	svc, meta, blobs := setupService(t)
	id := seedSession(t, meta, blobs, types.SessionUploading, []byte("data"), types.ChunkPending, time.Now())

	svc.sweepAbandonedSessions(context.Background())

	session, err := meta.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.SessionUploading, session.Status)
}
