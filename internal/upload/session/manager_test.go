package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nimbusfiles/upload-coordinator/internal/common"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/blobstore"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/errs"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/metastore"
	"github.com/nimbusfiles/upload-coordinator/pkg/types"
)

func setupTestDB(t *testing.T) *common.Database {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.Session{}, &types.Chunk{}))
	return &common.Database{DB: db}
}

func setupManager(t *testing.T) *Manager {
	db := setupTestDB(t)
	blobs, err := blobstore.NewStore(t.TempDir())
	require.NoError(t, err)
	return New(metastore.NewStore(db), blobs, ".zip")
}

func TestInitializeCreatesSessionAndChunks(t *testing.T) {
	m := setupManager(t)

	id, uploaded, err := m.Initialize(context.Background(), "archive.zip", 100, 4)
	require.NoError(t, err)
	assert.NotEqual(t, id.String(), "")
	assert.Empty(t, uploaded)

	session, err := m.meta.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.SessionUploading, session.Status)
	assert.Equal(t, int64(100), session.TotalSize)
	assert.Equal(t, 4, session.TotalChunks)

	total, successful, err := m.meta.CountChunks(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Equal(t, int64(0), successful)

	size, err := m.blobs.Size(context.Background(), session.BlobPath)
	require.NoError(t, err)
	assert.Equal(t, int64(100), size)
}

func TestInitializeRejectsNonPositiveSize(t *testing.T) {
	m := setupManager(t)

	_, _, err := m.Initialize(context.Background(), "archive.zip", 0, 4)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindBadRequest))
}

func TestInitializeRejectsNonPositiveChunkCount(t *testing.T) {
	m := setupManager(t)

	_, _, err := m.Initialize(context.Background(), "archive.zip", 100, 0)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindBadRequest))
}

func TestInitializeRejectsWrongExtension(t *testing.T) {
	m := setupManager(t)

	_, _, err := m.Initialize(context.Background(), "archive.tar", 100, 4)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindBadRequest))
}
