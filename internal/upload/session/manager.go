// Package session implements SessionManager: validates and creates new
// upload sessions, checking every input before anything is created.
package session

import (
	"context"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nimbusfiles/upload-coordinator/internal/upload/blobstore"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/errs"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/metastore"
	"github.com/nimbusfiles/upload-coordinator/pkg/types"
)

// Manager creates upload sessions.
type Manager struct {
	meta             *metastore.Store
	blobs            *blobstore.Store
	archiveExtension string
}

// New creates a SessionManager that accepts only files ending in
// archiveExtension (e.g. ".zip").
func New(meta *metastore.Store, blobs *blobstore.Store, archiveExtension string) *Manager {
	return &Manager{meta: meta, blobs: blobs, archiveExtension: archiveExtension}
}

// Initialize validates the request, preallocates the blob, and creates
// the Session and its Chunk rows in a single transaction. The returned
// uploadedIndices is always empty for a fresh session.
func (m *Manager) Initialize(ctx context.Context, filename string, totalSize int64, totalChunks int) (sessionID uuid.UUID, uploadedIndices []int, err error) {
	if totalSize <= 0 {
		return uuid.Nil, nil, errs.BadRequest("total_size must be > 0")
	}
	if totalChunks <= 0 {
		return uuid.Nil, nil, errs.BadRequest("total_chunks must be > 0")
	}
	if !strings.HasSuffix(strings.ToLower(filename), strings.ToLower(m.archiveExtension)) {
		return uuid.Nil, nil, errs.BadRequest("filename must end in %s", m.archiveExtension)
	}

	id := uuid.New()
	blobPath := blobstore.SessionBlobPath(id.String(), m.archiveExtension)

	if err := m.blobs.Preallocate(ctx, blobPath, totalSize); err != nil {
		log.Error().Err(err).Str("session_id", id.String()).Msg("failed to preallocate blob for new session")
		return uuid.Nil, nil, err
	}

	session := &types.Session{
		ID:          id,
		Filename:    filename,
		ContentType: sniffContentType(filename),
		TotalSize:   totalSize,
		TotalChunks: totalChunks,
		Status:      types.SessionUploading,
		BlobPath:    blobPath,
	}

	chunks := make([]types.Chunk, totalChunks)
	for i := 0; i < totalChunks; i++ {
		chunks[i] = types.Chunk{SessionID: id, Index: i, Status: types.ChunkPending}
	}

	if err := m.meta.CreateSession(ctx, session, chunks); err != nil {
		log.Error().Err(err).Str("session_id", id.String()).Msg("failed to create session records")
		return uuid.Nil, nil, err
	}

	log.Info().
		Str("session_id", id.String()).
		Str("filename", filename).
		Int64("total_size", totalSize).
		Int("total_chunks", totalChunks).
		Msg("upload session initialized")

	return id, []int{}, nil
}

// sniffContentType returns a best-effort MIME type from the filename
// extension, for display purposes only.
func sniffContentType(filename string) string {
	ct := mime.TypeByExtension(filepath.Ext(filename))
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}
