// Package ingest implements ChunkIngestor: validates, writes, and
// records a single chunk, then advisorily triggers finalization once
// every chunk has landed.
package ingest

import (
	"bytes"
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nimbusfiles/upload-coordinator/internal/telemetry"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/blobstore"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/errs"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/metastore"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/queue"
	"github.com/nimbusfiles/upload-coordinator/pkg/types"
	"github.com/nimbusfiles/upload-coordinator/pkg/utils"
)

// Result is the outcome of accepting a chunk.
type Result string

const (
	// Accepted means the chunk was written and marked SUCCESS.
	Accepted Result = "accepted"
	// Duplicate means the chunk was already SUCCESS; no write occurred.
	Duplicate Result = "duplicate"
)

// Ingestor accepts chunk uploads for sessions in UPLOADING state.
type Ingestor struct {
	meta      *metastore.Store
	blobs     *blobstore.Store
	finalize  *queue.FinalizeQueue
	chunkSize int64
}

// New creates a ChunkIngestor. finalize may be nil, in which case the
// advisory trigger is skipped and only RecoveryService sweeps drive
// finalization (useful in tests that don't stand up Redis).
func New(meta *metastore.Store, blobs *blobstore.Store, finalize *queue.FinalizeQueue, chunkSize int64) *Ingestor {
	return &Ingestor{meta: meta, blobs: blobs, finalize: finalize, chunkSize: chunkSize}
}

// AcceptChunk validates session and index state, stages the payload
// into a bounded buffer to check its length against the chunk's exact
// expected size, writes it into the blob at its offset, and marks the
// chunk SUCCESS. If expectedHash is non-empty the staged bytes are also
// hashed and checked before the write commits.
func (i *Ingestor) AcceptChunk(ctx context.Context, sessionID uuid.UUID, index int, payload io.Reader, expectedHash string) (Result, types.Progress, error) {
	session, err := i.meta.GetSession(ctx, sessionID)
	if err != nil {
		return "", types.Progress{}, err
	}

	if session.Status != types.SessionUploading {
		telemetry.ChunksAcceptedTotal.WithLabelValues("rejected").Inc()
		return "", types.Progress{}, errs.Conflict("session %s is not accepting chunks (status=%s)", sessionID, session.Status)
	}
	if index < 0 || index >= session.TotalChunks {
		telemetry.ChunksAcceptedTotal.WithLabelValues("rejected").Inc()
		return "", types.Progress{}, errs.BadRequest("chunk index %d out of range [0, %d)", index, session.TotalChunks)
	}

	chunk, err := i.meta.GetChunk(ctx, sessionID, index)
	if err != nil {
		return "", types.Progress{}, err
	}
	if chunk.Status == types.ChunkSuccess {
		total, successful, err := i.meta.CountChunks(ctx, sessionID)
		if err != nil {
			return "", types.Progress{}, err
		}
		telemetry.ChunksAcceptedTotal.WithLabelValues("duplicate").Inc()
		return Duplicate, types.Progress{Completed: int(successful), Total: int(total)}, nil
	}

	offset := int64(index) * i.chunkSize
	expectedLen := i.expectedChunkLength(session, index)

	// Stage into a bounded buffer before any write: this is what lets a
	// too-long or too-short chunk be rejected without ever touching the
	// blob, instead of discovering the mismatch after it has already
	// overwritten bytes belonging to the next chunk's offset range.
	var buf bytes.Buffer
	buf.Grow(int(expectedLen))
	n, err := io.CopyN(&buf, payload, expectedLen+1)
	if err != nil && err != io.EOF {
		return "", types.Progress{}, errs.Wrap(errs.KindBlobIO, "failed to stage chunk payload", err)
	}
	if n != expectedLen {
		telemetry.ChunksAcceptedTotal.WithLabelValues("rejected").Inc()
		return "", types.Progress{}, errs.BadRequest("chunk %d length %d does not match expected length %d", index, n, expectedLen)
	}
	payload = &buf

	if expectedHash != "" {
		actualHash := utils.ComputeSHA256(buf.Bytes())
		if actualHash != expectedHash {
			log.Warn().
				Str("session_id", sessionID.String()).
				Int("index", index).
				Str("expected", expectedHash).
				Str("actual", actualHash).
				Msg("chunk hash mismatch")
			telemetry.ChunksAcceptedTotal.WithLabelValues("rejected").Inc()
			return "", types.Progress{}, errs.IntegrityFailed("chunk %d hash mismatch", index)
		}
	}

	if _, err := i.blobs.WriteAt(ctx, session.BlobPath, offset, payload); err != nil {
		return "", types.Progress{}, err
	}

	if err := i.meta.MarkChunkSuccess(ctx, sessionID, index); err != nil {
		return "", types.Progress{}, err
	}

	total, successful, err := i.meta.CountChunks(ctx, sessionID)
	if err != nil {
		return "", types.Progress{}, err
	}

	log.Debug().
		Str("session_id", sessionID.String()).
		Int("index", index).
		Int64("successful", successful).
		Int64("total", total).
		Msg("chunk accepted")
	telemetry.ChunksAcceptedTotal.WithLabelValues("accepted").Inc()

	if successful == total && i.finalize != nil {
		if err := i.finalize.Enqueue(ctx, sessionID); err != nil {
			// Advisory: enqueue failures do not fail the request.
			// RecoveryService will still find and finalize the session.
			log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("failed to enqueue finalize trigger")
		}
	}

	return Accepted, types.Progress{Completed: int(successful), Total: int(total)}, nil
}

// expectedChunkLength returns the exact byte length index must carry:
// chunkSize for every chunk but the last, and the remainder of
// TotalSize for the last one.
func (i *Ingestor) expectedChunkLength(session *types.Session, index int) int64 {
	if index < session.TotalChunks-1 {
		return i.chunkSize
	}
	return session.TotalSize - i.chunkSize*int64(session.TotalChunks-1)
}
