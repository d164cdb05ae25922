// Package finalize implements the Finalizer: the exclusive
// post-assembly pipeline that verifies a completed blob and drives a
// session to its terminal state.
package finalize

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/nimbusfiles/upload-coordinator/internal/telemetry"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/blobstore"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/errs"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/metastore"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/validator"
	"github.com/nimbusfiles/upload-coordinator/pkg/types"
)

// Finalizer runs the PROCESSING verification pipeline.
type Finalizer struct {
	meta  *metastore.Store
	blobs *blobstore.Store
	valid *validator.Validator
}

// New creates a Finalizer.
func New(meta *metastore.Store, blobs *blobstore.Store, valid *validator.Validator) *Finalizer {
	return &Finalizer{meta: meta, blobs: blobs, valid: valid}
}

// Finalize runs the finalize protocol for sessionID. It is idempotent
// and safe to call concurrently or repeatedly for the same session:
// only the caller that wins the UPLOADING→PROCESSING transition does
// any work; everyone else returns immediately.
func (f *Finalizer) Finalize(ctx context.Context, sessionID uuid.UUID) error {
	start := time.Now()

	claimed, err := f.claim(ctx, sessionID)
	if err != nil {
		return err
	}
	if !claimed {
		log.Debug().Str("session_id", sessionID.String()).Msg("finalize skipped: session not in UPLOADING")
		return nil
	}

	err = f.verify(ctx, sessionID)
	telemetry.FinalizeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		outcome := "failed"
		if updateErr := f.fail(ctx, sessionID, err); updateErr != nil {
			log.Error().Err(updateErr).Str("session_id", sessionID.String()).Msg("failed to mark session FAILED after verification error")
		}
		telemetry.FinalizeTotal.WithLabelValues(outcome).Inc()
		return err
	}

	telemetry.FinalizeTotal.WithLabelValues("completed").Inc()
	return nil
}

// ResumeProcessing re-runs verification for a session RecoveryService
// already found sitting in PROCESSING (a prior Finalize was interrupted
// mid-pipeline). It skips claim entirely: the session is already
// exclusively owned by virtue of being PROCESSING, and bouncing it back
// through UPLOADING first would briefly reopen it to
// sweepAbandonedSessions' reaping.
func (f *Finalizer) ResumeProcessing(ctx context.Context, sessionID uuid.UUID) error {
	start := time.Now()

	err := f.verify(ctx, sessionID)
	telemetry.FinalizeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		outcome := "failed"
		if updateErr := f.fail(ctx, sessionID, err); updateErr != nil {
			log.Error().Err(updateErr).Str("session_id", sessionID.String()).Msg("failed to mark session FAILED after verification error")
		}
		telemetry.FinalizeTotal.WithLabelValues(outcome).Inc()
		return err
	}

	telemetry.FinalizeTotal.WithLabelValues("completed").Inc()
	return nil
}

// claim attempts the UPLOADING→PROCESSING transition under an
// exclusive row lock. It returns false if another caller already won
// or the session is already terminal (the double-finalize defense).
func (f *Finalizer) claim(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	claimed := false
	err := f.meta.GetSessionForUpdate(ctx, sessionID, func(tx *gorm.DB, session *types.Session) error {
		if session.Status != types.SessionUploading {
			return nil
		}
		if err := f.meta.UpdateSessionStatusTx(tx, sessionID, types.SessionProcessing, nil); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// verify performs the expensive checks outside any database
// transaction: actual size, streaming hash, and archive structure.
func (f *Finalizer) verify(ctx context.Context, sessionID uuid.UUID) error {
	session, err := f.meta.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	actualSize, err := f.blobs.Size(ctx, session.BlobPath)
	if err != nil {
		return err
	}
	if actualSize != session.TotalSize {
		return errs.IntegrityFailed("blob size mismatch: expected %d, got %d", session.TotalSize, actualSize)
	}

	finalHash, err := f.valid.HashBlob(session.BlobPath)
	if err != nil {
		return err
	}

	valid, err := f.valid.IsValidArchive(session.BlobPath)
	if err != nil {
		return err
	}
	if !valid {
		return errs.IntegrityFailed("blob failed archive structural validation")
	}

	now := time.Now()
	if err := f.meta.UpdateSessionStatus(ctx, sessionID, types.SessionCompleted, map[string]interface{}{
		"final_hash":   finalHash,
		"completed_at": now,
	}); err != nil {
		return err
	}

	log.Info().
		Str("session_id", sessionID.String()).
		Str("final_hash", finalHash).
		Msg("session finalized")
	return nil
}

// fail marks the session FAILED, recording the verification error.
func (f *Finalizer) fail(ctx context.Context, sessionID uuid.UUID, cause error) error {
	msg := cause.Error()
	log.Warn().Err(cause).Str("session_id", sessionID.String()).Msg("finalize failed")
	return f.meta.UpdateSessionStatus(ctx, sessionID, types.SessionFailed, map[string]interface{}{
		"error_message": &msg,
	})
}
