// Package recovery implements RecoveryService: the startup-and-ticker
// sweep that drives stuck or abandoned sessions back to a terminal or
// resumable state, following the ticker shape of the teacher's OCI
// SessionManager.cleanupRoutine.
package recovery

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nimbusfiles/upload-coordinator/internal/telemetry"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/blobstore"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/finalize"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/metastore"
	"github.com/nimbusfiles/upload-coordinator/pkg/types"
)

// Service runs the crash-recovery sweeps against stuck sessions.
type Service struct {
	meta           *metastore.Store
	blobs          *blobstore.Store
	finalizer      *finalize.Finalizer
	abandonTimeout time.Duration
}

// New creates a RecoveryService.
func New(meta *metastore.Store, blobs *blobstore.Store, finalizer *finalize.Finalizer, abandonTimeout time.Duration) *Service {
	return &Service{meta: meta, blobs: blobs, finalizer: finalizer, abandonTimeout: abandonTimeout}
}

// RunSweep runs Sweep A then Sweep B once.
func (s *Service) RunSweep(ctx context.Context) {
	s.sweepInterruptedFinalization(ctx)
	s.sweepAbandonedSessions(ctx)
	s.reportActiveSessions(ctx)
}

func (s *Service) reportActiveSessions(ctx context.Context) {
	uploading, err := s.meta.ListSessionsByStatus(ctx, types.SessionUploading)
	if err != nil {
		log.Error().Err(err).Msg("failed to count active sessions for telemetry")
		return
	}
	telemetry.ActiveSessions.Set(float64(len(uploading)))
}

// Start runs RunSweep immediately, then again on every tick of
// interval, until ctx is canceled.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	s.RunSweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("recovery service stopped")
			return
		case <-ticker.C:
			s.RunSweep(ctx)
		}
	}
}

// sweepInterruptedFinalization is Sweep A: sessions stuck in
// PROCESSING (the finalizer crashed mid-pipeline), plus the extension
// that also re-checks UPLOADING sessions whose chunks are all already
// SUCCESS but whose advisory finalize trigger was lost.
func (s *Service) sweepInterruptedFinalization(ctx context.Context) {
	start := time.Now()
	defer func() {
		telemetry.RecoverySweepDuration.WithLabelValues("interrupted_finalization").Observe(time.Since(start).Seconds())
	}()

	processing, err := s.meta.ListSessionsByStatus(ctx, types.SessionProcessing)
	if err != nil {
		log.Error().Err(err).Msg("sweep A: failed to list PROCESSING sessions")
		return
	}

	for _, session := range processing {
		s.recoverProcessingSession(ctx, session)
	}

	uploading, err := s.meta.ListSessionsByStatus(ctx, types.SessionUploading)
	if err != nil {
		log.Error().Err(err).Msg("sweep A: failed to list UPLOADING sessions")
		return
	}

	for _, session := range uploading {
		total, successful, err := s.meta.CountChunks(ctx, session.ID)
		if err != nil {
			log.Error().Err(err).Str("session_id", session.ID.String()).Msg("sweep A: failed to count chunks")
			continue
		}
		if total > 0 && successful == total {
			log.Info().Str("session_id", session.ID.String()).Msg("sweep A: all chunks present on UPLOADING session, re-triggering finalize")
			telemetry.RecoveryActionsTotal.WithLabelValues("interrupted_finalization", "finalize_triggered").Inc()
			if err := s.finalizer.Finalize(ctx, session.ID); err != nil {
				log.Warn().Err(err).Str("session_id", session.ID.String()).Msg("sweep A: finalize attempt failed")
			}
		}
	}
}

func (s *Service) recoverProcessingSession(ctx context.Context, session types.Session) {
	exists, err := s.blobs.Exists(ctx, session.BlobPath)
	if err != nil {
		log.Error().Err(err).Str("session_id", session.ID.String()).Msg("sweep A: failed to check blob existence")
		return
	}

	if !exists {
		log.Warn().Str("session_id", session.ID.String()).Msg("sweep A: blob missing for PROCESSING session, marking FAILED")
		telemetry.RecoveryActionsTotal.WithLabelValues("interrupted_finalization", "marked_failed").Inc()
		msg := "blob missing during recovery"
		if err := s.meta.UpdateSessionStatus(ctx, session.ID, types.SessionFailed, map[string]interface{}{
			"error_message": &msg,
		}); err != nil {
			log.Error().Err(err).Str("session_id", session.ID.String()).Msg("sweep A: failed to mark session FAILED")
		}
		return
	}

	total, successful, err := s.meta.CountChunks(ctx, session.ID)
	if err != nil {
		log.Error().Err(err).Str("session_id", session.ID.String()).Msg("sweep A: failed to count chunks")
		return
	}

	if successful < total {
		log.Warn().Str("session_id", session.ID.String()).Msg("sweep A: PROCESSING session missing chunks, resetting to UPLOADING")
		telemetry.RecoveryActionsTotal.WithLabelValues("interrupted_finalization", "reset_uploading").Inc()
		if err := s.meta.UpdateSessionStatus(ctx, session.ID, types.SessionUploading, nil); err != nil {
			log.Error().Err(err).Str("session_id", session.ID.String()).Msg("sweep A: failed to reset session to UPLOADING")
		}
		return
	}

	log.Info().Str("session_id", session.ID.String()).Msg("sweep A: resuming verification for interrupted PROCESSING session")
	telemetry.RecoveryActionsTotal.WithLabelValues("interrupted_finalization", "finalize_resumed").Inc()

	// The session is already exclusively owned by virtue of being
	// PROCESSING; ResumeProcessing re-runs verification directly instead
	// of bouncing the status through UPLOADING, which would otherwise
	// briefly expose the session to sweepAbandonedSessions' reaping.
	if err := s.finalizer.ResumeProcessing(ctx, session.ID); err != nil {
		log.Warn().Err(err).Str("session_id", session.ID.String()).Msg("sweep A: finalize retry failed")
	}
}

// sweepAbandonedSessions is Sweep B: UPLOADING sessions past the
// abandonment timeout are reaped. The blob is deleted before the
// status update so a crash between the two leaves a UPLOADING session
// with a missing blob, which sweepInterruptedFinalization's blob-exists
// check on a future sweep would not catch (that check runs on
// PROCESSING, not UPLOADING) — so the next Sweep B pass simply retries
// the same deletion (idempotent) and the FAILED transition.
func (s *Service) sweepAbandonedSessions(ctx context.Context) {
	start := time.Now()
	defer func() {
		telemetry.RecoverySweepDuration.WithLabelValues("abandoned_sessions").Observe(time.Since(start).Seconds())
	}()

	cutoff := time.Now().Add(-s.abandonTimeout)
	abandoned, err := s.meta.ListSessionsOlderThan(ctx, types.SessionUploading, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("sweep B: failed to list abandoned sessions")
		return
	}

	for _, session := range abandoned {
		log.Info().Str("session_id", session.ID.String()).Time("created_at", session.CreatedAt).Msg("sweep B: reaping abandoned session")
		telemetry.RecoveryActionsTotal.WithLabelValues("abandoned_sessions", "reaped").Inc()

		if err := s.blobs.Delete(ctx, session.BlobPath); err != nil {
			log.Error().Err(err).Str("session_id", session.ID.String()).Msg("sweep B: failed to delete blob")
			continue
		}

		msg := "session abandoned past timeout"
		if err := s.meta.UpdateSessionStatus(ctx, session.ID, types.SessionFailed, map[string]interface{}{
			"error_message": &msg,
		}); err != nil {
			log.Error().Err(err).Str("session_id", session.ID.String()).Msg("sweep B: failed to mark session FAILED")
		}
	}
}
