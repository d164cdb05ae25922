// Package metastore is the transactional record of upload Sessions and
// their constituent Chunks, backed by GORM/Postgres the way
// internal/common.Database wraps *gorm.DB elsewhere in this repository.
package metastore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nimbusfiles/upload-coordinator/internal/common"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/errs"
	"github.com/nimbusfiles/upload-coordinator/pkg/types"
)

// Store provides transactional primitives over Sessions and Chunks.
type Store struct {
	db *common.Database
}

// NewStore creates a new MetaStore over the given database connection.
func NewStore(db *common.Database) *Store {
	return &Store{db: db}
}

func wrapDBErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.NotFound("session not found")
	}
	return errs.Wrap(errs.KindStoreUnavailable, "metastore operation failed", err)
}

// CreateSession inserts a Session row and its total_chunks Chunk rows
// atomically: both tables are written, or neither is.
func (s *Store) CreateSession(ctx context.Context, session *types.Session, chunks []types.Chunk) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(session).Error; err != nil {
			return err
		}
		if len(chunks) > 0 {
			if err := tx.Create(&chunks).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", session.ID.String()).Msg("failed to create session")
		return wrapDBErr(err)
	}
	return nil
}

// GetSession returns a snapshot read of the session row.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*types.Session, error) {
	var session types.Session
	if err := s.db.WithContext(ctx).First(&session, "id = ?", id).Error; err != nil {
		return nil, wrapDBErr(err)
	}
	return &session, nil
}

// GetSessionForUpdate loads the session under a row-level exclusive lock
// held for the lifetime of fn's transaction, then invokes fn with the
// locked row. Used only by the Finalizer and RecoveryService.
func (s *Store) GetSessionForUpdate(ctx context.Context, id uuid.UUID, fn func(tx *gorm.DB, session *types.Session) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session types.Session
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&session, "id = ?", id).Error; err != nil {
			return err
		}
		return fn(tx, &session)
	})
	if err != nil {
		return wrapDBErr(err)
	}
	return nil
}

// MarkChunkSuccess idempotently transitions a chunk to SUCCESS: a no-op if
// the chunk is already SUCCESS.
func (s *Store) MarkChunkSuccess(ctx context.Context, sessionID uuid.UUID, index int) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&types.Chunk{}).
		Where("session_id = ? AND \"index\" = ? AND status = ?", sessionID, index, types.ChunkPending).
		Updates(map[string]interface{}{
			"status":      types.ChunkSuccess,
			"received_at": now,
		}).Error
	if err != nil {
		return wrapDBErr(err)
	}
	return nil
}

// CountChunks returns (total, successful) chunk counts for a session.
func (s *Store) CountChunks(ctx context.Context, sessionID uuid.UUID) (total, successful int64, err error) {
	if err = s.db.WithContext(ctx).Model(&types.Chunk{}).Where("session_id = ?", sessionID).Count(&total).Error; err != nil {
		return 0, 0, wrapDBErr(err)
	}
	if err = s.db.WithContext(ctx).Model(&types.Chunk{}).
		Where("session_id = ? AND status = ?", sessionID, types.ChunkSuccess).
		Count(&successful).Error; err != nil {
		return 0, 0, wrapDBErr(err)
	}
	return total, successful, nil
}

// GetChunk returns a single chunk row.
func (s *Store) GetChunk(ctx context.Context, sessionID uuid.UUID, index int) (*types.Chunk, error) {
	var chunk types.Chunk
	if err := s.db.WithContext(ctx).First(&chunk, "session_id = ? AND \"index\" = ?", sessionID, index).Error; err != nil {
		return nil, wrapDBErr(err)
	}
	return &chunk, nil
}

// ListSessionsByStatus returns all sessions in the given status.
func (s *Store) ListSessionsByStatus(ctx context.Context, status types.SessionStatus) ([]types.Session, error) {
	var sessions []types.Session
	if err := s.db.WithContext(ctx).Where("status = ?", status).Find(&sessions).Error; err != nil {
		return nil, wrapDBErr(err)
	}
	return sessions, nil
}

// ListSessionsOlderThan returns sessions in the given status created
// before cutoff.
func (s *Store) ListSessionsOlderThan(ctx context.Context, status types.SessionStatus, cutoff time.Time) ([]types.Session, error) {
	var sessions []types.Session
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", status, cutoff).
		Find(&sessions).Error
	if err != nil {
		return nil, wrapDBErr(err)
	}
	return sessions, nil
}

// UpdateSessionStatus transitions a session's status and merges any
// additional fields (final_hash, completed_at, error_message) in a single
// short update.
func (s *Store) UpdateSessionStatus(ctx context.Context, id uuid.UUID, status types.SessionStatus, fields map[string]interface{}) error {
	updates := map[string]interface{}{"status": status}
	for k, v := range fields {
		updates[k] = v
	}
	err := s.db.WithContext(ctx).Model(&types.Session{}).Where("id = ?", id).Updates(updates).Error
	if err != nil {
		return wrapDBErr(err)
	}
	return nil
}

// UpdateSessionStatusTx is the same operation, scoped to an existing
// transaction — used by callers that already hold the row lock from
// GetSessionForUpdate.
func (s *Store) UpdateSessionStatusTx(tx *gorm.DB, id uuid.UUID, status types.SessionStatus, fields map[string]interface{}) error {
	updates := map[string]interface{}{"status": status}
	for k, v := range fields {
		updates[k] = v
	}
	if err := tx.Model(&types.Session{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return wrapDBErr(err)
	}
	return nil
}
