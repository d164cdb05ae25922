package types

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of an upload Session.
type SessionStatus string

const (
	// SessionUploading accepts chunk writes.
	SessionUploading SessionStatus = "UPLOADING"
	// SessionProcessing is held exclusively by the Finalizer; no new chunks are accepted.
	SessionProcessing SessionStatus = "PROCESSING"
	// SessionCompleted is terminal: size, hash and archive structure have all verified.
	SessionCompleted SessionStatus = "COMPLETED"
	// SessionFailed is terminal: integrity or structural verification failed, or the
	// session was abandoned.
	SessionFailed SessionStatus = "FAILED"
)

// ChunkStatus is the lifecycle state of a single Chunk row.
type ChunkStatus string

const (
	// ChunkPending has not yet been received.
	ChunkPending ChunkStatus = "PENDING"
	// ChunkSuccess has been written to the blob and the write is durable.
	ChunkSuccess ChunkStatus = "SUCCESS"
)

// Session is one upload attempt: an opaque id, a target blob, and the
// fixed-cardinality set of Chunks that compose it.
type Session struct {
	ID           uuid.UUID     `json:"id" gorm:"primaryKey;type:uuid"`
	Filename     string        `json:"filename" gorm:"not null"`
	ContentType  string        `json:"content_type"`
	TotalSize    int64         `json:"total_size" gorm:"not null"`
	TotalChunks  int           `json:"total_chunks" gorm:"not null"`
	Status       SessionStatus `json:"status" gorm:"not null;index"`
	BlobPath     string        `json:"-" gorm:"not null"`
	FinalHash    *string       `json:"final_hash,omitempty"`
	ErrorMessage *string       `json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at" gorm:"index"`
	UpdatedAt    time.Time     `json:"updated_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`

	Chunks []Chunk `json:"-" gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

// Chunk is one (session, index) pair, pre-materialized at session creation time.
type Chunk struct {
	SessionID  uuid.UUID   `json:"session_id" gorm:"primaryKey;type:uuid"`
	Index      int         `json:"index" gorm:"primaryKey"`
	Status     ChunkStatus `json:"status" gorm:"not null"`
	ReceivedAt *time.Time  `json:"received_at,omitempty"`
}

// Progress summarizes chunk completion for status responses.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// InitUploadRequest is the body of POST /upload/init.
type InitUploadRequest struct {
	Filename    string `json:"filename" binding:"required"`
	TotalSize   int64  `json:"total_size" binding:"required"`
	TotalChunks int    `json:"total_chunks" binding:"required"`
}

// InitUploadResponse is the response of POST /upload/init.
type InitUploadResponse struct {
	SessionID      uuid.UUID `json:"session_id"`
	UploadedChunks []int     `json:"uploaded_chunks"`
}

// ChunkUploadResponse is the response of POST /upload/chunk.
type ChunkUploadResponse struct {
	ChunkIndex int      `json:"chunk_index"`
	Duplicate  bool     `json:"duplicate"`
	Progress   Progress `json:"progress"`
}

// StatusResponse is the response of GET /upload/{id}/status.
type StatusResponse struct {
	Session  *Session `json:"session"`
	Progress Progress `json:"progress"`
}

// ArchiveEntry describes one entry of an assembled archive's central directory.
type ArchiveEntry struct {
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	Compressed  int64     `json:"compressed"`
	IsDirectory bool      `json:"is_directory"`
	Modified    time.Time `json:"modified"`
}

// ContentsResponse is the response of GET /upload/{id}/contents.
type ContentsResponse struct {
	Entries []ArchiveEntry `json:"entries"`
}

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
