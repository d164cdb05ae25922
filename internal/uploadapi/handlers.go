// Package uploadapi wires the Upload Coordinator's gin HTTP handlers:
// one handler per route, with Coordinator errors mapped to an HTTP
// status and a JSON error body.
package uploadapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nimbusfiles/upload-coordinator/internal/upload/errs"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/finalize"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/ingest"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/metastore"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/session"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/validator"
	"github.com/nimbusfiles/upload-coordinator/pkg/types"
)

// Handlers holds the services the HTTP surface delegates to.
type Handlers struct {
	sessions  *session.Manager
	ingestor  *ingest.Ingestor
	meta      *metastore.Store
	finalizer *finalize.Finalizer
	valid     *validator.Validator
}

// New creates the Handlers for the four Upload Coordinator endpoints.
func New(sessions *session.Manager, ingestor *ingest.Ingestor, meta *metastore.Store, finalizer *finalize.Finalizer, valid *validator.Validator) *Handlers {
	return &Handlers{sessions: sessions, ingestor: ingestor, meta: meta, finalizer: finalizer, valid: valid}
}

// writeError maps an *errs.Error to its HTTP status and JSON body.
// Unrecognized errors are treated as infrastructure failures (500).
func writeError(c *gin.Context, err error) {
	var e *errs.Error
	status := http.StatusInternalServerError
	if errors.As(err, &e) {
		switch e.Kind {
		case errs.KindBadRequest:
			status = http.StatusBadRequest
		case errs.KindNotFound:
			status = http.StatusNotFound
		case errs.KindConflict:
			status = http.StatusConflict
		case errs.KindIntegrityFailed:
			status = http.StatusBadRequest
		case errs.KindBlobIO, errs.KindStoreUnavailable:
			status = http.StatusInternalServerError
		}
	}

	log.Error().Err(err).Int("status", status).Msg("upload request failed")
	c.JSON(status, types.ErrorResponse{
		Error:   http.StatusText(status),
		Details: err.Error(),
	})
}

// InitUpload handles POST /upload/init.
func (h *Handlers) InitUpload(c *gin.Context) {
	var req types.InitUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "bad_request", Details: err.Error()})
		return
	}

	id, uploaded, err := h.sessions.Initialize(c.Request.Context(), req.Filename, req.TotalSize, req.TotalChunks)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, types.InitUploadResponse{
		SessionID:      id,
		UploadedChunks: uploaded,
	})
}

// UploadChunk handles POST /upload/chunk.
func (h *Handlers) UploadChunk(c *gin.Context) {
	sessionID, err := uuid.Parse(c.PostForm("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "bad_request", Details: "invalid session_id"})
		return
	}

	index, err := strconv.Atoi(c.PostForm("chunk_index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "bad_request", Details: "invalid chunk_index"})
		return
	}

	file, _, err := c.Request.FormFile("chunk")
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "bad_request", Details: "no chunk payload provided"})
		return
	}
	defer file.Close()

	expectedHash := c.PostForm("chunk_hash")

	result, progress, err := h.ingestor.AcceptChunk(c.Request.Context(), sessionID, index, file, expectedHash)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, types.ChunkUploadResponse{
		ChunkIndex: index,
		Duplicate:  result == ingest.Duplicate,
		Progress:   progress,
	})
}

// Status handles GET /upload/:id/status.
func (h *Handlers) Status(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "bad_request", Details: "invalid session id"})
		return
	}

	sess, err := h.meta.GetSession(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	total, successful, err := h.meta.CountChunks(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, types.StatusResponse{
		Session:  sess,
		Progress: types.Progress{Completed: int(successful), Total: int(total)},
	})
}

// Contents handles GET /upload/:id/contents.
func (h *Handlers) Contents(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "bad_request", Details: "invalid session id"})
		return
	}

	sess, err := h.meta.GetSession(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	if sess.Status != types.SessionCompleted {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "bad_request",
			Details: "session is not COMPLETED",
		})
		return
	}

	entries, err := h.valid.ListEntries(sess.BlobPath)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, types.ContentsResponse{Entries: entries})
}
