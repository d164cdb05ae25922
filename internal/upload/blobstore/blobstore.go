// Package blobstore is the offset-addressed local-filesystem abstraction
// the Upload Coordinator writes chunk bytes into. Instead of whole-file
// atomic-rename writes it uses offset-addressed writes into a pre-sized
// file, since atomic
// rename-on-write cannot be shared by concurrent, disjoint-range chunk
// writers.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nimbusfiles/upload-coordinator/internal/upload/errs"
)

// Store writes and reads chunk bytes in a directory of sparse,
// pre-allocated blob files.
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at baseDir, creating the directory if
// it does not exist.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		log.Error().Err(err).Str("path", baseDir).Msg("failed to create blob storage directory")
		return nil, errs.Wrap(errs.KindBlobIO, "failed to create storage directory", err)
	}
	log.Info().Str("path", baseDir).Msg("blob storage initialized")
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) fullPath(path string) string {
	return filepath.Join(s.baseDir, path)
}

// Preallocate creates (or truncates) the file at path to exactly size
// bytes. The file may be sparse. Must succeed before any chunk write.
func (s *Store) Preallocate(ctx context.Context, path string, size int64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	fullPath := s.fullPath(path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return errs.Wrap(errs.KindBlobIO, "failed to create blob directory", err)
	}

	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to create blob file")
		return errs.Wrap(errs.KindBlobIO, "failed to create blob file", err)
	}
	defer f.Close()

	if err := f.Truncate(size); err != nil {
		log.Error().Err(err).Str("path", path).Int64("size", size).Msg("failed to preallocate blob file")
		return errs.Wrap(errs.KindBlobIO, "failed to preallocate blob file", err)
	}

	log.Info().Str("path", path).Int64("size", size).Msg("blob preallocated")
	return nil
}

// WriteAt writes the full payload of stream to path starting at offset.
// It does not extend or truncate the file: bytes that would land past the
// end of the file are not written, and WriteAt returns an error instead.
// The written bytes are synced to disk before it returns. Two concurrent
// WriteAt calls on the same path with non-overlapping offset ranges both
// complete correctly; the caller must never issue overlapping ranges.
func (s *Store) WriteAt(ctx context.Context, path string, offset int64, stream io.Reader) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	fullPath := s.fullPath(path)
	f, err := os.OpenFile(fullPath, os.O_WRONLY, 0o644)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to open blob file for write")
		return 0, errs.Wrap(errs.KindBlobIO, "failed to open blob file", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, errs.Wrap(errs.KindBlobIO, "failed to stat blob file", err)
	}
	if offset < 0 || offset > info.Size() {
		return 0, errs.New(errs.KindBlobIO, fmt.Sprintf("offset %d outside blob of size %d", offset, info.Size()))
	}

	written, err := io.Copy(io.NewOffsetWriter(f, offset), io.LimitReader(stream, info.Size()-offset))
	if err != nil {
		log.Error().Err(err).Str("path", path).Int64("offset", offset).Msg("failed to write chunk at offset")
		return written, errs.Wrap(errs.KindBlobIO, "failed to write chunk", err)
	}
	if n, _ := stream.Read(make([]byte, 1)); n > 0 {
		return written, errs.New(errs.KindBlobIO, "payload extends past end of blob")
	}
	if err := f.Sync(); err != nil {
		return written, errs.Wrap(errs.KindBlobIO, "failed to sync blob file", err)
	}

	log.Debug().Str("path", path).Int64("offset", offset).Int64("bytes_written", written).Msg("chunk written")
	return written, nil
}

// Size returns the size of the blob at path.
func (s *Store) Size(ctx context.Context, path string) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	info, err := os.Stat(s.fullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errs.NotFound("blob not found: %s", path)
		}
		return 0, errs.Wrap(errs.KindBlobIO, "failed to stat blob", err)
	}
	return info.Size(), nil
}

// Exists reports whether a blob exists at path.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	_, err := os.Stat(s.fullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errs.Wrap(errs.KindBlobIO, "failed to check blob existence", err)
	}
	return true, nil
}

// Delete removes the blob at path. Delete is idempotent: an absent file
// is not an error.
func (s *Store) Delete(ctx context.Context, path string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	start := time.Now()
	if err := os.Remove(s.fullPath(path)); err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("path", path).Msg("blob already deleted or never existed")
			return nil
		}
		log.Error().Err(err).Str("path", path).Msg("failed to delete blob")
		return errs.Wrap(errs.KindBlobIO, "failed to delete blob", err)
	}

	log.Info().Str("path", path).Dur("duration", time.Since(start)).Msg("blob deleted")
	return nil
}

// Open returns a read handle to the blob at path, for streaming hash and
// archive validation.
func (s *Store) Open(path string) (*os.File, error) {
	f, err := os.Open(s.fullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.NotFound("blob not found: %s", path)
		}
		return nil, errs.Wrap(errs.KindBlobIO, "failed to open blob", err)
	}
	return f, nil
}

// AbsPath returns the on-disk absolute-ish path for a blob, for
// components (like archive/zip) that need a *os.File or path rather than
// an io.Reader.
func (s *Store) AbsPath(path string) string {
	return s.fullPath(path)
}

// SessionBlobPath returns the canonical on-disk path for a session's blob.
func SessionBlobPath(sessionID string, ext string) string {
	return fmt.Sprintf("%s%s", sessionID, ext)
}
