// Package validator computes the post-assembly integrity and structural
// checks the Finalizer runs against a completed blob: a streaming SHA-256
// digest and an archive structural check.
package validator

import (
	"archive/zip"
	"context"

	"github.com/rs/zerolog/log"

	"github.com/nimbusfiles/upload-coordinator/internal/upload/blobstore"
	"github.com/nimbusfiles/upload-coordinator/pkg/types"
	"github.com/nimbusfiles/upload-coordinator/pkg/utils"
)

// Validator verifies the contents of an assembled blob.
type Validator struct {
	blobs *blobstore.Store
}

// New creates a Validator reading blobs through the given BlobStore.
func New(blobs *blobstore.Store) *Validator {
	return &Validator{blobs: blobs}
}

// HashBlob streams the full file at path through SHA-256 in bounded
// memory.
func (v *Validator) HashBlob(path string) (string, error) {
	f, err := v.blobs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	digest, err := utils.ComputeSHA256FromReader(f)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to hash blob")
		return "", err
	}
	return digest, nil
}

// IsValidArchive opens the blob with a streaming central-directory reader
// and confirms it parses as a well-formed archive. archive/zip's Reader
// reads only the central directory (a handful of file-index entries, not
// the archive body), keeping memory bounded regardless of archive size.
func (v *Validator) IsValidArchive(path string) (bool, error) {
	fullPath := v.blobs.AbsPath(path)
	size, err := v.blobs.Size(context.Background(), path)
	if err != nil {
		return false, err
	}

	f, err := v.blobs.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	if _, err := zip.NewReader(f, size); err != nil {
		log.Info().Err(err).Str("path", fullPath).Msg("archive failed structural validation")
		return false, nil
	}
	return true, nil
}

// ListEntries returns the archive's central-directory entries, used by
// the GET /upload/{id}/contents endpoint.
func (v *Validator) ListEntries(path string) ([]types.ArchiveEntry, error) {
	size, err := v.blobs.Size(context.Background(), path)
	if err != nil {
		return nil, err
	}

	f, err := v.blobs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := zip.NewReader(f, size)
	if err != nil {
		return nil, err
	}

	entries := make([]types.ArchiveEntry, 0, len(r.File))
	for _, file := range r.File {
		entries = append(entries, types.ArchiveEntry{
			Name:        file.Name,
			Size:        int64(file.UncompressedSize64),
			Compressed:  int64(file.CompressedSize64),
			IsDirectory: file.FileInfo().IsDir(),
			Modified:    file.Modified,
		})
	}
	return entries, nil
}
