// Package storage persists stitch output artifacts. It defines the Storage
// port plus implementations for local disk and S3-backed delivery.
package storage

import (
	"context"
	"fmt"
	"io"
)

// Storage is the persistence port for finished artifacts. Local disk is
// the system of record; S3 delivery is optional and layered on top.
type Storage interface {
	// SaveArtifact writes artifact bytes to local storage and returns the
	// file path. The name parameter is a filename hint.
	SaveArtifact(ctx context.Context, name string, data io.Reader) (path string, err error)

	// OpenArtifact opens a stored artifact for reading. The caller closes
	// the returned ReadCloser.
	OpenArtifact(ctx context.Context, path string) (io.ReadCloser, error)

	// RemoveArtifacts deletes the given artifact files, continuing past
	// individual failures.
	RemoveArtifacts(ctx context.Context, paths []string) error

	// UploadToS3 uploads artifact bytes under the given key and returns
	// the public URL. Returns ErrS3NotConfigured when no bucket is set up.
	UploadToS3(ctx context.Context, key string, data io.Reader) (url string, err error)
}

// ArtifactKey builds the canonical object key for a job's artifact.
func ArtifactKey(jobID, extension string) string {
	return fmt.Sprintf("stitches/%s/output%s", jobID, extension)
}
