package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrS3NotConfigured is returned when S3 operations are attempted without
// a configured bucket.
var ErrS3NotConfigured = errors.New("S3 storage is not configured")

// LocalStorage implements the Storage port on local disk. Artifacts live
// in a configurable directory; S3 operations are unavailable unless
// wrapped with S3Storage.
type LocalStorage struct {
	dir string
}

// NewLocalStorage creates a LocalStorage rooted at dir, creating it if
// needed. An empty dir defaults to a directory under os.TempDir().
func NewLocalStorage(dir string) (*LocalStorage, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "clipforge")
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}

	return &LocalStorage{dir: dir}, nil
}

// Dir returns the artifact directory path.
func (s *LocalStorage) Dir() string {
	return s.dir
}

// SaveArtifact writes the artifact to a uniquely named file under the
// artifact directory and returns its path.
func (s *LocalStorage) SaveArtifact(ctx context.Context, name string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.CreateTemp(s.dir, name+"_*")
	if err != nil {
		return "", fmt.Errorf("create artifact file: %w", err)
	}

	fileName := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(fileName)
		return "", fmt.Errorf("write artifact file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(fileName)
		return "", fmt.Errorf("close artifact file: %w", err)
	}

	return fileName, nil
}

// OpenArtifact opens a stored artifact for reading. The caller closes the
// returned ReadCloser.
func (s *LocalStorage) OpenArtifact(ctx context.Context, path string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return nil, fmt.Errorf("open artifact file: %w", err)
	}

	return f, nil
}

// RemoveArtifacts deletes the given artifact files. It continues past
// individual failures and returns the first error encountered.
func (s *LocalStorage) RemoveArtifacts(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove artifact file %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// UploadToS3 is not supported by LocalStorage and returns ErrS3NotConfigured.
func (s *LocalStorage) UploadToS3(_ context.Context, _ string, _ io.Reader) (string, error) {
	return "", ErrS3NotConfigured
}
