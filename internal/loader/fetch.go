package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
)

// fetch downloads a remote asset to a local temp file and returns its path.
// Materializing a local copy is what sidesteps cross-origin playback
// restrictions on the source; decoding then happens against local bytes.
// The caller owns the returned file and must arrange its removal.
func (l *Loader) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	f, err := os.CreateTemp(l.tempDir, "asset_*")
	if err != nil {
		return "", fmt.Errorf("create asset file: %w", err)
	}
	path := f.Name()

	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write asset file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close asset file: %w", err)
	}

	return path, nil
}
