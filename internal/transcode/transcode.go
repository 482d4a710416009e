// Package transcode provides the optional, best-effort container bridge
// that converts a primary artifact (typically WebM) into the more widely
// compatible MP4. It is a strategy object that may be entirely absent;
// failure here never invalidates the primary artifact.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/clipforge/stitch-api/internal/clip"
)

// ErrUnavailable is returned when the execution environment cannot run the
// software encoder. Callers downgrade to the primary artifact and surface
// a warning; they never fail the run.
var ErrUnavailable = errors.New("transcode: converter unavailable")

// Bridge converts artifacts between container formats.
type Bridge interface {
	// Convert re-encodes an artifact to the target MIME type.
	Convert(ctx context.Context, artifact *clip.Artifact, targetMime string) (*clip.Artifact, error)
}

// FFmpegBridge implements Bridge with the ffmpeg CLI and a scratch
// directory standing in for a virtual filesystem: input written, encoder
// invoked with a fixed compatibility preset, result read back, scratch
// files released.
type FFmpegBridge struct {
	ffmpegPath string
	tempDir    string
	logger     *slog.Logger
}

// NewFFmpegBridge creates a bridge. Empty ffmpegPath defaults to "ffmpeg";
// empty tempDir defaults to the system temp directory.
func NewFFmpegBridge(ffmpegPath, tempDir string, logger *slog.Logger) *FFmpegBridge {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegBridge{ffmpegPath: ffmpegPath, tempDir: tempDir, logger: logger}
}

// Available reports whether the conversion capability is present: the
// encoder binary resolves and supports H.264 encoding. A clear capability
// check up front beats attempting a convert that silently corrupts output.
func (b *FFmpegBridge) Available(ctx context.Context) error {
	if _, err := exec.LookPath(b.ffmpegPath); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, b.ffmpegPath, "-hide_banner", "-encoders")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if !bytes.Contains(stdout.Bytes(), []byte("libx264")) {
		return fmt.Errorf("%w: no H.264 encoder", ErrUnavailable)
	}
	return nil
}

// Convert re-encodes the artifact to MP4 (H.264/AAC, faststart). Only
// "video/mp4" is supported as a target.
func (b *FFmpegBridge) Convert(ctx context.Context, artifact *clip.Artifact, targetMime string) (*clip.Artifact, error) {
	if targetMime != "video/mp4" {
		return nil, fmt.Errorf("%w: unsupported target %q", ErrUnavailable, targetMime)
	}
	if err := b.Available(ctx); err != nil {
		return nil, err
	}

	scratch, err := os.MkdirTemp(b.tempDir, "transcode_*")
	if err != nil {
		return nil, fmt.Errorf("transcode: scratch dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	in := filepath.Join(scratch, "input"+artifact.FileExtension())
	out := filepath.Join(scratch, "output.mp4")
	if err := os.WriteFile(in, artifact.Data, 0600); err != nil {
		return nil, fmt.Errorf("transcode: write input: %w", err)
	}

	// Fixed quality/compatibility preset; faststart relocates the moov
	// atom so the result streams from byte zero.
	args := []string{
		"-y",
		"-i", in,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		out,
	}

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, b.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("transcode cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("transcode: convert failed: %w, stderr: %s", err, stderr.String())
	}

	data, err := os.ReadFile(out) // #nosec G304 - path built from our scratch dir
	if err != nil {
		return nil, fmt.Errorf("transcode: read output: %w", err)
	}

	b.logger.Info("artifact transcoded",
		slog.String("from", artifact.MimeType),
		slog.String("to", targetMime),
		slog.Int("bytes", len(data)),
	)

	return &clip.Artifact{Data: data, MimeType: targetMime}, nil
}
