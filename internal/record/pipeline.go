// Package record implements the recording pipeline: a push-based stream
// encoder that captures composed surface frames (and an optional audio
// bed) and multiplexes them into a single container-wrapped bitstream,
// buffered in memory until finalize.
package record

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"

	"github.com/clipforge/stitch-api/internal/clip"
)

// Static errors for the recording pipeline.
var (
	// ErrNotStarted is returned when frames are pushed before Start.
	ErrNotStarted = errors.New("record: pipeline not started")
	// ErrStopped is returned when frames are pushed after Stop.
	ErrStopped = errors.New("record: pipeline already stopped")
)

// PipelineError reports an encoder failure. Partial indicates whether any
// encoded bytes were captured before the failure; when true the artifact
// returned alongside the error holds them.
type PipelineError struct {
	Stderr  string
	Partial bool
	Err     error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("record: encoder failed (partial=%v): %v, stderr: %s", e.Partial, e.Err, e.Stderr)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Config configures one recording pipeline.
type Config struct {
	// Width, Height and FPS describe the pushed surface frames.
	Width  int
	Height int
	FPS    int
	// VideoBitrateMbps is the target encode bitrate.
	VideoBitrateMbps float64
	// AudioPath, when non-empty, is a local audio bed muxed as a second
	// track in the same stream.
	AudioPath string
	// FFmpegPath overrides the encoder binary; empty means "ffmpeg".
	FFmpegPath string
	// Logger is optional.
	Logger *slog.Logger
}

// Pipeline is a live push encoder. Frames go in via PushFrame at the
// render cadence; encoded chunks accumulate in memory as the encoder
// emits them; Stop finalizes the stream and concatenates the chunks into
// one artifact. A pipeline serves exactly one run and cannot be reused.
type Pipeline struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	logger   *slog.Logger
	mimeType string

	frameSize int
	frames    int

	mu       sync.Mutex
	buf      bytes.Buffer
	stderr   bytes.Buffer
	readDone chan struct{}
	stopped  bool
	pushErr  error
}

// Start probes the host encoder, picks the best supported codec/container
// combination, and launches the stream encoder. It is called exactly once
// per run.
func Start(ctx context.Context, cfg Config) (*Pipeline, error) {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	supported, err := probeEncoders(ctx, cfg.FFmpegPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodingUnsupported, err)
	}
	candidate, err := selectCandidate(supported, cfg.AudioPath != "")
	if err != nil {
		return nil, err
	}

	logger.Info("recording pipeline starting",
		slog.String("codec", candidate.VideoCodec),
		slog.String("container", candidate.Container),
		slog.Int("width", cfg.Width),
		slog.Int("height", cfg.Height),
		slog.Int("fps", cfg.FPS),
		slog.Bool("audio", cfg.AudioPath != ""),
	)

	args := []string{
		"-v", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-r", strconv.Itoa(cfg.FPS),
		"-i", "pipe:0",
	}
	if cfg.AudioPath != "" {
		args = append(args, "-i", cfg.AudioPath)
	}
	args = append(args,
		"-map", "0:v",
		"-c:v", candidate.VideoCodec,
		"-b:v", fmt.Sprintf("%.1fM", cfg.VideoBitrateMbps),
		"-pix_fmt", "yuv420p",
	)
	if candidate.VideoCodec == "libvpx-vp9" || candidate.VideoCodec == "libvpx" {
		// Realtime deadline keeps libvpx from falling behind the push rate.
		args = append(args, "-deadline", "realtime", "-cpu-used", "4")
	}
	if cfg.AudioPath != "" {
		args = append(args,
			"-map", "1:a",
			"-c:a", candidate.AudioCodec,
			"-b:a", "128k",
			"-shortest",
		)
	}
	args = append(args, "-f", candidate.Container, "pipe:1")

	// The encoder must outlive the caller's per-request context; the run
	// tears it down explicitly through Stop or Abort.
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(context.WithoutCancel(ctx), cfg.FFmpegPath, args...)

	p := &Pipeline{
		cmd:       cmd,
		logger:    logger,
		mimeType:  candidate.MimeType,
		frameSize: cfg.Width * cfg.Height * 4,
		readDone:  make(chan struct{}),
	}
	cmd.Stderr = &p.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("encoder stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("encoder stdout pipe: %w", err)
	}
	p.stdin = stdin

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start encoder: %w", err)
	}

	go p.collect(stdout)
	return p, nil
}

// collect drains encoded chunks off the encoder's stdout as they arrive.
func (p *Pipeline) collect(stdout io.Reader) {
	defer close(p.readDone)
	chunk := make([]byte, 64*1024)
	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			p.mu.Lock()
			p.buf.Write(chunk[:n])
			p.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// MimeType returns the negotiated output type.
func (p *Pipeline) MimeType() string {
	return p.mimeType
}

// FramesPushed returns how many frames the pipeline has accepted.
func (p *Pipeline) FramesPushed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

// BytesBuffered returns the number of encoded bytes captured so far.
func (p *Pipeline) BytesBuffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Len()
}

// PushFrame feeds one composed RGBA frame to the encoder. A write failure
// means the encoder died mid-run; the error is sticky and Stop will still
// finalize whatever chunks were captured.
func (p *Pipeline) PushFrame(pix []byte) error {
	if p.stdin == nil {
		return ErrNotStarted
	}
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	if p.pushErr != nil {
		err := p.pushErr
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	if len(pix) != p.frameSize {
		return fmt.Errorf("record: frame size %d, want %d", len(pix), p.frameSize)
	}

	if _, err := p.stdin.Write(pix); err != nil {
		p.mu.Lock()
		p.pushErr = &PipelineError{
			Stderr:  p.stderr.String(),
			Partial: p.buf.Len() > 0,
			Err:     err,
		}
		err = p.pushErr
		p.mu.Unlock()
		return err
	}
	p.mu.Lock()
	p.frames++
	p.mu.Unlock()
	return nil
}

// Stop finalizes the stream: closes the encoder input, waits for the
// remaining chunks, and concatenates everything into one artifact. If the
// encoder failed, the partial artifact is still returned alongside the
// error so captured work is never discarded.
func (p *Pipeline) Stop(ctx context.Context) (*clip.Artifact, error) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, ErrStopped
	}
	p.stopped = true
	p.mu.Unlock()

	_ = p.stdin.Close()

	waitErr := make(chan error, 1)
	go func() {
		<-p.readDone
		waitErr <- p.cmd.Wait()
	}()

	var encodeErr error
	select {
	case <-ctx.Done():
		_ = p.cmd.Process.Kill()
		<-waitErr
		encodeErr = ctx.Err()
	case err := <-waitErr:
		encodeErr = err
	}

	p.mu.Lock()
	data := make([]byte, p.buf.Len())
	copy(data, p.buf.Bytes())
	pushErr := p.pushErr
	stderr := p.stderr.String()
	frames := p.frames
	p.mu.Unlock()

	artifact := &clip.Artifact{Data: data, MimeType: p.mimeType}

	switch {
	case pushErr != nil:
		return artifact, pushErr
	case encodeErr != nil:
		return artifact, &PipelineError{Stderr: stderr, Partial: len(data) > 0, Err: encodeErr}
	case len(data) == 0:
		return nil, &PipelineError{Stderr: stderr, Partial: false, Err: errors.New("encoder produced no output")}
	default:
		p.logger.Info("recording pipeline finalized",
			slog.Int("frames", frames),
			slog.Int("bytes", len(data)),
		)
		return artifact, nil
	}
}

// Abort kills the encoder without producing an artifact. Used on
// cancellation, where partial output is discarded by contract.
func (p *Pipeline) Abort() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	_ = p.stdin.Close()
	_ = p.cmd.Process.Kill()
	<-p.readDone
	_ = p.cmd.Wait()
}
