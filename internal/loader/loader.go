// Package loader acquires remote clip and audio assets and turns them into
// decodable handles. Every asset is fetched to a local byte buffer first
// (falling back to direct remote decode when the fetch fails), probed for
// decodability, and seeked-and-buffered before the load resolves. Failures
// retry with linear backoff up to a bounded attempt count, then surface a
// typed LoadError.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/clipforge/stitch-api/internal/clip"
	"github.com/clipforge/stitch-api/internal/compose"
	"github.com/clipforge/stitch-api/internal/registry"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 2 * time.Second
	// defaultReadyTimeout bounds the wait for the first decoded frame.
	defaultReadyTimeout = 75 * time.Second
)

// Loader fetches remote assets and instantiates decodable handles.
// One loader serves one stitch run; every byte-buffer handle it creates is
// registered with the run's arena before Load returns.
type Loader struct {
	arena       *registry.Arena
	httpClient  *http.Client
	logger      *slog.Logger
	ffmpegPath  string
	ffprobePath string
	tempDir     string

	maxAttempts  int
	baseDelay    time.Duration
	readyTimeout time.Duration
}

// Option configures a Loader.
type Option func(*Loader)

// WithHTTPClient sets a custom HTTP client for asset fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(l *Loader) { l.httpClient = c }
}

// WithMaxAttempts bounds the retry policy.
func WithMaxAttempts(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

// WithBaseDelay sets the linear backoff unit: attempt N sleeps N*baseDelay.
func WithBaseDelay(d time.Duration) Option {
	return func(l *Loader) {
		if d >= 0 {
			l.baseDelay = d
		}
	}
}

// WithReadyTimeout sets the hard per-attempt deadline for decode readiness.
func WithReadyTimeout(d time.Duration) Option {
	return func(l *Loader) {
		if d > 0 {
			l.readyTimeout = d
		}
	}
}

// WithFFmpeg sets the ffmpeg and ffprobe binary paths.
func WithFFmpeg(ffmpegPath, ffprobePath string) Option {
	return func(l *Loader) {
		if ffmpegPath != "" {
			l.ffmpegPath = ffmpegPath
		}
		if ffprobePath != "" {
			l.ffprobePath = ffprobePath
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithTempDir sets where fetched assets are materialized.
func WithTempDir(dir string) Option {
	return func(l *Loader) {
		if dir != "" {
			l.tempDir = dir
		}
	}
}

// New creates a loader bound to one run's arena.
func New(arena *registry.Arena, opts ...Option) *Loader {
	l := &Loader{
		arena:        arena,
		httpClient:   &http.Client{Timeout: 120 * time.Second},
		logger:       slog.Default(),
		ffmpegPath:   "ffmpeg",
		ffprobePath:  "ffprobe",
		tempDir:      os.TempDir(),
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
		readyTimeout: defaultReadyTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadedClip is a fully buffered clip ready for frame-by-frame rendering.
// Ownership transfers from the loader to the orchestrator on return;
// the orchestrator closes it when advancing past the clip.
type LoadedClip struct {
	// Descriptor is the timeline entry this clip was loaded for.
	Descriptor clip.Descriptor
	// ResolvedStartSeconds is the start offset after clamping against the
	// probed source duration.
	ResolvedStartSeconds float64
	// ResolvedDurationSeconds is the playable duration after clamping.
	ResolvedDurationSeconds float64
	// SourceWidth and SourceHeight are the native frame dimensions.
	SourceWidth  int
	SourceHeight int

	dec        *Decoder
	firstFrame *compose.Frame
}

// NextFrame returns the next decoded frame. The first call returns the
// frame buffered during load, so the clip's opening frame is available the
// instant a crossfade begins. io.EOF signals clip exhaustion.
func (c *LoadedClip) NextFrame(ctx context.Context) (*compose.Frame, error) {
	if c.firstFrame != nil {
		f := c.firstFrame
		c.firstFrame = nil
		return f, nil
	}
	return c.dec.ReadFrame(ctx)
}

// Duration returns the clamped playable duration in seconds.
func (c *LoadedClip) Duration() float64 {
	return c.ResolvedDurationSeconds
}

// Close detaches the clip's decoder. Idempotent.
func (c *LoadedClip) Close() error {
	if c.dec == nil {
		return nil
	}
	return c.dec.Close()
}

// Load acquires one clip: fetch, probe, clamp, seek, and buffer the first
// frame, retrying the whole sequence with linear backoff. fps is the run's
// output frame rate; the decode is resampled to it so the render loop
// consumes exactly one frame per tick.
func (l *Loader) Load(ctx context.Context, desc clip.Descriptor, fps int) (*LoadedClip, error) {
	var lastErr error
	var lastReason Reason

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := time.Duration(attempt-1) * l.baseDelay
			l.logger.Info("retrying clip load",
				slog.String("url", desc.SourceURL),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", delay),
			)
			select {
			case <-ctx.Done():
				return nil, &LoadError{Reason: ReasonTimeout, URL: desc.SourceURL, Attempt: attempt, Cause: ctx.Err()}
			case <-time.After(delay):
			}
		}

		loaded, reason, err := l.loadOnce(ctx, desc, fps)
		if err == nil {
			return loaded, nil
		}
		if ctx.Err() != nil {
			return nil, &LoadError{Reason: ReasonTimeout, URL: desc.SourceURL, Attempt: attempt, Cause: ctx.Err()}
		}
		lastErr, lastReason = err, reason
		l.logger.Warn("clip load attempt failed",
			slog.String("url", desc.SourceURL),
			slog.Int("attempt", attempt),
			slog.String("reason", string(reason)),
			slog.String("error", err.Error()),
		)
	}

	return nil, &LoadError{Reason: lastReason, URL: desc.SourceURL, Attempt: l.maxAttempts, Cause: lastErr}
}

// loadOnce performs a single load attempt end to end.
func (l *Loader) loadOnce(ctx context.Context, desc clip.Descriptor, fps int) (*LoadedClip, Reason, error) {
	input, fetchErr := l.materialize(ctx, desc.SourceURL)
	if fetchErr != nil {
		// Local materialization failed; decode straight off the remote URL.
		l.logger.Warn("asset fetch failed, falling back to remote decode",
			slog.String("url", desc.SourceURL),
			slog.String("error", fetchErr.Error()),
		)
		input = desc.SourceURL
	}

	probeCtx, cancel := context.WithTimeout(ctx, l.readyTimeout)
	info, err := l.probe(probeCtx, input)
	cancel()
	if err != nil {
		if fetchErr != nil {
			// Neither local bytes nor remote decode worked; report the
			// fetch failure, it is the root problem.
			return nil, ReasonNetwork, fmt.Errorf("fetch failed (%w) and remote probe failed: %w", fetchErr, err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ReasonTimeout, err
		}
		return nil, ReasonDecode, err
	}

	start, duration := clampWindow(desc, info.DurationSeconds)

	dec, err := newDecoder(ctx, l.ffmpegPath, input, start, info.Width, info.Height, fps)
	if err != nil {
		return nil, ReasonDecode, err
	}

	// Seek-and-buffer: the load resolves only once the first frame at the
	// seek target has actually decoded, bounded by the readiness timeout.
	readyCtx, cancelReady := context.WithTimeout(ctx, l.readyTimeout)
	first, err := dec.ReadFrame(readyCtx)
	cancelReady()
	if err != nil {
		_ = dec.Close()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ReasonTimeout, fmt.Errorf("first frame not ready: %w", err)
		}
		if errors.Is(err, io.EOF) {
			return nil, ReasonDecode, fmt.Errorf("source has no frames at offset %.3fs", start)
		}
		return nil, ReasonDecode, err
	}

	if err := l.arena.RegisterFunc("decoder "+desc.SourceURL, dec.Close); err != nil {
		return nil, ReasonTimeout, err
	}

	return &LoadedClip{
		Descriptor:              desc,
		ResolvedStartSeconds:    start,
		ResolvedDurationSeconds: duration,
		SourceWidth:             info.Width,
		SourceHeight:            info.Height,
		dec:                     dec,
		firstFrame:              first,
	}, "", nil
}

// materialize fetches the asset to a local file and registers the handle
// with the arena so it is released when the run drains.
func (l *Loader) materialize(ctx context.Context, url string) (string, error) {
	path, err := l.fetch(ctx, url)
	if err != nil {
		return "", err
	}
	if err := l.arena.RegisterFunc("asset "+url, func() error {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return rmErr
		}
		return nil
	}); err != nil {
		return "", err
	}
	return path, nil
}

// LoadedAudio is a locally materialized audio bed.
type LoadedAudio struct {
	// Path is the local file handed to the recording pipeline.
	Path string
	// DurationSeconds is the probed bed duration.
	DurationSeconds float64
}

// LoadAudio fetches and probes the optional music/voice bed. It uses the
// same retry policy as clip loads but never falls back to remote decode:
// the encoder needs a local file to mux from.
func (l *Loader) LoadAudio(ctx context.Context, url string) (*LoadedAudio, error) {
	var lastErr error
	var lastReason Reason

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, &LoadError{Reason: ReasonTimeout, URL: url, Attempt: attempt, Cause: ctx.Err()}
			case <-time.After(time.Duration(attempt-1) * l.baseDelay):
			}
		}

		path, err := l.materialize(ctx, url)
		if err != nil {
			lastErr, lastReason = err, ReasonNetwork
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, l.readyTimeout)
		info, err := l.probe(probeCtx, path)
		cancel()
		if err != nil {
			lastErr, lastReason = err, ReasonDecode
			continue
		}

		return &LoadedAudio{Path: path, DurationSeconds: info.DurationSeconds}, nil
	}

	return nil, &LoadError{Reason: lastReason, URL: url, Attempt: l.maxAttempts, Cause: lastErr}
}

// clampWindow bounds the descriptor's window to the probed source duration
// rather than trusting the descriptor.
func clampWindow(desc clip.Descriptor, sourceDuration float64) (start, duration float64) {
	start = desc.StartOffsetSeconds
	if start < 0 {
		start = 0
	}
	if start >= sourceDuration {
		start = 0
	}
	duration = desc.DurationSeconds
	if remaining := sourceDuration - start; duration > remaining {
		duration = remaining
	}
	return start, duration
}
