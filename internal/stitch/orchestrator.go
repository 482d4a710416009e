package stitch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync/atomic"

	"github.com/clipforge/stitch-api/internal/audio"
	"github.com/clipforge/stitch-api/internal/clip"
	"github.com/clipforge/stitch-api/internal/compose"
	"github.com/clipforge/stitch-api/internal/record"
	"github.com/clipforge/stitch-api/internal/registry"
	"github.com/clipforge/stitch-api/internal/timing"
)

// ErrRunInProgress is returned when Run is called while another run is
// still active on the same engine. Each run owns its surface, encoder,
// and arena exclusively, so runs never overlap.
var ErrRunInProgress = errors.New("stitch: a run is already in progress")

// Engine sequences loading, composing, and recording across an ordered
// clip timeline. One engine serves one run at a time.
type Engine struct {
	newLoader     LoaderFactory
	startPipeline PipelineStarter
	audioPrep     audio.Preparer
	tempDir       string
	logger        *slog.Logger

	running atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithAudioPreparer enables audio bed preparation for runs that carry an
// audio URL. Without one, audio URLs are ignored with a warning.
func WithAudioPreparer(p audio.Preparer) Option {
	return func(e *Engine) {
		e.audioPrep = p
	}
}

// WithTempDir sets the scratch directory for audio bed preparation.
func WithTempDir(dir string) Option {
	return func(e *Engine) {
		e.tempDir = dir
	}
}

// NewEngine builds a stitching engine from its two collaborator
// constructors.
func NewEngine(newLoader LoaderFactory, startPipeline PipelineStarter, opts ...Option) *Engine {
	e := &Engine{
		newLoader:     newLoader,
		startPipeline: startPipeline,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the outcome of a completed stitch run. On pipeline failure a
// partial artifact may accompany a non-nil error from Run.
type Result struct {
	Artifact        *clip.Artifact
	RunID           string
	FramesComposed  int
	DurationSeconds float64
}

// Run stitches the given clips into one output artifact. It blocks until
// the run completes, fails, or ctx is cancelled. Cancellation discards
// partial output; a mid-run encoder failure instead salvages whatever was
// captured and returns it alongside the error. All run-scoped resources
// are released before Run returns, on every path.
func (e *Engine) Run(ctx context.Context, descriptors []clip.Descriptor, opts clip.Options) (*Result, error) {
	if len(descriptors) == 0 {
		return nil, clip.ErrNoClips
	}
	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer e.running.Store(false)

	pub := newPublisher(opts.OnProgress, len(descriptors))
	arena := registry.NewArena(e.logger)
	logger := e.logger.With(slog.String("run_id", arena.RunID()))

	result, err := e.run(ctx, arena, pub, logger, descriptors, opts)

	if drainErr := arena.Drain(); drainErr != nil {
		logger.Error("resource release reported failures", slog.String("error", drainErr.Error()))
	}
	if err != nil {
		pub.publish(clip.PhaseError, 0, 0, err.Error(), 0)
	}
	pub.close()

	if result != nil {
		result.RunID = arena.RunID()
	}
	return result, err
}

// run drives the stitching state machine. The caller owns arena draining
// and terminal progress publication.
func (e *Engine) run(ctx context.Context, arena *registry.Arena, pub *publisher, logger *slog.Logger, descriptors []clip.Descriptor, opts clip.Options) (*Result, error) {
	ld := e.newLoader(arena)

	cf := opts.CrossfadeSeconds
	cfFrames := int(math.Round(cf * float64(opts.FPS)))
	if cfFrames <= 0 {
		cf = 0
		cfFrames = 0
	}

	plannedSeconds := plannedDuration(descriptors, cf)
	totalFrames := int(math.Round(plannedSeconds * float64(opts.FPS)))
	if totalFrames < 1 {
		totalFrames = 1
	}

	emitted := 0
	remaining := func() float64 {
		r := plannedSeconds - float64(emitted)/float64(opts.FPS)
		if r < 0 {
			r = 0
		}
		return r
	}
	// Frame pumping maps onto the 10..90 band; loading sits below it and
	// finalization above.
	pumpPercent := func() float64 {
		p := 10 + 80*float64(emitted)/float64(totalFrames)
		if p > 90 {
			p = 90
		}
		return p
	}

	surface, err := compose.NewSurface(opts.Width, opts.Height)
	if err != nil {
		return nil, err
	}

	pub.publish(clip.PhaseLoading, 1, 0, "loading "+descriptors[0].Label(0), remaining())
	cur, err := ld.Load(ctx, descriptors[0], opts.FPS)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", descriptors[0].Label(0), err)
	}

	audioPath := e.prepareAudio(ctx, arena, ld, logger, opts.AudioURL, plannedSeconds)

	pub.publish(clip.PhaseLoading, 1, 10, "starting recording pipeline", remaining())
	pipe, err := e.startPipeline(ctx, record.Config{
		Width:            opts.Width,
		Height:           opts.Height,
		FPS:              opts.FPS,
		VideoBitrateMbps: opts.VideoBitrateMbps,
		AudioPath:        audioPath,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("starting recording pipeline: %w", err)
	}
	finalized := false
	defer func() {
		if !finalized {
			pipe.Abort()
		}
	}()

	interval := timing.Interval(opts.FPS)
	var lastFrame *compose.Frame

	// nextFrame advances the clip's clock, freezing on the last decoded
	// frame once the decoder is exhausted or fails mid-clip.
	nextFrame := func(c Clip) *compose.Frame {
		f, ferr := c.NextFrame(ctx)
		if ferr != nil {
			if !errors.Is(ferr, io.EOF) && !errors.Is(ferr, context.Canceled) {
				logger.Warn("decoder stalled, freezing last frame", slog.String("error", ferr.Error()))
			}
			return lastFrame
		}
		lastFrame = f
		return f
	}

	var pushErr error
	entryFade := 0.0
	i := 0
	for {
		hasNext := i < len(descriptors)-1
		var la *lookahead
		if hasNext {
			la = startLookahead(ctx, ld, descriptors[i+1], opts.FPS)
		}

		exitFade := 0.0
		if hasNext {
			exitFade = cf
		}
		mainFrames := int(math.Round((cur.Duration() - entryFade - exitFade) * float64(opts.FPS)))

		label := descriptors[i].Label(i)
		pub.publish(clip.PhaseProcessing, i+1, pumpPercent(), "rendering "+label, remaining())
		logger.Info("rendering clip",
			slog.Int("clip", i+1),
			slog.String("label", label),
			slog.Int("main_frames", mainFrames),
		)

		if mainFrames > 0 {
			timing.Pump(ctx, interval, func(frame int) bool {
				surface.Clear()
				surface.DrawFrame(nextFrame(cur), 1)
				if err := pipe.PushFrame(surface.Pixels()); err != nil {
					pushErr = err
					return false
				}
				emitted++
				if emitted%opts.FPS == 0 {
					pub.publish(clip.PhaseProcessing, i+1, pumpPercent(), "rendering "+label, remaining())
				}
				return frame+1 < mainFrames
			})
		}
		if pushErr != nil {
			break
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("stitch cancelled: %w", ctx.Err())
		}

		if !hasNext {
			break
		}

		next, j := e.resolveNext(ctx, ld, la, logger, descriptors, i+1, opts.FPS)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("stitch cancelled: %w", ctx.Err())
		}

		if cfFrames > 0 {
			pub.publish(clip.PhaseProcessing, i+1, pumpPercent(), "blending into "+transitionTarget(descriptors, next, j), remaining())
			outgoing := cur
			timing.Pump(ctx, interval, func(frame int) bool {
				outF := nextFrame(outgoing)
				var inF *compose.Frame
				if next != nil {
					f, ferr := next.NextFrame(ctx)
					if ferr == nil {
						inF = f
					}
				}
				progress := float64(frame+1) / float64(cfFrames)
				surface.DrawCrossfade(outF, inF, progress)
				if err := pipe.PushFrame(surface.Pixels()); err != nil {
					pushErr = err
					return false
				}
				emitted++
				return frame+1 < cfFrames
			})
		}
		if cerr := cur.Close(); cerr != nil {
			logger.Warn("closing outgoing clip", slog.String("error", cerr.Error()))
		}
		if pushErr != nil {
			break
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("stitch cancelled: %w", ctx.Err())
		}
		if next == nil {
			// Every remaining clip was unrecoverable; the fade to black
			// above is the outro.
			break
		}

		cur = next
		lastFrame = nil
		entryFade = cf
		i = j
	}

	pub.publish(clip.PhaseFinalizing, len(descriptors), 95, "finalizing output", 0)
	artifact, stopErr := pipe.Stop(ctx)
	finalized = true

	result := &Result{
		Artifact:        artifact,
		FramesComposed:  emitted,
		DurationSeconds: float64(emitted) / float64(opts.FPS),
	}
	if pushErr != nil {
		// Salvage whatever the encoder produced before the failure.
		if stopErr != nil {
			logger.Warn("finalize after push failure", slog.String("error", stopErr.Error()))
		}
		return result, fmt.Errorf("recording pipeline failed mid-run: %w", pushErr)
	}
	if stopErr != nil {
		return result, fmt.Errorf("finalizing output: %w", stopErr)
	}

	pub.publish(clip.PhaseComplete, len(descriptors), 100, "stitch complete", 0)
	logger.Info("stitch complete",
		slog.Int("frames", emitted),
		slog.Int("bytes", artifact.Size()),
		slog.String("mime_type", artifact.MimeType),
	)
	return result, nil
}

// prepareAudio materializes and normalizes the optional audio bed. Audio
// is an enhancement: every failure here degrades to a silent run with a
// warning instead of failing the stitch.
func (e *Engine) prepareAudio(ctx context.Context, arena *registry.Arena, ld Loader, logger *slog.Logger, url string, targetSeconds float64) string {
	if url == "" {
		return ""
	}
	if e.audioPrep == nil {
		logger.Warn("audio url supplied but no audio preparer configured")
		return ""
	}

	srcPath, _, err := ld.LoadAudio(ctx, url)
	if err != nil {
		logger.Warn("audio bed load failed, continuing without audio", slog.String("error", err.Error()))
		return ""
	}

	scratch, err := os.MkdirTemp(e.tempDir, "bed_")
	if err != nil {
		logger.Warn("audio scratch dir failed, continuing without audio", slog.String("error", err.Error()))
		return ""
	}
	_ = arena.RegisterFunc("audio bed scratch", func() error {
		return os.RemoveAll(scratch)
	})

	bedPath, err := e.audioPrep.PrepareBed(ctx, srcPath, scratch, audio.DefaultBedOpts(targetSeconds))
	if err != nil {
		logger.Warn("audio bed preparation failed, continuing without audio", slog.String("error", err.Error()))
		return ""
	}
	return bedPath
}

// resolveNext produces the incoming clip for the boundary after clip
// index-1. The look-ahead result is preferred; a failed look-ahead is
// retried synchronously, and a clip that still cannot load is skipped in
// favor of the one after it. A nil clip means nothing playable remains
// and the boundary degrades to a fade to black.
func (e *Engine) resolveNext(ctx context.Context, ld Loader, la *lookahead, logger *slog.Logger, descriptors []clip.Descriptor, index, fps int) (Clip, int) {
	next, err := la.await()
	if err != nil {
		logger.Warn("look-ahead load failed, retrying synchronously",
			slog.String("label", descriptors[index].Label(index)),
			slog.String("error", err.Error()),
		)
		next, err = ld.Load(ctx, descriptors[index], fps)
	}

	j := index
	for err != nil && ctx.Err() == nil && j < len(descriptors)-1 {
		logger.Warn("skipping unplayable clip",
			slog.String("label", descriptors[j].Label(j)),
			slog.String("error", err.Error()),
		)
		j++
		next, err = ld.Load(ctx, descriptors[j], fps)
	}
	if err != nil {
		logger.Warn("no playable clip remains after boundary",
			slog.String("error", err.Error()),
		)
		return nil, len(descriptors) - 1
	}
	return next, j
}

// lookahead preloads the next clip concurrently with the current clip's
// render loop. The render loop never touches the pending handle; the
// result is consumed exactly once at the boundary.
type lookahead struct {
	ch chan lookaheadResult
}

type lookaheadResult struct {
	clip Clip
	err  error
}

func startLookahead(ctx context.Context, ld Loader, desc clip.Descriptor, fps int) *lookahead {
	la := &lookahead{ch: make(chan lookaheadResult, 1)}
	go func() {
		c, err := ld.Load(ctx, desc, fps)
		la.ch <- lookaheadResult{clip: c, err: err}
	}()
	return la
}

func (la *lookahead) await() (Clip, error) {
	res := <-la.ch
	return res.clip, res.err
}

// plannedDuration is the expected output length from descriptor timings:
// clip durations minus the overlap consumed by each crossfade.
func plannedDuration(descriptors []clip.Descriptor, crossfadeSeconds float64) float64 {
	total := 0.0
	for _, d := range descriptors {
		total += d.DurationSeconds
	}
	total -= float64(len(descriptors)-1) * crossfadeSeconds
	if total < 0 {
		total = 0
	}
	return total
}

func transitionTarget(descriptors []clip.Descriptor, next Clip, j int) string {
	if next == nil {
		return "black"
	}
	return descriptors[j].Label(j)
}
