// Package job: StitchService is the use case that runs the stitching
// engine asynchronously per job, persists progress snapshots, and stores
// the finished artifact.
package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/clipforge/stitch-api/internal/clip"
	"github.com/clipforge/stitch-api/internal/stitch"
	"github.com/clipforge/stitch-api/internal/storage"
	"github.com/clipforge/stitch-api/internal/transcode"
)

// ErrNoArtifact is returned when a download is requested for a job that
// has no stored output.
var ErrNoArtifact = errors.New("job has no artifact")

// ErrNotTerminal is returned when a job is deleted before it finished.
var ErrNotTerminal = errors.New("job is still running")

// Runner starts one stitch run and blocks until it resolves. Satisfied by
// *stitch.Engine; a port so service tests need no real engine.
type Runner interface {
	Run(ctx context.Context, clips []clip.Descriptor, opts clip.Options) (*stitch.Result, error)
}

// CreateStitchInput is the request to stitch a timeline.
type CreateStitchInput struct {
	// Clips is the ordered source timeline.
	Clips []clip.Descriptor
	// Options are the stitch parameters; zero values take the service
	// defaults.
	Options clip.Options
	// CrossfadeExplicit marks Options.CrossfadeSeconds as deliberately
	// chosen by the caller. Without it a zero crossfade means "unset"
	// and takes the default; with it zero means "no crossfade".
	CrossfadeExplicit bool
	// ConvertToMP4 requests a best-effort MP4 conversion of the primary
	// artifact. Conversion failure downgrades to the primary format.
	ConvertToMP4 bool
	// UploadToS3 requests S3 delivery of the artifact.
	UploadToS3 bool
}

// Defaults are the stitch parameters applied when a request leaves them
// unset. Deployments override them through configuration.
type Defaults struct {
	Width            int
	Height           int
	FPS              int
	CrossfadeSeconds float64
}

// StitchService coordinates job lifecycle around the engine: create,
// run in the background, track progress, store output, cancel, delete.
type StitchService struct {
	repo     Repository
	runner   Runner
	store    storage.Storage
	bridge   transcode.Bridge
	logger   *slog.Logger
	sem      *semaphore.Weighted
	defaults Defaults

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// ServiceOption configures a StitchService.
type ServiceOption func(*StitchService)

// WithTranscoder enables best-effort MP4 conversion of finished artifacts.
func WithTranscoder(b transcode.Bridge) ServiceOption {
	return func(s *StitchService) { s.bridge = b }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *StitchService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDefaults overrides the built-in stitch parameter defaults.
// Non-positive fields keep the canonical values.
func WithDefaults(d Defaults) ServiceOption {
	return func(s *StitchService) {
		if d.Width > 0 {
			s.defaults.Width = d.Width
		}
		if d.Height > 0 {
			s.defaults.Height = d.Height
		}
		if d.FPS > 0 {
			s.defaults.FPS = d.FPS
		}
		if d.CrossfadeSeconds > 0 {
			s.defaults.CrossfadeSeconds = d.CrossfadeSeconds
		}
	}
}

// WithMaxConcurrentRuns caps how many stitch runs execute at once.
// Jobs beyond the cap stay QUEUED until a slot frees.
func WithMaxConcurrentRuns(n int64) ServiceOption {
	return func(s *StitchService) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(n)
		}
	}
}

// NewStitchService creates a StitchService.
func NewStitchService(repo Repository, runner Runner, store storage.Storage, opts ...ServiceOption) *StitchService {
	s := &StitchService{
		repo:    repo,
		runner:  runner,
		store:   store,
		logger:  slog.Default(),
		sem:     semaphore.NewWeighted(2),
		cancels: make(map[string]context.CancelFunc),
		defaults: Defaults{
			Width:            clip.DefaultWidth,
			Height:           clip.DefaultHeight,
			FPS:              clip.DefaultFPS,
			CrossfadeSeconds: clip.DefaultCrossfadeSeconds,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateStitch validates the request, persists a queued job, and starts
// the run in the background. It returns immediately with the queued job.
func (s *StitchService) CreateStitch(ctx context.Context, input CreateStitchInput) (*Job, error) {
	if len(input.Clips) == 0 {
		return nil, clip.ErrNoClips
	}
	opts := input.Options
	if opts.Width == 0 {
		opts.Width = s.defaults.Width
	}
	if opts.Height == 0 {
		opts.Height = s.defaults.Height
	}
	if opts.FPS == 0 {
		opts.FPS = s.defaults.FPS
	}
	if !input.CrossfadeExplicit && opts.CrossfadeSeconds == 0 {
		opts.CrossfadeSeconds = s.defaults.CrossfadeSeconds
	}
	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	j := New(input.Clips, opts)

	s.logger.Info("creating stitch job",
		slog.String("job_id", j.ID),
		slog.Int("clips", len(input.Clips)),
		slog.Int("width", opts.Width),
		slog.Int("height", opts.Height),
		slog.Int("fps", opts.FPS),
		slog.Bool("mp4", input.ConvertToMP4),
		slog.Bool("s3", input.UploadToS3),
	)

	if err := s.repo.Save(ctx, j); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	// The run outlives the creating request.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.cancels[j.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.cancels, j.ID)
			s.mu.Unlock()
		}()
		s.process(runCtx, j, input)
	}()

	return j.Clone(), nil
}

// process drives one job from RUNNING to a terminal state.
func (s *StitchService) process(ctx context.Context, j *Job, input CreateStitchInput) {
	logger := s.logger.With(slog.String("job_id", j.ID))

	if err := s.sem.Acquire(ctx, 1); err != nil {
		// Cancelled while waiting for a run slot.
		logger.Info("job cancelled before a run slot freed")
		_ = j.Cancel()
		s.persist(j, logger)
		return
	}
	defer s.sem.Release(1)

	if err := j.Start(); err != nil {
		// Cancelled while still queued.
		logger.Info("job never started", slog.String("status", string(j.GetStatus())))
		return
	}
	s.persist(j, logger)

	opts := j.Clone().Options
	opts.OnProgress = func(p clip.Progress) {
		j.UpdateProgress(p)
		s.persist(j, logger)
	}

	result, runErr := s.runner.Run(ctx, input.Clips, opts)
	if result != nil {
		j.SetRunID(result.RunID)
	}

	switch {
	case runErr != nil && (errors.Is(runErr, context.Canceled) || ctx.Err() != nil):
		logger.Info("stitch job cancelled")
		_ = j.Cancel()
	case runErr != nil:
		logger.Error("stitch job failed", slog.String("error", runErr.Error()))
		s.salvagePartial(ctx, j, result, logger)
		_ = j.Fail(runErr.Error())
	default:
		if err := s.finish(ctx, j, result, input, logger); err != nil {
			logger.Error("storing stitch output failed", slog.String("error", err.Error()))
			_ = j.Fail(err.Error())
		} else {
			_ = j.Complete()
		}
	}
	s.persist(j, logger)
}

// finish converts (best effort), stores, and optionally uploads the
// finished artifact.
func (s *StitchService) finish(ctx context.Context, j *Job, result *stitch.Result, input CreateStitchInput, logger *slog.Logger) error {
	artifact := result.Artifact

	if input.ConvertToMP4 {
		artifact = s.convert(ctx, artifact, logger)
	}

	path, err := s.store.SaveArtifact(ctx, j.ID+artifact.FileExtension(), bytes.NewReader(artifact.Data))
	if err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}

	url := ""
	if input.UploadToS3 {
		key := storage.ArtifactKey(j.ID, artifact.FileExtension())
		url, err = s.store.UploadToS3(ctx, key, bytes.NewReader(artifact.Data))
		if err != nil {
			// Delivery is an extra; the local artifact still counts.
			logger.Warn("S3 upload failed, artifact remains local", slog.String("error", err.Error()))
			url = ""
		}
	}

	j.SetArtifact(path, url, artifact.MimeType, result.FramesComposed, result.DurationSeconds)
	logger.Info("stitch job completed",
		slog.String("artifact", path),
		slog.Int("frames", result.FramesComposed),
		slog.String("mime_type", artifact.MimeType),
	)
	return nil
}

// convert attempts the MP4 conversion, downgrading to the primary
// artifact when the bridge is absent or fails.
func (s *StitchService) convert(ctx context.Context, artifact *clip.Artifact, logger *slog.Logger) *clip.Artifact {
	if s.bridge == nil {
		logger.Warn("MP4 requested but no transcoder configured, keeping primary format")
		return artifact
	}
	converted, err := s.bridge.Convert(ctx, artifact, "video/mp4")
	if err != nil {
		logger.Warn("MP4 conversion failed, keeping primary format", slog.String("error", err.Error()))
		return artifact
	}
	return converted
}

// salvagePartial stores whatever the encoder captured before a failure so
// the bytes are not lost with the error.
func (s *StitchService) salvagePartial(ctx context.Context, j *Job, result *stitch.Result, logger *slog.Logger) {
	if result == nil || result.Artifact == nil || result.Artifact.Size() == 0 {
		return
	}
	a := result.Artifact
	path, err := s.store.SaveArtifact(ctx, j.ID+"_partial"+a.FileExtension(), bytes.NewReader(a.Data))
	if err != nil {
		logger.Warn("could not store partial output", slog.String("error", err.Error()))
		return
	}
	j.SetArtifact(path, "", a.MimeType, result.FramesComposed, result.DurationSeconds)
	logger.Info("partial output preserved", slog.String("artifact", path), slog.Int("bytes", a.Size()))
}

func (s *StitchService) persist(j *Job, logger *slog.Logger) {
	if err := s.repo.Save(context.Background(), j); err != nil {
		logger.Error("persisting job failed", slog.String("error", err.Error()))
	}
}

// GetJob retrieves a job by ID.
func (s *StitchService) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns all jobs.
func (s *StitchService) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// Cancel stops a queued or running job. The run's resources are released
// by the engine; partial output is discarded by contract.
func (s *StitchService) Cancel(ctx context.Context, id string) error {
	j, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if j.IsTerminal() {
		return ErrInvalidTransition
	}

	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if ok {
		cancel()
		return nil
	}

	// No active run to interrupt; flip the stored record directly.
	if err := j.Cancel(); err != nil {
		return err
	}
	return s.repo.Save(ctx, j)
}

// OpenArtifact opens a finished job's stored output for download.
func (s *StitchService) OpenArtifact(ctx context.Context, id string) (io.ReadCloser, string, error) {
	j, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if j.ArtifactPath == "" {
		return nil, "", ErrNoArtifact
	}
	rc, err := s.store.OpenArtifact(ctx, j.ArtifactPath)
	if err != nil {
		return nil, "", err
	}
	return rc, j.MimeType, nil
}

// Delete removes a terminal job and its stored artifact.
func (s *StitchService) Delete(ctx context.Context, id string) error {
	j, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !j.IsTerminal() {
		return ErrNotTerminal
	}
	if j.ArtifactPath != "" {
		if err := s.store.RemoveArtifacts(ctx, []string{j.ArtifactPath}); err != nil {
			s.logger.Warn("removing artifact failed",
				slog.String("job_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return s.repo.Delete(ctx, id)
}

// Wait blocks until all background runs have finished. Used on shutdown.
func (s *StitchService) Wait() {
	s.wg.Wait()
}
