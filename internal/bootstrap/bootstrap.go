// Package bootstrap provides dependency initialization for the stitch API.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clipforge/stitch-api/internal/audio"
	"github.com/clipforge/stitch-api/internal/config"
	"github.com/clipforge/stitch-api/internal/job"
	"github.com/clipforge/stitch-api/internal/loader"
	"github.com/clipforge/stitch-api/internal/record"
	"github.com/clipforge/stitch-api/internal/registry"
	"github.com/clipforge/stitch-api/internal/server"
	"github.com/clipforge/stitch-api/internal/stitch"
	"github.com/clipforge/stitch-api/internal/storage"
	"github.com/clipforge/stitch-api/internal/transcode"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	StitchService *job.StitchService
	Handlers      *server.Handlers
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	readyTimeout, err := time.ParseDuration(cfg.LoadReadyTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse LOAD_READY_TIMEOUT: %w", err)
	}

	// Each stitch run gets its own loader bound to the run's arena, so
	// fetched assets and decoders drain with the run.
	newLoader := func(arena *registry.Arena) stitch.Loader {
		return stitch.AdaptLoader(loader.New(arena,
			loader.WithFFmpeg(cfg.FFmpegPath, cfg.FFprobePath),
			loader.WithMaxAttempts(cfg.LoadMaxAttempts),
			loader.WithBaseDelay(time.Duration(cfg.LoadBaseDelayMS)*time.Millisecond),
			loader.WithReadyTimeout(readyTimeout),
			loader.WithLogger(logger),
			loader.WithTempDir(cfg.TempDir),
		))
	}

	// The encoder binary comes from config, not from callers.
	startPipeline := func(ctx context.Context, rc record.Config) (stitch.Pipeline, error) {
		rc.FFmpegPath = cfg.FFmpegPath
		rc.Logger = logger
		return stitch.StartRecordPipeline(ctx, rc)
	}

	engine := stitch.NewEngine(newLoader, startPipeline,
		stitch.WithLogger(logger),
		stitch.WithAudioPreparer(audio.NewFFmpegPreparer(cfg.FFmpegPath)),
		stitch.WithTempDir(cfg.TempDir),
	)

	repo := job.NewMemoryRepository()

	serviceOpts := []job.ServiceOption{
		job.WithLogger(logger),
		job.WithMaxConcurrentRuns(int64(cfg.MaxConcurrentStitches)),
		job.WithDefaults(job.Defaults{
			Width:            cfg.DefaultWidth,
			Height:           cfg.DefaultHeight,
			FPS:              cfg.DefaultFPS,
			CrossfadeSeconds: cfg.DefaultCrossfade,
		}),
	}
	bridge := transcode.NewFFmpegBridge(cfg.FFmpegPath, cfg.TempDir, logger)
	if err := bridge.Available(context.Background()); err != nil {
		logger.Warn("mp4 transcoding unavailable, conversion requests will be downgraded",
			slog.String("error", err.Error()),
		)
	} else {
		serviceOpts = append(serviceOpts, job.WithTranscoder(bridge))
	}

	svc := job.NewStitchService(repo, engine, store, serviceOpts...)

	return &Dependencies{
		StitchService: svc,
		Handlers:      server.NewHandlers(svc, logger),
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	dir := cfg.ArtifactDir

	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(dir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(dir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("artifact_dir", localStore.Dir()),
	)
	return localStore, nil
}
