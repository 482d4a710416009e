package stitch

import (
	"context"

	"github.com/clipforge/stitch-api/internal/clip"
	"github.com/clipforge/stitch-api/internal/loader"
	"github.com/clipforge/stitch-api/internal/record"
)

// loaderAdapter adapts *loader.Loader to the Loader port.
type loaderAdapter struct {
	inner *loader.Loader
}

// AdaptLoader wraps the concrete asset loader in the orchestrator's port.
func AdaptLoader(l *loader.Loader) Loader {
	return &loaderAdapter{inner: l}
}

func (a *loaderAdapter) Load(ctx context.Context, desc clip.Descriptor, fps int) (Clip, error) {
	loaded, err := a.inner.Load(ctx, desc, fps)
	if err != nil {
		return nil, err
	}
	return loaded, nil
}

func (a *loaderAdapter) LoadAudio(ctx context.Context, url string) (string, float64, error) {
	bed, err := a.inner.LoadAudio(ctx, url)
	if err != nil {
		return "", 0, err
	}
	return bed.Path, bed.DurationSeconds, nil
}

// StartRecordPipeline is the PipelineStarter backed by the real encoder.
func StartRecordPipeline(ctx context.Context, cfg record.Config) (Pipeline, error) {
	p, err := record.Start(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}
