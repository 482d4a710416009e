// Package stitch implements the top-level orchestrator: the state machine
// that sequences loading, composing, and recording across an ordered clip
// timeline and produces the final output artifact.
package stitch

import (
	"context"

	"github.com/clipforge/stitch-api/internal/clip"
	"github.com/clipforge/stitch-api/internal/compose"
	"github.com/clipforge/stitch-api/internal/record"
	"github.com/clipforge/stitch-api/internal/registry"
)

// Clip is a loaded, decodable clip handle. Ownership sits with the
// orchestrator from the moment the loader returns it; the render loop is
// the only reader of its frames.
type Clip interface {
	// NextFrame returns the next decoded frame, io.EOF on exhaustion.
	NextFrame(ctx context.Context) (*compose.Frame, error)
	// Duration is the clamped playable duration in seconds.
	Duration() float64
	// Close detaches the clip's decoder.
	Close() error
}

// Loader acquires remote assets for one run. Implementations register
// every allocation with the run's arena before returning.
type Loader interface {
	// Load fetches, probes, and buffers one clip at the run frame rate.
	Load(ctx context.Context, desc clip.Descriptor, fps int) (Clip, error)
	// LoadAudio materializes the audio bed, returning its local path and
	// probed duration.
	LoadAudio(ctx context.Context, url string) (path string, durationSeconds float64, err error)
}

// LoaderFactory builds a loader bound to a run-scoped arena.
type LoaderFactory func(arena *registry.Arena) Loader

// Pipeline is the push encoder the orchestrator records into.
type Pipeline interface {
	// PushFrame feeds one composed RGBA frame.
	PushFrame(pix []byte) error
	// Stop finalizes the stream into an artifact; on encoder failure the
	// partial artifact is returned alongside the error.
	Stop(ctx context.Context) (*clip.Artifact, error)
	// Abort discards the run's output without finalizing.
	Abort()
	// MimeType is the negotiated container type.
	MimeType() string
}

// PipelineStarter launches the recording pipeline. Called exactly once per
// run.
type PipelineStarter func(ctx context.Context, cfg record.Config) (Pipeline, error)
