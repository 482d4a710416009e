// Package clip defines the data model shared across the stitching engine:
// clip descriptors, stitch options, progress snapshots, and output artifacts.
package clip

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Static errors for the stitching data model.
var (
	// ErrNoClips is returned when a stitch run is started with an empty clip list.
	ErrNoClips = errors.New("clip: no clips provided")
	// ErrInvalidOptions is returned when stitch options fail validation.
	ErrInvalidOptions = errors.New("clip: invalid stitch options")
)

// Descriptor identifies one clip in the source timeline. Descriptors are
// immutable once a run starts; the orchestrator clamps offsets against the
// probed source duration at load time rather than trusting these values.
type Descriptor struct {
	// SourceURL is the remote location of the clip. May be same-origin or
	// cross-origin; the loader always materializes a local copy first.
	SourceURL string `json:"source_url" validate:"required,url"`
	// Title is an optional human-readable label used in progress messages.
	Title string `json:"title,omitempty"`
	// StartOffsetSeconds is where playback of the source begins.
	StartOffsetSeconds float64 `json:"start_offset_seconds" validate:"gte=0"`
	// DurationSeconds is how much of the source this clip covers.
	DurationSeconds float64 `json:"duration_seconds" validate:"gt=0"`
}

// Label returns the clip title, falling back to a positional name.
func (d Descriptor) Label(index int) string {
	if d.Title != "" {
		return d.Title
	}
	return fmt.Sprintf("clip %d", index+1)
}

// Options configures a stitch run. All fields are optional; ApplyDefaults
// fills the canonical parameter set and Validate rejects non-positive
// dimensions or rates before any resource is allocated.
type Options struct {
	// Width and Height define the fixed output resolution.
	Width  int `json:"width" validate:"gt=0,lte=4096"`
	Height int `json:"height" validate:"gt=0,lte=4096"`
	// FPS is the output frame rate.
	FPS int `json:"fps" validate:"gt=0,lte=120"`
	// VideoBitrateMbps is the target encoder bitrate in megabits per second.
	VideoBitrateMbps float64 `json:"video_bitrate_mbps" validate:"gt=0"`
	// CrossfadeSeconds is the cross-dissolve duration at clip boundaries.
	// Zero disables crossfades entirely.
	CrossfadeSeconds float64 `json:"crossfade_seconds" validate:"gte=0,lte=5"`
	// AudioURL optionally points at a music or voice bed mixed under the
	// stitched video as a second track.
	AudioURL string `json:"audio_url,omitempty" validate:"omitempty,url"`
	// OnProgress, when set, receives progress snapshots during the run.
	OnProgress ProgressFunc `json:"-" validate:"-"`
}

// Canonical defaults: 720p at 30 fps, 5 Mb/s, half-second crossfade.
const (
	DefaultWidth            = 1280
	DefaultHeight           = 720
	DefaultFPS              = 30
	DefaultVideoBitrateMbps = 5
	DefaultCrossfadeSeconds = 0.5
)

// DefaultOptions returns the canonical stitch parameter set.
func DefaultOptions() Options {
	return Options{
		Width:            DefaultWidth,
		Height:           DefaultHeight,
		FPS:              DefaultFPS,
		VideoBitrateMbps: DefaultVideoBitrateMbps,
		CrossfadeSeconds: DefaultCrossfadeSeconds,
	}
}

// ApplyDefaults fills zero-valued fields with the canonical defaults.
// CrossfadeSeconds is left alone: zero is a valid "no crossfade" choice.
func (o *Options) ApplyDefaults() {
	if o.Width == 0 {
		o.Width = DefaultWidth
	}
	if o.Height == 0 {
		o.Height = DefaultHeight
	}
	if o.FPS == 0 {
		o.FPS = DefaultFPS
	}
	if o.VideoBitrateMbps == 0 {
		o.VideoBitrateMbps = DefaultVideoBitrateMbps
	}
}

var validate = validator.New()

// Validate checks the options once at run start. Invalid values fail fast
// rather than degrading silently mid-run.
func (o *Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	return nil
}

// ProgressFunc receives progress snapshots published by the orchestrator.
// Consumers must not assume a fixed number of calls; the only guarantee is
// non-decreasing percent within a phase.
type ProgressFunc func(Progress)

// Phase identifies the stage a stitch run is in. Phases move strictly
// forward except that PhaseError is reachable from any of them.
type Phase string

const (
	PhaseLoading    Phase = "loading"
	PhaseProcessing Phase = "processing"
	PhaseEncoding   Phase = "encoding"
	PhaseFinalizing Phase = "finalizing"
	PhaseComplete   Phase = "complete"
	PhaseError      Phase = "error"
)

// Progress is a point-in-time snapshot of a stitch run.
type Progress struct {
	// Phase is the current run stage.
	Phase Phase `json:"phase"`
	// CurrentClip is the 1-based index of the clip being processed.
	CurrentClip int `json:"current_clip"`
	// TotalClips is the number of clips in the timeline.
	TotalClips int `json:"total_clips"`
	// PercentComplete is monotonically non-decreasing within a successful run.
	PercentComplete float64 `json:"percent_complete"`
	// Message is a human-readable status line; never a raw stack trace.
	Message string `json:"message"`
	// EstimatedSecondsRemaining is a rough remaining-time estimate,
	// zero when unknown.
	EstimatedSecondsRemaining float64 `json:"estimated_seconds_remaining,omitempty"`
}

// Artifact is the final encoded output of a successful run: the container
// bytes plus their declared MIME type. Produced exactly once per run and
// never mutated after creation.
type Artifact struct {
	// Data is the complete container-wrapped bitstream.
	Data []byte `json:"-"`
	// MimeType declares the container, e.g. "video/webm;codecs=vp9".
	MimeType string `json:"mime_type"`
}

// Size returns the artifact's byte length.
func (a *Artifact) Size() int {
	return len(a.Data)
}

// FileExtension maps the artifact MIME type to a filename extension.
func (a *Artifact) FileExtension() string {
	switch {
	case strings.HasPrefix(a.MimeType, "video/webm"):
		return ".webm"
	case strings.HasPrefix(a.MimeType, "video/mp4"):
		return ".mp4"
	case strings.HasPrefix(a.MimeType, "video/x-matroska"):
		return ".mkv"
	default:
		return ".bin"
	}
}
