// Package audio prepares the optional music/voice bed for a stitch run.
package audio

import "context"

// BedOpts configures audio bed preparation.
type BedOpts struct {
	// TargetSeconds is the planned output duration the bed must cover.
	TargetSeconds float64

	// LoopIfShort loops the bed when it is shorter than the target
	// instead of leaving trailing silence.
	// Default: true.
	LoopIfShort bool

	// FadeOutSeconds applies a fade at the end of the trimmed bed so the
	// audio doesn't cut off abruptly with the last frame.
	// Default: 1 second.
	FadeOutSeconds float64
}

// DefaultBedOpts returns the default options for bed preparation.
func DefaultBedOpts(targetSeconds float64) BedOpts {
	return BedOpts{
		TargetSeconds:  targetSeconds,
		LoopIfShort:    true,
		FadeOutSeconds: 1,
	}
}

// Preparer defines the interface for shaping a raw audio asset into a bed
// that exactly covers the planned run duration.
type Preparer interface {
	// PrepareBed trims (and, if configured, loops) the input so its
	// duration matches opts.TargetSeconds, writing the result into
	// outputDir. Returns the path of the prepared file; the caller is
	// responsible for cleaning it up.
	PrepareBed(ctx context.Context, inputPath, outputDir string, opts BedOpts) (string, error)
}
