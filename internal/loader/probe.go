package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ErrProbeFailed is returned when ffprobe cannot read the asset's metadata.
var ErrProbeFailed = errors.New("loader: probe failed")

// sourceInfo is the probed metadata of a media asset.
type sourceInfo struct {
	// DurationSeconds is the container duration.
	DurationSeconds float64
	// Width and Height are the primary video stream dimensions;
	// zero for audio-only assets.
	Width  int
	Height int
}

// probe reads duration and video dimensions via ffprobe. A probe failure is
// treated as a decode error: the bytes arrived but aren't playable media.
func (l *Loader) probe(ctx context.Context, input string) (sourceInfo, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, l.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1",
		input,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return sourceInfo{}, fmt.Errorf("probe cancelled: %w", ctx.Err())
		}
		return sourceInfo{}, fmt.Errorf("%w: %w, stderr: %s", ErrProbeFailed, err, stderr.String())
	}

	info, err := parseProbeOutput(stdout.String())
	if err != nil {
		return sourceInfo{}, fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}
	return info, nil
}

// parseProbeOutput parses ffprobe default-format key=value lines.
func parseProbeOutput(out string) (sourceInfo, error) {
	var info sourceInfo
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "width":
			if v, err := strconv.Atoi(value); err == nil {
				info.Width = v
			}
		case "height":
			if v, err := strconv.Atoi(value); err == nil {
				info.Height = v
			}
		case "duration":
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return info, fmt.Errorf("parse duration %q: %w", value, err)
			}
			info.DurationSeconds = v
		}
	}
	if info.DurationSeconds <= 0 {
		return info, errors.New("no usable duration in probe output")
	}
	return info, nil
}
