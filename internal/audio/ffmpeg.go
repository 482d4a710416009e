package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
)

// ErrInvalidTarget is returned when the requested bed duration is not positive.
var ErrInvalidTarget = errors.New("audio: target duration must be positive")

// FFmpegPreparer implements Preparer using the ffmpeg CLI.
type FFmpegPreparer struct {
	ffmpegPath string
}

// NewFFmpegPreparer creates a new FFmpegPreparer.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found in PATH).
func NewFFmpegPreparer(ffmpegPath string) *FFmpegPreparer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegPreparer{ffmpegPath: ffmpegPath}
}

// PrepareBed implements Preparer.PrepareBed. The bed is decoded to PCM so
// the recording pipeline re-encodes exactly once, loop-extended when
// shorter than the target, trimmed to the target, and faded out.
func (p *FFmpegPreparer) PrepareBed(ctx context.Context, inputPath, outputDir string, opts BedOpts) (string, error) {
	if opts.TargetSeconds <= 0 {
		return "", fmt.Errorf("%w: got %.2f", ErrInvalidTarget, opts.TargetSeconds)
	}
	if _, err := os.Stat(inputPath); os.IsNotExist(err) {
		return "", fmt.Errorf("input file does not exist: %s", inputPath)
	}

	duration, err := p.getAudioDuration(ctx, inputPath)
	if err != nil {
		return "", fmt.Errorf("get audio duration: %w", err)
	}

	outputPath := filepath.Join(outputDir, "bed.wav")

	args := []string{"-y"}
	if opts.LoopIfShort && duration < opts.TargetSeconds {
		args = append(args, "-stream_loop", "-1")
	}
	args = append(args, "-i", inputPath, "-t", formatSeconds(opts.TargetSeconds))

	if opts.FadeOutSeconds > 0 && opts.TargetSeconds > opts.FadeOutSeconds {
		fadeStart := opts.TargetSeconds - opts.FadeOutSeconds
		args = append(args, "-af",
			fmt.Sprintf("afade=t=out:st=%s:d=%s", formatSeconds(fadeStart), formatSeconds(opts.FadeOutSeconds)),
		)
	}

	args = append(args, "-ar", "48000", "-ac", "2", outputPath)

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("prepare bed cancelled: %w", ctx.Err())
		}
		return "", fmt.Errorf("prepare bed failed: %w, stderr: %s", err, stderr.String())
	}

	return outputPath, nil
}

// getAudioDuration returns the duration of an audio file in seconds.
func (p *FFmpegPreparer) getAudioDuration(ctx context.Context, inputPath string) (float64, error) {
	cmd := exec.CommandContext(ctx, p.ffmpegPath,
		"-i", inputPath,
		"-hide_banner",
		"-f", "null", "-",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// ffmpeg writes duration info to stderr
	_ = cmd.Run() // Ignore error as ffmpeg exits with error when output is null

	// Parse duration from stderr
	// Looking for: "Duration: HH:MM:SS.ms"
	output := stderr.String()
	re := regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+)\.(\d+)`)
	matches := re.FindStringSubmatch(output)
	if len(matches) < 5 {
		return 0, fmt.Errorf("could not parse duration from ffmpeg output: %s", output)
	}

	hours, _ := strconv.ParseFloat(matches[1], 64)
	minutes, _ := strconv.ParseFloat(matches[2], 64)
	seconds, _ := strconv.ParseFloat(matches[3], 64)
	ms, _ := strconv.ParseFloat(matches[4], 64)

	// Convert milliseconds - handle different precision
	msDivisor := 1.0
	for i := 0; i < len(matches[4]); i++ {
		msDivisor *= 10
	}

	return hours*3600 + minutes*60 + seconds + ms/msDivisor, nil
}

// formatSeconds renders a duration for ffmpeg arguments.
func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
