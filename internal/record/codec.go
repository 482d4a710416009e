package record

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrEncodingUnsupported is returned when none of the preferred
// codec/container combinations is available in the host encoder.
var ErrEncodingUnsupported = errors.New("record: no supported codec/container combination")

// Candidate is one codec/container combination the pipeline can target.
type Candidate struct {
	// VideoCodec is the encoder name, e.g. "libvpx-vp9".
	VideoCodec string
	// AudioCodec is the matching audio track encoder.
	AudioCodec string
	// Container is the output muxer format.
	Container string
	// MimeType is the type declared on the resulting artifact.
	MimeType string
}

// preferenceList is the descending codec preference: combined
// video+audio WebM first, then the generic Matroska fallback.
func preferenceList() []Candidate {
	return []Candidate{
		{VideoCodec: "libvpx-vp9", AudioCodec: "libopus", Container: "webm", MimeType: "video/webm;codecs=vp9"},
		{VideoCodec: "libvpx", AudioCodec: "libopus", Container: "webm", MimeType: "video/webm;codecs=vp8"},
		{VideoCodec: "libx264", AudioCodec: "aac", Container: "matroska", MimeType: "video/x-matroska;codecs=avc1"},
	}
}

// probeEncoders lists the encoder names the ffmpeg binary supports.
func probeEncoders(ctx context.Context, ffmpegPath string) (map[string]bool, error) {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-encoders")

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("list encoders: %w", err)
	}

	return parseEncoderList(stdout.String()), nil
}

// parseEncoderList extracts encoder names from `ffmpeg -encoders` output.
// Lines look like " V....D libvpx-vp9  libvpx VP9 Encoder ...".
func parseEncoderList(out string) map[string]bool {
	supported := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(out))
	inList := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			supported[fields[1]] = true
		}
	}
	return supported
}

// selectCandidate picks the first preference both of whose codecs are
// supported. When audio is not needed, only the video codec must match.
func selectCandidate(supported map[string]bool, needAudio bool) (Candidate, error) {
	for _, c := range preferenceList() {
		if !supported[c.VideoCodec] {
			continue
		}
		if needAudio && !supported[c.AudioCodec] {
			continue
		}
		return c, nil
	}
	return Candidate{}, ErrEncodingUnsupported
}
