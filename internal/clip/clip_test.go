package clip

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	t.Run("fills zero values", func(t *testing.T) {
		var opts Options
		opts.ApplyDefaults()

		assert.Equal(t, DefaultWidth, opts.Width)
		assert.Equal(t, DefaultHeight, opts.Height)
		assert.Equal(t, DefaultFPS, opts.FPS)
		assert.Equal(t, float64(DefaultVideoBitrateMbps), opts.VideoBitrateMbps)
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		opts := Options{Width: 640, Height: 360, FPS: 24, VideoBitrateMbps: 2}
		opts.ApplyDefaults()

		assert.Equal(t, 640, opts.Width)
		assert.Equal(t, 360, opts.Height)
		assert.Equal(t, 24, opts.FPS)
		assert.Equal(t, float64(2), opts.VideoBitrateMbps)
	})

	t.Run("leaves zero crossfade alone", func(t *testing.T) {
		var opts Options
		opts.ApplyDefaults()

		assert.Zero(t, opts.CrossfadeSeconds)
	})
}

func TestOptionsValidate(t *testing.T) {
	valid := DefaultOptions()
	require.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(*Options)
	}{
		{"zero width", func(o *Options) { o.Width = 0 }},
		{"negative height", func(o *Options) { o.Height = -1 }},
		{"zero fps", func(o *Options) { o.FPS = 0 }},
		{"excessive fps", func(o *Options) { o.FPS = 500 }},
		{"zero bitrate", func(o *Options) { o.VideoBitrateMbps = 0 }},
		{"negative crossfade", func(o *Options) { o.CrossfadeSeconds = -0.5 }},
		{"crossfade too long", func(o *Options) { o.CrossfadeSeconds = 30 }},
		{"malformed audio url", func(o *Options) { o.AudioURL = "not a url" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := DefaultOptions()
			tc.mutate(&opts)

			err := opts.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidOptions))
		})
	}
}

func TestDescriptorLabel(t *testing.T) {
	titled := Descriptor{SourceURL: "https://cdn.example.com/a.mp4", Title: "Intro"}
	assert.Equal(t, "Intro", titled.Label(0))

	untitled := Descriptor{SourceURL: "https://cdn.example.com/b.mp4"}
	assert.Equal(t, "clip 3", untitled.Label(2))
}

func TestArtifactFileExtension(t *testing.T) {
	cases := []struct {
		mimeType string
		want     string
	}{
		{"video/webm;codecs=vp9,opus", ".webm"},
		{"video/webm", ".webm"},
		{"video/mp4", ".mp4"},
		{"video/x-matroska;codecs=h264", ".mkv"},
		{"application/octet-stream", ".bin"},
	}

	for _, tc := range cases {
		a := Artifact{MimeType: tc.mimeType}
		assert.Equal(t, tc.want, a.FileExtension(), tc.mimeType)
	}
}
