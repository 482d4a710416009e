package loader

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/stitch-api/internal/clip"
	"github.com/clipforge/stitch-api/internal/registry"
)

const testClipURL = "https://cdn.example.com/clips/intro.mp4"

// newTestLoader builds a loader wired for offline tests: intercepted HTTP,
// no backoff sleeps, and binary paths that fail fast instead of invoking a
// real ffmpeg.
func newTestLoader(t *testing.T, arena *registry.Arena) (*Loader, *http.Client) {
	t.Helper()

	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	t.Cleanup(httpmock.DeactivateAndReset)

	l := New(arena,
		WithHTTPClient(client),
		WithMaxAttempts(2),
		WithBaseDelay(0),
		WithReadyTimeout(time.Second),
		WithFFmpeg("/nonexistent/ffmpeg", "/nonexistent/ffprobe"),
		WithTempDir(t.TempDir()),
	)
	return l, client
}

func TestLoadExhaustsRetriesOnNetworkFailure(t *testing.T) {
	arena := registry.NewArena(nil)
	l, _ := newTestLoader(t, arena)

	httpmock.RegisterResponder(http.MethodGet, testClipURL,
		httpmock.NewStringResponder(http.StatusInternalServerError, "upstream down"))

	desc := clip.Descriptor{SourceURL: testClipURL, DurationSeconds: 4}
	_, err := l.Load(context.Background(), desc, 30)
	require.Error(t, err)

	le, ok := AsLoadError(err)
	require.True(t, ok, "want *LoadError, got %T", err)
	assert.Equal(t, ReasonNetwork, le.Reason)
	assert.Equal(t, 2, le.Attempt)
	assert.Equal(t, testClipURL, le.URL)
	assert.Equal(t, 2, httpmock.GetTotalCallCount(), "one fetch per attempt")
}

func TestLoadStopsRetryingOnCancel(t *testing.T) {
	arena := registry.NewArena(nil)
	l, _ := newTestLoader(t, arena)

	ctx, cancel := context.WithCancel(context.Background())
	httpmock.RegisterResponder(http.MethodGet, testClipURL,
		func(*http.Request) (*http.Response, error) {
			cancel()
			return httpmock.NewStringResponse(http.StatusBadGateway, ""), nil
		})

	desc := clip.Descriptor{SourceURL: testClipURL, DurationSeconds: 4}
	_, err := l.Load(ctx, desc, 30)
	require.Error(t, err)

	le, ok := AsLoadError(err)
	require.True(t, ok)
	assert.Equal(t, ReasonTimeout, le.Reason)
	assert.Equal(t, 1, httpmock.GetTotalCallCount(), "no further attempts after cancel")
}

func TestLoadRegistersFetchedAssetWithArena(t *testing.T) {
	arena := registry.NewArena(nil)
	l, _ := newTestLoader(t, arena)

	// The fetch succeeds but the payload is not decodable media, so the
	// load fails at the probe. The materialized file must still be
	// tracked and removed on drain.
	httpmock.RegisterResponder(http.MethodGet, testClipURL,
		httpmock.NewStringResponder(http.StatusOK, "definitely not an mp4"))

	desc := clip.Descriptor{SourceURL: testClipURL, DurationSeconds: 4}
	_, err := l.Load(context.Background(), desc, 30)
	require.Error(t, err)
	require.NotZero(t, arena.Len(), "fetched asset not registered")

	entries, err := os.ReadDir(l.tempDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries, "asset file missing before drain")

	require.NoError(t, arena.Drain())

	entries, err = os.ReadDir(l.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "asset file leaked past drain")
}

func TestLoadAudioDoesNotFallBackToRemote(t *testing.T) {
	arena := registry.NewArena(nil)
	l, _ := newTestLoader(t, arena)

	httpmock.RegisterResponder(http.MethodGet, testClipURL,
		httpmock.NewStringResponder(http.StatusNotFound, ""))

	_, err := l.LoadAudio(context.Background(), testClipURL)
	require.Error(t, err)

	le, ok := AsLoadError(err)
	require.True(t, ok)
	assert.Equal(t, ReasonNetwork, le.Reason)
	assert.Equal(t, 2, le.Attempt)
}

func TestParseProbeOutput(t *testing.T) {
	t.Run("video stream", func(t *testing.T) {
		out := "width=1920\nheight=1080\nduration=12.480000\n"
		info, err := parseProbeOutput(out)
		require.NoError(t, err)
		assert.Equal(t, 1920, info.Width)
		assert.Equal(t, 1080, info.Height)
		assert.InDelta(t, 12.48, info.DurationSeconds, 1e-9)
	})

	t.Run("audio only", func(t *testing.T) {
		info, err := parseProbeOutput("duration=180.5\n")
		require.NoError(t, err)
		assert.Zero(t, info.Width)
		assert.Zero(t, info.Height)
		assert.InDelta(t, 180.5, info.DurationSeconds, 1e-9)
	})

	t.Run("missing duration", func(t *testing.T) {
		_, err := parseProbeOutput("width=640\nheight=480\n")
		assert.Error(t, err)
	})

	t.Run("unparsable duration", func(t *testing.T) {
		_, err := parseProbeOutput("duration=N/A\n")
		assert.Error(t, err)
	})

	t.Run("ignores junk lines", func(t *testing.T) {
		out := "\nnot a pair\nwidth=320\nheight=240\nduration=1\n"
		info, err := parseProbeOutput(out)
		require.NoError(t, err)
		assert.Equal(t, 320, info.Width)
		assert.Equal(t, 240, info.Height)
	})
}

func TestClampWindow(t *testing.T) {
	cases := []struct {
		name         string
		desc         clip.Descriptor
		sourceDur    float64
		wantStart    float64
		wantDuration float64
	}{
		{
			name:         "window fits",
			desc:         clip.Descriptor{StartOffsetSeconds: 2, DurationSeconds: 5},
			sourceDur:    10,
			wantStart:    2,
			wantDuration: 5,
		},
		{
			name:         "duration clamped to remainder",
			desc:         clip.Descriptor{StartOffsetSeconds: 8, DurationSeconds: 5},
			sourceDur:    10,
			wantStart:    8,
			wantDuration: 2,
		},
		{
			name:         "offset past end resets to zero",
			desc:         clip.Descriptor{StartOffsetSeconds: 20, DurationSeconds: 5},
			sourceDur:    10,
			wantStart:    0,
			wantDuration: 5,
		},
		{
			name:         "negative offset resets to zero",
			desc:         clip.Descriptor{StartOffsetSeconds: -3, DurationSeconds: 4},
			sourceDur:    10,
			wantStart:    0,
			wantDuration: 4,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			start, dur := clampWindow(tc.desc, tc.sourceDur)
			assert.InDelta(t, tc.wantStart, start, 1e-9)
			assert.InDelta(t, tc.wantDuration, dur, 1e-9)
		})
	}
}
