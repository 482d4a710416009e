package job

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/stitch-api/internal/clip"
	"github.com/clipforge/stitch-api/internal/stitch"
	"github.com/clipforge/stitch-api/internal/storage"
)

// fakeRunner stands in for the stitching engine: it emits one progress
// snapshot and resolves with a canned result, or blocks until cancelled.
type fakeRunner struct {
	result  *stitch.Result
	err     error
	block   bool
	started chan struct{}
	gotOpts clip.Options
}

func (r *fakeRunner) Run(ctx context.Context, _ []clip.Descriptor, opts clip.Options) (*stitch.Result, error) {
	r.gotOpts = opts
	if r.started != nil {
		close(r.started)
	}
	if opts.OnProgress != nil {
		opts.OnProgress(clip.Progress{Phase: clip.PhaseProcessing, CurrentClip: 1, TotalClips: 2, PercentComplete: 50})
	}
	if r.block {
		<-ctx.Done()
		return nil, fmt.Errorf("stitch cancelled: %w", ctx.Err())
	}
	return r.result, r.err
}

type fakeBridge struct {
	err error
}

func (b *fakeBridge) Convert(_ context.Context, artifact *clip.Artifact, targetMime string) (*clip.Artifact, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &clip.Artifact{Data: append([]byte("mp4:"), artifact.Data...), MimeType: targetMime}, nil
}

func successResult() *stitch.Result {
	return &stitch.Result{
		Artifact:        &clip.Artifact{Data: []byte("encoded webm"), MimeType: "video/webm;codecs=vp9"},
		RunID:           "run-abc",
		FramesComposed:  264,
		DurationSeconds: 8.8,
	}
}

func newTestService(t *testing.T, runner Runner, opts ...ServiceOption) (*StitchService, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return NewStitchService(repo, runner, store, opts...), repo
}

func TestCreateStitchValidates(t *testing.T) {
	svc, _ := newTestService(t, &fakeRunner{result: successResult()})

	t.Run("empty timeline", func(t *testing.T) {
		_, err := svc.CreateStitch(context.Background(), CreateStitchInput{})
		assert.ErrorIs(t, err, clip.ErrNoClips)
	})

	t.Run("invalid options", func(t *testing.T) {
		input := CreateStitchInput{Clips: testClips()}
		input.Options.FPS = -1
		_, err := svc.CreateStitch(context.Background(), input)
		assert.ErrorIs(t, err, clip.ErrInvalidOptions)
	})
}

func TestCreateStitchCompletesJob(t *testing.T) {
	svc, repo := newTestService(t, &fakeRunner{result: successResult()})

	j, err := svc.CreateStitch(context.Background(), CreateStitchInput{Clips: testClips()})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, j.Status)

	svc.Wait()

	done, err := repo.FindByID(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, "run-abc", done.RunID)
	assert.Equal(t, 264, done.FramesComposed)
	assert.Equal(t, "video/webm;codecs=vp9", done.MimeType)

	require.NotEmpty(t, done.ArtifactPath)
	content, err := os.ReadFile(done.ArtifactPath)
	require.NoError(t, err)
	assert.Equal(t, "encoded webm", string(content))
}

func TestCreateStitchRecordsFailure(t *testing.T) {
	svc, repo := newTestService(t, &fakeRunner{err: fmt.Errorf("loading clip 1: exhausted retries")})

	j, err := svc.CreateStitch(context.Background(), CreateStitchInput{Clips: testClips()})
	require.NoError(t, err)

	svc.Wait()

	done, err := repo.FindByID(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, done.Status)
	assert.Contains(t, done.Error, "exhausted retries")
}

func TestCreateStitchSalvagesPartialOutput(t *testing.T) {
	partial := successResult()
	partial.Artifact.Data = []byte("partial bytes")
	runner := &fakeRunner{result: partial, err: fmt.Errorf("recording pipeline failed mid-run: broken pipe")}
	svc, repo := newTestService(t, runner)

	j, err := svc.CreateStitch(context.Background(), CreateStitchInput{Clips: testClips()})
	require.NoError(t, err)

	svc.Wait()

	done, err := repo.FindByID(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, done.Status)

	require.NotEmpty(t, done.ArtifactPath, "partial output must be preserved")
	content, err := os.ReadFile(done.ArtifactPath)
	require.NoError(t, err)
	assert.Equal(t, "partial bytes", string(content))
}

func TestCancelRunningJob(t *testing.T) {
	runner := &fakeRunner{block: true, started: make(chan struct{})}
	svc, repo := newTestService(t, runner)

	j, err := svc.CreateStitch(context.Background(), CreateStitchInput{Clips: testClips()})
	require.NoError(t, err)

	<-runner.started
	require.NoError(t, svc.Cancel(context.Background(), j.ID))

	svc.Wait()

	done, err := repo.FindByID(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, done.Status)
}

func TestCancelErrors(t *testing.T) {
	svc, repo := newTestService(t, &fakeRunner{result: successResult()})

	t.Run("unknown job", func(t *testing.T) {
		err := svc.Cancel(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrJobNotFound)
	})

	t.Run("terminal job", func(t *testing.T) {
		j := New(testClips(), clip.DefaultOptions())
		_ = j.Start()
		_ = j.Complete()
		require.NoError(t, repo.Save(context.Background(), j))

		err := svc.Cancel(context.Background(), j.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestConvertToMP4(t *testing.T) {
	t.Run("converted artifact is stored", func(t *testing.T) {
		svc, repo := newTestService(t, &fakeRunner{result: successResult()}, WithTranscoder(&fakeBridge{}))

		j, err := svc.CreateStitch(context.Background(), CreateStitchInput{Clips: testClips(), ConvertToMP4: true})
		require.NoError(t, err)
		svc.Wait()

		done, _ := repo.FindByID(context.Background(), j.ID)
		assert.Equal(t, "video/mp4", done.MimeType)

		content, err := os.ReadFile(done.ArtifactPath)
		require.NoError(t, err)
		assert.Equal(t, "mp4:encoded webm", string(content))
	})

	t.Run("conversion failure downgrades to primary", func(t *testing.T) {
		bridge := &fakeBridge{err: fmt.Errorf("no H.264 encoder")}
		svc, repo := newTestService(t, &fakeRunner{result: successResult()}, WithTranscoder(bridge))

		j, err := svc.CreateStitch(context.Background(), CreateStitchInput{Clips: testClips(), ConvertToMP4: true})
		require.NoError(t, err)
		svc.Wait()

		done, _ := repo.FindByID(context.Background(), j.ID)
		assert.Equal(t, StatusCompleted, done.Status, "conversion failure must not fail the job")
		assert.Equal(t, "video/webm;codecs=vp9", done.MimeType)
	})

	t.Run("no transcoder configured downgrades to primary", func(t *testing.T) {
		svc, repo := newTestService(t, &fakeRunner{result: successResult()})

		j, err := svc.CreateStitch(context.Background(), CreateStitchInput{Clips: testClips(), ConvertToMP4: true})
		require.NoError(t, err)
		svc.Wait()

		done, _ := repo.FindByID(context.Background(), j.ID)
		assert.Equal(t, StatusCompleted, done.Status)
		assert.Equal(t, "video/webm;codecs=vp9", done.MimeType)
	})
}

func TestUploadToS3Downgrade(t *testing.T) {
	// LocalStorage cannot upload; the job must still complete with a
	// local artifact and no URL.
	svc, repo := newTestService(t, &fakeRunner{result: successResult()})

	j, err := svc.CreateStitch(context.Background(), CreateStitchInput{Clips: testClips(), UploadToS3: true})
	require.NoError(t, err)
	svc.Wait()

	done, _ := repo.FindByID(context.Background(), j.ID)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Empty(t, done.ArtifactURL)
	assert.NotEmpty(t, done.ArtifactPath)
}

func TestOpenArtifact(t *testing.T) {
	svc, _ := newTestService(t, &fakeRunner{result: successResult()})

	j, err := svc.CreateStitch(context.Background(), CreateStitchInput{Clips: testClips()})
	require.NoError(t, err)
	svc.Wait()

	rc, mime, err := svc.OpenArtifact(context.Background(), j.ID)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, "video/webm;codecs=vp9", mime)

	t.Run("no artifact", func(t *testing.T) {
		failed, repo := newTestService(t, &fakeRunner{err: fmt.Errorf("boom")})
		_ = repo
		fj, err := failed.CreateStitch(context.Background(), CreateStitchInput{Clips: testClips()})
		require.NoError(t, err)
		failed.Wait()

		_, _, err = failed.OpenArtifact(context.Background(), fj.ID)
		assert.ErrorIs(t, err, ErrNoArtifact)
	})
}

func TestDelete(t *testing.T) {
	svc, repo := newTestService(t, &fakeRunner{result: successResult()})

	j, err := svc.CreateStitch(context.Background(), CreateStitchInput{Clips: testClips()})
	require.NoError(t, err)
	svc.Wait()

	done, _ := repo.FindByID(context.Background(), j.ID)
	require.NotEmpty(t, done.ArtifactPath)

	require.NoError(t, svc.Delete(context.Background(), j.ID))

	_, statErr := os.Stat(done.ArtifactPath)
	assert.True(t, os.IsNotExist(statErr), "artifact file must be removed with the job")
	_, err = repo.FindByID(context.Background(), j.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestDeleteRunningJobRejected(t *testing.T) {
	runner := &fakeRunner{block: true, started: make(chan struct{})}
	svc, _ := newTestService(t, runner)

	j, err := svc.CreateStitch(context.Background(), CreateStitchInput{Clips: testClips()})
	require.NoError(t, err)
	<-runner.started

	err = svc.Delete(context.Background(), j.ID)
	assert.ErrorIs(t, err, ErrNotTerminal)

	require.NoError(t, svc.Cancel(context.Background(), j.ID))
	svc.Wait()
}

func TestProgressSnapshotsPersisted(t *testing.T) {
	svc, repo := newTestService(t, &fakeRunner{result: successResult()})

	j, err := svc.CreateStitch(context.Background(), CreateStitchInput{Clips: testClips()})
	require.NoError(t, err)
	svc.Wait()

	done, _ := repo.FindByID(context.Background(), j.ID)
	assert.Equal(t, float64(50), done.Progress.PercentComplete)
	assert.Equal(t, clip.PhaseProcessing, done.Progress.Phase)
}

func TestRunSlotCapHoldsJobsQueued(t *testing.T) {
	first := &fakeRunner{block: true, started: make(chan struct{})}
	svc, repo := newTestService(t, first, WithMaxConcurrentRuns(1))

	blocked, err := svc.CreateStitch(context.Background(), CreateStitchInput{Clips: testClips()})
	require.NoError(t, err)
	<-first.started

	queued, err := svc.CreateStitch(context.Background(), CreateStitchInput{Clips: testClips()})
	require.NoError(t, err)

	// The second job waits for a slot; it must not start while the
	// first one holds it.
	held, _ := repo.FindByID(context.Background(), queued.ID)
	assert.Equal(t, StatusQueued, held.Status)

	require.NoError(t, svc.Cancel(context.Background(), queued.ID))
	require.NoError(t, svc.Cancel(context.Background(), blocked.ID))
	svc.Wait()

	done, _ := repo.FindByID(context.Background(), queued.ID)
	assert.Equal(t, StatusCancelled, done.Status)
}

func TestCreateStitchAppliesConfiguredDefaults(t *testing.T) {
	runner := &fakeRunner{result: successResult()}
	svc, _ := newTestService(t, runner, WithDefaults(Defaults{
		Width:            640,
		Height:           360,
		FPS:              24,
		CrossfadeSeconds: 1.0,
	}))

	_, err := svc.CreateStitch(context.Background(), CreateStitchInput{Clips: testClips()})
	require.NoError(t, err)
	svc.Wait()

	assert.Equal(t, 640, runner.gotOpts.Width)
	assert.Equal(t, 360, runner.gotOpts.Height)
	assert.Equal(t, 24, runner.gotOpts.FPS)
	assert.InDelta(t, 1.0, runner.gotOpts.CrossfadeSeconds, 1e-9)
	assert.InDelta(t, clip.DefaultVideoBitrateMbps, runner.gotOpts.VideoBitrateMbps, 1e-9)
}

func TestCreateStitchCrossfadeDefaulting(t *testing.T) {
	t.Run("omitted crossfade takes the canonical default", func(t *testing.T) {
		runner := &fakeRunner{result: successResult()}
		svc, _ := newTestService(t, runner)

		_, err := svc.CreateStitch(context.Background(), CreateStitchInput{Clips: testClips()})
		require.NoError(t, err)
		svc.Wait()

		assert.InDelta(t, clip.DefaultCrossfadeSeconds, runner.gotOpts.CrossfadeSeconds, 1e-9)
	})

	t.Run("explicit zero disables crossfades", func(t *testing.T) {
		runner := &fakeRunner{result: successResult()}
		svc, _ := newTestService(t, runner)

		_, err := svc.CreateStitch(context.Background(), CreateStitchInput{
			Clips:             testClips(),
			CrossfadeExplicit: true,
		})
		require.NoError(t, err)
		svc.Wait()

		assert.Zero(t, runner.gotOpts.CrossfadeSeconds)
	})
}
