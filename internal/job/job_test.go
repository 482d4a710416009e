package job

import (
	"errors"
	"testing"

	"github.com/clipforge/stitch-api/internal/clip"
)

func testClips() []clip.Descriptor {
	return []clip.Descriptor{
		{SourceURL: "https://cdn.example.com/a.mp4", DurationSeconds: 4},
		{SourceURL: "https://cdn.example.com/b.mp4", DurationSeconds: 5},
	}
}

func TestNew(t *testing.T) {
	j := New(testClips(), clip.DefaultOptions())

	if j.ID == "" {
		t.Error("expected job to have an ID")
	}
	if j.Status != StatusQueued {
		t.Errorf("expected status %s, got %s", StatusQueued, j.Status)
	}
	if len(j.Clips) != 2 {
		t.Errorf("expected 2 clips, got %d", len(j.Clips))
	}
	if j.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
	if j.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}
}

func TestNewWithID(t *testing.T) {
	j := NewWithID("stitch-test-123", testClips(), clip.DefaultOptions())
	if j.ID != "stitch-test-123" {
		t.Errorf("expected ID stitch-test-123, got %s", j.ID)
	}
}

func TestTransitions(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		j := New(testClips(), clip.DefaultOptions())

		if err := j.Start(); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if j.StartedAt.IsZero() {
			t.Error("expected StartedAt to be set")
		}

		if err := j.Complete(); err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
		if j.CompletedAt.IsZero() {
			t.Error("expected CompletedAt to be set")
		}
		if !j.IsTerminal() {
			t.Error("completed job must be terminal")
		}
	})

	t.Run("fail records message", func(t *testing.T) {
		j := New(testClips(), clip.DefaultOptions())
		_ = j.Start()

		if err := j.Fail("loader exhausted retries"); err != nil {
			t.Fatalf("Fail() error = %v", err)
		}
		if j.Error != "loader exhausted retries" {
			t.Errorf("Error = %q, want failure message", j.Error)
		}
		if j.GetStatus() != StatusFailed {
			t.Errorf("status = %s, want FAILED", j.GetStatus())
		}
	})

	t.Run("cancel from queued", func(t *testing.T) {
		j := New(testClips(), clip.DefaultOptions())
		if err := j.Cancel(); err != nil {
			t.Fatalf("Cancel() error = %v", err)
		}
		if !j.IsTerminal() {
			t.Error("cancelled job must be terminal")
		}
	})

	t.Run("invalid transitions", func(t *testing.T) {
		cases := []struct {
			name string
			run  func(j *Job) error
		}{
			{"complete from queued", func(j *Job) error { return j.Complete() }},
			{"fail from queued", func(j *Job) error { return j.Fail("x") }},
			{"start after complete", func(j *Job) error {
				_ = j.Start()
				_ = j.Complete()
				return j.Start()
			}},
			{"cancel after fail", func(j *Job) error {
				_ = j.Start()
				_ = j.Fail("x")
				return j.Cancel()
			}},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				j := New(testClips(), clip.DefaultOptions())
				if err := tc.run(j); !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("got %v, want ErrInvalidTransition", err)
				}
			})
		}
	})
}

func TestUpdateProgress(t *testing.T) {
	j := New(testClips(), clip.DefaultOptions())

	j.UpdateProgress(clip.Progress{
		Phase:           clip.PhaseProcessing,
		CurrentClip:     1,
		TotalClips:      2,
		PercentComplete: 42,
	})

	if j.Progress.PercentComplete != 42 {
		t.Errorf("PercentComplete = %v, want 42", j.Progress.PercentComplete)
	}
	if j.Progress.Phase != clip.PhaseProcessing {
		t.Errorf("Phase = %s, want processing", j.Progress.Phase)
	}
}

func TestSetArtifact(t *testing.T) {
	j := New(testClips(), clip.DefaultOptions())

	j.SetArtifact("/var/clipforge/out.webm", "https://bucket.s3/out.webm", "video/webm;codecs=vp9", 264, 8.8)

	if j.ArtifactPath != "/var/clipforge/out.webm" {
		t.Errorf("ArtifactPath = %q", j.ArtifactPath)
	}
	if j.ArtifactURL != "https://bucket.s3/out.webm" {
		t.Errorf("ArtifactURL = %q", j.ArtifactURL)
	}
	if j.MimeType != "video/webm;codecs=vp9" {
		t.Errorf("MimeType = %q", j.MimeType)
	}
	if j.FramesComposed != 264 || j.OutputSeconds != 8.8 {
		t.Errorf("frames/seconds = %d/%v", j.FramesComposed, j.OutputSeconds)
	}
}

func TestClone(t *testing.T) {
	j := New(testClips(), clip.DefaultOptions())
	_ = j.Start()
	j.SetRunID("run-1")

	c := j.Clone()
	c.Clips[0].Title = "mutated"
	c.Status = StatusFailed

	if j.Clips[0].Title == "mutated" {
		t.Error("clone shares clip slice with original")
	}
	if j.GetStatus() != StatusRunning {
		t.Error("mutating the clone changed the original status")
	}
	if c.RunID != "run-1" {
		t.Errorf("RunID not copied, got %q", c.RunID)
	}
}
