// Package job provides the stitch job aggregate: the server-side record of
// one asynchronous stitching run, with state machine transitions,
// progress snapshots, and artifact references.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/clipforge/stitch-api/internal/clip"
	"github.com/clipforge/stitch-api/internal/job/id"
)

// Status represents the current state of a stitch job.
type Status string

const (
	// StatusQueued indicates the job is waiting for the engine.
	StatusQueued Status = "QUEUED"
	// StatusRunning indicates the engine is stitching.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the job finished and its artifact is stored.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the run errored out.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was cancelled by the caller.
	StatusCancelled Status = "CANCELLED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusQueued:    {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Job is the aggregate for one stitch request.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status
	// Clips is the ordered source timeline.
	Clips []clip.Descriptor
	// Options are the stitch parameters the run was started with.
	Options clip.Options
	// Progress is the latest engine progress snapshot.
	Progress clip.Progress
	// Error contains the failure message for FAILED jobs.
	Error string
	// RunID is the engine run identifier, set once the run starts.
	RunID string
	// ArtifactPath is the local path of the stored output.
	ArtifactPath string
	// ArtifactURL is the S3 URL when the artifact was uploaded.
	ArtifactURL string
	// MimeType is the artifact container type.
	MimeType string
	// FramesComposed is the number of frames in the output.
	FramesComposed int
	// OutputSeconds is the output duration.
	OutputSeconds float64
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when the run started.
	StartedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// New creates a queued job for the given timeline with a generated ID.
func New(clips []clip.Descriptor, opts clip.Options) *Job {
	return NewWithID(id.Generate(), clips, opts)
}

// NewWithID creates a queued job with the specified ID. Useful for tests
// and externally generated identifiers.
func NewWithID(jobID string, clips []clip.Descriptor, opts clip.Options) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusQueued,
		Clips:     clips,
		Options:   opts,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from QUEUED to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED.
func (j *Job) Complete() error {
	return j.TransitionTo(StatusCompleted)
}

// Fail transitions the job to FAILED with an error message.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	j.Error = errMsg
	j.mu.Unlock()
	return j.TransitionTo(StatusFailed)
}

// Cancel transitions the job to CANCELLED.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// UpdateProgress records the latest engine snapshot.
func (j *Job) UpdateProgress(p clip.Progress) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress = p
	j.UpdatedAt = time.Now()
}

// SetRunID records the engine run identifier.
func (j *Job) SetRunID(runID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.RunID = runID
	j.UpdatedAt = time.Now()
}

// SetArtifact records where the finished output lives and its shape.
func (j *Job) SetArtifact(path, url, mimeType string, frames int, seconds float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ArtifactPath = path
	j.ArtifactURL = url
	j.MimeType = mimeType
	j.FramesComposed = frames
	j.OutputSeconds = seconds
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted ||
		j.Status == StatusFailed ||
		j.Status == StatusCancelled
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	clips := make([]clip.Descriptor, len(j.Clips))
	copy(clips, j.Clips)

	return &Job{
		ID:             j.ID,
		Status:         j.Status,
		Clips:          clips,
		Options:        j.Options,
		Progress:       j.Progress,
		Error:          j.Error,
		RunID:          j.RunID,
		ArtifactPath:   j.ArtifactPath,
		ArtifactURL:    j.ArtifactURL,
		MimeType:       j.MimeType,
		FramesComposed: j.FramesComposed,
		OutputSeconds:  j.OutputSeconds,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
	}
}
