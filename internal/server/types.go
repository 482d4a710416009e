// Package server provides the HTTP surface of the stitching service:
// handlers, middleware, routes, and DTOs separated from domain types.
package server

// ClipRequest is one timeline entry in a stitch request.
type ClipRequest struct {
	// SourceURL is the remote clip location.
	SourceURL string `json:"source_url" validate:"required,url"`
	// Title is an optional label used in progress messages.
	Title string `json:"title,omitempty"`
	// StartOffsetSeconds is where playback of the source begins.
	StartOffsetSeconds float64 `json:"start_offset_seconds" validate:"gte=0"`
	// DurationSeconds is how much of the source the clip covers.
	DurationSeconds float64 `json:"duration_seconds" validate:"required,gt=0"`
}

// CreateStitchRequest is the HTTP request body for creating a stitch job.
// Zero-valued option fields take the engine defaults.
type CreateStitchRequest struct {
	// Clips is the ordered source timeline.
	Clips []ClipRequest `json:"clips" validate:"required,min=1,dive"`
	// Width and Height set the output resolution.
	Width  int `json:"width" validate:"omitempty,min=1,max=4096"`
	Height int `json:"height" validate:"omitempty,min=1,max=4096"`
	// FPS sets the output frame rate.
	FPS int `json:"fps" validate:"omitempty,min=1,max=120"`
	// VideoBitrateMbps sets the encoder bitrate.
	VideoBitrateMbps float64 `json:"video_bitrate_mbps" validate:"omitempty,gt=0"`
	// CrossfadeSeconds sets the cross-dissolve length. Omitted means the
	// configured default; an explicit zero disables crossfades.
	CrossfadeSeconds *float64 `json:"crossfade_seconds,omitempty" validate:"omitempty,gte=0,lte=5"`
	// AudioURL optionally points at a music or voice bed.
	AudioURL string `json:"audio_url,omitempty" validate:"omitempty,url"`
	// ConvertToMP4 requests a best-effort MP4 conversion of the output.
	ConvertToMP4 bool `json:"convert_to_mp4"`
	// UploadToS3 requests S3 delivery of the output.
	UploadToS3 bool `json:"upload_to_s3"`
}

// CreateStitchResponse is the HTTP response after creating a stitch job.
type CreateStitchResponse struct {
	// ID is the unique identifier of the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// ProgressResponse mirrors the engine's progress snapshot.
type ProgressResponse struct {
	Phase                     string  `json:"phase"`
	CurrentClip               int     `json:"current_clip"`
	TotalClips                int     `json:"total_clips"`
	PercentComplete           float64 `json:"percent_complete"`
	Message                   string  `json:"message"`
	EstimatedSecondsRemaining float64 `json:"estimated_seconds_remaining,omitempty"`
}

// StitchResponse is the HTTP response for stitch job details.
type StitchResponse struct {
	// ID is the unique identifier of the job.
	ID string `json:"id"`
	// Status is the current job state.
	Status string `json:"status"`
	// Progress is the latest engine snapshot.
	Progress ProgressResponse `json:"progress"`
	// Error carries the failure message for failed jobs.
	Error string `json:"error,omitempty"`
	// MimeType is the artifact container type once available.
	MimeType string `json:"mime_type,omitempty"`
	// FramesComposed and DurationSeconds describe the finished output.
	FramesComposed  int     `json:"frames_composed,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	// ArtifactURL is the S3 URL when the artifact was uploaded.
	ArtifactURL string `json:"artifact_url,omitempty"`
	// DownloadPath is the relative download endpoint once the artifact
	// is stored locally.
	DownloadPath string `json:"download_path,omitempty"`
}

// ListStitchesResponse wraps the job collection.
type ListStitchesResponse struct {
	Stitches []StitchResponse `json:"stitches"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
