package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/clipforge/stitch-api/internal/clip"
	"github.com/clipforge/stitch-api/internal/job"
)

// Handlers contains the HTTP handlers for the stitch API.
type Handlers struct {
	service   *job.StitchService
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a Handlers instance.
func NewHandlers(service *job.StitchService, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service:   service,
		validator: validator.New(),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateStitch handles POST /stitches requests. The job is created and
// queued; stitching runs in the background.
func (h *Handlers) CreateStitch(w http.ResponseWriter, r *http.Request) {
	var req CreateStitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	clips := make([]clip.Descriptor, len(req.Clips))
	for i, c := range req.Clips {
		clips[i] = clip.Descriptor{
			SourceURL:          c.SourceURL,
			Title:              c.Title,
			StartOffsetSeconds: c.StartOffsetSeconds,
			DurationSeconds:    c.DurationSeconds,
		}
	}

	input := job.CreateStitchInput{
		Clips: clips,
		Options: clip.Options{
			Width:            req.Width,
			Height:           req.Height,
			FPS:              req.FPS,
			VideoBitrateMbps: req.VideoBitrateMbps,
			AudioURL:         req.AudioURL,
		},
		ConvertToMP4: req.ConvertToMP4,
		UploadToS3:   req.UploadToS3,
	}
	if req.CrossfadeSeconds != nil {
		input.Options.CrossfadeSeconds = *req.CrossfadeSeconds
		input.CrossfadeExplicit = true
	}

	created, err := h.service.CreateStitch(r.Context(), input)
	if err != nil {
		if errors.Is(err, clip.ErrNoClips) || errors.Is(err, clip.ErrInvalidOptions) {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		h.logger.Error("failed to create stitch job",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create stitch job", "JOB_CREATION_FAILED")
		return
	}

	h.logger.Info("stitch job created",
		slog.String("job_id", created.ID),
		slog.Int("clips", len(clips)),
	)

	writeJSON(w, http.StatusAccepted, CreateStitchResponse{
		ID:     created.ID,
		Status: string(created.Status),
	})
}

// GetStitch handles GET /stitches/{id} requests.
func (h *Handlers) GetStitch(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "stitch ID is required", "MISSING_STITCH_ID")
		return
	}

	found, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "stitch not found", "STITCH_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get stitch job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get stitch job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, toStitchResponse(found))
}

// ListStitches handles GET /stitches requests.
func (h *Handlers) ListStitches(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list stitch jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list stitch jobs", "JOB_LIST_FAILED")
		return
	}

	resp := ListStitchesResponse{Stitches: make([]StitchResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Stitches = append(resp.Stitches, toStitchResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// DownloadStitch handles GET /stitches/{id}/download requests, streaming
// the stored artifact.
func (h *Handlers) DownloadStitch(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	rc, mimeType, err := h.service.OpenArtifact(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, job.ErrJobNotFound):
			writeError(w, http.StatusNotFound, "stitch not found", "STITCH_NOT_FOUND")
		case errors.Is(err, job.ErrNoArtifact):
			writeError(w, http.StatusConflict, "stitch has no output yet", "NO_ARTIFACT")
		default:
			h.logger.Error("failed to open artifact",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to open artifact", "ARTIFACT_OPEN_FAILED")
		}
		return
	}
	defer func() { _ = rc.Close() }()

	ext := (&clip.Artifact{MimeType: mimeType}).FileExtension()
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", jobID+ext))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("artifact download interrupted",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// DeleteStitch handles DELETE /stitches/{id} requests: an active job is
// cancelled, a terminal one is deleted together with its artifact.
func (h *Handlers) DeleteStitch(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	found, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "stitch not found", "STITCH_NOT_FOUND")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get stitch job", "JOB_FETCH_FAILED")
		return
	}

	if !found.IsTerminal() {
		if err := h.service.Cancel(r.Context(), jobID); err != nil {
			h.logger.Error("cancel failed",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to cancel stitch job", "CANCEL_FAILED")
			return
		}
		h.logger.Info("stitch job cancellation requested", slog.String("job_id", jobID))
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if err := h.service.Delete(r.Context(), jobID); err != nil {
		h.logger.Error("delete failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete stitch job", "DELETE_FAILED")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toStitchResponse(j *job.Job) StitchResponse {
	resp := StitchResponse{
		ID:     j.ID,
		Status: string(j.Status),
		Progress: ProgressResponse{
			Phase:                     string(j.Progress.Phase),
			CurrentClip:               j.Progress.CurrentClip,
			TotalClips:                j.Progress.TotalClips,
			PercentComplete:           j.Progress.PercentComplete,
			Message:                   j.Progress.Message,
			EstimatedSecondsRemaining: j.Progress.EstimatedSecondsRemaining,
		},
		Error:           j.Error,
		MimeType:        j.MimeType,
		FramesComposed:  j.FramesComposed,
		DurationSeconds: j.OutputSeconds,
		ArtifactURL:     j.ArtifactURL,
	}
	if j.ArtifactPath != "" {
		resp.DownloadPath = "/stitches/" + j.ID + "/download"
	}
	return resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
