package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"aistudio/internal/domain"
	"aistudio/internal/middleware"
)

type generateRequest struct {
	Kind              string `json:"kind"`
	Brief             string `json:"brief"`
	ReferenceImageURL string `json:"reference_image_url"`
	VoiceOver         bool   `json:"voice_over"`
	Vibe              string `json:"vibe"`
	Locale            string `json:"locale"`
}

type jobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// VideosGenerate accepts a video brief and returns immediately with a job id.
// Generation progresses asynchronously; clients follow up via JobStatus.
func (a *App) VideosGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Kind == "" {
		req.Kind = string(domain.JobKindPromoVideo)
	}
	kind := domain.JobKind(req.Kind)
	if !kind.IsVideo() {
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported video kind")
		return
	}
	a.startJob(w, r, req, kind)
}

// ImagesGenerate accepts an image brief. The reduced image pipeline skips the
// visual and audio stages.
func (a *App) ImagesGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	a.startJob(w, r, req, domain.JobKindImage)
}

func (a *App) startJob(w http.ResponseWriter, r *http.Request, req generateRequest, kind domain.JobKind) {
	locale := req.Locale
	if locale == "" {
		locale = middleware.LocaleFromContext(r.Context())
	}
	brief := domain.Brief{
		Content:           strings.TrimSpace(req.Brief),
		ReferenceImageURL: req.ReferenceImageURL,
		VoiceOver:         req.VoiceOver,
		Vibe:              req.Vibe,
		Locale:            locale,
	}
	jobID, err := a.Jobs.Start(brief, kind)
	if err != nil {
		if domain.KindOf(err) == domain.ErrorKindValidation {
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		a.Logger.Error().Err(err).Msg("handlers: start job failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to start job")
		return
	}
	a.json(w, http.StatusAccepted, jobResponse{JobID: jobID, Status: string(domain.JobStateCreated)})
}

// JobStatus returns the current snapshot for a job. Jobs dropped from memory
// after a restart are served from the persisted snapshot when available.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job id required")
		return
	}
	status, err := a.Jobs.Status(jobID)
	if errors.Is(err, domain.ErrNotFound) && a.Snapshots != nil {
		status, err = a.Snapshots.GetByID(r.Context(), jobID)
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: job status failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	a.json(w, http.StatusOK, status)
}

type remixRequest struct {
	Prompt string `json:"prompt"`
}

// JobRemix starts a new job that re-renders a completed video job's artifact
// under an edit prompt. The new job id is returned immediately.
func (a *App) JobRemix(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job id required")
		return
	}
	var req remixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	newID, err := a.Jobs.Remix(jobID, strings.TrimSpace(req.Prompt))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", "job not found")
		case domain.KindOf(err) == domain.ErrorKindValidation:
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		default:
			a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: remix failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to start remix")
		}
		return
	}
	a.json(w, http.StatusAccepted, jobResponse{JobID: newID, Status: string(domain.JobStateCreated)})
}

// JobCancel requests termination of an in-flight job. Cancelling a terminal
// job is a no-op and still returns 202.
func (a *App) JobCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job id required")
		return
	}
	if err := a.Jobs.Cancel(jobID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: cancel failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to cancel job")
		return
	}
	a.json(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "cancelling"})
}
