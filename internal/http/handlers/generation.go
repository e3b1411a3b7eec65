package handlers

import (
	"net/http"
	"strings"

	"github.com/mfreitas/musicgen-back/internal/domain"
)

// estimatedWaitSeconds is the rough queue-plus-inference estimate clients
// get back with an accepted submission.
const estimatedWaitSeconds = 30

type generationRequest struct {
	Prompt   string `json:"prompt"`
	Duration int    `json:"duration"`
	Genre    string `json:"genre,omitempty"`
}

// Generate accepts a music generation job: POST /api/generate.
// This is the only endpoint that mints a session for cookie-less clients.
func (api *API) Generate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var request generationRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "invalid_args", "invalid JSON payload")
		return
	}

	principal, _ := api.sessions.ResolveOrMint(w, r)

	job, err := api.generation.Submit(r.Context(), domain.GenerationArgs{
		Prompt:   request.Prompt,
		Duration: request.Duration,
		Genre:    request.Genre,
	}, principal, clientIP(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":         job.ID,
		"status":         string(job.Status),
		"estimated_wait": estimatedWaitSeconds,
	})
}

// JobByID dispatches GET (status) and DELETE (cancel) on /api/jobs/{id}.
func (api *API) JobByID(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/api/jobs/"))
	if jobID == "" || strings.Contains(jobID, "/") {
		writeError(w, r, http.StatusNotFound, "not_found", "job not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		api.jobStatus(w, r, jobID)
	case http.MethodDelete:
		api.cancelJob(w, r, jobID)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (api *API) jobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	// Read path: never mint. An absent cookie must fail the ownership
	// check, not create a fresh identity.
	principal, _ := api.sessions.Resolve(r)

	view, err := api.generation.GetStatus(r.Context(), jobID, principal)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (api *API) cancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	principal, _ := api.sessions.Resolve(r)

	if err := api.generation.Cancel(r.Context(), jobID, principal); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Audio delivers a finished job's artifact: GET /api/audio/{id}.
// Durable storage resolves to a redirect; the local scratch file is
// streamed directly as a single-node fallback.
func (api *API) Audio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	jobID := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/api/audio/"))
	if jobID == "" || strings.Contains(jobID, "/") {
		writeError(w, r, http.StatusNotFound, "not_found", "job not found")
		return
	}

	principal, _ := api.sessions.Resolve(r)

	location, err := api.generation.ResolveResult(r.Context(), jobID, principal)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	if location.RedirectURL != "" {
		http.Redirect(w, r, location.RedirectURL, http.StatusTemporaryRedirect)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `attachment; filename="music_`+jobID+`.wav"`)
	http.ServeFile(w, r, location.LocalPath)
}
