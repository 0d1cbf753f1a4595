package api

import (
	"errors"
	"net/http"

	"driveguard/internal/auth"
	"driveguard/internal/jobs"
	"driveguard/internal/model"
	"driveguard/internal/results"
)

type statusResponse struct {
	Success bool `json:"success"`
	model.Job
}

// jobFor returns the job when it exists and belongs to the caller's organization.
func (s *Server) jobFor(pr auth.Principal, id string) (model.Job, bool) {
	job, ok := s.Jobs.Get(id)
	if !ok || job.OrganizationID != pr.OrgID {
		return model.Job{}, false
	}
	return job, true
}

// StatusHandler serves GET /api/status/{jobId}.
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	pr, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	id, rest := pathID(r.URL.Path, "/api/status/")
	job, found := s.jobFor(pr, id)
	if id == "" || len(rest) > 0 || !found {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Success: true, Job: job})
}

// ResultsHandler serves GET /api/results/{jobId}.
func (s *Server) ResultsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	pr, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	id, rest := pathID(r.URL.Path, "/api/results/")
	job, found := s.jobFor(pr, id)
	if id == "" || len(rest) > 0 || !found {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status != model.JobCompleted {
		writeJSON(w, http.StatusConflict, map[string]any{
			"success": false,
			"error":   "analysis is not complete",
			"status":  job.Status,
		})
		return
	}
	raw, err := s.Results.ReadResult(job.Filename)
	if errors.Is(err, results.ErrNotFound) {
		writeError(w, http.StatusNotFound, "result file missing")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"jobId":    job.ID,
		"filename": job.Filename,
		"analysis": raw,
	})
}

// JobsHandler lists the organization's tracked jobs.
func (s *Server) JobsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	pr, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	items := []model.Job{}
	for _, j := range s.Jobs.List() {
		if j.OrganizationID == pr.OrgID {
			items = append(items, j)
		}
	}
	writeJSON(w, http.StatusOK, page[model.Job]{Success: true, Items: items})
}

// JobByIDHandler serves DELETE /api/jobs/{id}, GET /api/jobs/{id}/events (SSE)
// and GET /api/jobs/{id}/ws.
func (s *Server) JobByIDHandler(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	id, rest := pathID(r.URL.Path, "/api/jobs/")
	job, found := s.jobFor(pr, id)
	if id == "" || len(rest) > 1 || !found {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if len(rest) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		switch rest[0] {
		case "events":
			s.streamSSE(w, r, job)
		case "ws":
			s.streamWS(w, r, job)
		default:
			writeError(w, http.StatusNotFound, "not found")
		}
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, statusResponse{Success: true, Job: job})
	case http.MethodDelete:
		job, err := s.Jobs.Cancel(id)
		switch {
		case errors.Is(err, jobs.ErrNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, jobs.ErrFinished):
			writeError(w, http.StatusConflict, "job already finished")
		case err != nil:
			writeError(w, http.StatusInternalServerError, err.Error())
		default:
			writeJSON(w, http.StatusAccepted, statusResponse{Success: true, Job: job})
		}
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}
