// A handler file for all job-queue-related API endpoints.

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sudoStacks/retreivr/internal/store"
)

type enqueueRequest struct {
	Origin         string `json:"origin"`
	OriginID       string `json:"origin_id"`
	MediaType      string `json:"media_type"`
	MediaIntent    string `json:"media_intent"`
	Source         string `json:"source"`
	URL            string `json:"url"`
	OutputTemplate string `json:"output_template"`
	MaxAttempts    int    `json:"max_attempts"`
}

func (s *Server) handleEnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.MaxAttempts == 0 {
		req.MaxAttempts = s.app.Config().Queue.MaxAttempts
	}

	jobID, created, err := s.store.EnqueueJob(store.EnqueueParams{
		Origin:         req.Origin,
		OriginID:       req.OriginID,
		MediaType:      req.MediaType,
		MediaIntent:    req.MediaIntent,
		Source:         req.Source,
		URL:            req.URL,
		OutputTemplate: req.OutputTemplate,
		MaxAttempts:    req.MaxAttempts,
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalidJob) {
			RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		RespondWithError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	RespondWithJSON(w, code, map[string]interface{}{"job_id": jobID, "created": created})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	jobs, err := s.store.ListJobs(status, limit)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	RespondWithJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.store.GetJob(jobID)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to fetch job")
		return
	}
	if job == nil {
		RespondWithError(w, http.StatusNotFound, "Job not found")
		return
	}
	RespondWithJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	canceled, err := s.engine.CancelJob(jobID, "Canceled by user")
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to cancel job")
		return
	}
	if !canceled {
		RespondWithError(w, http.StatusConflict, "Job is already terminal or unknown")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

func (s *Server) handleCancelAllJobs(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.CancelActiveJobs("Canceled by user")
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to cancel jobs")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]int64{"canceled": count})
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.store.ListHistory(limit)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to list history")
		return
	}
	RespondWithJSON(w, http.StatusOK, entries)
}
