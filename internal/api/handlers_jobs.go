package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// ReclassifyRequest is the body of POST /api/jobs/reclassify
type ReclassifyRequest struct {
	ListingIDs []string `json:"listing_ids"`
}

// handleCreateReclassifyJob handles POST /api/jobs/reclassify
func (s *Server) handleCreateReclassifyJob(w http.ResponseWriter, r *http.Request) {
	var req ReclassifyRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	job, err := s.services.Jobs.CreateReclassifyJob(r.Context(), req.ListingIDs)
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{"job": job})
}

// handleProcessJob handles POST /api/jobs/{id}/process
func (s *Server) handleProcessJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	progress, err := s.services.Jobs.ProcessJob(r.Context(), jobID)
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, progress)
}

// handleGetJob handles GET /api/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	progress, err := s.services.Jobs.JobStatus(r.Context(), jobID)
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, progress)
}
