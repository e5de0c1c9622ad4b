package api

import (
	"net/http"
	"strings"

	"github.com/touchless-directory/internal/pipeline"
	"github.com/touchless-directory/internal/types"
)

// SubmitBatchRequest is the body of POST /api/batches
type SubmitBatchRequest struct {
	RetryFailed bool `json:"retry_failed"`
	Enrich      bool `json:"enrich"`
	Force       bool `json:"force"`
	ChunkSize   int  `json:"chunk_size"`
}

// PollBatchRequest is the body of POST /api/batches/poll
type PollBatchRequest struct {
	JobID      string `json:"job_id"`
	NextCursor string `json:"next_cursor"`
}

// handleSubmitBatch handles POST /api/batches
func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req SubmitBatchRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	if req.RetryFailed && req.Enrich {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "retry_failed and enrich are mutually exclusive", nil)
		return
	}
	if req.ChunkSize < 0 {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "chunk_size must not be negative", nil)
		return
	}

	mode := types.ModeNormal
	switch {
	case req.RetryFailed:
		mode = types.ModeRetry
	case req.Enrich:
		mode = types.ModeEnrich
	}

	result, err := s.services.Submitter.Submit(r.Context(), pipeline.SubmitRequest{
		Mode:      mode,
		Force:     req.Force,
		ChunkSize: req.ChunkSize,
	})
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	if result.Batch == nil {
		respondJSON(w, http.StatusOK, result)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

// handlePollBatch handles POST /api/batches/poll
func (s *Server) handlePollBatch(w http.ResponseWriter, r *http.Request) {
	var req PollBatchRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	jobID := strings.TrimSpace(req.JobID)
	if jobID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "job_id is required", nil)
		return
	}

	result, err := s.services.Poller.Poll(r.Context(), jobID, req.NextCursor)
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleBatchStatus handles GET /api/batches/status
func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.URL.Query().Get("job_id"))

	report, err := s.services.Status.Status(r.Context(), jobID)
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, report)
}
