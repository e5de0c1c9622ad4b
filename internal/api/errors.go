package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "github.com/touchless-directory/internal/errors"
	"github.com/touchless-directory/internal/logging"
	"github.com/touchless-directory/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   types.ServiceError `json:"error"`
	Expired bool               `json:"expired,omitempty"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	respondJSON(w, statusCode, ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// respondAppError maps err through its category to a status code and error body.
// Internal causes are logged, never returned to the client.
func respondAppError(w http.ResponseWriter, r *http.Request, err error) {
	catErr := apperrors.Categorize(err)

	log := logging.FromContext(r.Context()).WithError(err).WithField("code", catErr.Code)
	if catErr.StatusCode >= http.StatusInternalServerError {
		log.Error("Request failed")
	} else {
		log.Debug("Request rejected")
	}

	respondJSON(w, catErr.StatusCode, ErrorResponse{
		Error:   *catErr.ToServiceError(),
		Expired: catErr.Category == apperrors.CategoryExpired,
	})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body. An empty body leaves v untouched.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Common error codes
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimit     = apperrors.CodeRateLimit
)
