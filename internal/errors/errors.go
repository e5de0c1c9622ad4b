// Package errors categorizes pipeline failures and maps them to HTTP semantics.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/touchless-directory/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	CategoryUserInput  ErrorCategory = "user_input"
	CategorySystem     ErrorCategory = "system"
	CategoryProvider   ErrorCategory = "provider"
	CategoryClassifier ErrorCategory = "classifier"
	CategoryDatabase   ErrorCategory = "database"
	CategoryNotFound   ErrorCategory = "not_found"
	CategoryConflict   ErrorCategory = "conflict"
	CategoryExpired    ErrorCategory = "expired"
	CategoryRateLimit  ErrorCategory = "rate_limit"
)

// Error codes surfaced to API clients
const (
	CodeInvalidParameter = "INVALID_PARAMETER"
	CodeNotFound         = "NOT_FOUND"
	CodeBatchRunning     = "BATCH_ALREADY_RUNNING"
	CodePollInProgress   = "POLL_IN_PROGRESS"
	CodeJobExpired       = "JOB_EXPIRED"
	CodeProvider         = "PROVIDER_ERROR"
	CodeClassification   = "CLASSIFICATION_FAILED"
	CodeDatabase         = "DATABASE_ERROR"
	CodeInternal         = "INTERNAL_ERROR"
	CodeRateLimit        = "RATE_LIMIT_EXCEEDED"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to the wire representation
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidParameter,
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewBatchRunningError is returned when a new batch would overlap one still running
func NewBatchRunningError(runningJobID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeBatchRunning,
		Message:    "a batch is already running; pass force to submit anyway",
		Details: map[string]interface{}{
			"jobId": runningJobID,
		},
	}
}

// NewPollInProgressError is returned when another poller holds the job lock
func NewPollInProgressError(jobID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusLocked,
		Code:       CodePollInProgress,
		Message:    fmt.Sprintf("another poll is in progress for job %s", jobID),
		Details: map[string]interface{}{
			"jobId": jobID,
		},
	}
}

// NewJobExpiredError is returned when the provider no longer holds results for a job
func NewJobExpiredError(jobID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryExpired,
		StatusCode: http.StatusGone,
		Code:       CodeJobExpired,
		Message:    "crawl job results have expired; start a new batch",
		Details: map[string]interface{}{
			"jobId":   jobID,
			"expired": true,
		},
	}
}

// NewProviderError wraps a crawl provider failure
func NewProviderError(provider string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       CodeProvider,
		Message:    fmt.Sprintf("crawl provider error: %s", provider),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// NewClassificationError wraps an AI classifier failure or unparseable verdict
func NewClassificationError(reason string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryClassifier,
		StatusCode: http.StatusBadGateway,
		Code:       CodeClassification,
		Message:    fmt.Sprintf("classification failed: %s", reason),
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeDatabase,
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternal,
		Message:    message,
		Cause:      cause,
	}
}

// Categorize finds the categorized error in err's chain, or wraps it as internal
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	return NewInternalError("unexpected error", err)
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is worth retrying
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryProvider, CategoryClassifier, CategoryDatabase:
		return true
	default:
		return false
	}
}

// IsExpired reports whether err signals an expired crawl job
func IsExpired(err error) bool {
	var catErr *CategorizedError
	return stderrors.As(err, &catErr) && catErr.Category == CategoryExpired
}
