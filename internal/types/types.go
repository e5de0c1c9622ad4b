// Package types provides common type definitions for the touchless directory pipeline.
package types

// CrawlStatus is the per-listing outcome of the most recent crawl/classify pass
type CrawlStatus string

const (
	// CrawlQueued marks a listing submitted in a batch that has not been written yet
	CrawlQueued CrawlStatus = "queued"
	// CrawlClassified means the AI call succeeded (the verdict may still be unknown)
	CrawlClassified CrawlStatus = "classified"
	// CrawlFetchFailed means the provider reported an HTTP error for the page
	CrawlFetchFailed CrawlStatus = "fetch_failed"
	// CrawlNoContent means the page was empty or too short to classify
	CrawlNoContent CrawlStatus = "no_content"
	// CrawlClassifyFailed means the classifier call failed or returned unparseable output
	CrawlClassifyFailed CrawlStatus = "classify_failed"
	// CrawlRedirect means the page resolved to a skip-listed domain
	CrawlRedirect CrawlStatus = "redirect"
	// CrawlNoWebsite means the website is a skip-listed directory/social domain
	CrawlNoWebsite CrawlStatus = "no_website"
	// CrawlSuccess and CrawlUnknown are intermediate labels kept for legacy rows
	CrawlSuccess CrawlStatus = "success"
	CrawlUnknown CrawlStatus = "unknown"
)

// RetryableCrawlStatuses are resubmitted by a retry batch
var RetryableCrawlStatuses = []CrawlStatus{CrawlFetchFailed, CrawlNoContent, CrawlClassifyFailed}

// IsRetryable reports whether a listing with this status may be resubmitted
func (s CrawlStatus) IsRetryable() bool {
	for _, r := range RetryableCrawlStatuses {
		if s == r {
			return true
		}
	}
	return false
}

// BatchStatus is the crawl-side lifecycle of a batch
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// ClassifyStatus is the classification-side lifecycle of a batch. The empty value is stored as NULL.
type ClassifyStatus string

const (
	ClassifyNone      ClassifyStatus = ""
	ClassifyRunning   ClassifyStatus = "running"
	ClassifyWaiting   ClassifyStatus = "waiting"
	ClassifyCompleted ClassifyStatus = "completed"
	ClassifyFailed    ClassifyStatus = "failed"
	ClassifyExpired   ClassifyStatus = "expired"
	ClassifyAbandoned ClassifyStatus = "abandoned"
)

// IsTerminal reports whether no further polling should happen
func (s ClassifyStatus) IsTerminal() bool {
	switch s {
	case ClassifyCompleted, ClassifyFailed, ClassifyExpired, ClassifyAbandoned:
		return true
	}
	return false
}

// BatchMode selects which listings a batch covers
type BatchMode string

const (
	// ModeNormal covers unclassified listings that were never crawled
	ModeNormal BatchMode = "normal"
	// ModeRetry covers unclassified listings whose last crawl failed retryably
	ModeRetry BatchMode = "retry"
	// ModeEnrich covers listings already classified true that still lack photos
	ModeEnrich BatchMode = "enrich"
)

// JobStatus is the lifecycle of a background job or one of its units
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
