// Package pipeline implements the batch scrape-and-classify workflow: submission, resumable polling,
// result writing, status reporting and the reclassification background job.
package pipeline

import (
	"context"
	"time"

	"github.com/touchless-directory/internal/models"
	"github.com/touchless-directory/internal/types"
)

// ListingStore persists listings
type ListingStore interface {
	// ListEligible returns up to limit listings selected by mode with id > afterID, ordered by id
	ListEligible(ctx context.Context, mode types.BatchMode, afterID string, limit int) ([]*models.Listing, error)
	GetByID(ctx context.Context, id string) (*models.Listing, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]*models.Listing, error)
	MarkCrawlStatus(ctx context.Context, ids []string, status types.CrawlStatus) error
	// ReleaseQueued moves listings still queued to status; "" clears crawl_status
	ReleaseQueued(ctx context.Context, ids []string, status types.CrawlStatus) (int64, error)
	// ApplyWrite applies w unless the listing is classified false; it reports whether a row changed
	ApplyWrite(ctx context.Context, id string, w *models.ListingWrite) (bool, error)
	// CountByCrawlStatus counts listings per crawl_status; ids nil counts every listing
	CountByCrawlStatus(ctx context.Context, ids []string) (map[types.CrawlStatus]int, error)
}

// BatchStore persists batches
type BatchStore interface {
	Create(ctx context.Context, batch *models.Batch) error
	GetByJobID(ctx context.Context, jobID string) (*models.Batch, error)
	Latest(ctx context.Context) (*models.Batch, error)
	// FindRunning returns any batch with status running, or nil
	FindRunning(ctx context.Context) (*models.Batch, error)
	ListRunning(ctx context.Context) ([]*models.Batch, error)
	ApplyProgress(ctx context.Context, id string, p *models.BatchProgress) (*models.Batch, error)
	RecordKick(ctx context.Context, id string) (int, error)
}

// RunStore persists the run history
type RunStore interface {
	Insert(ctx context.Context, run *models.Run) error
	CountDistinctListings(ctx context.Context, batchID string) (int, error)
	LatestForListing(ctx context.Context, listingID string) (*models.Run, error)
}

// FilterStore maintains the denormalized facet table
type FilterStore interface {
	SyncAmenities(ctx context.Context, listingID string, amenities []string) error
}

// JobStore persists background jobs and their units
type JobStore interface {
	CreateJob(ctx context.Context, job *models.BackgroundJob, listingIDs []string) error
	GetJob(ctx context.Context, id string) (*models.BackgroundJob, error)
	ListActiveJobs(ctx context.Context) ([]*models.BackgroundJob, error)
	SetJobStatus(ctx context.Context, id string, status types.JobStatus) error
	ClaimPendingUnits(ctx context.Context, jobID string, limit int) ([]*models.JobUnit, error)
	CompleteUnit(ctx context.Context, unitID string) error
	FailUnit(ctx context.Context, unitID string, reason string, maxAttempts int) error
	UnitCounts(ctx context.Context, jobID string) (*models.JobUnitCounts, error)
	// ResetStalledUnits returns processing units untouched since before to pending, or fails
	// them once attempts reaches maxAttempts
	ResetStalledUnits(ctx context.Context, jobID string, before time.Time, maxAttempts int) (reset int64, failed int64, err error)
}

// PollLock serializes pollers of the same crawl job
type PollLock interface {
	Acquire(ctx context.Context, jobID string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, jobID, token string) error
}

// CursorStore records the latest cursor returned for each running job
type CursorStore interface {
	Save(ctx context.Context, jobID, cursor string) error
	Get(ctx context.Context, jobID string) (cursor string, found bool, err error)
	Delete(ctx context.Context, jobID string) error
}

// Kicker triggers the next invocation of a poll or job processing call without waiting for it
type Kicker interface {
	KickPoll(ctx context.Context, jobID, cursor string) error
	KickJob(ctx context.Context, jobID string) error
}
