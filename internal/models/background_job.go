package models

import (
	"time"

	"github.com/touchless-directory/internal/types"
)

// Job types processed by the background job runner
const (
	JobTypeReclassify = "reclassify"
)

// BackgroundJob is a unit-of-work container swept by the watchdog
type BackgroundJob struct {
	ID          string          `json:"id" db:"id"`
	JobType     string          `json:"jobType" db:"job_type"`
	Status      types.JobStatus `json:"status" db:"status"`
	TotalUnits  int             `json:"totalUnits" db:"total_units"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time       `json:"updatedAt" db:"updated_at"`
	CompletedAt *time.Time      `json:"completedAt,omitempty" db:"completed_at"`
}

// JobUnit is one listing-sized piece of a background job
type JobUnit struct {
	ID        string          `json:"id" db:"id"`
	JobID     string          `json:"jobId" db:"job_id"`
	ListingID string          `json:"listingId" db:"listing_id"`
	Status    types.JobStatus `json:"status" db:"status"`
	Attempts  int             `json:"attempts" db:"attempts"`
	Error     *string         `json:"error,omitempty" db:"error"`
	UpdatedAt time.Time       `json:"updatedAt" db:"updated_at"`
}

// JobUnitCounts summarises unit states for one job
type JobUnitCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Remaining returns units not yet picked up
func (c JobUnitCounts) Remaining() int {
	return c.Pending
}
