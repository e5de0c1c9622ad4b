package models

import (
	"time"

	"github.com/touchless-directory/internal/types"
)

// Run is an immutable audit row for one (listing, page) classification event
type Run struct {
	ID          string            `json:"id" db:"id"`
	ListingID   string            `json:"listingId" db:"listing_id"`
	BatchID     *string           `json:"batchId,omitempty" db:"batch_id"` // nil for reclassification runs
	CrawlStatus types.CrawlStatus `json:"crawlStatus" db:"crawl_status"`
	IsTouchless *bool             `json:"isTouchless,omitempty" db:"is_touchless"`
	Evidence    string            `json:"evidence" db:"evidence"`
	RawContent  string            `json:"rawContent" db:"raw_content"` // truncated page text
	PhotoCount  int               `json:"photoCount" db:"photo_count"`
	Language    string            `json:"language,omitempty" db:"language"`
	CreatedAt   time.Time         `json:"createdAt" db:"created_at"`
}
