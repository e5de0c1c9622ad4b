package pipeline

import (
	"context"
	"math"

	apperrors "github.com/touchless-directory/internal/errors"
	"github.com/touchless-directory/internal/models"
	"github.com/touchless-directory/internal/types"
)

// StatusReport describes a batch and the crawl state of its listings
type StatusReport struct {
	Batch         *models.Batch             `json:"batch"`
	ListingTotal  int                       `json:"listing_total"`
	Percent       float64                   `json:"percent"`
	CrawlStatuses map[types.CrawlStatus]int `json:"crawl_statuses"`
	NextCursor    *string                   `json:"next_cursor,omitempty"`
}

// StatusService reports batch progress
type StatusService struct {
	batches  BatchStore
	listings ListingStore
	cursors  CursorStore
}

// NewStatusService creates a status service. cursors may be nil.
func NewStatusService(batches BatchStore, listings ListingStore, cursors CursorStore) *StatusService {
	return &StatusService{batches: batches, listings: listings, cursors: cursors}
}

// Status reports the batch for jobID, or the latest batch when jobID is empty. With no batch at all
// the report carries directory-wide crawl status counts only.
func (s *StatusService) Status(ctx context.Context, jobID string) (*StatusReport, error) {
	var batch *models.Batch
	var err error
	if jobID != "" {
		batch, err = s.batches.GetByJobID(ctx, jobID)
		if err != nil {
			if apperrors.Categorize(err).Category == apperrors.CategoryNotFound {
				return nil, err
			}
			return nil, apperrors.NewDatabaseError("get batch", err)
		}
	} else {
		batch, err = s.batches.Latest(ctx)
		if err != nil {
			return nil, apperrors.NewDatabaseError("get latest batch", err)
		}
	}

	report := &StatusReport{Batch: batch}

	var ids []string
	if batch != nil {
		ids = batch.URLToIDs.ListingIDs()
		if ids == nil {
			ids = []string{}
		}
		report.ListingTotal = len(ids)
		report.Percent = percent(batch.ClassifiedCount, report.ListingTotal)

		if s.cursors != nil && !batch.ClassifyStatus.IsTerminal() {
			if cursor, found, err := s.cursors.Get(ctx, batch.JobID); err == nil && found {
				report.NextCursor = &cursor
			}
		}
	}

	counts, err := s.listings.CountByCrawlStatus(ctx, ids)
	if err != nil {
		return nil, apperrors.NewDatabaseError("count listings", err)
	}
	report.CrawlStatuses = counts
	if batch == nil {
		for _, n := range counts {
			report.ListingTotal += n
		}
	}
	return report, nil
}

// percent is classified/total as a percentage rounded to one decimal, capped at 100
func percent(classified, total int) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(classified) / float64(total) * 100
	if p > 100 {
		p = 100
	}
	return math.Round(p*10) / 10
}
