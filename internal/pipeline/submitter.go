package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/touchless-directory/internal/adapter"
	apperrors "github.com/touchless-directory/internal/errors"
	"github.com/touchless-directory/internal/logging"
	"github.com/touchless-directory/internal/metrics"
	"github.com/touchless-directory/internal/models"
	"github.com/touchless-directory/internal/types"
	"github.com/touchless-directory/internal/urlnorm"
)

// SubmitRequest selects which listings a new batch covers
type SubmitRequest struct {
	Mode      types.BatchMode
	Force     bool // submit even if another batch is running
	ChunkSize int  // 0 uses the configured default
}

// SubmitResult is the outcome of a submit call. Done means nothing was eligible.
type SubmitResult struct {
	Done          bool          `json:"done"`
	Batch         *models.Batch `json:"batch,omitempty"`
	JobID         string        `json:"job_id,omitempty"`
	URLsSubmitted int           `json:"urls_submitted"`
	Skipped       int           `json:"skipped"`
}

// SubmitterConfig configures a Submitter
type SubmitterConfig struct {
	ChunkSize     int
	StorePageSize int
	Scrape        adapter.ScrapeOptions
}

// Submitter selects eligible listings and submits their websites as one crawl job
type Submitter struct {
	listings ListingStore
	batches  BatchStore
	provider adapter.CrawlProvider
	cursors  CursorStore
	cfg      SubmitterConfig
	now      func() time.Time
}

// NewSubmitter creates a new submitter. cursors may be nil.
func NewSubmitter(listings ListingStore, batches BatchStore, provider adapter.CrawlProvider, cursors CursorStore, cfg SubmitterConfig) *Submitter {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 500
	}
	if cfg.StorePageSize <= 0 {
		cfg.StorePageSize = 1000
	}
	return &Submitter{
		listings: listings,
		batches:  batches,
		provider: provider,
		cursors:  cursors,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Submit runs one submission. Calling it again with nothing new eligible returns Done without side effects.
func (s *Submitter) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	mode := req.Mode
	if mode == "" {
		mode = types.ModeNormal
	}
	if mode != types.ModeNormal && mode != types.ModeRetry && mode != types.ModeEnrich {
		return nil, apperrors.NewInvalidParameterError("mode", "must be normal, retry or enrich")
	}

	chunk := req.ChunkSize
	if chunk <= 0 {
		chunk = s.cfg.ChunkSize
	}

	log := logging.FromContext(ctx).WithField("mode", mode)

	if mode != types.ModeNormal && !req.Force {
		running, err := s.batches.FindRunning(ctx)
		if err != nil {
			return nil, apperrors.NewDatabaseError("find running batch", err)
		}
		if running != nil {
			return nil, apperrors.NewBatchRunningError(running.JobID)
		}
	}

	selected, err := s.selectListings(ctx, mode, chunk)
	if err != nil {
		return nil, apperrors.NewDatabaseError("select listings", err)
	}
	if len(selected) == 0 {
		return &SubmitResult{Done: true}, nil
	}

	urlMap := models.URLMap{}
	var skipped []string
	for _, l := range selected {
		website := strings.TrimSpace(l.WebsiteURL())
		if urlnorm.IsSkipListed(website) {
			skipped = append(skipped, l.ID)
			continue
		}
		urlMap.Add(website, l.ID)
	}

	if len(skipped) > 0 {
		if err := s.listings.MarkCrawlStatus(ctx, skipped, types.CrawlNoWebsite); err != nil {
			return nil, apperrors.NewDatabaseError("mark skip-listed listings", err)
		}
		log.WithField("count", len(skipped)).Info("Marked skip-listed listings no_website")
	}

	result := &SubmitResult{Skipped: len(skipped)}
	if len(urlMap) == 0 {
		return result, nil
	}

	urls := urlMap.URLs()
	submission, err := s.provider.SubmitBatchScrape(ctx, urls, s.cfg.Scrape)
	if err != nil {
		return nil, err
	}

	now := s.now()
	batch := &models.Batch{
		ID:        uuid.NewString(),
		JobID:     submission.ID,
		Mode:      mode,
		Status:    types.BatchRunning,
		TotalURLs: len(urls),
		URLToIDs:  urlMap,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		log.WithField("jobId", submission.ID).WithError(err).Error("Crawl job submitted but batch record failed")
		return nil, apperrors.NewDatabaseError("create batch", err)
	}

	if err := s.listings.MarkCrawlStatus(ctx, urlMap.ListingIDs(), types.CrawlQueued); err != nil {
		log.WithField("jobId", batch.JobID).WithError(err).Warn("Failed to mark submitted listings queued")
	}
	if s.cursors != nil {
		if err := s.cursors.Save(ctx, batch.JobID, ""); err != nil {
			log.WithField("jobId", batch.JobID).WithError(err).Warn("Failed to record initial cursor")
		}
	}

	metrics.BatchesSubmitted.WithLabelValues(string(mode)).Inc()
	log.WithFields(map[string]interface{}{
		"jobId":    batch.JobID,
		"urls":     batch.TotalURLs,
		"listings": urlMap.ListingCount(),
		"skipped":  len(skipped),
	}).Info("Batch submitted")

	result.Batch = batch
	result.JobID = batch.JobID
	result.URLsSubmitted = len(urls)
	return result, nil
}

// selectListings pages through the store until limit listings are collected
func (s *Submitter) selectListings(ctx context.Context, mode types.BatchMode, limit int) ([]*models.Listing, error) {
	var (
		selected []*models.Listing
		afterID  string
	)
	for len(selected) < limit {
		want := limit - len(selected)
		if want > s.cfg.StorePageSize {
			want = s.cfg.StorePageSize
		}

		page, err := s.listings.ListEligible(ctx, mode, afterID, want)
		if err != nil {
			return nil, err
		}
		selected = append(selected, page...)
		if len(page) < want {
			break
		}
		afterID = page[len(page)-1].ID
	}
	return selected, nil
}
