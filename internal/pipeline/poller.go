package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/touchless-directory/internal/adapter"
	"github.com/touchless-directory/internal/classifier"
	apperrors "github.com/touchless-directory/internal/errors"
	"github.com/touchless-directory/internal/logging"
	"github.com/touchless-directory/internal/metrics"
	"github.com/touchless-directory/internal/models"
	"github.com/touchless-directory/internal/types"
	"github.com/touchless-directory/internal/urlnorm"
)

// PageClassifier classifies one page of text
type PageClassifier interface {
	Classify(ctx context.Context, pageText string) (*classifier.Verdict, error)
}

// PollResult is returned to the caller of Poll. The caller keeps polling with NextCursor until Done.
type PollResult struct {
	JobID          string               `json:"job_id"`
	Processed      int                  `json:"processed"`
	Written        int                  `json:"written"`
	Unresolved     int                  `json:"unresolved"`
	NextCursor     string               `json:"next_cursor,omitempty"`
	Done           bool                 `json:"done"`
	Expired        bool                 `json:"expired,omitempty"`
	BatchStatus    types.BatchStatus    `json:"batch_status"`
	ClassifyStatus types.ClassifyStatus `json:"classify_status,omitempty"`
	CompletedCount int                  `json:"completed_count"`
	TotalURLs      int                  `json:"total_urls"`
}

// PollerConfig configures a Poller
type PollerConfig struct {
	PageSize            int
	MinContentLength    int
	ClassifyConcurrency int
	LockTTL             time.Duration
	AutoContinue        bool
}

// Poller fetches one page of crawl results per call and writes them through the Writer
type Poller struct {
	batches    BatchStore
	listings   ListingStore
	runs       RunStore
	provider   adapter.CrawlProvider
	classifier PageClassifier
	photos     *PhotoPicker
	writer     *Writer
	lock       PollLock
	cursors    CursorStore
	kicker     Kicker
	cfg        PollerConfig
}

// PollerDeps groups the collaborators of a Poller. Lock, Cursors and Kicker may be nil.
type PollerDeps struct {
	Batches    BatchStore
	Listings   ListingStore
	Runs       RunStore
	Provider   adapter.CrawlProvider
	Classifier PageClassifier
	Photos     *PhotoPicker
	Writer     *Writer
	Lock       PollLock
	Cursors    CursorStore
	Kicker     Kicker
}

// NewPoller creates a new result poller
func NewPoller(deps PollerDeps, cfg PollerConfig) *Poller {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	if cfg.ClassifyConcurrency <= 0 {
		cfg.ClassifyConcurrency = 5
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	photos := deps.Photos
	if photos == nil {
		photos = NewPhotoPicker(nil)
	}
	return &Poller{
		batches:    deps.Batches,
		listings:   deps.Listings,
		runs:       deps.Runs,
		provider:   deps.Provider,
		classifier: deps.Classifier,
		photos:     photos,
		writer:     deps.Writer,
		lock:       deps.Lock,
		cursors:    deps.Cursors,
		kicker:     deps.Kicker,
		cfg:        cfg,
	}
}

// Poll processes the result page at cursor ("" is the first page) for jobID
func (p *Poller) Poll(ctx context.Context, jobID, cursor string) (*PollResult, error) {
	start := time.Now()
	defer func() { metrics.PollDuration.Observe(time.Since(start).Seconds()) }()

	if strings.TrimSpace(jobID) == "" {
		return nil, apperrors.NewInvalidParameterError("job_id", "required")
	}

	batch, err := p.loadBatch(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if batch.ClassifyStatus.IsTerminal() {
		return finishedResult(batch)
	}

	if p.lock != nil {
		token, ok, err := p.lock.Acquire(ctx, jobID, p.cfg.LockTTL)
		if err != nil {
			return nil, apperrors.NewInternalError("acquire poll lock", err)
		}
		if !ok {
			return nil, apperrors.NewPollInProgressError(jobID)
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := p.lock.Release(releaseCtx, jobID, token); err != nil {
				logging.FromContext(ctx).WithField("jobId", jobID).WithError(err).Warn("Failed to release poll lock")
			}
		}()

		// the previous holder may have finished the batch after our first read
		if batch, err = p.loadBatch(ctx, jobID); err != nil {
			return nil, err
		}
		if batch.ClassifyStatus.IsTerminal() {
			return finishedResult(batch)
		}
	}

	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobId":   jobID,
		"batchId": batch.ID,
	})

	page, err := p.provider.GetBatchScrapeResults(ctx, jobID, cursor, p.cfg.PageSize)
	if err != nil {
		if errors.Is(err, adapter.ErrJobNotFound) {
			metrics.PagesPolled.WithLabelValues("expired").Inc()
			return p.expire(ctx, batch, "crawl provider no longer has this job")
		}
		metrics.PagesPolled.WithLabelValues("provider_error").Inc()
		return nil, err
	}

	written, unresolved, failed, err := p.processPage(ctx, batch, page)
	if err != nil {
		metrics.PagesPolled.WithLabelValues("store_error").Inc()
		return nil, apperrors.NewDatabaseError("load listings for page", err)
	}
	if failed > 0 {
		// batch progress is not recorded for this page, so the caller re-polls the same cursor
		metrics.PagesPolled.WithLabelValues("store_error").Inc()
		return nil, apperrors.NewDatabaseError("write listing results", fmt.Errorf("%d of the page's listing writes failed", failed))
	}

	classified, err := p.runs.CountDistinctListings(ctx, batch.ID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("count classified listings", err)
	}

	progress := &models.BatchProgress{
		CompletedCount:  page.Completed,
		ClassifiedCount: classified,
		Status:          types.BatchRunning,
		ClassifyStatus:  types.ClassifyRunning,
	}
	next := page.Next
	done := false

	switch {
	case next != "":
	case page.Status == "failed":
		msg := "crawl provider reported the job failed"
		progress.Status = types.BatchFailed
		progress.ClassifyStatus = types.ClassifyFailed
		progress.Error = &msg
		done = true
	case page.Status != adapter.ProviderStatusCompleted:
		// provider is still scraping; the same cursor will return more items later
		progress.ClassifyStatus = types.ClassifyWaiting
		next = cursor
	case len(page.Data) == 0 && page.Completed == 0:
		metrics.PagesPolled.WithLabelValues("expired").Inc()
		return p.expire(ctx, batch, "crawl provider returned no data for a completed job")
	default:
		progress.Status = types.BatchCompleted
		progress.ClassifyStatus = types.ClassifyCompleted
		done = true
	}

	updated, err := p.batches.ApplyProgress(ctx, batch.ID, progress)
	if err != nil {
		return nil, apperrors.NewDatabaseError("update batch progress", err)
	}
	if !progress.AppliedTo(updated) {
		log.WithField("classifyStatus", updated.ClassifyStatus).Info("Batch was finished by another writer during the poll")
		return finishedResult(updated)
	}

	if done {
		p.forgetCursor(ctx, jobID)
		// listings the provider returned nothing for become retryable
		if n, err := p.listings.ReleaseQueued(ctx, updated.URLToIDs.ListingIDs(), types.CrawlFetchFailed); err != nil {
			log.WithError(err).Warn("Failed to release unwritten queued listings")
		} else if n > 0 {
			log.WithField("count", n).Info("Listings without a result marked fetch_failed")
		}
		metrics.PagesPolled.WithLabelValues("done").Inc()
	} else {
		p.saveCursor(ctx, jobID, next)
		metrics.PagesPolled.WithLabelValues("partial").Inc()
	}

	log.WithFields(map[string]interface{}{
		"items":          len(page.Data),
		"written":        written,
		"unresolved":     unresolved,
		"completed":      page.Completed,
		"classified":     updated.ClassifiedCount,
		"classifyStatus": updated.ClassifyStatus,
		"done":           done,
	}).Info("Poll page processed")

	if len(page.Data) > 0 && unresolved == len(page.Data) {
		log.WithField("sample", page.Data[0].Metadata.SourceURL).Warn("No item on this page matched a submitted URL")
	}

	if !done && p.cfg.AutoContinue && p.kicker != nil {
		if err := p.kicker.KickPoll(context.WithoutCancel(ctx), jobID, next); err != nil {
			log.WithError(err).Warn("Failed to schedule next poll")
		}
	}

	result := resultFor(updated, len(page.Data), int(written), unresolved, next)
	result.Done = done
	return result, nil
}

// processPage resolves, evaluates and writes every item on the page. It returns the written,
// unresolved and failed-write counts; a non-nil error means the page's listings could not be loaded.
func (p *Poller) processPage(ctx context.Context, batch *models.Batch, page *adapter.BatchScrapePage) (int64, int, int64, error) {
	index := newURLIndex(batch.URLToIDs)
	log := logging.FromContext(ctx).WithField("jobId", batch.JobID)

	type task struct {
		item *adapter.ScrapedPage
		ids  []string
	}
	var tasks []task
	var allIDs []string
	unresolved := 0
	for i := range page.Data {
		item := &page.Data[i]
		ids := index.resolve(item.Metadata)
		if len(ids) == 0 {
			unresolved++
			metrics.UnresolvedItems.Inc()
			log.WithFields(map[string]interface{}{
				"sourceURL": item.Metadata.SourceURL,
				"url":       item.Metadata.URL,
			}).Debug("Scraped item matched no listing")
			continue
		}
		tasks = append(tasks, task{item: item, ids: ids})
		allIDs = append(allIDs, ids...)
	}

	if len(tasks) == 0 {
		return 0, unresolved, 0, nil
	}

	current, err := p.listings.GetByIDs(ctx, allIDs)
	if err != nil {
		log.WithError(err).Error("Failed to load listings for page")
		return 0, unresolved, 0, err
	}

	var written, failed int64
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.ClassifyConcurrency)

	for _, t := range tasks {
		eligible := make([]string, 0, len(t.ids))
		for _, id := range t.ids {
			if l, ok := current[id]; ok && stillEligible(l, batch.Mode) {
				eligible = append(eligible, id)
			}
		}
		if len(eligible) == 0 {
			continue
		}

		item := t.item
		g.Go(func() error {
			outcome := p.evaluate(gCtx, item, batch.Mode)
			for _, id := range eligible {
				ok, err := p.writer.Write(gCtx, id, &batch.ID, outcome)
				if err != nil {
					log.WithField("listingId", id).WithError(err).Error("Failed to write listing result")
					atomic.AddInt64(&failed, 1)
					continue
				}
				if ok {
					atomic.AddInt64(&written, 1)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return written, unresolved, failed, nil
}

// evaluate decides the crawl status of one scraped page and classifies it when it clears the thresholds
func (p *Poller) evaluate(ctx context.Context, item *adapter.ScrapedPage, mode types.BatchMode) *Outcome {
	content := strings.TrimSpace(item.Markdown)
	outcome := &Outcome{Content: content}

	switch {
	case item.Metadata.Error != "" || item.Metadata.StatusCode >= 400:
		outcome.Status = types.CrawlFetchFailed
		return outcome
	case item.Metadata.URL != "" && !urlnorm.IsSkipListed(item.Metadata.SourceURL) && urlnorm.IsSkipListed(item.Metadata.URL):
		outcome.Status = types.CrawlRedirect
		return outcome
	case len(content) < p.cfg.MinContentLength:
		outcome.Status = types.CrawlNoContent
		return outcome
	}

	verdict, err := p.classifier.Classify(ctx, content)
	if err != nil {
		logging.FromContext(ctx).WithField("sourceURL", item.Metadata.SourceURL).WithError(err).Warn("Classification failed")
		outcome.Status = types.CrawlClassifyFailed
		return outcome
	}

	outcome.Status = types.CrawlClassified
	outcome.Verdict = verdict
	if mode == types.ModeEnrich || (verdict.IsTouchless != nil && *verdict.IsTouchless) {
		outcome.Photos = p.photos.Pick(ctx, item)
	}
	return outcome
}

// expire marks the batch expired, releases its queued listings and returns a 410 error
func (p *Poller) expire(ctx context.Context, batch *models.Batch, reason string) (*PollResult, error) {
	msg := reason
	progress := &models.BatchProgress{
		CompletedCount:  batch.CompletedCount,
		ClassifiedCount: batch.ClassifiedCount,
		Status:          types.BatchFailed,
		ClassifyStatus:  types.ClassifyExpired,
		Error:           &msg,
	}
	updated, err := p.batches.ApplyProgress(ctx, batch.ID, progress)
	if err != nil {
		return nil, apperrors.NewDatabaseError("expire batch", err)
	}
	if !progress.AppliedTo(updated) {
		return finishedResult(updated)
	}

	if _, err := p.listings.ReleaseQueued(ctx, batch.URLToIDs.ListingIDs(), ""); err != nil {
		logging.FromContext(ctx).WithField("jobId", batch.JobID).WithError(err).Warn("Failed to release queued listings")
	}
	p.forgetCursor(ctx, batch.JobID)

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobId":  batch.JobID,
		"reason": reason,
	}).Warn("Batch expired")

	return finishedResult(updated)
}

func (p *Poller) loadBatch(ctx context.Context, jobID string) (*models.Batch, error) {
	batch, err := p.batches.GetByJobID(ctx, jobID)
	if err != nil {
		if apperrors.Categorize(err).Category == apperrors.CategoryNotFound {
			return nil, err
		}
		return nil, apperrors.NewDatabaseError("get batch", err)
	}
	return batch, nil
}

// finishedResult reports a batch in a terminal classify state; expired batches also return a 410 error
func finishedResult(b *models.Batch) (*PollResult, error) {
	result := resultFor(b, 0, 0, 0, "")
	result.Done = true
	if b.ClassifyStatus == types.ClassifyExpired {
		result.Expired = true
		return result, apperrors.NewJobExpiredError(b.JobID)
	}
	return result, nil
}

func (p *Poller) saveCursor(ctx context.Context, jobID, cursor string) {
	if p.cursors == nil {
		return
	}
	if err := p.cursors.Save(ctx, jobID, cursor); err != nil {
		logging.FromContext(ctx).WithField("jobId", jobID).WithError(err).Warn("Failed to record cursor")
	}
}

func (p *Poller) forgetCursor(ctx context.Context, jobID string) {
	if p.cursors == nil {
		return
	}
	if err := p.cursors.Delete(ctx, jobID); err != nil {
		logging.FromContext(ctx).WithField("jobId", jobID).WithError(err).Warn("Failed to delete cursor")
	}
}

// stillEligible reports whether a listing may still be written by a batch of the given mode
func stillEligible(l *models.Listing, mode types.BatchMode) bool {
	if l.IsTouchless == nil {
		return true
	}
	return mode == types.ModeEnrich && *l.IsTouchless
}

func resultFor(b *models.Batch, processed, written, unresolved int, next string) *PollResult {
	return &PollResult{
		JobID:          b.JobID,
		Processed:      processed,
		Written:        written,
		Unresolved:     unresolved,
		NextCursor:     next,
		BatchStatus:    b.Status,
		ClassifyStatus: b.ClassifyStatus,
		CompletedCount: b.CompletedCount,
		TotalURLs:      b.TotalURLs,
	}
}

// urlIndex maps normalized URL keys to the listing IDs submitted under them
type urlIndex map[string][]string

func newURLIndex(m models.URLMap) urlIndex {
	idx := make(urlIndex, len(m))
	for _, raw := range m.URLs() {
		key := urlnorm.Normalize(raw)
		idx[key] = appendUnique(idx[key], m[raw]...)
	}
	return idx
}

// resolve looks up the page's source URL and, if different, its final URL after redirects
func (idx urlIndex) resolve(meta adapter.PageMetadata) []string {
	var ids []string
	for _, u := range []string{meta.SourceURL, meta.URL} {
		if strings.TrimSpace(u) == "" {
			continue
		}
		ids = appendUnique(ids, idx[urlnorm.Normalize(u)]...)
	}
	return ids
}

func appendUnique(dst []string, ids ...string) []string {
	for _, id := range ids {
		found := false
		for _, existing := range dst {
			if existing == id {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, id)
		}
	}
	return dst
}
