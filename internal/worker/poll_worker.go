// Package worker drives running batches forward from inside the process, as an alternative to
// HTTP self-continuation.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/touchless-directory/internal/errors"
	"github.com/touchless-directory/internal/logging"
	"github.com/touchless-directory/internal/metrics"
	"github.com/touchless-directory/internal/models"
	"github.com/touchless-directory/internal/pipeline"
	"github.com/touchless-directory/internal/types"
)

// BatchLister lists batches still being polled
type BatchLister interface {
	ListRunning(ctx context.Context) ([]*models.Batch, error)
}

// PagePoller processes one page of crawl results
type PagePoller interface {
	Poll(ctx context.Context, jobID, cursor string) (*pipeline.PollResult, error)
}

// PollWorker periodically polls every running batch from its stored cursor
type PollWorker struct {
	batches      BatchLister
	poller       PagePoller
	cursors      pipeline.CursorStore
	pollInterval time.Duration
	maxPages     int

	running      bool
	mu           sync.RWMutex
	stopCh       chan struct{}
	doneCh       chan struct{}
	lastPollTime time.Time
	pagesPolled  int64
	batchesSeen  int
}

// PollWorkerConfig holds configuration for a poll worker
type PollWorkerConfig struct {
	Batches      BatchLister
	Poller       PagePoller
	Cursors      pipeline.CursorStore
	PollInterval time.Duration
	MaxPages     int // pages fetched per batch per tick (default: 20)
}

// PollWorkerStatus is a snapshot of the worker's progress
type PollWorkerStatus struct {
	Running      bool      `json:"running"`
	LastPollTime time.Time `json:"lastPollTime"`
	PagesPolled  int64     `json:"pagesPolled"`
	BatchesSeen  int       `json:"batchesSeen"`
}

// NewPollWorker creates a new poll worker
func NewPollWorker(cfg *PollWorkerConfig) (*PollWorker, error) {
	if cfg.Batches == nil {
		return nil, fmt.Errorf("batch lister cannot be nil")
	}
	if cfg.Poller == nil {
		return nil, fmt.Errorf("poller cannot be nil")
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 20
	}

	return &PollWorker{
		batches:      cfg.Batches,
		poller:       cfg.Poller,
		cursors:      cfg.Cursors,
		pollInterval: pollInterval,
		maxPages:     maxPages,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}, nil
}

// Start begins the polling loop
func (w *PollWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("poll worker is already running")
	}
	w.running = true
	w.mu.Unlock()

	logging.FromContext(ctx).WithField("interval", w.pollInterval.String()).Info("Starting poll worker")

	go w.pollLoop(ctx)
	return nil
}

// Stop gracefully stops the worker, waiting for an in-flight tick to finish
func (w *PollWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("poll worker is not running")
	}
	w.mu.Unlock()

	close(w.stopCh)

	select {
	case <-w.doneCh:
		logging.Info("Poll worker stopped gracefully")
	case <-ctx.Done():
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	return nil
}

func (w *PollWorker) pollLoop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.mu.Lock()
			w.lastPollTime = time.Now()
			w.mu.Unlock()

			if _, err := w.Tick(ctx); err != nil {
				logging.FromContext(ctx).WithError(err).Error("Poll worker tick failed")
			}
		}
	}
}

// Tick polls every running batch once and returns the number of pages processed
func (w *PollWorker) Tick(ctx context.Context) (int, error) {
	running, err := w.batches.ListRunning(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list running batches: %w", err)
	}
	metrics.RunningBatches.Set(float64(len(running)))

	w.mu.Lock()
	w.batchesSeen = len(running)
	w.mu.Unlock()

	pages := 0
	for _, batch := range running {
		select {
		case <-ctx.Done():
			return pages, ctx.Err()
		case <-w.stopCh:
			return pages, nil
		default:
		}
		pages += w.drain(ctx, batch.JobID)
	}

	w.mu.Lock()
	w.pagesPolled += int64(pages)
	w.mu.Unlock()
	return pages, nil
}

// drain polls one job until it finishes, has to wait on the provider, or hits the page limit
func (w *PollWorker) drain(ctx context.Context, jobID string) int {
	log := logging.FromContext(ctx).WithField("jobId", jobID)

	cursor := ""
	if w.cursors != nil {
		if c, found, err := w.cursors.Get(ctx, jobID); err != nil {
			log.WithError(err).Warn("Failed to read cursor, restarting from first page")
		} else if found {
			cursor = c
		}
	}

	pages := 0
	for pages < w.maxPages {
		result, err := w.poller.Poll(ctx, jobID, cursor)
		if err != nil {
			cat := apperrors.Categorize(err)
			switch cat.Category {
			case apperrors.CategoryConflict:
				log.Debug("Batch is being polled elsewhere")
			case apperrors.CategoryExpired:
				log.Warn("Batch expired")
			default:
				log.WithError(err).Error("Poll failed")
			}
			return pages
		}
		pages++

		if result.Done || result.ClassifyStatus == types.ClassifyWaiting {
			return pages
		}
		cursor = result.NextCursor
	}
	return pages
}

// GetStatus returns the current worker status
func (w *PollWorker) GetStatus() *PollWorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return &PollWorkerStatus{
		Running:      w.running,
		LastPollTime: w.lastPollTime,
		PagesPolled:  w.pagesPolled,
		BatchesSeen:  w.batchesSeen,
	}
}
