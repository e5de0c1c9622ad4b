// Package watchdog rescues batches and background jobs whose progress has stalled.
package watchdog

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/touchless-directory/internal/logging"
	"github.com/touchless-directory/internal/metrics"
	"github.com/touchless-directory/internal/models"
	"github.com/touchless-directory/internal/pipeline"
	"github.com/touchless-directory/internal/types"
)

// Config controls when work counts as stalled and how hard the sweeper pushes it
type Config struct {
	StallThreshold time.Duration
	// Retention is how long the crawl provider keeps results; older batches cannot be resumed
	Retention   time.Duration
	MaxAttempts int
	KickCount   int
	KickJitter  time.Duration
}

// Report summarizes one sweep
type Report struct {
	BatchesChecked   int `json:"batches_checked"`
	BatchesKicked    int `json:"batches_kicked"`
	BatchesAbandoned int `json:"batches_abandoned"`
	JobsChecked      int `json:"jobs_checked"`
	UnitsReset       int `json:"units_reset"`
	UnitsFailed      int `json:"units_failed"`
	JobsKicked       int `json:"jobs_kicked"`
	JobsCompleted    int `json:"jobs_completed"`
}

// Sweeper is stateless between sweeps; every decision is made from the stored timestamps and counters,
// so overlapping sweeps only repeat work that is already idempotent.
type Sweeper struct {
	batches  pipeline.BatchStore
	listings pipeline.ListingStore
	jobs     pipeline.JobStore
	cursors  pipeline.CursorStore
	kicker   pipeline.Kicker
	cfg      Config
	now      func() time.Time
	schedule func(d time.Duration, f func())
}

// NewSweeper creates a sweeper. cursors may be nil.
func NewSweeper(batches pipeline.BatchStore, listings pipeline.ListingStore, jobs pipeline.JobStore,
	cursors pipeline.CursorStore, kicker pipeline.Kicker, cfg Config) *Sweeper {
	if cfg.StallThreshold <= 0 {
		cfg.StallThreshold = 10 * time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.KickCount <= 0 {
		cfg.KickCount = 1
	}
	return &Sweeper{
		batches:  batches,
		listings: listings,
		jobs:     jobs,
		cursors:  cursors,
		kicker:   kicker,
		cfg:      cfg,
		now:      time.Now,
		schedule: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

// Sweep checks every running batch and active background job once
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	report := &Report{}

	if err := s.sweepBatches(ctx, report); err != nil {
		return report, err
	}
	if err := s.sweepJobs(ctx, report); err != nil {
		return report, err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"batchesChecked":   report.BatchesChecked,
		"batchesKicked":    report.BatchesKicked,
		"batchesAbandoned": report.BatchesAbandoned,
		"jobsChecked":      report.JobsChecked,
		"unitsReset":       report.UnitsReset,
		"jobsKicked":       report.JobsKicked,
		"jobsCompleted":    report.JobsCompleted,
	}).Info("Watchdog sweep finished")
	return report, nil
}

func (s *Sweeper) sweepBatches(ctx context.Context, report *Report) error {
	running, err := s.batches.ListRunning(ctx)
	if err != nil {
		return fmt.Errorf("failed to list running batches: %w", err)
	}
	metrics.RunningBatches.Set(float64(len(running)))

	now := s.now()
	for _, batch := range running {
		report.BatchesChecked++
		if now.Sub(batch.UpdatedAt) < s.cfg.StallThreshold {
			continue
		}

		log := logging.FromContext(ctx).WithFields(map[string]interface{}{
			"jobId":   batch.JobID,
			"batchId": batch.ID,
		})

		if now.Sub(batch.CreatedAt) > s.cfg.Retention {
			abandoned, err := s.abandon(ctx, batch, "crawl results are past the provider retention window")
			if err != nil {
				log.WithError(err).Error("Failed to abandon batch")
				continue
			}
			if abandoned {
				report.BatchesAbandoned++
			}
			continue
		}

		kicks, err := s.batches.RecordKick(ctx, batch.ID)
		if err != nil {
			log.WithError(err).Error("Failed to record watchdog kick")
			continue
		}
		if kicks > s.cfg.MaxAttempts {
			abandoned, err := s.abandon(ctx, batch, fmt.Sprintf("no progress after %d watchdog attempts", s.cfg.MaxAttempts))
			if err != nil {
				log.WithError(err).Error("Failed to abandon batch")
				continue
			}
			if abandoned {
				report.BatchesAbandoned++
			}
			continue
		}

		cursor := ""
		if s.cursors != nil {
			if c, found, err := s.cursors.Get(ctx, batch.JobID); err == nil && found {
				cursor = c
			}
		}
		log.WithFields(map[string]interface{}{
			"attempt": kicks,
			"cursor":  cursor,
			"stalled": now.Sub(batch.UpdatedAt).Round(time.Second).String(),
		}).Warn("Batch stalled, kicking poll")

		jobID := batch.JobID
		s.kickRepeatedly(ctx, func(kctx context.Context) error {
			return s.kicker.KickPoll(kctx, jobID, cursor)
		})
		metrics.WatchdogActions.WithLabelValues("batch_kick").Inc()
		report.BatchesKicked++
	}
	return nil
}

// abandon moves a batch to a terminal state and returns its queued listings to the unprocessed pool.
// It reports false when a poller finished the batch first.
func (s *Sweeper) abandon(ctx context.Context, batch *models.Batch, reason string) (bool, error) {
	log := logging.FromContext(ctx).WithField("jobId", batch.JobID)

	msg := reason
	progress := &models.BatchProgress{
		CompletedCount:  batch.CompletedCount,
		ClassifiedCount: batch.ClassifiedCount,
		Status:          types.BatchFailed,
		ClassifyStatus:  types.ClassifyAbandoned,
		Error:           &msg,
	}
	updated, err := s.batches.ApplyProgress(ctx, batch.ID, progress)
	if err != nil {
		return false, err
	}
	if !progress.AppliedTo(updated) {
		log.WithField("classifyStatus", updated.ClassifyStatus).Info("Batch finished before it could be abandoned")
		return false, nil
	}

	if _, err := s.listings.ReleaseQueued(ctx, batch.URLToIDs.ListingIDs(), ""); err != nil {
		log.WithError(err).Warn("Failed to release queued listings")
	}
	if s.cursors != nil {
		if err := s.cursors.Delete(ctx, batch.JobID); err != nil {
			log.WithError(err).Warn("Failed to delete cursor")
		}
	}

	metrics.WatchdogActions.WithLabelValues("batch_abandon").Inc()
	log.WithField("reason", reason).Warn("Batch abandoned")
	return true, nil
}

func (s *Sweeper) sweepJobs(ctx context.Context, report *Report) error {
	active, err := s.jobs.ListActiveJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active jobs: %w", err)
	}

	cutoff := s.now().Add(-s.cfg.StallThreshold)
	for _, job := range active {
		report.JobsChecked++
		log := logging.FromContext(ctx).WithField("jobId", job.ID)

		reset, failed, err := s.jobs.ResetStalledUnits(ctx, job.ID, cutoff, s.cfg.MaxAttempts)
		if err != nil {
			log.WithError(err).Error("Failed to reset stalled units")
			continue
		}
		if reset > 0 || failed > 0 {
			metrics.WatchdogActions.WithLabelValues("unit_reset").Add(float64(reset))
			metrics.WatchdogActions.WithLabelValues("unit_fail").Add(float64(failed))
			log.WithFields(map[string]interface{}{
				"reset":  reset,
				"failed": failed,
			}).Warn("Stalled job units recovered")
		}
		report.UnitsReset += int(reset)
		report.UnitsFailed += int(failed)

		counts, err := s.jobs.UnitCounts(ctx, job.ID)
		if err != nil {
			log.WithError(err).Error("Failed to count job units")
			continue
		}

		switch {
		case counts.Pending == 0 && counts.Processing == 0:
			if err := s.jobs.SetJobStatus(ctx, job.ID, types.JobCompleted); err != nil {
				log.WithError(err).Error("Failed to complete job")
				continue
			}
			metrics.WatchdogActions.WithLabelValues("job_complete").Inc()
			report.JobsCompleted++
		case counts.Processing == 0 && counts.Pending > 0:
			jobID := job.ID
			s.kickRepeatedly(ctx, func(kctx context.Context) error {
				return s.kicker.KickJob(kctx, jobID)
			})
			metrics.WatchdogActions.WithLabelValues("job_kick").Inc()
			report.JobsKicked++
		}
	}
	return nil
}

// kickRepeatedly fires KickCount kicks, the first immediately and the rest spread over KickJitter
func (s *Sweeper) kickRepeatedly(ctx context.Context, kick func(context.Context) error) {
	if s.kicker == nil {
		return
	}
	kctx := context.WithoutCancel(ctx)
	log := logging.FromContext(ctx)

	fire := func() {
		if err := kick(kctx); err != nil {
			log.WithError(err).Warn("Watchdog kick failed")
		}
	}

	fire()
	for i := 1; i < s.cfg.KickCount; i++ {
		delay := time.Duration(0)
		if s.cfg.KickJitter > 0 {
			delay = time.Duration(rand.Int63n(int64(s.cfg.KickJitter)))
		}
		s.schedule(delay, fire)
	}
}
