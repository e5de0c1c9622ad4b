package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/touchless-directory/internal/errors"
	"github.com/touchless-directory/internal/logging"
	"github.com/touchless-directory/internal/models"
	"github.com/touchless-directory/internal/types"
)

const maxReclassifyListings = 10000

// JobProgress is the state of a background job after a process call
type JobProgress struct {
	Job       *models.BackgroundJob `json:"job"`
	Counts    *models.JobUnitCounts `json:"counts"`
	Processed int                   `json:"processed"`
	Done      bool                  `json:"done"`
}

// JobRunnerConfig configures a JobRunner
type JobRunnerConfig struct {
	UnitBatchSize int
	Concurrency   int
	MaxAttempts   int
	AutoContinue  bool
}

// JobRunner creates and processes reclassification jobs. Each unit re-runs the classifier on the
// listing's latest stored page content and writes the outcome through the Writer.
type JobRunner struct {
	jobs       JobStore
	runs       RunStore
	classifier PageClassifier
	writer     *Writer
	kicker     Kicker
	cfg        JobRunnerConfig
	now        func() time.Time
}

// NewJobRunner creates a job runner. kicker may be nil.
func NewJobRunner(jobs JobStore, runs RunStore, classifier PageClassifier, writer *Writer, kicker Kicker, cfg JobRunnerConfig) *JobRunner {
	if cfg.UnitBatchSize <= 0 {
		cfg.UnitBatchSize = 25
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &JobRunner{
		jobs:       jobs,
		runs:       runs,
		classifier: classifier,
		writer:     writer,
		kicker:     kicker,
		cfg:        cfg,
		now:        time.Now,
	}
}

// CreateReclassifyJob creates a job with one unit per distinct listing ID
func (r *JobRunner) CreateReclassifyJob(ctx context.Context, listingIDs []string) (*models.BackgroundJob, error) {
	ids := appendUnique(nil, listingIDs...)
	if len(ids) == 0 {
		return nil, apperrors.NewInvalidParameterError("listing_ids", "at least one listing id is required")
	}
	if len(ids) > maxReclassifyListings {
		return nil, apperrors.NewInvalidParameterError("listing_ids", "too many listings for one job")
	}

	now := r.now()
	job := &models.BackgroundJob{
		ID:         uuid.NewString(),
		JobType:    models.JobTypeReclassify,
		Status:     types.JobPending,
		TotalUnits: len(ids),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.jobs.CreateJob(ctx, job, ids); err != nil {
		return nil, apperrors.NewDatabaseError("create reclassify job", err)
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobId": job.ID,
		"units": job.TotalUnits,
	}).Info("Reclassify job created")

	if r.cfg.AutoContinue && r.kicker != nil {
		if err := r.kicker.KickJob(context.WithoutCancel(ctx), job.ID); err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Failed to schedule job processing")
		}
	}
	return job, nil
}

// ProcessJob claims one batch of pending units and processes them
func (r *JobRunner) ProcessJob(ctx context.Context, jobID string) (*JobProgress, error) {
	job, err := r.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == types.JobCompleted || job.Status == types.JobFailed {
		return r.progress(ctx, job, 0)
	}

	units, err := r.jobs.ClaimPendingUnits(ctx, jobID, r.cfg.UnitBatchSize)
	if err != nil {
		return nil, apperrors.NewDatabaseError("claim job units", err)
	}

	var processed int64
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, unit := range units {
		unit := unit
		g.Go(func() error {
			r.processUnit(gCtx, unit)
			atomic.AddInt64(&processed, 1)
			return nil
		})
	}
	_ = g.Wait()

	progress, err := r.progress(ctx, job, int(processed))
	if err != nil {
		return nil, err
	}

	if !progress.Done && progress.Counts.Remaining() > 0 && r.cfg.AutoContinue && r.kicker != nil {
		if err := r.kicker.KickJob(context.WithoutCancel(ctx), jobID); err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Failed to schedule job processing")
		}
	}
	return progress, nil
}

// JobStatus returns a job and its unit counts without processing anything
func (r *JobRunner) JobStatus(ctx context.Context, jobID string) (*JobProgress, error) {
	job, err := r.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	counts, err := r.jobs.UnitCounts(ctx, jobID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("count job units", err)
	}
	return &JobProgress{
		Job:    job,
		Counts: counts,
		Done:   job.Status == types.JobCompleted || job.Status == types.JobFailed,
	}, nil
}

func (r *JobRunner) processUnit(ctx context.Context, unit *models.JobUnit) {
	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobId":     unit.JobID,
		"unitId":    unit.ID,
		"listingId": unit.ListingID,
	})

	fail := func(reason string, maxAttempts int) {
		if err := r.jobs.FailUnit(ctx, unit.ID, reason, maxAttempts); err != nil {
			log.WithError(err).Error("Failed to record unit failure")
		}
	}

	run, err := r.runs.LatestForListing(ctx, unit.ListingID)
	if err != nil {
		fail(err.Error(), r.cfg.MaxAttempts)
		return
	}
	if run == nil {
		// nothing to reclassify; retrying cannot help
		fail("no stored page content", 0)
		return
	}

	outcome := &Outcome{Status: types.CrawlClassified, Content: run.RawContent}
	verdict, err := r.classifier.Classify(ctx, run.RawContent)
	if err != nil {
		if unit.Attempts < r.cfg.MaxAttempts {
			fail(err.Error(), r.cfg.MaxAttempts)
			return
		}
		outcome.Status = types.CrawlClassifyFailed
	} else {
		outcome.Verdict = verdict
	}

	if _, err := r.writer.Write(ctx, unit.ListingID, nil, outcome); err != nil {
		log.WithError(err).Warn("Failed to write reclassified listing")
		fail(err.Error(), r.cfg.MaxAttempts)
		return
	}

	if err := r.jobs.CompleteUnit(ctx, unit.ID); err != nil {
		log.WithError(err).Error("Failed to complete unit")
	}
}

func (r *JobRunner) progress(ctx context.Context, job *models.BackgroundJob, processed int) (*JobProgress, error) {
	counts, err := r.jobs.UnitCounts(ctx, job.ID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("count job units", err)
	}

	done := job.Status == types.JobCompleted || job.Status == types.JobFailed
	if !done && counts.Pending == 0 && counts.Processing == 0 {
		if err := r.jobs.SetJobStatus(ctx, job.ID, types.JobCompleted); err != nil {
			return nil, apperrors.NewDatabaseError("complete job", err)
		}
		job.Status = types.JobCompleted
		done = true
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"jobId":     job.ID,
			"completed": counts.Completed,
			"failed":    counts.Failed,
		}).Info("Reclassify job completed")
	}

	return &JobProgress{Job: job, Counts: counts, Processed: processed, Done: done}, nil
}
