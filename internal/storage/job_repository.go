package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	apperrors "github.com/touchless-directory/internal/errors"
	"github.com/touchless-directory/internal/models"
	"github.com/touchless-directory/internal/types"
)

// JobRepository handles background jobs and their units
type JobRepository struct {
	db *PostgresDB
}

// NewJobRepository creates a new background job repository
func NewJobRepository(db *PostgresDB) *JobRepository {
	return &JobRepository{db: db}
}

// CreateJob inserts a job and one pending unit per listing in a single transaction
func (r *JobRepository) CreateJob(ctx context.Context, job *models.BackgroundJob, listingIDs []string) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO background_jobs (id, job_type, status, total_units, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			job.ID, job.JobType, string(job.Status), job.TotalUnits, job.CreatedAt, job.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create background job: %w", err)
		}

		rows := make([][]interface{}, len(listingIDs))
		for i, id := range listingIDs {
			rows[i] = []interface{}{uuid.NewString(), job.ID, id, string(types.JobPending), 0, job.CreatedAt}
		}

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"job_units"},
			[]string{"id", "job_id", "listing_id", "status", "attempts", "updated_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to create job units: %w", err)
		}
		return nil
	})
}

// GetJob retrieves a background job by ID
func (r *JobRepository) GetJob(ctx context.Context, id string) (*models.BackgroundJob, error) {
	query := `SELECT id, job_type, status, total_units, created_at, updated_at, completed_at
		FROM background_jobs WHERE id = $1`

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("job", id)
		}
		return nil, fmt.Errorf("failed to get background job: %w", err)
	}
	return job, nil
}

// ListActiveJobs returns jobs that are pending or processing
func (r *JobRepository) ListActiveJobs(ctx context.Context) ([]*models.BackgroundJob, error) {
	query := `SELECT id, job_type, status, total_units, created_at, updated_at, completed_at
		FROM background_jobs WHERE status IN ($1, $2) ORDER BY created_at ASC`

	rows, err := r.db.Pool().Query(ctx, query, string(types.JobPending), string(types.JobProcessing))
	if err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.BackgroundJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan background job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating background jobs: %w", err)
	}
	return jobs, nil
}

// SetJobStatus updates a job's status, stamping completed_at on terminal states
func (r *JobRepository) SetJobStatus(ctx context.Context, id string, status types.JobStatus) error {
	query := `
		UPDATE background_jobs SET
			status       = $2,
			updated_at   = NOW(),
			completed_at = CASE WHEN $2 IN ('completed', 'failed') THEN COALESCE(completed_at, NOW()) ELSE completed_at END
		WHERE id = $1
	`

	tag, err := r.db.Pool().Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update background job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("job", id)
	}
	return nil
}

// ClaimPendingUnits moves up to limit pending units to processing. Concurrent callers never claim the same unit.
func (r *JobRepository) ClaimPendingUnits(ctx context.Context, jobID string, limit int) ([]*models.JobUnit, error) {
	query := `
		UPDATE job_units SET status = $3, attempts = attempts + 1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM job_units
			WHERE job_id = $1 AND status = $4
			ORDER BY id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, job_id, listing_id, status, attempts, error, updated_at
	`

	var units []*models.JobUnit
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, jobID, limit, string(types.JobProcessing), string(types.JobPending))
		if err != nil {
			return fmt.Errorf("failed to claim job units: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var u models.JobUnit
			var status string
			if err := rows.Scan(&u.ID, &u.JobID, &u.ListingID, &status, &u.Attempts, &u.Error, &u.UpdatedAt); err != nil {
				return fmt.Errorf("failed to scan job unit: %w", err)
			}
			u.Status = types.JobStatus(status)
			units = append(units, &u)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		// keep the job's updated_at moving so the watchdog sees progress
		_, err = tx.Exec(ctx, `UPDATE background_jobs SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3`,
			jobID, string(types.JobProcessing), string(types.JobPending))
		return err
	})
	if err != nil {
		return nil, err
	}
	return units, nil
}

// CompleteUnit marks a unit completed
func (r *JobRepository) CompleteUnit(ctx context.Context, unitID string) error {
	query := `UPDATE job_units SET status = $2, error = NULL, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.Pool().Exec(ctx, query, unitID, string(types.JobCompleted)); err != nil {
		return fmt.Errorf("failed to complete job unit: %w", err)
	}
	return nil
}

// FailUnit returns a unit to pending, or fails it once attempts reaches maxAttempts
func (r *JobRepository) FailUnit(ctx context.Context, unitID string, reason string, maxAttempts int) error {
	query := `
		UPDATE job_units SET
			status     = CASE WHEN attempts >= $3 THEN $4 ELSE $5 END,
			error      = $2,
			updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.Pool().Exec(ctx, query, unitID, reason, maxAttempts, string(types.JobFailed), string(types.JobPending))
	if err != nil {
		return fmt.Errorf("failed to fail job unit: %w", err)
	}
	return nil
}

// UnitCounts summarises unit states for a job
func (r *JobRepository) UnitCounts(ctx context.Context, jobID string) (*models.JobUnitCounts, error) {
	query := `SELECT status, COUNT(*) FROM job_units WHERE job_id = $1 GROUP BY status`

	rows, err := r.db.Pool().Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to count job units: %w", err)
	}
	defer rows.Close()

	counts := &models.JobUnitCounts{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job unit count: %w", err)
		}
		switch types.JobStatus(status) {
		case types.JobPending:
			counts.Pending = n
		case types.JobProcessing:
			counts.Processing = n
		case types.JobCompleted:
			counts.Completed = n
		case types.JobFailed:
			counts.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job unit counts: %w", err)
	}
	return counts, nil
}

// ResetStalledUnits recovers processing units that have not been updated since before
func (r *JobRepository) ResetStalledUnits(ctx context.Context, jobID string, before time.Time, maxAttempts int) (int64, int64, error) {
	var reset, failed int64
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE job_units SET status = $4, error = 'stalled: attempt ceiling reached', updated_at = NOW()
			WHERE job_id = $1 AND status = $2 AND updated_at < $3 AND attempts >= $5`,
			jobID, string(types.JobProcessing), before, string(types.JobFailed), maxAttempts)
		if err != nil {
			return fmt.Errorf("failed to fail stalled units: %w", err)
		}
		failed = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `
			UPDATE job_units SET status = $4, updated_at = NOW()
			WHERE job_id = $1 AND status = $2 AND updated_at < $3`,
			jobID, string(types.JobProcessing), before, string(types.JobPending))
		if err != nil {
			return fmt.Errorf("failed to reset stalled units: %w", err)
		}
		reset = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return reset, failed, nil
}

func scanJob(row pgx.Row) (*models.BackgroundJob, error) {
	var job models.BackgroundJob
	var status string
	err := row.Scan(&job.ID, &job.JobType, &status, &job.TotalUnits, &job.CreatedAt, &job.UpdatedAt, &job.CompletedAt)
	if err != nil {
		return nil, err
	}
	job.Status = types.JobStatus(status)
	return &job, nil
}
