package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/touchless-directory/internal/errors"
	"github.com/touchless-directory/internal/models"
	"github.com/touchless-directory/internal/types"
)

const batchColumns = `
	id, job_id, mode, status, total_urls, completed_count, classified_count,
	COALESCE(classify_status, ''), url_to_ids, watchdog_kicks, error,
	created_at, updated_at, classify_started_at, classify_completed_at`

// BatchRepository handles batch persistence
type BatchRepository struct {
	db *PostgresDB
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *PostgresDB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create inserts a new batch
func (r *BatchRepository) Create(ctx context.Context, b *models.Batch) error {
	urlMap, err := json.Marshal(b.URLToIDs)
	if err != nil {
		return fmt.Errorf("failed to encode url map: %w", err)
	}

	query := `
		INSERT INTO batches (
			id, job_id, mode, status, total_urls, completed_count, classified_count,
			classify_status, url_to_ids, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11)
	`

	_, err = r.db.Pool().Exec(ctx, query,
		b.ID,
		b.JobID,
		string(b.Mode),
		string(b.Status),
		b.TotalURLs,
		b.CompletedCount,
		b.ClassifiedCount,
		string(b.ClassifyStatus),
		urlMap,
		b.CreatedAt,
		b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

// GetByJobID retrieves a batch by its crawl provider job id
func (r *BatchRepository) GetByJobID(ctx context.Context, jobID string) (*models.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches WHERE job_id = $1`

	b, err := scanBatch(r.db.Pool().QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("batch", jobID)
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return b, nil
}

// Latest returns the most recently created batch, or nil when there is none
func (r *BatchRepository) Latest(ctx context.Context) (*models.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches ORDER BY created_at DESC LIMIT 1`

	b, err := scanBatch(r.db.Pool().QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest batch: %w", err)
	}
	return b, nil
}

// FindRunning returns the newest running batch, or nil
func (r *BatchRepository) FindRunning(ctx context.Context) (*models.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches WHERE status = $1 ORDER BY created_at DESC LIMIT 1`

	b, err := scanBatch(r.db.Pool().QueryRow(ctx, query, string(types.BatchRunning)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find running batch: %w", err)
	}
	return b, nil
}

// ListRunning returns every running batch, oldest first
func (r *BatchRepository) ListRunning(ctx context.Context) ([]*models.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches WHERE status = $1 ORDER BY created_at ASC`

	rows, err := r.db.Pool().Query(ctx, query, string(types.BatchRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to list running batches: %w", err)
	}
	defer rows.Close()

	var batches []*models.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating batches: %w", err)
	}
	return batches, nil
}

// ApplyProgress updates a batch in one statement against its current row. completed_count and
// classified_count never decrease, the classify timestamps are set once, and watchdog_kicks is reset.
// A batch already in a terminal classify state is not touched; its current row is returned instead.
func (r *BatchRepository) ApplyProgress(ctx context.Context, id string, p *models.BatchProgress) (*models.Batch, error) {
	query := `
		UPDATE batches SET
			completed_count       = GREATEST(completed_count, $2),
			classified_count      = GREATEST(classified_count, $3),
			status                = $4,
			classify_status       = NULLIF($5, ''),
			error                 = COALESCE($6, error),
			watchdog_kicks        = 0,
			updated_at            = NOW(),
			classify_started_at   = COALESCE(classify_started_at, CASE WHEN $5 <> '' THEN NOW() END),
			classify_completed_at = CASE WHEN $5 IN ('completed', 'failed', 'expired', 'abandoned')
			                             THEN COALESCE(classify_completed_at, NOW())
			                             ELSE classify_completed_at END
		WHERE id = $1
		  AND (classify_status IS NULL OR classify_status NOT IN ('completed', 'failed', 'expired', 'abandoned'))
		RETURNING ` + batchColumns

	b, err := scanBatch(r.db.Pool().QueryRow(ctx, query,
		id,
		p.CompletedCount,
		p.ClassifiedCount,
		string(p.Status),
		string(p.ClassifyStatus),
		p.Error,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.getByID(ctx, id)
		}
		return nil, fmt.Errorf("failed to update batch progress: %w", err)
	}
	return b, nil
}

func (r *BatchRepository) getByID(ctx context.Context, id string) (*models.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches WHERE id = $1`

	b, err := scanBatch(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("batch", id)
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return b, nil
}

// RecordKick increments the watchdog kick counter and returns the new value
func (r *BatchRepository) RecordKick(ctx context.Context, id string) (int, error) {
	query := `UPDATE batches SET watchdog_kicks = watchdog_kicks + 1 WHERE id = $1 RETURNING watchdog_kicks`

	var kicks int
	if err := r.db.Pool().QueryRow(ctx, query, id).Scan(&kicks); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperrors.NewNotFoundError("batch", id)
		}
		return 0, fmt.Errorf("failed to record watchdog kick: %w", err)
	}
	return kicks, nil
}

func scanBatch(row pgx.Row) (*models.Batch, error) {
	var b models.Batch
	var mode, status, classifyStatus string
	var urlMap []byte

	err := row.Scan(
		&b.ID,
		&b.JobID,
		&mode,
		&status,
		&b.TotalURLs,
		&b.CompletedCount,
		&b.ClassifiedCount,
		&classifyStatus,
		&urlMap,
		&b.WatchdogKicks,
		&b.Error,
		&b.CreatedAt,
		&b.UpdatedAt,
		&b.ClassifyStartedAt,
		&b.ClassifyCompletedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Mode = types.BatchMode(mode)
	b.Status = types.BatchStatus(status)
	b.ClassifyStatus = types.ClassifyStatus(classifyStatus)
	b.URLToIDs = models.URLMap{}
	if len(urlMap) > 0 {
		if err := json.Unmarshal(urlMap, &b.URLToIDs); err != nil {
			return nil, fmt.Errorf("failed to decode url map: %w", err)
		}
	}
	return &b, nil
}
