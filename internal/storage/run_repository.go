package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/touchless-directory/internal/models"
	"github.com/touchless-directory/internal/types"
)

// RunRepository handles the append-only run history
type RunRepository struct {
	db *PostgresDB
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *PostgresDB) *RunRepository {
	return &RunRepository{db: db}
}

// Insert appends a run row
func (r *RunRepository) Insert(ctx context.Context, run *models.Run) error {
	query := `
		INSERT INTO runs (
			id, listing_id, batch_id, crawl_status, is_touchless,
			evidence, raw_content, photo_count, language, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		run.ID,
		run.ListingID,
		run.BatchID,
		string(run.CrawlStatus),
		run.IsTouchless,
		run.Evidence,
		run.RawContent,
		run.PhotoCount,
		run.Language,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// CountDistinctListings counts listings with at least one run in the batch
func (r *RunRepository) CountDistinctListings(ctx context.Context, batchID string) (int, error) {
	query := `SELECT COUNT(DISTINCT listing_id) FROM runs WHERE batch_id = $1`

	var n int
	if err := r.db.Pool().QueryRow(ctx, query, batchID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count batch runs: %w", err)
	}
	return n, nil
}

// LatestForListing returns the newest run with page content for a listing, or nil
func (r *RunRepository) LatestForListing(ctx context.Context, listingID string) (*models.Run, error) {
	query := `
		SELECT id, listing_id, batch_id, crawl_status, is_touchless,
		       evidence, raw_content, photo_count, language, created_at
		FROM runs
		WHERE listing_id = $1 AND raw_content <> ''
		ORDER BY created_at DESC
		LIMIT 1
	`

	var run models.Run
	var status string
	err := r.db.Pool().QueryRow(ctx, query, listingID).Scan(
		&run.ID,
		&run.ListingID,
		&run.BatchID,
		&status,
		&run.IsTouchless,
		&run.Evidence,
		&run.RawContent,
		&run.PhotoCount,
		&run.Language,
		&run.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	run.CrawlStatus = types.CrawlStatus(status)
	return &run, nil
}
