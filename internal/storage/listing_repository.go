package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/touchless-directory/internal/errors"
	"github.com/touchless-directory/internal/models"
	"github.com/touchless-directory/internal/types"
)

const listingColumns = `
	id, name, website, is_touchless, COALESCE(crawl_status, ''), touchless_evidence,
	amenities, hero_image, logo_image, photos, last_crawled_at, updated_at`

// enrichCooldown keeps enrich batches from resubmitting listings that were just crawled without finding photos
const enrichCooldown = 24 * time.Hour

// ListingRepository handles listing persistence
type ListingRepository struct {
	db *PostgresDB
}

// NewListingRepository creates a new listing repository
func NewListingRepository(db *PostgresDB) *ListingRepository {
	return &ListingRepository{db: db}
}

// ListEligible returns listings selected by mode, keyset-paginated by id
func (r *ListingRepository) ListEligible(ctx context.Context, mode types.BatchMode, afterID string, limit int) ([]*models.Listing, error) {
	base := `SELECT ` + listingColumns + ` FROM listings
		WHERE website IS NOT NULL AND btrim(website) <> '' AND id > $1`

	var (
		query string
		args  = []interface{}{afterID}
	)
	switch mode {
	case types.ModeRetry:
		retryable := make([]string, len(types.RetryableCrawlStatuses))
		for i, s := range types.RetryableCrawlStatuses {
			retryable[i] = string(s)
		}
		query = base + ` AND is_touchless IS NULL AND crawl_status = ANY($2) ORDER BY id LIMIT $3`
		args = append(args, retryable, limit)
	case types.ModeEnrich:
		query = base + ` AND is_touchless = TRUE AND hero_image IS NULL
			AND crawl_status IS DISTINCT FROM 'queued'
			AND (last_crawled_at IS NULL OR last_crawled_at < $2)
			ORDER BY id LIMIT $3`
		args = append(args, time.Now().Add(-enrichCooldown), limit)
	default:
		query = base + ` AND is_touchless IS NULL AND crawl_status IS NULL ORDER BY id LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible listings: %w", err)
	}
	defer rows.Close()

	return collectListings(rows)
}

// GetByID retrieves a listing by ID
func (r *ListingRepository) GetByID(ctx context.Context, id string) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`

	l, err := scanListing(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("listing", id)
		}
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return l, nil
}

// GetByIDs retrieves listings keyed by ID; unknown IDs are absent from the result
func (r *ListingRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*models.Listing, error) {
	out := make(map[string]*models.Listing, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = ANY($1)`
	rows, err := r.db.Pool().Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get listings: %w", err)
	}
	defer rows.Close()

	listings, err := collectListings(rows)
	if err != nil {
		return nil, err
	}
	for _, l := range listings {
		out[l.ID] = l
	}
	return out, nil
}

// MarkCrawlStatus sets crawl_status on every listing in ids
func (r *ListingRepository) MarkCrawlStatus(ctx context.Context, ids []string, status types.CrawlStatus) error {
	if len(ids) == 0 {
		return nil
	}

	query := `UPDATE listings SET crawl_status = $2, updated_at = NOW() WHERE id = ANY($1)`
	if _, err := r.db.Pool().Exec(ctx, query, ids, string(status)); err != nil {
		return fmt.Errorf("failed to mark listings %s: %w", status, err)
	}
	return nil
}

// ReleaseQueued moves listings in ids that were never written from queued to status. An empty
// status clears crawl_status so the listing is selected again.
func (r *ListingRepository) ReleaseQueued(ctx context.Context, ids []string, status types.CrawlStatus) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `UPDATE listings SET crawl_status = NULLIF($3, ''), updated_at = NOW()
		WHERE id = ANY($1) AND crawl_status = $2`
	tag, err := r.db.Pool().Exec(ctx, query, ids, string(types.CrawlQueued), string(status))
	if err != nil {
		return 0, fmt.Errorf("failed to release queued listings: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ApplyWrite merges one classification outcome into a listing. is_touchless and the photo fields only
// fill NULL columns, amenities are unioned, and a listing classified false is never touched.
func (r *ListingRepository) ApplyWrite(ctx context.Context, id string, w *models.ListingWrite) (bool, error) {
	query := `
		UPDATE listings SET
			crawl_status       = $2,
			touchless_evidence = COALESCE($3, touchless_evidence),
			is_touchless       = COALESCE(is_touchless, $4),
			amenities          = CASE WHEN COALESCE(is_touchless, $4) IS TRUE
			                          THEN ARRAY(SELECT DISTINCT unnest(amenities || $5::text[]) ORDER BY 1)
			                          ELSE amenities END,
			hero_image         = CASE WHEN COALESCE(is_touchless, $4) IS TRUE THEN COALESCE(hero_image, $6) ELSE hero_image END,
			logo_image         = CASE WHEN COALESCE(is_touchless, $4) IS TRUE THEN COALESCE(logo_image, $7) ELSE logo_image END,
			photos             = CASE WHEN COALESCE(is_touchless, $4) IS TRUE AND cardinality(photos) = 0
			                          THEN $8::text[] ELSE photos END,
			last_crawled_at    = $9,
			updated_at         = NOW()
		WHERE id = $1 AND is_touchless IS NOT FALSE
	`

	amenities := w.AddAmenities
	if amenities == nil {
		amenities = []string{}
	}
	photos := w.Photos
	if photos == nil {
		photos = []string{}
	}

	tag, err := r.db.Pool().Exec(ctx, query,
		id,
		string(w.CrawlStatus),
		w.Evidence,
		w.Verdict,
		amenities,
		w.HeroImage,
		w.LogoImage,
		photos,
		w.CrawledAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to write listing %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// CountByCrawlStatus counts listings per crawl_status; never-crawled listings count under ""
func (r *ListingRepository) CountByCrawlStatus(ctx context.Context, ids []string) (map[types.CrawlStatus]int, error) {
	query := `SELECT COALESCE(crawl_status, ''), COUNT(*) FROM listings`
	var args []interface{}
	if ids != nil {
		query += ` WHERE id = ANY($1)`
		args = append(args, ids)
	}
	query += ` GROUP BY 1`

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count listings: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.CrawlStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan listing count: %w", err)
		}
		counts[types.CrawlStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating listing counts: %w", err)
	}
	return counts, nil
}

func scanListing(row pgx.Row) (*models.Listing, error) {
	var l models.Listing
	var status string
	err := row.Scan(
		&l.ID,
		&l.Name,
		&l.Website,
		&l.IsTouchless,
		&status,
		&l.TouchlessEvidence,
		&l.Amenities,
		&l.HeroImage,
		&l.LogoImage,
		&l.Photos,
		&l.LastCrawledAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.CrawlStatus = types.CrawlStatus(status)
	return &l, nil
}

func collectListings(rows pgx.Rows) ([]*models.Listing, error) {
	var listings []*models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating listings: %w", err)
	}
	return listings, nil
}
