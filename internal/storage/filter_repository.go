package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// FilterRepository maintains listing_filters, the facet table behind the directory search
type FilterRepository struct {
	db *PostgresDB
}

// NewFilterRepository creates a new filter repository
func NewFilterRepository(db *PostgresDB) *FilterRepository {
	return &FilterRepository{db: db}
}

// SyncAmenities adds a filter row per amenity. Existing rows are kept since amenities only accumulate.
func (r *FilterRepository) SyncAmenities(ctx context.Context, listingID string, amenities []string) error {
	if len(amenities) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, a := range amenities {
		batch.Queue(`INSERT INTO listing_filters (listing_id, filter_key) VALUES ($1, $2) ON CONFLICT DO NOTHING`, listingID, a)
	}

	results := r.db.Pool().SendBatch(ctx, batch)
	defer results.Close()

	for range amenities {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to sync listing filters: %w", err)
		}
	}
	return nil
}
