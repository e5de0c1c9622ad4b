package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/google/uuid"

	"github.com/touchless-directory/internal/classifier"
	apperrors "github.com/touchless-directory/internal/errors"
	"github.com/touchless-directory/internal/logging"
	"github.com/touchless-directory/internal/metrics"
	"github.com/touchless-directory/internal/models"
	"github.com/touchless-directory/internal/types"
)

const defaultRawContentLimit = 20000

// Outcome is the evaluated result of one scraped page, shared by every listing on its URL
type Outcome struct {
	Status  types.CrawlStatus
	Verdict *classifier.Verdict // nil unless Status is classified
	Content string
	Photos  *PhotoSet
}

// Writer applies outcomes to listings and records run history
type Writer struct {
	listings        ListingStore
	runs            RunStore
	filters         FilterStore
	rawContentLimit int
	now             func() time.Time
}

// NewWriter creates a result writer. filters may be nil.
func NewWriter(listings ListingStore, runs RunStore, filters FilterStore) *Writer {
	return &Writer{
		listings:        listings,
		runs:            runs,
		filters:         filters,
		rawContentLimit: defaultRawContentLimit,
		now:             time.Now,
	}
}

// Write applies o to one listing. It re-reads the listing first and reports false without writing
// anything when the listing is classified false.
func (w *Writer) Write(ctx context.Context, listingID string, batchID *string, o *Outcome) (bool, error) {
	listing, err := w.listings.GetByID(ctx, listingID)
	if err != nil {
		return false, err
	}
	if listing.IsTouchless != nil && !*listing.IsTouchless {
		return false, nil
	}

	now := w.now()
	write := &models.ListingWrite{
		CrawlStatus: o.Status,
		CrawledAt:   now,
	}

	effective := listing.IsTouchless
	var verdict *bool
	evidence := ""
	if o.Verdict != nil {
		verdict = o.Verdict.IsTouchless
		evidence = o.Verdict.Evidence
		if evidence != "" {
			write.Evidence = &evidence
		}
		if listing.IsTouchless == nil {
			write.Verdict = verdict
			effective = verdict
		}
	}

	var amenities []string
	photoCount := 0
	if effective != nil && *effective {
		if o.Verdict != nil {
			amenities = o.Verdict.Amenities
			write.AddAmenities = amenities
		}
		if o.Photos != nil {
			write.HeroImage = o.Photos.Hero
			write.LogoImage = o.Photos.Logo
			write.Photos = o.Photos.Gallery
		}
	}
	if o.Photos != nil {
		photoCount = o.Photos.Found
	}

	applied, err := w.listings.ApplyWrite(ctx, listingID, write)
	if err != nil {
		return false, apperrors.NewDatabaseError("write listing", err)
	}
	if !applied {
		// classified false between the re-read and the write
		return false, nil
	}

	run := &models.Run{
		ID:          uuid.NewString(),
		ListingID:   listingID,
		BatchID:     batchID,
		CrawlStatus: o.Status,
		IsTouchless: verdict,
		Evidence:    evidence,
		RawContent:  classifier.Truncate(o.Content, w.rawContentLimit),
		PhotoCount:  photoCount,
		Language:    detectLanguage(o.Content),
		CreatedAt:   now,
	}
	if err := w.runs.Insert(ctx, run); err != nil {
		return false, apperrors.NewDatabaseError("insert run", err)
	}

	if w.filters != nil && len(amenities) > 0 {
		if err := w.filters.SyncAmenities(ctx, listingID, amenities); err != nil {
			logging.FromContext(ctx).WithField("listingId", listingID).WithError(err).Warn("Failed to sync listing filters")
		}
	}

	metrics.ListingsWritten.WithLabelValues(string(o.Status)).Inc()
	return true, nil
}

// detectLanguage returns the ISO 639-3 code of text, or "" when detection is unreliable
func detectLanguage(text string) string {
	sample := strings.TrimSpace(classifier.Truncate(text, 2000))
	if sample == "" {
		return ""
	}
	info := whatlanggo.Detect(sample)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6393()
}
