package models

import (
	"time"

	"github.com/touchless-directory/internal/types"
)

// Listing represents a business listing in the directory
type Listing struct {
	ID                string            `json:"id" db:"id"`
	Name              string            `json:"name" db:"name"`
	Website           *string           `json:"website,omitempty" db:"website"`
	IsTouchless       *bool             `json:"isTouchless,omitempty" db:"is_touchless"`
	CrawlStatus       types.CrawlStatus `json:"crawlStatus,omitempty" db:"crawl_status"` // empty when never crawled
	TouchlessEvidence *string           `json:"touchlessEvidence,omitempty" db:"touchless_evidence"`
	Amenities         []string          `json:"amenities" db:"amenities"`
	HeroImage         *string           `json:"heroImage,omitempty" db:"hero_image"`
	LogoImage         *string           `json:"logoImage,omitempty" db:"logo_image"`
	Photos            []string          `json:"photos" db:"photos"`
	LastCrawledAt     *time.Time        `json:"lastCrawledAt,omitempty" db:"last_crawled_at"`
	UpdatedAt         time.Time         `json:"updatedAt" db:"updated_at"`
}

// WebsiteURL returns the website or an empty string
func (l *Listing) WebsiteURL() string {
	if l.Website == nil {
		return ""
	}
	return *l.Website
}

// ListingWrite is the set of changes the result writer applies to one listing.
// Nil/empty fields are left untouched; Verdict, HeroImage and LogoImage only fill NULL columns.
type ListingWrite struct {
	CrawlStatus  types.CrawlStatus
	Evidence     *string
	Verdict      *bool
	AddAmenities []string
	HeroImage    *string
	LogoImage    *string
	Photos       []string
	CrawledAt    time.Time
}
