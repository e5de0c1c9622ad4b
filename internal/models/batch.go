package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/touchless-directory/internal/types"
)

// Batch represents one submitted crawl job
type Batch struct {
	ID                  string               `json:"id" db:"id"`
	JobID               string               `json:"jobId" db:"job_id"` // crawl provider job identifier
	Mode                types.BatchMode      `json:"mode" db:"mode"`
	Status              types.BatchStatus    `json:"status" db:"status"`
	TotalURLs           int                  `json:"totalUrls" db:"total_urls"`
	CompletedCount      int                  `json:"completedCount" db:"completed_count"`
	ClassifiedCount     int                  `json:"classifiedCount" db:"classified_count"`
	ClassifyStatus      types.ClassifyStatus `json:"classifyStatus,omitempty" db:"classify_status"`
	URLToIDs            URLMap               `json:"urlToIds" db:"url_to_ids"`
	WatchdogKicks       int                  `json:"watchdogKicks" db:"watchdog_kicks"` // reset whenever a poll makes progress
	Error               *string              `json:"error,omitempty" db:"error"`
	CreatedAt           time.Time            `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time            `json:"updatedAt" db:"updated_at"`
	ClassifyStartedAt   *time.Time           `json:"classifyStartedAt,omitempty" db:"classify_started_at"`
	ClassifyCompletedAt *time.Time           `json:"classifyCompletedAt,omitempty" db:"classify_completed_at"`
}

// ListingCount returns the number of listings the batch fans out to
func (b *Batch) ListingCount() int {
	return b.URLToIDs.ListingCount()
}

// BatchProgress is a read-modify-write update applied to a batch after one poll page
type BatchProgress struct {
	CompletedCount  int // provider's authoritative count
	ClassifiedCount int // distinct listings written so far; never lowers the stored value
	Status          types.BatchStatus
	ClassifyStatus  types.ClassifyStatus
	Error           *string
}

// AppliedTo reports whether b reflects this update. A batch that was already terminal comes back
// unchanged, so a different terminal classify status means another writer finished it first.
func (p *BatchProgress) AppliedTo(b *Batch) bool {
	return !b.ClassifyStatus.IsTerminal() || b.ClassifyStatus == p.ClassifyStatus
}

// URLMap maps a submitted URL to the listing IDs sharing it
type URLMap map[string][]string

// Add appends a listing ID under url, ignoring duplicates
func (m URLMap) Add(url, listingID string) {
	for _, id := range m[url] {
		if id == listingID {
			return
		}
	}
	m[url] = append(m[url], listingID)
}

// URLs returns the submitted URLs in sorted order
func (m URLMap) URLs() []string {
	urls := make([]string, 0, len(m))
	for u := range m {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// ListingIDs returns every listing ID in the map
func (m URLMap) ListingIDs() []string {
	var ids []string
	for _, u := range m.URLs() {
		ids = append(ids, m[u]...)
	}
	return ids
}

// ListingCount returns the number of listing IDs across all URLs
func (m URLMap) ListingCount() int {
	n := 0
	for _, ids := range m {
		n += len(ids)
	}
	return n
}

// UnmarshalJSON accepts both the current {url: [ids]} form and the legacy {url: id} form.
func (m *URLMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("url map: %w", err)
	}

	out := make(URLMap, len(raw))
	for url, value := range raw {
		var ids []string
		if err := json.Unmarshal(value, &ids); err == nil {
			for _, id := range ids {
				if id != "" {
					out.Add(url, id)
				}
			}
			continue
		}

		var single string
		if err := json.Unmarshal(value, &single); err == nil {
			if single != "" {
				out.Add(url, single)
			}
			continue
		}

		var numeric json.Number
		if err := json.Unmarshal(value, &numeric); err == nil {
			out.Add(url, numeric.String())
			continue
		}

		return fmt.Errorf("url map: unsupported value for %q: %s", url, string(value))
	}

	*m = out
	return nil
}
