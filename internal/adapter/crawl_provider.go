// Package adapter provides clients for the crawl provider and the AI classifier.
package adapter

import (
	"context"
	"errors"
)

// ErrJobNotFound is returned when the provider no longer knows a job id
var ErrJobNotFound = errors.New("crawl job not found")

// CrawlProvider is the batch scrape contract the pipeline depends on
type CrawlProvider interface {
	SubmitBatchScrape(ctx context.Context, urls []string, opts ScrapeOptions) (*BatchScrapeSubmission, error)
	GetBatchScrapeResults(ctx context.Context, jobID string, cursor string, pageSize int) (*BatchScrapePage, error)
}

// ScrapeOptions controls content extraction for a batch
type ScrapeOptions struct {
	Formats         []string
	OnlyMainContent bool
	TimeoutMs       int
	BlockAds        bool
	MaxConcurrency  int
	Country         string
	Languages       []string
}

// BatchScrapeSubmission is the provider's answer to a submit call
type BatchScrapeSubmission struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BatchScrapePage is one page of batch results
type BatchScrapePage struct {
	Status      string        `json:"status"` // scraping, completed, failed
	Total       int           `json:"total"`
	Completed   int           `json:"completed"`
	CreditsUsed int           `json:"creditsUsed"`
	ExpiresAt   string        `json:"expiresAt,omitempty"`
	Next        string        `json:"next,omitempty"`
	Data        []ScrapedPage `json:"data"`
}

// ScrapedPage is one scraped document
type ScrapedPage struct {
	Markdown string       `json:"markdown"`
	HTML     string       `json:"html,omitempty"`
	Images   []string     `json:"images,omitempty"`
	Metadata PageMetadata `json:"metadata"`
}

// PageMetadata carries the URLs and HTTP status of a scraped page
type PageMetadata struct {
	SourceURL  string `json:"sourceURL"`
	URL        string `json:"url,omitempty"` // final URL after redirects
	StatusCode int    `json:"statusCode"`
	Title      string `json:"title,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ProviderStatusCompleted is the provider status for a finished job
const ProviderStatusCompleted = "completed"
