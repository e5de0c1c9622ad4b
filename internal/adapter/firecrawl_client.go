package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/touchless-directory/internal/circuitbreaker"
	apperrors "github.com/touchless-directory/internal/errors"
	"github.com/touchless-directory/internal/logging"
	"github.com/touchless-directory/internal/retry"
)

const firecrawlName = "firecrawl"

// FirecrawlClient talks to a Firecrawl-compatible batch scrape API
type FirecrawlClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	retry      *retry.RetryConfig
}

// NewFirecrawlClient creates a new crawl provider client
func NewFirecrawlClient(apiKey, baseURL string, timeout time.Duration) *FirecrawlClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FirecrawlClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		breaker: circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
			Name:                firecrawlName,
			ConsecutiveFailures: 5,
			Cooldown:            30 * time.Second,
			IsFailure:           apperrors.IsRetryable,
		}),
		retry: &retry.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     8 * time.Second,
			Multiplier:   2,
			ShouldRetry:  apperrors.IsRetryable,
		},
	}
}

type batchScrapeRequest struct {
	URLs            []string        `json:"urls"`
	Formats         []string        `json:"formats,omitempty"`
	OnlyMainContent bool            `json:"onlyMainContent"`
	Timeout         int             `json:"timeout,omitempty"`
	BlockAds        bool            `json:"blockAds"`
	MaxConcurrency  int             `json:"maxConcurrency,omitempty"`
	Location        *scrapeLocation `json:"location,omitempty"`
}

type scrapeLocation struct {
	Country   string   `json:"country,omitempty"`
	Languages []string `json:"languages,omitempty"`
}

// SubmitBatchScrape submits every URL as one asynchronous job. It is not retried: a duplicate submit spends credits twice.
func (c *FirecrawlClient) SubmitBatchScrape(ctx context.Context, urls []string, opts ScrapeOptions) (*BatchScrapeSubmission, error) {
	reqBody := batchScrapeRequest{
		URLs:            urls,
		Formats:         opts.Formats,
		OnlyMainContent: opts.OnlyMainContent,
		Timeout:         opts.TimeoutMs,
		BlockAds:        opts.BlockAds,
		MaxConcurrency:  opts.MaxConcurrency,
	}
	if opts.Country != "" || len(opts.Languages) > 0 {
		reqBody.Location = &scrapeLocation{Country: opts.Country, Languages: opts.Languages}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch scrape request: %w", err)
	}

	var submission BatchScrapeSubmission
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, c.baseURL+"/v1/batch/scrape", payload, &submission)
	})
	if err != nil {
		return nil, c.wrap(err)
	}

	if !submission.Success || submission.ID == "" {
		msg := submission.Error
		if msg == "" {
			msg = "provider did not return a job id"
		}
		return nil, apperrors.NewProviderError(firecrawlName, fmt.Errorf("%s", msg))
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobId": submission.ID,
		"urls":  len(urls),
	}).Info("Batch scrape submitted")

	return &submission, nil
}

// GetBatchScrapeResults fetches one page of results. cursor is either empty (first page),
// the provider's absolute "next" URL, or an opaque token.
func (c *FirecrawlClient) GetBatchScrapeResults(ctx context.Context, jobID string, cursor string, pageSize int) (*BatchScrapePage, error) {
	endpoint, err := c.resultsURL(jobID, cursor, pageSize)
	if err != nil {
		return nil, err
	}

	var page BatchScrapePage
	err = retry.Do(ctx, c.retry, func(ctx context.Context, attempt int) error {
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			page = BatchScrapePage{}
			return c.do(ctx, http.MethodGet, endpoint, nil, &page)
		})
	})
	if err != nil {
		return nil, c.wrap(err)
	}

	return &page, nil
}

func (c *FirecrawlClient) resultsURL(jobID, cursor string, pageSize int) (string, error) {
	if jobID == "" {
		return "", apperrors.NewInvalidParameterError("job_id", "required")
	}

	var u *url.URL
	var err error
	if strings.HasPrefix(cursor, "http://") || strings.HasPrefix(cursor, "https://") {
		u, err = url.Parse(cursor)
		if err != nil {
			return "", apperrors.NewInvalidParameterError("next_cursor", "malformed cursor URL")
		}
		base, _ := url.Parse(c.baseURL)
		if base == nil || !strings.EqualFold(u.Host, base.Host) {
			return "", apperrors.NewInvalidParameterError("next_cursor", "cursor host does not match the crawl provider")
		}
		// the provider's next URL already carries its paging state
		return cursor, nil
	}

	u, err = url.Parse(c.baseURL + "/v1/batch/scrape/" + url.PathEscape(jobID))
	if err != nil {
		return "", fmt.Errorf("failed to build results URL: %w", err)
	}
	q := u.Query()
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if pageSize > 0 {
		q.Set("limit", strconv.Itoa(pageSize))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *FirecrawlClient) do(ctx context.Context, method, endpoint string, payload []byte, out interface{}) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewProviderError(firecrawlName, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewProviderError(firecrawlName, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ErrJobNotFound
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return apperrors.NewProviderError(firecrawlName, fmt.Errorf("status=%d body=%s", resp.StatusCode, providerMessage(respBody)))
	case resp.StatusCode >= 400:
		// 4xx other than 404/429: bad credentials, malformed URLs, no credits. Not retried.
		return &apperrors.CategorizedError{
			Category:   apperrors.CategoryUserInput,
			StatusCode: http.StatusBadGateway,
			Code:       apperrors.CodeProvider,
			Message:    fmt.Sprintf("crawl provider rejected request (status %d): %s", resp.StatusCode, providerMessage(respBody)),
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return apperrors.NewProviderError(firecrawlName, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func (c *FirecrawlClient) wrap(err error) error {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return apperrors.NewProviderError(firecrawlName, err)
	}
	return err
}

// providerMessage extracts {"error": "..."} from a provider body, or returns the body itself
func providerMessage(body []byte) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 500 {
		s = s[:500]
	}
	return s
}
