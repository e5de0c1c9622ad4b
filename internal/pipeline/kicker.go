package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/touchless-directory/internal/logging"
)

// HTTPKicker re-enters the server through its own HTTP API. Each kick runs in its own goroutine
// after an optional delay, and the caller never waits for the response.
type HTTPKicker struct {
	baseURL string
	client  *http.Client
	delay   time.Duration
}

// NewHTTPKicker creates a kicker targeting baseURL. timeout bounds one kicked request, which processes a full page.
func NewHTTPKicker(baseURL string, delay, timeout time.Duration) *HTTPKicker {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &HTTPKicker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		delay:   delay,
	}
}

// KickPoll schedules a poll of jobID at cursor
func (k *HTTPKicker) KickPoll(ctx context.Context, jobID, cursor string) error {
	body, err := json.Marshal(map[string]string{"job_id": jobID, "next_cursor": cursor})
	if err != nil {
		return fmt.Errorf("failed to encode poll kick: %w", err)
	}
	k.fire(ctx, k.baseURL+"/api/batches/poll", body, jobID)
	return nil
}

// KickJob schedules processing of background job jobID
func (k *HTTPKicker) KickJob(ctx context.Context, jobID string) error {
	k.fire(ctx, k.baseURL+"/api/jobs/"+url.PathEscape(jobID)+"/process", []byte("{}"), jobID)
	return nil
}

func (k *HTTPKicker) fire(ctx context.Context, endpoint string, body []byte, jobID string) {
	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobId":    jobID,
		"endpoint": endpoint,
	})
	ctx = context.WithoutCancel(ctx)

	go func() {
		if k.delay > 0 {
			time.Sleep(k.delay)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			log.WithError(err).Warn("Failed to build kick request")
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := k.client.Do(req)
		if err != nil {
			log.WithError(err).Warn("Kick request failed")
			return
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 400 && resp.StatusCode != http.StatusLocked {
			log.WithField("status", resp.StatusCode).Warn("Kick request rejected")
		}
	}()
}
