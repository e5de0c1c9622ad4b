package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/touchless-directory/internal/circuitbreaker"
	apperrors "github.com/touchless-directory/internal/errors"
	"github.com/touchless-directory/internal/retry"
)

const anthropicVersion = "2023-06-01"

// Completer sends one instruction + user message to a language model and returns its text reply
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// AnthropicConfig configures the classifier client
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	RPS       float64
}

// AnthropicClient is a Messages API client
type AnthropicClient struct {
	cfg        AnthropicConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuitbreaker.CircuitBreaker
	retry      *retry.RetryConfig
}

// NewAnthropicClient creates a new classifier client
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &AnthropicClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		breaker: circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
			Name:                "anthropic",
			ConsecutiveFailures: 5,
			Cooldown:            20 * time.Second,
			IsFailure:           apperrors.IsRetryable,
		}),
		retry: &retry.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2,
			ShouldRetry:  isTransient,
		},
	}
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("classifier API status=%d body=%s", e.code, e.body)
}

func isTransient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return !errors.Is(err, circuitbreaker.ErrCircuitOpen) && !errors.Is(err, context.Canceled)
}

// Complete sends the request and concatenates the text blocks of the reply
func (c *AnthropicClient) Complete(ctx context.Context, system, user string) (string, error) {
	payload, err := json.Marshal(messagesRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		System:    system,
		Messages:  []message{{Role: "user", Content: user}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode classifier request: %w", err)
	}

	var text string
	err = retry.Do(ctx, c.retry, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			var callErr error
			text, callErr = c.call(ctx, payload)
			if callErr != nil && isTransient(callErr) {
				return apperrors.NewClassificationError("classifier call failed", callErr)
			}
			return callErr
		})
	})
	if err != nil {
		return "", apperrors.NewClassificationError("classifier unavailable", err)
	}
	return text, nil
}

func (c *AnthropicClient) call(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &statusError{code: resp.StatusCode, body: providerMessage(body)}
	}

	var parsed messagesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode classifier response: %w", err)
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
