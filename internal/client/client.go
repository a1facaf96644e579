// Package client is an HTTP client for the riskops service, used by the CLI
// and the MCP server. Calls are retried on network errors and 5xx responses
// and guarded by a per-endpoint circuit breaker.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/treloxai/riskops/internal/circuitbreaker"
	"github.com/treloxai/riskops/internal/health"
	"github.com/treloxai/riskops/internal/retry"
	"github.com/treloxai/riskops/internal/risk"
	"github.com/treloxai/riskops/internal/traces"
)

// DefaultBaseURL is used when Config.BaseURL is empty.
const DefaultBaseURL = "http://127.0.0.1:8000"

const (
	defaultTimeout      = 10 * time.Second
	defaultAttempts     = 3
	defaultBaseDelay    = 200 * time.Millisecond
	defaultMaxDelay     = 2 * time.Second
	breakerThreshold    = 5
	breakerOpenDuration = 30 * time.Second
	maxResponseBytes    = 16 << 20
)

// ErrCircuitOpen is returned when too many recent calls to an endpoint failed.
var ErrCircuitOpen = errors.New("riskops: circuit open, service unavailable")

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error (%d)", e.StatusCode)
}

// Temporary reports whether the request may succeed if repeated.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Config holds the client settings. Zero values select the defaults.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      *slog.Logger
	HTTPClient  *http.Client
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	health.Report
	Version string `json:"version"`
}

// Client calls the riskops HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
	breaker    *circuitbreaker.Breaker
	logger     *slog.Logger
}

// New creates a client.
func New(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	delay := cfg.BaseDelay
	if delay <= 0 {
		delay = defaultBaseDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := &Client{
		baseURL:    base,
		httpClient: hc,
		breaker:    circuitbreaker.New(breakerThreshold, breakerOpenDuration),
		logger:     logger,
	}
	c.policy = retry.Policy{
		MaxAttempts: attempts,
		BaseDelay:   delay,
		MaxDelay:    defaultMaxDelay,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			c.logger.Debug("retrying riskops request", "attempt", attempt, "wait", wait, "error", err)
		},
	}
	c.breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
		c.logger.Warn("riskops circuit state changed", "endpoint", key, "from", from.String(), "to", to.String())
	})
	return c
}

// BaseURL returns the service root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// Analyze scores a request remotely.
func (c *Client) Analyze(ctx context.Context, req risk.AnalyzeRequest) (*risk.RiskResult, error) {
	body, err := c.do(ctx, http.MethodPost, "/risk/analyze", req)
	if err != nil {
		return nil, err
	}
	var result risk.RiskResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	return &result, nil
}

// Report fetches the PDF incident report for a request.
func (c *Client) Report(ctx context.Context, req risk.AnalyzeRequest) ([]byte, error) {
	return c.do(ctx, http.MethodPost, "/risk/report", req)
}

// Health fetches the service health report. A degraded service still
// answers 200; check HealthResponse.Healthy.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	body, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}
	var h HealthResponse
	if err := json.Unmarshal(body, &h); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	return &h, nil
}

// do runs one logical call through the breaker and retry policy.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	key := method + " " + path
	var out []byte
	err := c.breaker.Execute(ctx, key, countsAsFailure, func(ctx context.Context) error {
		return c.policy.Do(ctx, func(ctx context.Context) error {
			body, err := c.once(ctx, method, path, data)
			if err != nil {
				return err
			}
			out = body
			return nil
		})
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, fmt.Errorf("%s: %w", key, ErrCircuitOpen)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) once(ctx context.Context, method, path string, data []byte) ([]byte, error) {
	var reqBody io.Reader
	if data != nil {
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	traces.Inject(ctx, req.Header)
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		apiErr.StatusCode = resp.StatusCode
		if !apiErr.Temporary() {
			return nil, retry.Permanent(apiErr)
		}
		return nil, apiErr
	}
	return body, nil
}

// countsAsFailure keeps client mistakes (4xx) from tripping the breaker.
func countsAsFailure(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return !errors.Is(err, context.Canceled)
}
