package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/reachvector/leadpipe/pkg/config"
)

// Client talks HTTP JSON to the Agent gateway.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a gateway client from configuration.
func NewClient(cfg *config.AgentConfig) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.InvokeTimeout},
		baseURL:    cfg.BaseURL,
		timeout:    cfg.InvokeTimeout,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		logger:     slog.Default().With("component", "agent"),
	}
}

// NewClientWithBaseURL creates a client pointed at a custom URL. Used by
// tests against a mock gateway server.
func NewClientWithBaseURL(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		timeout:    30 * time.Second,
		limiter:    rate.NewLimiter(rate.Inf, 1),
		logger:     slog.Default().With("component", "agent"),
	}
}

// Invoke performs a single Agent invocation. It does not validate the
// output against the declared schema; callers decode with the typed
// Decode helpers after any transport-level retries.
func (c *Client) Invoke(ctx context.Context, inv Invocation) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	c.logger.Debug("Invoking agent", "role", inv.Role, "prompt_bytes", len(inv.Prompt))

	var result Result
	if err := c.post(ctx, "/v1/agent/invoke", inv, &result); err != nil {
		return nil, err
	}

	c.logger.Info("Agent invocation completed",
		"role", inv.Role,
		"duration", time.Since(start).Round(time.Millisecond),
		"output_bytes", len(result.Output))
	return &result, nil
}

// ResetSession asks the gateway to discard accumulated session state for
// the worker's role so the next invocation starts from a clean context.
func (c *Client) ResetSession(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	c.logger.Info("Resetting agent session")
	return c.post(ctx, "/v1/agent/session/reset", struct{}{}, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("agent gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("failed to read agent response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent gateway returned status %d: %s", resp.StatusCode, truncate(string(respBody), 512))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode agent response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
