// Package embed is the HTTP client for the embedding endpoint. Retry policy
// lives with the caller; this package only classifies which failures are worth
// retrying.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHTTPTimeout = 30 * time.Second

// Config captures the runtime settings for the embedding endpoint.
type Config struct {
	Endpoint       string
	Model          string
	TimeoutSeconds int
}

// Client calls the embedding endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs an embedding client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			Endpoint:       strings.TrimSpace(cfg.Endpoint),
			Model:          strings.TrimSpace(cfg.Model),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("embed request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// IsRetryable reports whether err is a transient failure: 408, 429, any 5xx,
// or a network timeout. Everything else is treated as permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *statusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusRequestTimeout ||
			statusErr.StatusCode == http.StatusTooManyRequests ||
			statusErr.StatusCode >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	return false
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	if c.cfg.Endpoint == "" {
		return nil, errors.New("embed: endpoint required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("embed: text required")
	}

	encoded, err := json.Marshal(embedRequest{Model: c.cfg.Model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embed request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("embed request: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embed request: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &statusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var decoded embedResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("embed request: decode response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("embed request: api error: %s", decoded.Error)
	}
	if len(decoded.Embedding) == 0 {
		return nil, errors.New("embed request: empty embedding in response")
	}
	return decoded.Embedding, nil
}

// HealthCheck verifies the endpoint answers with a usable vector.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.cfg.Endpoint == "" {
		return errors.New("embed health: endpoint required")
	}
	_, err := c.Embed(ctx, "health check")
	return err
}
