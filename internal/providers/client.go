package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxErrorBody bounds how much of an error response is kept
const maxErrorBody = 2048

// ClientConfig holds settings shared by the HTTP provider clients
type ClientConfig struct {
	BaseURL string
	APIKey  string
	// Timeout bounds a whole request including the body read
	Timeout time.Duration
	// RequestsPerSecond paces outbound requests; zero disables pacing
	RequestsPerSecond float64
	Burst             int
	// HTTPClient replaces the default client, e.g. one instrumented for tracing
	HTTPClient *http.Client
}

// HTTPStatusError is returned for non-2xx provider responses
type HTTPStatusError struct {
	Provider string
	Method   string
	Path     string
	Status   int
	Body     string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s %s returned status %d", e.Provider, e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s %s returned status %d: %s", e.Provider, e.Method, e.Path, e.Status, e.Body)
}

// StatusCode exposes the HTTP status to the error classifier
func (e *HTTPStatusError) StatusCode() int {
	return e.Status
}

// httpClient is the transport shared by provider clients
type httpClient struct {
	provider string
	baseURL  string
	auth     func(*http.Request)
	client   *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
}

func newHTTPClient(provider string, config ClientConfig, auth func(*http.Request), logger *zap.Logger) *httpClient {
	client := config.HTTPClient
	if client == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	return &httpClient{
		provider: provider,
		baseURL:  strings.TrimRight(config.BaseURL, "/"),
		auth:     auth,
		client:   client,
		limiter:  limiter,
		logger:   logger.With(zap.String("provider", provider)),
	}
}

// do sends one request and decodes a JSON response into out when out is
// non-nil. Non-2xx responses become *HTTPStatusError.
func (c *httpClient) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for %s request slot: %w", c.provider, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		c.auth(req)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("Provider request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	c.logger.Debug("Provider request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPStatusError{
			Provider: c.provider,
			Method:   method,
			Path:     path,
			Status:   resp.StatusCode,
			Body:     strings.TrimSpace(string(snippet)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	// decode errors keep their json type so they classify as PARSE_ERROR
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *httpClient) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", c.provider, err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, contentType, body, out)
}
