// Package httpclient provides the shared HTTP client used by every outbound
// API integration, plus the error taxonomy the retry policy classifies.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	defaultTimeout = 30 * time.Second
	userAgent      = "catalog-sync-server/1.0"

	// maxResponseSize caps how much of a response body we read into memory
	maxResponseSize = 100 * 1024 * 1024
)

// Client is the interface for making HTTP requests
type Client interface {
	// Get fetches data from the given URL
	Get(ctx context.Context, url string) ([]byte, error)

	// Do executes an arbitrary request and returns the response.
	// Status codes >= 400 are not converted to errors; callers that want
	// the error taxonomy use Get/GetTo or classify the response themselves.
	Do(req *http.Request) (*http.Response, error)

	// GetTo streams the body at the given URL into w
	GetTo(ctx context.Context, url string, w io.Writer) error
}

// defaultClient is the default implementation of Client
type defaultClient struct {
	client *http.Client
}

// NewDefaultClient creates a new HTTP client with the given timeout.
// A zero timeout selects the default.
func NewDefaultClient(timeout time.Duration) Client {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &defaultClient{
		client: &http.Client{Timeout: timeout},
	}
}

// Get fetches data from the given URL
func (c *defaultClient) Get(ctx context.Context, url string) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.GetTo(ctx, url, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GetTo streams the body at the given URL into w
func (c *defaultClient) GetTo(ctx context.Context, url string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return NewHTTPError(resp.StatusCode, url, string(body))
	}

	if _, err := io.Copy(w, io.LimitReader(resp.Body, maxResponseSize)); err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	return nil
}

// Do executes an arbitrary request
func (c *defaultClient) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}
	if req.Header.Get("X-Request-Id") == "" {
		req.Header.Set("X-Request-Id", uuid.NewString())
	}
	return c.client.Do(req)
}
