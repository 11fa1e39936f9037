// Package scheduler is the client for the external task scheduler. The
// scheduler itself is an external collaborator: this package only triggers
// runs, manages suspend tokens, and lists or cancels pending runs.
package scheduler

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

	"github.com/cartfeed/catalog-sync-server/internal/httpclient"
)

// Run is one scheduled-but-not-yet-executed task run
type Run struct {
	ID      string          `json:"id"`
	TaskID  string          `json:"taskId"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Tags    []string        `json:"tags,omitempty"`
}

// TriggerOptions configures a trigger call
type TriggerOptions struct {
	// Delay defers execution by the given duration
	Delay time.Duration

	// ConcurrencyKey serializes runs sharing the same key
	ConcurrencyKey string

	// IdempotencyKey deduplicates trigger calls across retries
	IdempotencyKey string

	// Tags label the run for later filtering
	Tags []string
}

// TokenOptions configures a suspend token
type TokenOptions struct {
	// Timeout is the token's expiry budget
	Timeout time.Duration

	// IdempotencyKey makes re-entrant token creation return the same token
	IdempotencyKey string
}

// SuspendToken lets a running task pause without occupying compute,
// resuming on external signal or timeout
type SuspendToken struct {
	ID string `json:"id"`
}

// TokenResult reports how a suspend token resolved
type TokenResult struct {
	// Ok is true when the token was completed by an external signal,
	// false when it expired
	Ok bool `json:"ok"`
}

// RunFilter selects pending runs
type RunFilter struct {
	TaskID string
	Tags   []string
}

// Client is the interface to the external task scheduler
//
//go:generate mockgen -destination=mocks/mock_client.go -package=mocks github.com/cartfeed/catalog-sync-server/internal/scheduler Client
type Client interface {
	// Trigger schedules a task run and returns its run id
	Trigger(ctx context.Context, taskID string, payload any, opts TriggerOptions) (string, error)

	// CreateSuspendToken creates a wait token with the given budget
	CreateSuspendToken(ctx context.Context, opts TokenOptions) (*SuspendToken, error)

	// AwaitToken suspends until the token resolves or expires
	AwaitToken(ctx context.Context, token *SuspendToken) (TokenResult, error)

	// ListPendingRuns returns the runs matching the filter that have not
	// started executing yet
	ListPendingRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	// CancelRun cancels a pending or in-flight run by id
	CancelRun(ctx context.Context, runID string) error
}

// httpSchedulerClient talks to the scheduler's management REST API
type httpSchedulerClient struct {
	baseURL string
	apiKey  string
	client  httpclient.Client
}

// NewHTTPClient creates a scheduler client against the given base URL
func NewHTTPClient(baseURL, apiKey string) Client {
	return &httpSchedulerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  httpclient.NewDefaultClient(0),
	}
}

func (c *httpSchedulerClient) Trigger(
	ctx context.Context, taskID string, payload any, opts TriggerOptions,
) (string, error) {
	body := map[string]any{
		"payload": payload,
	}
	options := map[string]any{}
	if opts.Delay > 0 {
		options["delay"] = opts.Delay.String()
	}
	if opts.ConcurrencyKey != "" {
		options["concurrencyKey"] = opts.ConcurrencyKey
	}
	if opts.IdempotencyKey != "" {
		options["idempotencyKey"] = opts.IdempotencyKey
	}
	if len(opts.Tags) > 0 {
		options["tags"] = opts.Tags
	}
	if len(options) > 0 {
		body["options"] = options
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, fmt.Sprintf("/api/v1/tasks/%s/trigger", taskID), body, &resp); err != nil {
		return "", fmt.Errorf("failed to trigger task %s: %w", taskID, err)
	}
	return resp.ID, nil
}

func (c *httpSchedulerClient) CreateSuspendToken(
	ctx context.Context, opts TokenOptions,
) (*SuspendToken, error) {
	body := map[string]any{
		"timeout": opts.Timeout.String(),
	}
	if opts.IdempotencyKey != "" {
		body["idempotencyKey"] = opts.IdempotencyKey
	}

	var token SuspendToken
	if err := c.post(ctx, "/api/v1/wait-tokens", body, &token); err != nil {
		return nil, fmt.Errorf("failed to create suspend token: %w", err)
	}
	return &token, nil
}

func (c *httpSchedulerClient) AwaitToken(ctx context.Context, token *SuspendToken) (TokenResult, error) {
	// Long poll: the scheduler holds the request open until the token
	// resolves or expires
	var result TokenResult
	if err := c.post(ctx, fmt.Sprintf("/api/v1/wait-tokens/%s/wait", token.ID), nil, &result); err != nil {
		return TokenResult{}, fmt.Errorf("failed to await token %s: %w", token.ID, err)
	}
	return result, nil
}

func (c *httpSchedulerClient) ListPendingRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	q := url.Values{}
	q.Set("status", "PENDING")
	if filter.TaskID != "" {
		q.Set("taskId", filter.TaskID)
	}
	for _, tag := range filter.Tags {
		q.Add("tag", tag)
	}

	data, err := c.client.Get(ctx, c.baseURL+"/api/v1/runs?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to list pending runs: %w", err)
	}

	var resp struct {
		Runs []Run `json:"runs"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode pending runs: %w", err)
	}
	return resp.Runs, nil
}

func (c *httpSchedulerClient) CancelRun(ctx context.Context, runID string) error {
	if err := c.post(ctx, fmt.Sprintf("/api/v1/runs/%s/cancel", runID), nil, nil); err != nil {
		return fmt.Errorf("failed to cancel run %s: %w", runID, err)
	}
	return nil
}

// post sends a JSON POST and decodes the response into out when non-nil
func (c *httpSchedulerClient) post(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return httpclient.NewHTTPError(resp.StatusCode, c.baseURL+path, string(msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
