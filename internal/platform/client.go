// Package platform is the client for the source platform's asynchronous
// bulk-export facility. The query grammar itself is opaque to this package:
// queries are composed elsewhere and sent as strings.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/cartfeed/catalog-sync-server/internal/httpclient"
	"github.com/cartfeed/catalog-sync-server/internal/retry"
	"github.com/cartfeed/catalog-sync-server/internal/status"
)

// Client is the interface to the source platform's bulk-export API
//
//go:generate mockgen -destination=mocks/mock_client.go -package=mocks github.com/cartfeed/catalog-sync-server/internal/platform Client
type Client interface {
	// RequestBulkOperation submits an export job and returns the remote
	// job id. idemKey deduplicates the request across retries.
	RequestBulkOperation(ctx context.Context, retailer status.Retailer, query, idemKey string) (string, error)

	// PollBulkOperation fetches the current state of a bulk export job
	PollBulkOperation(ctx context.Context, retailer status.Retailer, jobID string) (*BulkExportJob, error)

	// DownloadData streams a completed job's data file into w
	DownloadData(ctx context.Context, dataURL string, w io.Writer) error
}

// defaultClient is the default implementation of Client
type defaultClient struct {
	baseURL    string
	apiVersion string
	http       httpclient.Client
	policy     retry.Policy

	// limiter smooths our own request rate before the platform has to
	// throttle us
	limiter *rate.Limiter
}

// Option configures the platform client
type Option func(*defaultClient)

// WithHTTPClient overrides the underlying HTTP client
func WithHTTPClient(c httpclient.Client) Option {
	return func(d *defaultClient) {
		d.http = c
	}
}

// WithRateLimit overrides the client-side request rate limit
func WithRateLimit(perSecond float64, burst int) Option {
	return func(d *defaultClient) {
		d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewClient creates a platform client against the given admin API base URL
func NewClient(baseURL, apiVersion string, policy retry.Policy, opts ...Option) Client {
	c := &defaultClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiVersion: apiVersion,
		http:       httpclient.NewDefaultClient(60 * time.Second),
		policy:     policy,
		limiter:    rate.NewLimiter(rate.Limit(2), 4),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// graphqlRequest is the platform's query envelope
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the platform's response envelope. Extensions carry the
// throttle cost accounting.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message    string `json:"message"`
		Extensions struct {
			Code string `json:"code"`
		} `json:"extensions"`
	} `json:"errors,omitempty"`
	Extensions struct {
		Cost *struct {
			RequestedQueryCost float64 `json:"requestedQueryCost"`
			ActualQueryCost    float64 `json:"actualQueryCost"`
			ThrottleStatus     struct {
				CurrentlyAvailable float64 `json:"currentlyAvailable"`
				MaximumAvailable   float64 `json:"maximumAvailable"`
				RestoreRate        float64 `json:"restoreRate"`
			} `json:"throttleStatus"`
		} `json:"cost,omitempty"`
	} `json:"extensions"`
}

// bulkOperationPayload is the job shape inside both the request and poll
// responses
type bulkOperationPayload struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	URL         string `json:"url"`
	ObjectCount string `json:"objectCount"`
	CreatedAt   string `json:"createdAt"`
	CompletedAt string `json:"completedAt"`
}

func (c *defaultClient) RequestBulkOperation(
	ctx context.Context, retailer status.Retailer, query, idemKey string,
) (string, error) {
	req := graphqlRequest{
		Query:     "mutation bulkOperationRunQuery($query: String!) { bulkOperationRunQuery(query: $query) { bulkOperation { id status } userErrors { field message } } }",
		Variables: map[string]any{"query": query},
	}

	var resp struct {
		BulkOperationRunQuery struct {
			BulkOperation *bulkOperationPayload `json:"bulkOperation"`
			UserErrors    []struct {
				Message string `json:"message"`
			} `json:"userErrors"`
		} `json:"bulkOperationRunQuery"`
	}
	if err := c.execute(ctx, retailer, req, idemKey, &resp); err != nil {
		return "", fmt.Errorf("failed to request bulk operation: %w", err)
	}

	if len(resp.BulkOperationRunQuery.UserErrors) > 0 {
		return "", fmt.Errorf("bulk operation rejected: %s", resp.BulkOperationRunQuery.UserErrors[0].Message)
	}
	if resp.BulkOperationRunQuery.BulkOperation == nil {
		return "", fmt.Errorf("bulk operation response missing job")
	}
	return resp.BulkOperationRunQuery.BulkOperation.ID, nil
}

func (c *defaultClient) PollBulkOperation(
	ctx context.Context, retailer status.Retailer, jobID string,
) (*BulkExportJob, error) {
	req := graphqlRequest{
		Query:     "query bulkOperation($id: ID!) { node(id: $id) { ... on BulkOperation { id status url objectCount createdAt completedAt } } }",
		Variables: map[string]any{"id": jobID},
	}

	var resp struct {
		Node *bulkOperationPayload `json:"node"`
	}
	if err := c.execute(ctx, retailer, req, "", &resp); err != nil {
		return nil, fmt.Errorf("failed to poll bulk operation %s: %w", jobID, err)
	}
	if resp.Node == nil {
		return nil, fmt.Errorf("bulk operation %s not found", jobID)
	}
	return toBulkExportJob(resp.Node), nil
}

func (c *defaultClient) DownloadData(ctx context.Context, dataURL string, w io.Writer) error {
	return retry.Do(ctx, c.policy, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return c.http.GetTo(ctx, dataURL, w)
	})
}

// execute sends one GraphQL call through the retry policy, classifying the
// platform's failure modes into the shared error taxonomy
func (c *defaultClient) execute(
	ctx context.Context, retailer status.Retailer, gqlReq graphqlRequest, idemKey string, out any,
) error {
	endpoint := fmt.Sprintf("%s/stores/%s/api/%s/graphql", c.baseURL, retailer.Domain, c.apiVersion)

	return retry.Do(ctx, c.policy, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		body, err := json.Marshal(gqlReq)
		if err != nil {
			return fmt.Errorf("failed to encode query: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Access-Token", retailer.AccessToken)
		if idemKey != "" {
			req.Header.Set("Idempotency-Key", idemKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized {
			// Surface both shapes: the retry policy keys on the type, the
			// pipeline's store-closed mapping keys on the status code text
			return &httpclient.CredentialError{
				Message: fmt.Sprintf("request to %s failed with status code %d", endpoint, resp.StatusCode),
			}
		}
		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return httpclient.NewHTTPError(resp.StatusCode, endpoint, string(msg))
		}

		var envelope graphqlResponse
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		if err := c.checkThrottled(&envelope); err != nil {
			return err
		}
		if len(envelope.Errors) > 0 {
			return fmt.Errorf("platform error: %s", envelope.Errors[0].Message)
		}

		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode data: %w", err)
		}
		return nil
	})
}

// checkThrottled converts a THROTTLED platform error into a ThrottledError
// carrying the cost accounting from the response extensions
func (*defaultClient) checkThrottled(envelope *graphqlResponse) error {
	for _, gqlErr := range envelope.Errors {
		if gqlErr.Extensions.Code != "THROTTLED" {
			continue
		}
		throttled := &httpclient.ThrottledError{}
		if cost := envelope.Extensions.Cost; cost != nil {
			throttled.Cost = &httpclient.ThrottleCost{
				RequestedCost:      cost.RequestedQueryCost,
				ActualCost:         cost.ActualQueryCost,
				CurrentlyAvailable: cost.ThrottleStatus.CurrentlyAvailable,
				MaximumAvailable:   cost.ThrottleStatus.MaximumAvailable,
				RestoreRate:        cost.ThrottleStatus.RestoreRate,
			}
		}
		return throttled
	}
	return nil
}

// toBulkExportJob converts the wire payload into the domain job
func toBulkExportJob(payload *bulkOperationPayload) *BulkExportJob {
	job := &BulkExportJob{
		ID:      payload.ID,
		Status:  JobStatus(payload.Status),
		DataURL: payload.URL,
	}
	if payload.ObjectCount != "" {
		// The platform reports counts as strings
		job.ObjectCount, _ = strconv.ParseInt(payload.ObjectCount, 10, 64)
	}
	if t, err := time.Parse(time.RFC3339, payload.CreatedAt); err == nil {
		job.StartedAt = &t
	}
	if t, err := time.Parse(time.RFC3339, payload.CompletedAt); err == nil {
		job.EndedAt = &t
	}
	return job
}
