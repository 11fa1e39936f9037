// Package blob is the client for the blob store holding reconciliation
// keep-lists.
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cartfeed/catalog-sync-server/internal/httpclient"
	"github.com/cartfeed/catalog-sync-server/internal/retry"
)

// Store uploads JSON documents and returns their public URLs
//
//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/cartfeed/catalog-sync-server/internal/blob Store
type Store interface {
	// UploadJSON serializes content and uploads it under bucket/key,
	// returning the resulting URL
	UploadJSON(ctx context.Context, bucket, key string, content any) (string, error)
}

// httpStore is the default implementation of Store
type httpStore struct {
	baseURL string
	apiKey  string
	http    httpclient.Client
	policy  retry.Policy
}

// NewHTTPStore creates a blob store client against the given base URL
func NewHTTPStore(baseURL, apiKey string, policy retry.Policy) Store {
	return &httpStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpclient.NewDefaultClient(0),
		policy:  policy,
	}
}

func (s *httpStore) UploadJSON(ctx context.Context, bucket, key string, content any) (string, error) {
	payload, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("failed to encode content: %w", err)
	}

	objectURL := fmt.Sprintf("%s/%s/%s", s.baseURL, bucket, key)
	err = retry.Do(ctx, s.policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, objectURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.apiKey)

		resp, err := s.http.Do(req)
		if err != nil {
			return fmt.Errorf("upload failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return httpclient.NewHTTPError(resp.StatusCode, objectURL, string(msg))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return objectURL, nil
}
