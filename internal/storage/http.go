package storage

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

	"github.com/holdboard/holdboard/pkg/proto"
)

// HTTPBackend talks to the object-store service over JSON HTTP.
type HTTPBackend struct {
	baseURL   string
	authToken string
	client    *http.Client
}

// NewHTTPBackend creates a backend client for the service at baseURL.
// authToken may be empty when the service is unauthenticated.
func NewHTTPBackend(baseURL, authToken string) *HTTPBackend {
	return &HTTPBackend{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListObjects fetches a bucket's object listing. The generation token
// comes from the response body when present, else from the
// X-Bucket-Generation header.
func (b *HTTPBackend) ListObjects(ctx context.Context, bucket, query string) ([]proto.ObjectRecord, string, error) {
	params := url.Values{}
	params.Set("bucket", bucket)
	if query != "" {
		params.Set("query", query)
	}

	resp, err := b.doRequest(ctx, http.MethodGet, "/files?"+params.Encode(), nil)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", b.parseError(resp)
	}

	var result proto.FileListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, "", fmt.Errorf("decode response: %w", err)
	}

	generation := result.Generation
	if generation == "" {
		generation = resp.Header.Get("X-Bucket-Generation")
	}
	return result.Files, generation, nil
}

// ListBuckets enumerates bucket names.
func (b *HTTPBackend) ListBuckets(ctx context.Context) ([]string, error) {
	resp, err := b.doRequest(ctx, http.MethodGet, "/buckets", nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, b.parseError(resp)
	}

	var result proto.BucketListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result.Buckets, nil
}

// SearchObjects finds objects matching fragment across buckets.
func (b *HTTPBackend) SearchObjects(ctx context.Context, fragment string, buckets []string) (map[string][]string, error) {
	params := url.Values{}
	params.Set("q", fragment)
	params.Set("buckets", strings.Join(buckets, ","))

	resp, err := b.doRequest(ctx, http.MethodGet, "/search-objects?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, b.parseError(resp)
	}

	var result proto.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result.Results, nil
}

// ObjectExists checks whether an object exists in a bucket.
func (b *HTTPBackend) ObjectExists(ctx context.Context, bucket, name string) (bool, error) {
	params := url.Values{}
	params.Set("bucket", bucket)
	params.Set("filename", name)

	resp, err := b.doRequest(ctx, http.MethodGet, "/check-object-exists?"+params.Encode(), nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, b.parseError(resp)
	}

	var result proto.ExistsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return result.Exists, nil
}

// UpdateBatch sends one bucket's staged updates in a single PATCH.
func (b *HTTPBackend) UpdateBatch(ctx context.Context, bucket string, updates []proto.UpdateEntry, generation string) error {
	body, err := json.Marshal(proto.BatchUpdateRequest{
		Updates:    updates,
		Generation: generation,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	params := url.Values{}
	params.Set("bucket", bucket)

	resp, err := b.doRequest(ctx, http.MethodPatch, "/update-files-batch?"+params.Encode(), body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusConflict, http.StatusPreconditionFailed:
		return fmt.Errorf("%w: %v", ErrGenerationMismatch, b.parseError(resp))
	default:
		return b.parseError(resp)
	}
}

func (b *HTTPBackend) doRequest(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if b.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+b.authToken)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return b.client.Do(req)
}

func (b *HTTPBackend) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp proto.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		return fmt.Errorf("%s: %s", errResp.Error, errResp.Message)
	}

	return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
}
