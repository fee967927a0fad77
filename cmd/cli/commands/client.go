package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a thin HTTP client for the clipforge API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client targeting baseURL
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// envelope mirrors the API's response wrapper
type envelope struct {
	Slug  string          `json:"slug"`
	Error string          `json:"error"`
	Data  json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unexpected response (%d): %s", resp.StatusCode, string(raw))
	}
	if resp.StatusCode >= 400 {
		if env.Error != "" {
			return nil, fmt.Errorf("%s", env.Error)
		}
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return env.Data, nil
}

// CreateJob submits a new job
func (c *Client) CreateJob(ctx context.Context, req interface{}) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/api/v1/jobs", req)
}

// GetJob fetches a single job by id
func (c *Client) GetJob(ctx context.Context, id string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/api/v1/jobs/"+id, nil)
}

// ListJobs fetches jobs, optionally filtered by status and kind
func (c *Client) ListJobs(ctx context.Context, query string) (json.RawMessage, error) {
	path := "/api/v1/jobs"
	if query != "" {
		path += "?" + query
	}
	return c.do(ctx, http.MethodGet, path, nil)
}

// RetryJob resubmits a failed or canceled job
func (c *Client) RetryJob(ctx context.Context, id string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/api/v1/jobs/"+id+"/retry", nil)
}

// CancelJob cancels a job
func (c *Client) CancelJob(ctx context.Context, id string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/api/v1/jobs/"+id+"/cancel", nil)
}

// DeleteJob deletes a job and its local files
func (c *Client) DeleteJob(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/v1/jobs/"+id, nil)
	return err
}

// GetInstance fetches the rented GPU instance's status
func (c *Client) GetInstance(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/api/v1/instance", nil)
}
