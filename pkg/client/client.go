// Package client provides a Go client library for the scout API server.
package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	v1alpha1 "github.com/klubi/scout/pkg/apis/v1alpha1"
)

// ErrNotFound is matched by errors for 404 responses.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client communicates with the scout API server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new scout API client pointing at the given base URL
// (e.g. "http://127.0.0.1:7118").
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

// doRequest builds and executes an HTTP request.
// If body is non-nil it is JSON-encoded and sent as the request body.
func (c *Client) doRequest(method, path string, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	return resp, nil
}

// doJSON executes a request, checks for a 2xx status, and JSON-decodes
// the response body into target (when target is non-nil).
func (c *Client) doJSON(method, path string, body interface{}, target interface{}) error {
	resp, err := c.doRequest(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(respBody))}
		var envelope struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &envelope) == nil && envelope.Error != "" {
			apiErr.Message = envelope.Error
		}
		return apiErr
	}

	if target != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, target); err != nil {
			return fmt.Errorf("decode response body: %w", err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

// Healthz checks whether the API server is healthy.
func (c *Client) Healthz() error {
	return c.doJSON(http.MethodGet, "/healthz", nil, nil)
}

// ---------------------------------------------------------------------------
// Tools
// ---------------------------------------------------------------------------

// ToolSchema is the wire form of a tool description.
type ToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ListTools returns the tools the server offers to the model.
func (c *Client) ListTools() ([]ToolSchema, error) {
	var out []ToolSchema
	if err := c.doJSON(http.MethodGet, "/api/v1alpha1/tools", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

// CreateRun launches a run. The returned record is the one stored before
// the first round.
func (c *Client) CreateRun(req v1alpha1.RunRequest) (*v1alpha1.Run, error) {
	var out v1alpha1.Run
	if err := c.doJSON(http.MethodPost, "/api/v1alpha1/runs", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRun retrieves a run record by id.
func (c *Client) GetRun(id string) (*v1alpha1.Run, error) {
	var out v1alpha1.Run
	if err := c.doJSON(http.MethodGet, "/api/v1alpha1/runs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRuns returns run records newest first, optionally only those in phase.
func (c *Client) ListRuns(phase v1alpha1.RunPhase) ([]*v1alpha1.Run, error) {
	path := "/api/v1alpha1/runs"
	if phase != "" {
		path += "?phase=" + url.QueryEscape(string(phase))
	}
	var out []*v1alpha1.Run
	if err := c.doJSON(http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteRun stops an active run or deletes a finished run's record.
func (c *Client) DeleteRun(id string) error {
	return c.doJSON(http.MethodDelete, "/api/v1alpha1/runs/"+url.PathEscape(id), nil, nil)
}
