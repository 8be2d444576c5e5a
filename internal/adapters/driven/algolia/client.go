package algolia

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/custodia-labs/indexsync/internal/core/domain"
	"github.com/custodia-labs/indexsync/internal/core/ports/driven"
)

// Verify interface compliance
var (
	_ driven.SearchClient = (*Client)(nil)
	_ driven.SearchIndex  = (*Index)(nil)
)

// maxBatchSize is the number of records sent per batch request
const maxBatchSize = 1000

// Client implements driven.SearchClient using the Algolia REST API
type Client struct {
	baseURL    string
	appID      string
	apiKey     string
	userAgent  string
	httpClient *http.Client
	taskWait   time.Duration
}

// Config holds Algolia connection configuration
type Config struct {
	AppID  string
	APIKey string

	// BaseURL overrides the application host (default: https://{AppID}.algolia.net)
	BaseURL string

	// Timeout for HTTP requests
	Timeout time.Duration

	// TaskWaitTimeout bounds how long CopyIndex waits for the copy to be published
	TaskWaitTimeout time.Duration

	// UserAgent is appended to the default agent string
	UserAgent string
}

// DefaultConfig returns sensible defaults
func DefaultConfig(appID, apiKey string) Config {
	return Config{
		AppID:           appID,
		APIKey:          apiKey,
		Timeout:         30 * time.Second,
		TaskWaitTimeout: 5 * time.Minute,
	}
}

// NewClient creates a new Algolia-backed SearchClient
func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.algolia.net", cfg.AppID)
	}
	agent := "indexsync"
	if cfg.UserAgent != "" {
		agent += "; " + cfg.UserAgent
	}

	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		appID:     cfg.AppID,
		apiKey:    cfg.APIKey,
		userAgent: agent,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		taskWait: cfg.TaskWaitTimeout,
	}
}

// APIError is a non-2xx response from Algolia
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("algolia: %d - %s", e.Status, e.Message)
}

// Unwrap maps 404 responses to domain.ErrNotFound.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return domain.ErrNotFound
	}
	return nil
}

// taskResponse is the body of every asynchronous write
type taskResponse struct {
	TaskID int64 `json:"taskID"`
}

// InitIndex returns a handle on the named index.
func (c *Client) InitIndex(name string) driven.SearchIndex {
	return &Index{client: c, name: name}
}

type copyRequest struct {
	Operation   string             `json:"operation"`
	Destination string             `json:"destination"`
	Scope       []driven.CopyScope `json:"scope,omitempty"`
}

// CopyIndex copies source onto destination and waits until the copy is
// published, so that a following delete of source is safe.
func (c *Client) CopyIndex(ctx context.Context, source, destination string, scopes ...driven.CopyScope) error {
	var task taskResponse
	err := c.do(ctx, http.MethodPost, indexPath(source, "operation"), nil,
		copyRequest{Operation: "copy", Destination: destination, Scope: scopes}, &task)
	if err != nil {
		return fmt.Errorf("copy index %s to %s: %w", source, destination, err)
	}
	return c.waitTask(ctx, source, task.TaskID)
}

// HealthCheck verifies Algolia is reachable
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/1/isalive", nil, nil, nil)
}

type taskStatus struct {
	Status string `json:"status"`
}

var errTaskPending = errors.New("task not published")

// waitTask polls the task until Algolia reports it published.
func (c *Client) waitTask(ctx context.Context, index string, taskID int64) error {
	if taskID == 0 {
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		var status taskStatus
		if err := c.do(ctx, http.MethodGet, indexPath(index, "task", fmt.Sprint(taskID)), nil, nil, &status); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if status.Status != "published" {
			return struct{}{}, errTaskPending
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(c.taskWait))
	if err != nil {
		return fmt.Errorf("wait for task %d on %s: %w", taskID, index, err)
	}
	return nil
}

// do sends a request. A nil body sends no payload; a nil out discards the response.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-Algolia-Application-Id", c.appID)
	req.Header.Set("X-Algolia-API-Key", c.apiKey)
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Message string `json:"message"`
		}
		msg := string(respBody)
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			msg = apiErr.Message
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func indexPath(index string, parts ...string) string {
	var b strings.Builder
	b.WriteString("/1/indexes/")
	b.WriteString(url.PathEscape(index))
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}
