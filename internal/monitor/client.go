package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/lessond/internal/diagnostics"
	"github.com/fyrsmithlabs/lessond/internal/engine"
	httpserver "github.com/fyrsmithlabs/lessond/internal/http"
	"github.com/fyrsmithlabs/lessond/internal/lesson"
	"github.com/fyrsmithlabs/lessond/internal/policy"
)

// APIError is a non-2xx response from lessond.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lessond returned %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from lessond.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client talks to the lessond HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// BaseURL returns the server address the client targets.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e httpserver.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Health returns the server health. A degraded server is not an error.
func (c *Client) Health(ctx context.Context) (httpserver.HealthResponse, error) {
	var h httpserver.HealthResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return h, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return h, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return h, &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return h, fmt.Errorf("failed to decode response: %w", err)
	}
	return h, nil
}

// Dashboard returns the current diagnosis and indicators.
func (c *Client) Dashboard(ctx context.Context) (diagnostics.Dashboard, error) {
	var d diagnostics.Dashboard
	err := c.do(ctx, http.MethodGet, "/api/v1/dashboard", nil, &d)
	return d, err
}

// Report returns the last evaluation report. ok is false until the first
// evaluation completes.
func (c *Client) Report(ctx context.Context) (report engine.Report, ok bool, err error) {
	err = c.do(ctx, http.MethodGet, "/api/v1/report", nil, &report)
	switch {
	case IsNotFound(err):
		return engine.Report{}, false, nil
	case err != nil:
		return engine.Report{}, false, err
	}
	return report, true, nil
}

// Policy returns the active policy.
func (c *Client) Policy(ctx context.Context) (policy.Policy, error) {
	var p policy.Policy
	err := c.do(ctx, http.MethodGet, "/api/v1/policy", nil, &p)
	return p, err
}

// Stats returns lesson counts by status and type.
func (c *Client) Stats(ctx context.Context) (lesson.Stats, error) {
	var s lesson.Stats
	err := c.do(ctx, http.MethodGet, "/api/v1/lessons/stats", nil, &s)
	return s, err
}

// ListApproved returns approved lessons matching opts.
func (c *Client) ListApproved(ctx context.Context, opts lesson.ListOptions) ([]*lesson.Lesson, error) {
	q := url.Values{}
	if opts.Cluster != "" {
		q.Set("cluster", opts.Cluster)
	}
	if len(opts.Tags) > 0 {
		q.Set("tags", strings.Join(opts.Tags, ","))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	path := "/api/v1/lessons"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp httpserver.LessonsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Lessons, nil
}

// Pending returns lessons awaiting review.
func (c *Client) Pending(ctx context.Context) ([]*lesson.Lesson, error) {
	var resp httpserver.LessonsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/lessons/pending", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Lessons, nil
}

// Get returns a single lesson.
func (c *Client) Get(ctx context.Context, id string) (*lesson.Lesson, error) {
	var l lesson.Lesson
	if err := c.do(ctx, http.MethodGet, "/api/v1/lessons/"+url.PathEscape(id), nil, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// Approve approves a proposed lesson.
func (c *Client) Approve(ctx context.Context, id, reviewer, notes string) (*lesson.Lesson, error) {
	return c.review(ctx, id, "approve", httpserver.ReviewRequest{Reviewer: reviewer, Notes: notes})
}

// Reject rejects a proposed lesson with a reason.
func (c *Client) Reject(ctx context.Context, id, reviewer, reason string) (*lesson.Lesson, error) {
	return c.review(ctx, id, "reject", httpserver.ReviewRequest{Reviewer: reviewer, Reason: reason})
}

// Feedback records an effectiveness observation for a lesson.
func (c *Client) Feedback(ctx context.Context, id string, effectiveness float64) (*lesson.Lesson, error) {
	var l lesson.Lesson
	err := c.do(ctx, http.MethodPost, "/api/v1/lessons/"+url.PathEscape(id)+"/feedback",
		httpserver.FeedbackRequest{Effectiveness: &effectiveness}, &l)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (c *Client) review(ctx context.Context, id, action string, req httpserver.ReviewRequest) (*lesson.Lesson, error) {
	var l lesson.Lesson
	if err := c.do(ctx, http.MethodPost, "/api/v1/lessons/"+url.PathEscape(id)+"/"+action, req, &l); err != nil {
		return nil, err
	}
	return &l, nil
}
