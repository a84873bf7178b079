// ABOUTME: HTTP client for the generation backend's REST contract (generate, run, stop, running, history).
// ABOUTME: Non-2xx responses become *StatusError; every call takes a context and records metrics.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389-research/conductor/metrics"
)

const (
	defaultTimeout = 30 * time.Second

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 4 << 20
)

// ErrNoProjectID is returned when the backend accepts a generate request
// without assigning a project id.
var ErrNoProjectID = errors.New("backend returned no project id")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Op      string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Code, e.Message)
}

// RunResponse is the acknowledgment of a run request.
type RunResponse struct {
	RunMethod string `json:"run_method"`
	Message   string `json:"message,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ProjectSummary is one entry of the project history.
type ProjectSummary struct {
	ProjectID    string    `json:"project_id"`
	Prompt       string    `json:"prompt"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	FilesCreated int       `json:"files_created,omitempty"`
}

// createdAtLayouts are tried in order. Zone-less layouts are read as UTC.
var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	time.DateOnly,
}

// UnmarshalJSON reads created_at leniently. A timestamp that matches no
// known layout leaves CreatedAt zero instead of failing the whole history.
func (p *ProjectSummary) UnmarshalJSON(b []byte) error {
	type plain ProjectSummary
	var raw struct {
		plain
		CreatedAt json.RawMessage `json:"created_at"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = ProjectSummary(raw.plain)
	p.CreatedAt = parseCreatedAt(raw.CreatedAt)
	return nil
}

func parseCreatedAt(raw json.RawMessage) time.Time {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		var secs float64
		if len(raw) > 0 && json.Unmarshal(raw, &secs) == nil && secs > 0 {
			return time.UnixMilli(int64(secs * 1000)).UTC()
		}
		return time.Time{}
	}
	s = strings.TrimSpace(s)
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	ProjectID string `json:"project_id"`
}

type runningProject struct {
	ProjectID string `json:"project_id"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Client talks to one backend base URL. It is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	headers    http.Header
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout on the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithHeader adds a header sent on every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a Client for baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: defaultTimeout},
		headers:    make(http.Header),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Generate submits a prompt and returns the backend-assigned project id.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	var out generateResponse
	if err := c.do(ctx, "generate", http.MethodPost, "/generate", generateRequest{Prompt: prompt}, &out); err != nil {
		return "", err
	}
	if out.ProjectID == "" {
		return "", fmt.Errorf("generate: %w", ErrNoProjectID)
	}
	return out.ProjectID, nil
}

// Run asks the backend to execute a generated project.
func (c *Client) Run(ctx context.Context, projectID string) (RunResponse, error) {
	var out RunResponse
	err := c.do(ctx, "run", http.MethodPost, "/projects/"+url.PathEscape(projectID)+"/run", nil, &out)
	return out, err
}

// Stop asks the backend to stop a running project. Any 2xx is an acknowledgment.
func (c *Client) Stop(ctx context.Context, projectID string) error {
	return c.do(ctx, "stop", http.MethodPost, "/projects/"+url.PathEscape(projectID)+"/stop", nil, nil)
}

// Running returns the ids of the projects the backend currently reports as running.
func (c *Client) Running(ctx context.Context) ([]string, error) {
	var out []runningProject
	if err := c.do(ctx, "running", http.MethodGet, "/projects/running", nil, &out); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(out))
	for _, p := range out {
		if p.ProjectID != "" {
			ids = append(ids, p.ProjectID)
		}
	}
	return ids, nil
}

// History returns the backend's project history.
func (c *Client) History(ctx context.Context) ([]ProjectSummary, error) {
	var out []ProjectSummary
	if err := c.do(ctx, "history", http.MethodGet, "/projects/history", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// do performs one JSON request. in may be nil for an empty body; out may be
// nil to discard the response body.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) (err error) {
	defer func() {
		metrics.HTTPRequests.WithLabelValues(op, metrics.Outcome(err)).Inc()
	}()

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}
	c.logger.Debug("backend request", "op", op, "method", method, "path", path,
		"status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Op: op, Code: resp.StatusCode, Message: errorMessage(resp.StatusCode, raw)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// errorMessage extracts a human-readable reason from an error response.
func errorMessage(code int, raw []byte) string {
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err == nil {
		if eb.Error != "" {
			return eb.Error
		}
		if eb.Message != "" {
			return eb.Message
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" && len(text) <= 512 {
		return text
	}
	return http.StatusText(code)
}
