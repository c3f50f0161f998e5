// Package client is the HTTP API client for the security gate server. The
// CLI and any external observer use it; it satisfies watch.Snapshotter so a
// triggered run can be polled to completion.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sentinelops/sentinel/pkg/errors"
	"github.com/sentinelops/sentinel/pkg/logging"
	"github.com/sentinelops/sentinel/pkg/policy"
	"github.com/sentinelops/sentinel/pkg/scoring"
	"github.com/sentinelops/sentinel/pkg/shared/severity"
	"github.com/sentinelops/sentinel/pkg/tracker"
)

// DefaultTimeout bounds a single API request.
const DefaultTimeout = 30 * time.Second

// Config configures the API client.
type Config struct {
	// BaseURL is the server address, e.g. "http://localhost:8080".
	BaseURL string

	// Token is a bearer token from a previous login. Optional; Login sets
	// it too.
	Token string

	// HTTPClient overrides the underlying HTTP client.
	HTTPClient *http.Client

	// Timeout bounds each request. Defaults to DefaultTimeout. Ignored
	// when HTTPClient is set.
	Timeout time.Duration

	Logger logging.Logger
}

// Client talks to the API server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  logging.Logger
}

// New creates an API client.
func New(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("client: base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("client: invalid base URL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    httpClient,
		logger:  logging.OrNop(cfg.Logger),
	}, nil
}

// Token returns the current bearer token.
func (c *Client) Token() string { return c.token }

// ============================================================================
// Auth
// ============================================================================

// LoginResult is the outcome of a login.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Role      string    `json:"role"`
}

// Login authenticates and stores the issued token for subsequent calls.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var result LoginResult
	err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, &result)
	if err != nil {
		return nil, err
	}
	c.token = result.Token
	return &result, nil
}

// ============================================================================
// Summary and policy
// ============================================================================

// SourceSummary is the per-scanner breakdown inside a Summary.
type SourceSummary struct {
	Assessment scoring.Assessment `json:"assessment"`
	Summary    severity.Count     `json:"summary"`
}

// Summary is the current risk posture derived from the latest decided run.
type Summary struct {
	RunID       string                   `json:"run_id,omitempty"`
	Repo        string                   `json:"repo,omitempty"`
	GeneratedAt time.Time                `json:"generated_at"`
	Assessment  scoring.Assessment       `json:"assessment"`
	Summary     severity.Count           `json:"summary"`
	Sources     map[string]SourceSummary `json:"sources"`
}

// Summary fetches the current risk posture.
func (c *Client) Summary(ctx context.Context) (*Summary, error) {
	var out Summary
	if err := c.do(ctx, http.MethodGet, "/api/summary", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Policy fetches the current deployment policy.
func (c *Client) Policy(ctx context.Context) (*policy.Policy, error) {
	var out policy.Policy
	if err := c.do(ctx, http.MethodGet, "/api/policy", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdatePolicy replaces the deployment policy. Requires the admin role.
func (c *Client) UpdatePolicy(ctx context.Context, p *policy.Policy) (*policy.Policy, error) {
	var out policy.Policy
	if err := c.do(ctx, http.MethodPut, "/api/policy", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EvaluatePolicy evaluates the current policy against the latest findings.
func (c *Client) EvaluatePolicy(ctx context.Context) (*policy.Evaluation, error) {
	var out policy.Evaluation
	if err := c.do(ctx, http.MethodGet, "/api/policy/evaluate", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Report fetches the latest raw scanner report ("bandit" or "trivy").
func (c *Client) Report(ctx context.Context, kind string) ([]byte, error) {
	return c.request(ctx, http.MethodGet, "/api/reports/"+url.PathEscape(kind), nil)
}

// ============================================================================
// Pipelines
// ============================================================================

// Pipelines lists recent runs, most recent first. limit <= 0 returns the
// full retained history.
func (c *Client) Pipelines(ctx context.Context, limit int) ([]*tracker.PipelineRun, error) {
	path := "/api/pipelines"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Pipelines []*tracker.PipelineRun `json:"pipelines"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Pipelines, nil
}

// PipelineRun fetches one run snapshot. Satisfies watch.Snapshotter.
func (c *Client) PipelineRun(ctx context.Context, id string) (*tracker.PipelineRun, error) {
	var out tracker.PipelineRun
	if err := c.do(ctx, http.MethodGet, "/api/pipelines/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Trigger starts a new pipeline run and returns its queued snapshot.
func (c *Client) Trigger(ctx context.Context, req tracker.TriggerRequest) (*tracker.PipelineRun, error) {
	var out tracker.PipelineRun
	if err := c.do(ctx, http.MethodPost, "/api/pipelines/trigger", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel aborts a run. Requires the admin role.
func (c *Client) Cancel(ctx context.Context, id string) (*tracker.PipelineRun, error) {
	var out tracker.PipelineRun
	if err := c.do(ctx, http.MethodPost, "/api/pipelines/"+url.PathEscape(id)+"/cancel", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ============================================================================
// Transport
// ============================================================================

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	data, err := c.request(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("client: decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) request(ctx context.Context, method, path string, body any) ([]byte, error) {
	const op = "client.request"

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("client: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("client: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		msg := serverErrorMessage(data)
		if msg == "" {
			msg = fmt.Sprintf("%s %s: status %d", method, path, resp.StatusCode)
		}
		return nil, errors.E(op, kindForStatus(resp.StatusCode), msg)
	}
	return data, nil
}

func serverErrorMessage(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	return body.Error
}

func kindForStatus(status int) errors.Kind {
	switch status {
	case http.StatusUnauthorized:
		return errors.KindAuthentication
	case http.StatusForbidden:
		return errors.KindAuthorization
	case http.StatusNotFound:
		return errors.KindNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return errors.KindInvalidInput
	case http.StatusConflict:
		return errors.KindConflict
	default:
		return errors.KindInternal
	}
}
