// Package client wraps the ProcessLens HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/processlens/backend/pkg/api"
	"github.com/processlens/backend/pkg/stream"
	"go.uber.org/zap"
)

// RouteStyle selects which task status route the backend exposes.
type RouteStyle string

const (
	RouteStatus  RouteStyle = "status"
	RouteAnalyze RouteStyle = "analyze"
)

// APIError is a non-2xx response normalised from {error|detail, status_code}.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("processlens: %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type Config struct {
	BaseURL    string
	RouteStyle RouteStyle
	Model      string
	AdminToken string
	Timeout    time.Duration
	Logger     *zap.Logger
	HTTPClient *http.Client
}

type Client struct {
	baseURL    string
	routeStyle RouteStyle
	model      string
	adminToken string
	httpClient *http.Client
	logger     *zap.Logger
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	style := cfg.RouteStyle
	if style == "" {
		style = RouteStatus
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		routeStyle: style,
		model:      cfg.Model,
		adminToken: cfg.AdminToken,
		httpClient: httpClient,
		logger:     logger,
	}
}

// StartAnalysis uploads a dataset and returns the new task id.
func (c *Client) StartAnalysis(ctx context.Context, projectName, filename string, data io.Reader) (*api.AnalyzeResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, data); err != nil {
		return nil, fmt.Errorf("failed to copy dataset: %w", err)
	}
	if projectName != "" {
		if err := mw.WriteField("project_name", projectName); err != nil {
			return nil, fmt.Errorf("failed to write project name: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/analyze", nil, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out api.AnalyzeResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetStatus fetches a task snapshot using the configured route style.
func (c *Client) GetStatus(ctx context.Context, taskID string) (*api.TaskSnapshot, error) {
	if taskID == "" {
		return nil, errors.New("processlens: empty task id")
	}
	path := "/status/" + url.PathEscape(taskID)
	if c.routeStyle == RouteAnalyze {
		path = "/analyze/" + url.PathEscape(taskID)
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	var out api.TaskSnapshot
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListProjects(ctx context.Context, skip, limit int) ([]api.Project, error) {
	q := url.Values{}
	q.Set("skip", strconv.Itoa(skip))
	q.Set("limit", strconv.Itoa(limit))
	req, err := c.newRequest(ctx, http.MethodGet, "/projects", q, nil)
	if err != nil {
		return nil, err
	}
	var out []api.Project
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health returns the liveness payload. A 503 still carries a report, so it is
// decoded and returned together with the error.
func (c *Client) Health(ctx context.Context) (*api.HealthReport, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return nil, err
	}
	var out api.HealthReport
	err = c.do(req, &out)
	var apiErr *APIError
	if err != nil && !(errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable) {
		return nil, err
	}
	return &out, err
}

func (c *Client) Cleanup(ctx context.Context, days int) (*api.CleanupReceipt, error) {
	q := url.Values{}
	q.Set("days", strconv.Itoa(days))
	req, err := c.newRequest(ctx, http.MethodPost, "/admin/cleanup", q, nil)
	if err != nil {
		return nil, err
	}
	if c.adminToken != "" {
		req.Header.Set("X-Admin-Token", c.adminToken)
	}
	var out api.CleanupReceipt
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitForCompletion polls GetStatus until the task is terminal or ctx ends.
func (c *Client) WaitForCompletion(ctx context.Context, taskID string, interval time.Duration) (*api.TaskSnapshot, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		snap, err := c.GetStatus(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if snap.Status.Terminal() {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-ticker.C:
		}
	}
}

// StreamURL returns the websocket endpoint for taskID.
func (c *Client) StreamURL(taskID string) (string, error) {
	return stream.BuildURL(c.baseURL, taskID, c.model)
}

// StreamConfig builds a stream configuration that targets the same server.
func (c *Client) StreamConfig() stream.Config {
	cfg := stream.DefaultConfig()
	cfg.BaseURL = c.baseURL
	cfg.Model = c.model
	cfg.Logger = c.logger
	return cfg
}

// Info fetches the API root, which advertises the server's stream settings.
func (c *Client) Info(ctx context.Context) (*api.ServerInfo, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/", nil, nil)
	if err != nil {
		return nil, err
	}
	var out api.ServerInfo
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DiscoverStreamConfig is StreamConfig with the heartbeat and retry policy the
// server advertises. Settings the server leaves out keep their defaults.
func (c *Client) DiscoverStreamConfig(ctx context.Context) (stream.Config, error) {
	cfg := c.StreamConfig()
	info, err := c.Info(ctx)
	if err != nil {
		return cfg, err
	}
	if info.Stream == nil {
		return cfg, nil
	}
	if info.Stream.PingIntervalMS > 0 {
		cfg.HeartbeatInterval = time.Duration(info.Stream.PingIntervalMS) * time.Millisecond
	}
	if len(info.Stream.RetryIntervalsMS) > 0 {
		schedule := make([]time.Duration, 0, len(info.Stream.RetryIntervalsMS))
		for _, ms := range info.Stream.RetryIntervalsMS {
			schedule = append(schedule, time.Duration(ms)*time.Millisecond)
		}
		cfg.RetrySchedule = schedule
	}
	if info.Stream.MaxRetries != 0 {
		cfg.MaxRetries = info.Stream.MaxRetries
	}
	return cfg, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("api_network_error",
			zap.String("method", req.Method),
			zap.String("url", req.URL.String()),
			zap.Error(err),
		)
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("api_response",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		zap.Int("resp_bytes", len(respBody)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeError(resp.StatusCode, respBody)
		if resp.StatusCode == http.StatusServiceUnavailable && out != nil {
			_ = json.Unmarshal(respBody, out)
		}
		c.logger.Warn("api_bad_status",
			zap.String("path", req.URL.Path),
			zap.Int("status", resp.StatusCode),
			zap.String("error", apiErr.Message),
		)
		return apiErr
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		c.logger.Warn("api_parse_error", zap.String("path", req.URL.Path), zap.Error(err))
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func decodeError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	var eb api.ErrorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		apiErr.Message = eb.Message()
		if eb.StatusCode != 0 {
			apiErr.StatusCode = eb.StatusCode
		}
	}
	if apiErr.Message == "" {
		// FastAPI validation errors put a list under "detail"
		var generic map[string]any
		if err := json.Unmarshal(body, &generic); err == nil && generic["detail"] != nil {
			apiErr.Message = fmt.Sprint(generic["detail"])
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
