package client

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
	"strconv"
	"time"
)

// ErrNoCommand is returned by NextCommand when the wait elapsed without a command.
var ErrNoCommand = errors.New("no command pending")

// Client talks to the rendersup daemon API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a new rendersup API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080/api"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/surfaces", nil)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Attach creates a supervised bridge surface on the daemon.
func (c *Client) Attach(ctx context.Context, req AttachRequest) (SurfaceStatus, error) {
	c.logger.Debug("Attaching surface", "id", req.ID, "home_url", req.HomeURL)
	var st SurfaceStatus
	err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/surfaces", req, &st)
	return st, err
}

// Detach stops supervising a surface.
func (c *Client) Detach(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, c.surfaceURL(id), nil, nil)
}

// Status returns the status of one surface.
func (c *Client) Status(ctx context.Context, id string) (SurfaceStatus, error) {
	var st SurfaceStatus
	err := c.doJSON(ctx, http.MethodGet, c.surfaceURL(id), nil, &st)
	return st, err
}

// List returns surfaces whose id matches pattern ("" means all).
func (c *Client) List(ctx context.Context, pattern string) ([]SurfaceStatus, error) {
	u := c.baseURL + "/surfaces"
	if pattern != "" {
		u += "?match=" + url.QueryEscape(pattern)
	}
	var sts []SurfaceStatus
	err := c.doJSON(ctx, http.MethodGet, u, nil, &sts)
	return sts, err
}

// Signal reports a navigation event and returns the resulting status.
func (c *Client) Signal(ctx context.Context, id string, req SignalRequest) (SurfaceStatus, error) {
	var st SurfaceStatus
	err := c.doJSON(ctx, http.MethodPost, c.surfaceURL(id)+"/signals", req, &st)
	return st, err
}

// NextCommand long-polls for the next navigation command of a surface.
// It returns ErrNoCommand when wait elapses first.
func (c *Client) NextCommand(ctx context.Context, id string, wait time.Duration) (Command, error) {
	u := c.surfaceURL(id) + "/commands?wait=" + url.QueryEscape(wait.String())
	resp, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Command{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNoContent {
		return Command{}, ErrNoCommand
	}
	var cmd Command
	if err := c.decode(resp, &cmd); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// Reports returns up to limit recent crash reports, newest first.
func (c *Client) Reports(ctx context.Context, limit int) ([]Report, error) {
	u := c.baseURL + "/reports"
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}
	var reps []Report
	err := c.doJSON(ctx, http.MethodGet, u, nil, &reps)
	return reps, err
}

func (c *Client) surfaceURL(id string) string {
	return c.baseURL + "/surfaces/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, u string, body []byte) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", u)
		return nil, fmt.Errorf("do request: %w", err)
	}
	return resp, nil
}

// doJSON sends in (when non-nil) as JSON and decodes the response into out.
func (c *Client) doJSON(ctx context.Context, method, u string, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = b
	}
	resp, err := c.do(ctx, method, u, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return c.decode(resp, out)
}

func (c *Client) decode(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return fmt.Errorf("API error (%d): %s", resp.StatusCode, errorResp.Error)
}
