// Package client provides an HTTP client for the control API of a running
// conductr instance. The CLI's remote verbs are built on it; it is also
// usable as a standalone library.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Client talks to the control API of a running conductr daemon.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	// BaseURL is the root of the daemon's HTTP listener, without the
	// /api suffix, e.g. "http://127.0.0.1:8750".
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultConfig returns the client configuration matching the daemon's
// default listen address.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8750",
		Timeout: 30 * time.Second,
	}
}

// New creates a control API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:8750"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
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

// IsReachable checks whether a daemon answers on the configured address.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Status returns the snapshots of every registered service, ordered by
// tier then name.
func (c *Client) Status(ctx context.Context) ([]ServiceStatus, error) {
	var sts []ServiceStatus
	if err := c.getJSON(ctx, c.baseURL+"/api/status", &sts); err != nil {
		return nil, err
	}
	return sts, nil
}

// ServiceStatus returns the snapshot of one service.
func (c *Client) ServiceStatus(ctx context.Context, name string) (ServiceStatus, error) {
	var st ServiceStatus
	err := c.getJSON(ctx, c.baseURL+"/api/status/"+url.PathEscape(name), &st)
	return st, err
}

// StartService starts one registered service.
func (c *Client) StartService(ctx context.Context, name string) error {
	return c.post(ctx, c.baseURL+"/api/services/"+url.PathEscape(name)+"/start")
}

// StopService stops one registered service.
func (c *Client) StopService(ctx context.Context, name string) error {
	return c.post(ctx, c.baseURL+"/api/services/"+url.PathEscape(name)+"/stop")
}

// RestartService restarts one registered service, clearing its crash
// budget.
func (c *Client) RestartService(ctx context.Context, name string) error {
	return c.post(ctx, c.baseURL+"/api/services/"+url.PathEscape(name)+"/restart")
}

// StartAll runs the tiered startup of every registered service.
func (c *Client) StartAll(ctx context.Context) error {
	return c.post(ctx, c.baseURL+"/api/start")
}

// StopAll stops every registered service in reverse tier order.
func (c *Client) StopAll(ctx context.Context) error {
	return c.post(ctx, c.baseURL+"/api/stop")
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, u string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("control api request failed", "url", u, "error", err)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	return c.checkStatus(resp)
}

func (c *Client) checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return fmt.Errorf("api error: %s", er.Error)
}
