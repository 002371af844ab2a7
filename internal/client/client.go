// -----------------------------------------------------------------------
// Client - HTTP/WebSocket transport for consumer runtimes
// -----------------------------------------------------------------------

package client

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

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/progresswatch/internal/common"
	"github.com/ternarybob/progresswatch/internal/interfaces"
	"github.com/ternarybob/progresswatch/internal/models"
)

// Options configures a Client
type Options struct {
	RequestTimeout   time.Duration
	MaxReconnects    int
	ReconnectBackoff time.Duration
}

// NewOptions maps tracker config onto client options
func NewOptions(cfg *common.TrackerConfig) Options {
	return Options{
		RequestTimeout:   cfg.RequestTimeout.Duration,
		MaxReconnects:    cfg.MaxReconnects,
		ReconnectBackoff: cfg.ReconnectBackoff.Duration,
	}
}

// Client talks to a progresswatch server. It implements
// interfaces.ProgressTransport and interfaces.ProgressSubscriber.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	dialer     *websocket.Dialer
	options    Options
	logger     arbor.ILogger
}

var (
	_ interfaces.ProgressTransport  = (*Client)(nil)
	_ interfaces.ProgressSubscriber = (*Client)(nil)
)

// New creates a client for the server at baseURL (http or https)
func New(baseURL string, options Options, logger arbor.ILogger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", baseURL)
	}

	return &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: options.RequestTimeout},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: options.RequestTimeout,
		},
		options: options,
		logger:  logger,
	}, nil
}

func (c *Client) endpoint(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(escaped, "/")
	return u.String()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return interfaces.ErrSessionNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// GetStatus fetches one record. A missing session returns ErrSessionNotFound.
func (c *Client) GetStatus(ctx context.Context, sessionID string) (*models.ProgressRecord, error) {
	var record models.ProgressRecord
	if err := c.do(ctx, http.MethodGet, c.endpoint("api", "progress", sessionID, "status"), nil, &record); err != nil {
		return nil, err
	}
	if record.Status == models.ProgressStatusNotFound {
		return nil, interfaces.ErrSessionNotFound
	}
	return &record, nil
}

type listResponse struct {
	Sessions []models.Candidate `json:"sessions"`
}

// ListActiveCandidates returns every job the server knows about
func (c *Client) ListActiveCandidates(ctx context.Context) ([]models.Candidate, error) {
	var resp listResponse
	if err := c.do(ctx, http.MethodGet, c.endpoint("api", "progress"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// Delete removes a record. Missing sessions return ErrSessionNotFound.
func (c *Client) Delete(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, c.endpoint("api", "progress", sessionID), nil, nil)
}

type ingestRequest struct {
	Labels []string `json:"labels"`
}

type ingestResponse struct {
	SessionID string `json:"session_id"`
}

// Ingest submits a batch to the server's job runner and returns its session id
func (c *Client) Ingest(ctx context.Context, labels []string) (string, error) {
	var resp ingestResponse
	if err := c.do(ctx, http.MethodPost, c.endpoint("api", "ingest"), ingestRequest{Labels: labels}, &resp); err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			return "", fmt.Errorf("ingest endpoint not found")
		}
		return "", err
	}
	return resp.SessionID, nil
}
