// Package rpc carries service-authenticated calls between parties over HTTP.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"parlor/internal/metrics"
	"parlor/internal/models"
	"strings"
	"time"
)

const (
	DefaultTimeout   = 3 * time.Second
	ServiceKeyHeader = "X-API-KEY"
)

type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

// Fetch calls path on party kind/id and decodes a JSON answer into out when out is non-nil.
// Transport failures, timeouts and unexpected statuses wrap ErrUpstreamUnavailable.
func (c *Client) Fetch(ctx context.Context, kind, id, method, path string, body, out any) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.RPCDuration.WithLabelValues(kind, outcome).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	target := fmt.Sprintf("%s/parties/%s/%s%s", c.baseURL, url.PathEscape(kind), url.PathEscape(id), path)
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set(ServiceKeyHeader, c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s/%s%s: %v", models.ErrUpstreamUnavailable, method, kind, id, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := statusError(resp.StatusCode); err != nil {
		return fmt.Errorf("%s %s/%s%s: %w", method, kind, id, path, err)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode answer of %s/%s%s: %v", models.ErrUpstreamUnavailable, kind, id, path, err)
	}
	return nil
}

func statusError(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return models.ErrNotFound
	case status == http.StatusGone:
		return models.ErrRoomClosed
	case status == http.StatusBadRequest:
		return models.ErrInvalidPayload
	default:
		return fmt.Errorf("%w: status %d", models.ErrUpstreamUnavailable, status)
	}
}
