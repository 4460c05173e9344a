package hue

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// KeyHeader carries the application key on every bridge request.
	KeyHeader = "hue-application-key"

	eventStreamPath = "/eventstream/clip/v2"
	devicesPath     = "/clip/v2/resource/device"
	requestTimeout  = 10 * time.Second
)

// Client talks to the bridge CLIP v2 API.
type Client struct {
	baseURL *url.URL
	appKey  string
	// api serves bounded JSON requests; stream has no overall timeout because
	// the event stream response never completes.
	api    *http.Client
	stream *http.Client
}

// NewClient builds a Client for the bridge at baseURL ("https://192.168.1.20").
func NewClient(baseURL, appKey string, verifyTLS bool) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse bridge url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("bridge url %q must include scheme and host", baseURL)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Bridges serve a self-signed certificate unless provisioned otherwise.
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: !verifyTLS}

	return &Client{
		baseURL: base,
		appKey:  appKey,
		api:     &http.Client{Transport: transport, Timeout: requestTimeout},
		stream:  &http.Client{Transport: transport},
	}, nil
}

// OpenEventStream opens the server-sent event stream. The caller must close
// the returned body. Cancelling ctx aborts the stream.
func (c *Client) OpenEventStream(ctx context.Context) (io.ReadCloser, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	req, err := c.newRequest(ctx, eventStreamPath)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, &StatusError{Path: eventStreamPath, Code: resp.StatusCode}
	}
	return resp.Body, nil
}

// FetchDevices retrieves the device catalog.
func (c *Client) FetchDevices(ctx context.Context) ([]Device, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	req, err := c.newRequest(ctx, devicesPath)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.api.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, &StatusError{Path: devicesPath, Code: resp.StatusCode}
	}

	var payload DeviceListResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return payload.Data, nil
}

func (c *Client) newRequest(ctx context.Context, path string) (*http.Request, error) {
	reqURL := c.baseURL.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(KeyHeader, c.appKey)
	return req, nil
}

// StatusError reports a non-success HTTP status from the bridge.
type StatusError struct {
	Path string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bridge %s returned status %d", e.Path, e.Code)
}

// CloseIdleConnections releases pooled keep-alive connections.
func (c *Client) CloseIdleConnections() {
	c.api.CloseIdleConnections()
}
