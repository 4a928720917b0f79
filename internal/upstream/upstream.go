// Package upstream makes bounded JSON calls to peer services and reports
// failures with the coded error taxonomy: timeout, unavailable,
// upstream_status (non-2xx, body kept) and malformed_response.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	apperrors "github.com/sosi/kosningakerfi/internal/errors"
	"github.com/sosi/kosningakerfi/internal/metrics"
)

// DefaultTimeout bounds a call when no timeout is configured.
const DefaultTimeout = 15 * time.Second

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 1 << 20

// Client posts JSON to one named upstream service.
type Client struct {
	name       string
	httpClient *http.Client
	timeout    time.Duration
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New creates a Client. name labels errors and metrics.
func New(name string, opts ...Option) *Client {
	c := &Client{
		name:       name,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the service name.
func (c *Client) Name() string {
	return c.name
}

// PostJSON sends in as JSON to url and decodes a 2xx response into out.
// header may be nil.
func (c *Client) PostJSON(ctx context.Context, url string, header http.Header, in, out any) error {
	start := time.Now()
	err := c.postJSON(ctx, url, header, in, out)
	metrics.ObserveUpstream(c.name, apperrors.CodeOf(err), err == nil, time.Since(start))
	return err
}

func (c *Client) postJSON(ctx context.Context, url string, header http.Header, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return apperrors.Internal("failed to encode request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return apperrors.Internal("failed to build request", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.classify(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return c.classify(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.UpstreamStatus(resp.StatusCode, string(bytes.TrimSpace(body)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.MalformedResponse(fmt.Sprintf("malformed %s response", c.name), err)
	}
	return nil
}

// classify maps a transport error to timeout, cancelled or unavailable.
func (c *Client) classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.Timeout(c.name, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.Timeout(c.name, err)
	}
	if errors.Is(err, context.Canceled) {
		return apperrors.Wrap(err, apperrors.CodeCancelled, fmt.Sprintf("%s call cancelled", c.name))
	}
	return apperrors.Unavailable(c.name, err)
}
