// Package upstream is the shared fasthttp transport for provider clients.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const userAgent = "aegis/1.0 (+https://github.com/fortuna/aegis)"

// StatusError is returned for any non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code)
}

// Client wraps a fasthttp client with a per-request timeout.
type Client struct {
	client  *fasthttp.Client
	timeout time.Duration
}

// New creates a client. A non-positive timeout defaults to 10s.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		client: &fasthttp.Client{
			MaxConnsPerHost:     32,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: time.Minute,
		},
		timeout: timeout,
	}
}

// Timeout returns the per-request timeout.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// GetJSON fetches url and decodes the body into T, keeping numbers exact.
// The request deadline is the earlier of ctx's deadline and the client
// timeout.
func GetJSON[T any](ctx context.Context, c *Client, url string) (*T, error) {
	body, err := c.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var result T
	if err := dec.Decode(&result); err != nil {
		return nil, fmt.Errorf("decode %s: %w", redact(url), err)
	}
	return &result, nil
}

// Get performs a GET and returns a copy of the body.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")
	req.Header.SetUserAgent(userAgent)

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("GET %s: %w", redact(url), err)
	}

	if code := resp.StatusCode(); code < 200 || code > 299 {
		return nil, &StatusError{URL: redact(url), Code: code}
	}
	return append([]byte(nil), resp.Body()...), nil
}

// redact drops the query string, which may carry credentials.
func redact(url string) string {
	base, _, _ := strings.Cut(url, "?")
	return base
}
