package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BonfaceGabriel/chapchat/cmd/internal/ids"
)

const (
	maxResponseBytes = 4 << 20
	defaultTimeout   = 15 * time.Second
)

// Client performs single HTTP exchanges against the API base URL.
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient parses baseURL (e.g. "http://localhost:8000/api/"). A nil hc uses a
// client with a 15s timeout.
func NewClient(baseURL string, hc *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("transport: base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("transport: base url must be http(s): %q", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("transport: base url missing host: %q", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{base: u, http: hc}, nil
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// URL resolves path and query against the base.
func (c *Client) URL(path string, q url.Values) string {
	u := *c.base
	u.Path = c.base.Path + strings.TrimLeft(path, "/")
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Do sends req once. access, when non-empty, is attached as a bearer credential.
// Non-2xx responses are returned as classified errors.
func (c *Client) Do(ctx context.Context, req Request, access string) (Response, error) {
	target := c.URL(req.Path, req.Query)
	method := req.method()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hr, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return Response{}, &NetworkError{Op: method, URL: target, Err: err}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}
	if req.ContentType != "" {
		hr.Header.Set("Content-Type", req.ContentType)
	}
	hr.Header.Set("Accept", "application/json")
	if hr.Header.Get("X-Request-ID") == "" {
		hr.Header.Set("X-Request-ID", ids.Next())
	}
	if access != "" {
		hr.Header.Set("Authorization", "Bearer "+access)
	}

	res, err := c.http.Do(hr)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = errors.Join(err, ctxErr)
		}
		return Response{}, &NetworkError{Op: method, URL: target, Err: err}
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return Response{}, &NetworkError{Op: method + " read", URL: target, Err: err}
	}

	out := Response{Status: res.StatusCode, Header: res.Header, Body: data}
	return out, classify(res.StatusCode, data)
}

func classify(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return &AuthorizationError{Status: status, Detail: errorDetail(body)}
	case status >= 500:
		return &ServerError{Status: status, Detail: errorDetail(body)}
	default:
		return &RequestError{Status: status, Detail: errorDetail(body)}
	}
}
