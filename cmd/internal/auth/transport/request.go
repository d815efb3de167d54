package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// Request describes one backend call relative to the API base URL.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Header      http.Header
	Body        []byte
	ContentType string

	// NoRenew marks calls that must never trigger a renewal (the renewal call itself,
	// login). A 401 on such a request is returned as-is.
	NoRenew bool
}

// JSONRequest encodes body as JSON.
func JSONRequest(method, path string, body any) (Request, error) {
	req := Request{Method: method, Path: path}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return Request{}, fmt.Errorf("transport: encode %s %s: %w", method, path, err)
		}
		req.Body = b
		req.ContentType = "application/json"
	}
	return req, nil
}

// FormRequest builds a form-encoded POST.
func FormRequest(path string, form url.Values) Request {
	return Request{
		Method:      http.MethodPost,
		Path:        path,
		Body:        []byte(form.Encode()),
		ContentType: "application/x-www-form-urlencoded",
	}
}

func (r Request) clone() Request {
	out := r
	if r.Query != nil {
		out.Query = make(url.Values, len(r.Query))
		for k, v := range r.Query {
			out.Query[k] = slices.Clone(v)
		}
	}
	if r.Header != nil {
		out.Header = r.Header.Clone()
	}
	out.Body = bytes.Clone(r.Body)
	return out
}

func (r Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// PendingRequest is an immutable record of a request in flight plus whether it
// has already been resent after an authorization failure.
type PendingRequest struct {
	req     Request
	retried bool
}

// NewPending captures a private copy of req.
func NewPending(req Request) PendingRequest {
	return PendingRequest{req: req.clone()}
}

// Request returns a copy of the captured descriptor.
func (p PendingRequest) Request() Request { return p.req.clone() }

// Retried reports whether the request was already resent once.
func (p PendingRequest) Retried() bool { return p.retried }

// MarkRetried returns a new record with the retried flag set.
func (p PendingRequest) MarkRetried() PendingRequest {
	return PendingRequest{req: p.req, retried: true}
}

// Response is a fully read successful response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// DecodeJSON unmarshals the body into dst.
func (r Response) DecodeJSON(dst any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return fmt.Errorf("transport: empty response body (status=%d)", r.Status)
	}
	if err := json.Unmarshal(r.Body, dst); err != nil {
		return fmt.Errorf("transport: decode response: %w", err)
	}
	return nil
}
