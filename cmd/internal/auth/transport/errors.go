package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNetwork classifies transport-level failures (DNS, refused, reset, timeout).
	ErrNetwork = errors.New("network error")
	// ErrAuthorization classifies 401 responses.
	ErrAuthorization = errors.New("authorization failed")
	// ErrServer classifies 5xx responses.
	ErrServer = errors.New("server error")
	// ErrRequest classifies other 4xx responses.
	ErrRequest = errors.New("request rejected")
)

// NetworkError wraps a failure to complete the HTTP exchange.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() []error { return []error{ErrNetwork, e.Err} }

// AuthorizationError is a rejected credential (HTTP 401).
// RenewErr is set when a renewal was attempted and failed.
type AuthorizationError struct {
	Status   int
	Detail   string
	RenewErr error
}

func (e *AuthorizationError) Error() string {
	msg := fmt.Sprintf("%s: status=%d", ErrAuthorization, e.Status)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.RenewErr != nil {
		msg += " (renewal: " + e.RenewErr.Error() + ")"
	}
	return msg
}

func (e *AuthorizationError) Unwrap() []error {
	if e.RenewErr != nil {
		return []error{ErrAuthorization, e.RenewErr}
	}
	return []error{ErrAuthorization}
}

// ServerError is a backend-side failure (HTTP 5xx).
type ServerError struct {
	Status int
	Detail string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: status=%d %s", ErrServer, e.Status, e.Detail)
}

func (e *ServerError) Unwrap() error { return ErrServer }

// RequestError is a non-authorization client error (HTTP 4xx other than 401).
type RequestError struct {
	Status int
	Detail string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: status=%d %s", ErrRequest, e.Status, e.Detail)
}

func (e *RequestError) Unwrap() error { return ErrRequest }

// Detail extracts the human-readable reason from any classified error.
func Detail(err error) string {
	var (
		ae *AuthorizationError
		se *ServerError
		re *RequestError
	)
	switch {
	case errors.As(err, &ae):
		return ae.Detail
	case errors.As(err, &re):
		return re.Detail
	case errors.As(err, &se):
		return se.Detail
	}
	return ""
}

// errorDetail pulls {"detail": ...} (or the first field error) out of a body.
func errorDetail(body []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		s := strings.TrimSpace(string(body))
		if len(s) > 200 {
			s = s[:200]
		}
		return s
	}
	if d, ok := obj["detail"].(string); ok {
		return d
	}
	for k, v := range obj {
		switch vv := v.(type) {
		case string:
			return k + ": " + vv
		case []any:
			if len(vv) > 0 {
				return fmt.Sprintf("%s: %v", k, vv[0])
			}
		}
	}
	return ""
}
