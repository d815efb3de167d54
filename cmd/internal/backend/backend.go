// Package backend implements the seller API's session capabilities over HTTP.
//
// It satisfies session.Backend (IssueSession, FetchProfile) and
// refresh.Backend (RenewSession). Calls go through the raw transport client
// because they either carry no session credential or carry one explicitly.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/BonfaceGabriel/chapchat/cmd/internal/auth/session"
	"github.com/BonfaceGabriel/chapchat/cmd/internal/auth/transport"
)

// API paths relative to the base URL.
const (
	PathToken        = "token/"
	PathTokenRefresh = "token/refresh/"
	PathProfile      = "seller/profile/"
)

// Client is the HTTP seller API.
type Client struct {
	raw *transport.Client
	log *slog.Logger
}

// New wraps raw.
func New(raw *transport.Client, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{raw: raw, log: log}
}

type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// IssueSession posts the login form. 400/401 become InvalidCredentialsError
// carrying the server's detail.
func (c *Client) IssueSession(ctx context.Context, creds session.Credentials) (session.Tokens, error) {
	form := url.Values{}
	form.Set("username", strings.TrimSpace(creds.Username))
	form.Set("password", creds.Password)
	req := transport.FormRequest(PathToken, form)
	req.NoRenew = true

	resp, err := c.raw.Do(ctx, req, "")
	if err != nil {
		if isCredentialRejection(err) {
			return session.Tokens{}, session.InvalidCredentialsError{Detail: transport.Detail(err)}
		}
		return session.Tokens{}, fmt.Errorf("backend: issue session: %w", err)
	}

	var tp tokenPair
	if err := resp.DecodeJSON(&tp); err != nil {
		return session.Tokens{}, fmt.Errorf("backend: issue session: %w", err)
	}
	if tp.Access == "" {
		return session.Tokens{}, errors.New("backend: issue session: response missing access token")
	}
	return session.Tokens{Access: tp.Access, Refresh: tp.Refresh}, nil
}

// RenewSession exchanges refresh for a new access credential. 400/401 wrap
// session.ErrSessionExpired.
func (c *Client) RenewSession(ctx context.Context, refresh string) (string, error) {
	req, err := transport.JSONRequest(http.MethodPost, PathTokenRefresh, map[string]string{"refresh": refresh})
	if err != nil {
		return "", err
	}
	req.NoRenew = true

	resp, err := c.raw.Do(ctx, req, "")
	if err != nil {
		if isCredentialRejection(err) {
			return "", fmt.Errorf("%w: %s", session.ErrSessionExpired, transport.Detail(err))
		}
		return "", fmt.Errorf("backend: renew session: %w", err)
	}

	var tp tokenPair
	if err := resp.DecodeJSON(&tp); err != nil {
		return "", fmt.Errorf("backend: renew session: %w", err)
	}
	if tp.Access == "" {
		return "", errors.New("backend: renew session: response missing access token")
	}
	return tp.Access, nil
}

// FetchProfile loads the seller profile behind access.
func (c *Client) FetchProfile(ctx context.Context, access string) (session.Profile, error) {
	resp, err := c.raw.Do(ctx, transport.Request{Method: http.MethodGet, Path: PathProfile, NoRenew: true}, access)
	if err != nil {
		return session.Profile{}, fmt.Errorf("backend: fetch profile: %w", err)
	}
	var p session.Profile
	if err := resp.DecodeJSON(&p); err != nil {
		return session.Profile{}, fmt.Errorf("backend: fetch profile: %w", err)
	}
	return p, nil
}

func isCredentialRejection(err error) bool {
	var (
		ae *transport.AuthorizationError
		re *transport.RequestError
	)
	if errors.As(err, &ae) {
		return true
	}
	return errors.As(err, &re) && re.Status == http.StatusBadRequest
}
