package transport

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BonfaceGabriel/chapchat/cmd/internal/metrics"
	"github.com/BonfaceGabriel/chapchat/cmd/security/token"
)

// CredentialSource yields the current access credential at call time.
type CredentialSource interface {
	Access() string
}

// Renewer obtains a fresh access credential. rejected is the credential the
// server just refused; implementations may skip the renewal call when the
// session already moved past it.
type Renewer interface {
	RenewAfter(ctx context.Context, rejected string) (string, error)
}

// Transport sends requests with the session's access credential and performs
// the single authorization retry.
type Transport struct {
	raw     *Client
	creds   CredentialSource
	renewer Renewer
	log     *slog.Logger
	metrics *metrics.Metrics
}

// New wires a Transport. renewer may be nil, in which case 401s are returned directly.
func New(raw *Client, creds CredentialSource, renewer Renewer, log *slog.Logger, m *metrics.Metrics) *Transport {
	if log == nil {
		log = slog.Default()
	}
	return &Transport{raw: raw, creds: creds, renewer: renewer, log: log, metrics: m}
}

// Client exposes the raw client (used by the realtime dialer for URL building).
func (t *Transport) Client() *Client { return t.raw }

// Send performs req. Anonymous requests (no access credential) pass through
// without an Authorization header.
func (t *Transport) Send(ctx context.Context, req Request) (Response, error) {
	pending := NewPending(req)
	for {
		access := ""
		if t.creds != nil {
			access = t.creds.Access()
		}

		resp, err := t.raw.Do(ctx, pending.Request(), access)
		var authErr *AuthorizationError
		if err == nil || !errors.As(err, &authErr) {
			return resp, err
		}
		if pending.Retried() || req.NoRenew || t.renewer == nil || access == "" {
			if pending.Retried() {
				t.metrics.TransportRetry("rejected_again")
				t.log.Warn("transport.retry.rejected", "method", req.method(), "path", req.Path)
			}
			return resp, err
		}

		t.log.Debug("transport.auth.fail", "method", req.method(), "path", req.Path, "access_fp", token.Fingerprint(access))
		if _, rerr := t.renewer.RenewAfter(ctx, access); rerr != nil {
			t.metrics.TransportRetry("renew_failed")
			t.log.Info("transport.renew.fail", "method", req.method(), "path", req.Path, "err", rerr)
			authErr.RenewErr = rerr
			return resp, authErr
		}

		pending = pending.MarkRetried()
		t.metrics.TransportRetry("resent")
		t.log.Debug("transport.retry", "method", req.method(), "path", req.Path)
	}
}

// GetJSON sends a GET and decodes the response into dst.
func (t *Transport) GetJSON(ctx context.Context, path string, dst any) error {
	resp, err := t.Send(ctx, Request{Method: "GET", Path: path})
	if err != nil {
		return err
	}
	return resp.DecodeJSON(dst)
}

// PostJSON sends body as JSON and decodes the response into dst (nil skips decoding).
func (t *Transport) PostJSON(ctx context.Context, path string, body, dst any) error {
	req, err := JSONRequest("POST", path, body)
	if err != nil {
		return err
	}
	resp, err := t.Send(ctx, req)
	if err != nil {
		return err
	}
	if dst == nil {
		return nil
	}
	return resp.DecodeJSON(dst)
}
