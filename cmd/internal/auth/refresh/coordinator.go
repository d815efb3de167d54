// Package refresh renews the access credential with at most one renewal call
// in flight per session generation.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BonfaceGabriel/chapchat/cmd/internal/auth/session"
	"github.com/BonfaceGabriel/chapchat/cmd/internal/metrics"
	"github.com/BonfaceGabriel/chapchat/cmd/security/token"
)

// Sessions is the slice of session.Store the coordinator needs.
type Sessions interface {
	Snapshot() session.Snapshot
	BeginRefresh() (gen uint64, refresh string)
	SetAccessIf(ctx context.Context, gen uint64, access string) error
	LogoutIf(ctx context.Context, gen uint64, reason session.Reason) bool
}

// Backend exchanges a refresh credential for a new access credential.
type Backend interface {
	RenewSession(ctx context.Context, refresh string) (string, error)
}

// attempt is the in-flight renewal slot. access and err are written once,
// before done is closed.
type attempt struct {
	gen     uint64
	done    chan struct{}
	waiters int

	access string
	err    error
}

// Coordinator owns the renewal protocol.
type Coordinator struct {
	sessions Sessions
	be       Backend
	log      *slog.Logger
	metrics  *metrics.Metrics

	mu   sync.Mutex
	slot *attempt
}

// New constructs a Coordinator.
func New(s Sessions, be Backend, log *slog.Logger, m *metrics.Metrics) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{sessions: s, be: be, log: log, metrics: m}
}

// Renew returns a fresh access credential, joining an in-flight renewal for
// the current session if there is one.
func (c *Coordinator) Renew(ctx context.Context) (string, error) {
	return c.RenewAfter(ctx, "")
}

// RenewAfter is Renew for a caller whose credential rejected was refused by
// the server. If the live session already holds a different credential (a
// renewal finished in between), that credential is returned without a new call.
func (c *Coordinator) RenewAfter(ctx context.Context, rejected string) (string, error) {
	c.mu.Lock()
	snap := c.sessions.Snapshot()

	if a := c.slot; a != nil && a.gen == snap.Generation {
		a.waiters++
		c.mu.Unlock()
		c.metrics.RenewalAttached()
		return c.wait(ctx, a)
	}

	if rejected != "" && snap.State == session.StateActive && snap.Access != "" && snap.Access != rejected {
		c.mu.Unlock()
		return snap.Access, nil
	}

	gen, refresh := c.sessions.BeginRefresh()
	if refresh == "" {
		c.mu.Unlock()
		c.metrics.RenewalDone("no_refresh")
		c.log.Info("refresh.renew.skip", "gen", gen, "reason", "no_refresh")
		c.sessions.LogoutIf(ctx, gen, session.ReasonExpired)
		return "", fmt.Errorf("%w: no refresh credential", session.ErrSessionExpired)
	}

	a := &attempt{gen: gen, done: make(chan struct{}), waiters: 1}
	c.slot = a
	c.mu.Unlock()

	go c.run(context.WithoutCancel(ctx), a, refresh)
	return c.wait(ctx, a)
}

// InFlight reports whether a renewal is outstanding.
func (c *Coordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slot != nil
}

// Waiters returns how many callers share the outstanding renewal (0 if none).
func (c *Coordinator) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slot == nil {
		return 0
	}
	return c.slot.waiters
}

func (c *Coordinator) run(ctx context.Context, a *attempt, refresh string) {
	log := c.log.With("gen", a.gen, "refresh_fp", token.Fingerprint(refresh))
	start := time.Now()
	log.Debug("refresh.renew.start")

	access, err := c.be.RenewSession(ctx, refresh)
	result := "ok"
	switch {
	case err != nil:
		result = "failed"
		if !errors.Is(err, session.ErrSessionExpired) {
			err = fmt.Errorf("%w: %w", session.ErrSessionExpired, err)
		}
		c.sessions.LogoutIf(ctx, a.gen, session.ReasonExpired)
	default:
		if serr := c.sessions.SetAccessIf(ctx, a.gen, access); serr != nil {
			result = "stale"
			access = ""
			err = fmt.Errorf("%w: %w", session.ErrSessionExpired, serr)
		}
	}

	c.mu.Lock()
	if c.slot == a {
		c.slot = nil
	}
	a.access, a.err = access, err
	waiters := a.waiters
	c.mu.Unlock()
	close(a.done)

	c.metrics.RenewalDone(result)
	if err != nil {
		log.Warn("refresh.renew.fail", "result", result, "waiters", waiters, "dur_ms", time.Since(start).Milliseconds(), "err", err)
		return
	}
	log.Info("refresh.renew.ok", "waiters", waiters, "access_fp", token.Fingerprint(access), "dur_ms", time.Since(start).Milliseconds())
}

// wait blocks until a settles or ctx is done. A caller that gives up no
// longer counts as a waiter.
func (c *Coordinator) wait(ctx context.Context, a *attempt) (string, error) {
	select {
	case <-a.done:
		return a.access, a.err
	case <-ctx.Done():
		c.mu.Lock()
		if c.slot == a && a.waiters > 0 {
			a.waiters--
		}
		c.mu.Unlock()
		return "", ctx.Err()
	}
}
