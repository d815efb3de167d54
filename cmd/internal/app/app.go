// Package app wires the chapchat operator console: config, logging, session
// persistence, the authenticated transport and the realtime inbox channel.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/BonfaceGabriel/chapchat/cmd/internal/auth/refresh"
	"github.com/BonfaceGabriel/chapchat/cmd/internal/auth/session"
	"github.com/BonfaceGabriel/chapchat/cmd/internal/auth/transport"
	"github.com/BonfaceGabriel/chapchat/cmd/internal/backend"
	"github.com/BonfaceGabriel/chapchat/cmd/internal/dashboard"
	"github.com/BonfaceGabriel/chapchat/cmd/internal/metrics"
	"github.com/BonfaceGabriel/chapchat/cmd/internal/realtime"
)

// ErrSessionEnded is returned by Watch when the session leaves the live states.
var ErrSessionEnded = errors.New("app: session ended")

// App owns one operator session and everything keyed on it.
type App struct {
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics

	pool         *pgxpool.Pool
	closePersist func() error

	sessions  *session.Store
	renewer   *refresh.Coordinator
	transport *transport.Transport
	dash      *dashboard.Client
	router    *realtime.Router
	channel   *realtime.Manager
}

// New constructs a fully wired App. A nil log builds one from cfg.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = NewLogger(nil, cfg.LogLevel, cfg.LogFormat, cfg.LogColor)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	a := &App{
		cfg:          cfg,
		log:          log,
		metrics:      metrics.New(cfg.MetricsAddr != ""),
		closePersist: func() error { return nil },
	}
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	if a.cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, a.cfg, a.log)
		if err != nil {
			return fmt.Errorf("app: db: %w", err)
		}
		a.pool = pool
	}

	p, closeFn, err := openPersister(ctx, a.cfg, a.pool, a.log)
	if err != nil {
		return err
	}
	a.closePersist = closeFn

	raw, err := transport.NewClient(a.cfg.APIBase, &http.Client{Timeout: a.cfg.RequestTimeout})
	if err != nil {
		return err
	}
	be := backend.New(raw, a.log)
	a.sessions = session.NewStore(be, p, a.log, session.WithMetrics(a.metrics))
	a.renewer = refresh.New(a.sessions, be, a.log, a.metrics)
	a.transport = transport.New(raw, a.sessions, a.renewer, a.log, a.metrics)
	a.dash = dashboard.New(a.transport)

	wsURL := a.cfg.WSURL
	if wsURL == "" {
		if wsURL, err = realtime.InboxURL(a.cfg.APIBase); err != nil {
			return err
		}
	}
	rcfg := realtime.DefaultConfig(wsURL)
	rcfg.ApplyEnv()
	a.router = realtime.NewRouter(rcfg.Router, a.log, a.metrics)
	a.channel, err = realtime.NewManager(rcfg, a.sessions, a.renewer, a.router, a.log, realtime.WithMetrics(a.metrics))
	if err != nil {
		return err
	}

	a.log.Info("app.ready", "api_base", a.cfg.APIBase, "ws_url", rcfg.URL, "session_backend", a.cfg.Session.Backend)
	return nil
}

// Sessions returns the session store.
func (a *App) Sessions() *session.Store { return a.sessions }

// Dashboard returns the business API client.
func (a *App) Dashboard() *dashboard.Client { return a.dash }

// Channel returns the inbox channel manager.
func (a *App) Channel() *realtime.Manager { return a.channel }

// Router returns the event router fed by the channel.
func (a *App) Router() *realtime.Router { return a.router }

// Metrics returns the app's collectors.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Resume restores the persisted session, if any.
func (a *App) Resume(ctx context.Context) (bool, error) {
	return a.sessions.Resume(ctx)
}

// Login starts a new session.
func (a *App) Login(ctx context.Context, username, pass string) (session.Profile, error) {
	return a.sessions.Login(ctx, session.Credentials{Username: username, Password: pass})
}

// Logout ends the session and clears durable state.
func (a *App) Logout(ctx context.Context) {
	a.sessions.Logout(ctx, session.ReasonUser)
}

// Watch runs the inbox channel and writes one line per event to out until
// ctx is done (nil) or the session ends (ErrSessionEnded). With MetricsAddr
// set it also serves /metrics, /healthz and /readyz.
func (a *App) Watch(ctx context.Context, out io.Writer) error {
	if !a.sessions.State().Live() {
		return session.ErrNotAuthenticated
	}

	g, gctx := errgroup.WithContext(ctx)
	sub := a.router.Subscribe(nil)
	defer sub.Close()

	g.Go(func() error { return a.channel.Run(gctx) })
	g.Go(func() error { return a.printFeed(gctx, sub, out) })
	g.Go(func() error { return a.followSession(gctx) })
	if a.cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              a.cfg.MetricsAddr,
			Handler:           Wrap(a.opsHandler(), a.log),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error { return serveHTTP(gctx, srv, a.log) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (a *App) printFeed(ctx context.Context, sub *realtime.Subscription, out io.Writer) error {
	var missed uint64
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		if m := sub.Missed(); m > missed {
			fmt.Fprintf(out, "-- %d events skipped --\n", m-missed)
			missed = m
		}
		fmt.Fprintf(out, "%s %s\n", ev.ReceivedAt.Local().Format("15:04:05"), dashboard.Describe(ev))
	}
}

func (a *App) followSession(ctx context.Context) error {
	for {
		changed := a.sessions.Changed()
		if st := a.sessions.State(); !st.Live() {
			a.log.Info("app.watch.session_end", "state", st.String())
			return ErrSessionEnded
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Close releases the channel, persistence and database resources.
func (a *App) Close() error {
	if a.channel != nil {
		a.channel.Stop()
	}
	if a.router != nil {
		a.router.Close()
	}
	err := a.closePersist()
	if a.pool != nil {
		a.pool.Close()
	}
	return err
}
