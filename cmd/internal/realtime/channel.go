package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"

	"github.com/BonfaceGabriel/chapchat/cmd/internal/auth/session"
	"github.com/BonfaceGabriel/chapchat/cmd/internal/metrics"
	"github.com/BonfaceGabriel/chapchat/cmd/security/token"
	v1 "github.com/BonfaceGabriel/chapchat/shared/contracts/realtime/v1"
)

const dialTimeout = 10 * time.Second

// State is the channel lifecycle state.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "closed"
	}
}

// Sessions is the slice of session.Store the manager reads.
type Sessions interface {
	Snapshot() session.Snapshot
	Changed() <-chan struct{}
}

// Renewer obtains a fresh access credential after a refused handshake.
type Renewer interface {
	RenewAfter(ctx context.Context, rejected string) (string, error)
}

// Option configures optional Manager dependencies.
type Option func(*Manager)

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mg *Manager) { mg.metrics = m }
}

// WithHTTPClient sets the client used for the websocket handshake.
func WithHTTPClient(hc *http.Client) Option {
	return func(mg *Manager) { mg.httpClient = hc }
}

// WithTimer replaces the backoff timer (tests).
func WithTimer(after func(time.Duration) <-chan time.Time) Option {
	return func(mg *Manager) { mg.after = after }
}

// Manager owns the inbox connection for the live session.
type Manager struct {
	cfg        Config
	sessions   Sessions
	renewer    Renewer
	router     *Router
	log        *slog.Logger
	metrics    *metrics.Metrics
	httpClient *http.Client
	after      func(time.Duration) <-chan time.Time
	now        func() time.Time
	limiter    *RateLimiter

	mu       sync.Mutex
	state    State
	stateCh  chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
	conn     *websocket.Conn
	connSeq  uint64
	openedAt time.Time
	attempts int
}

// NewManager validates cfg and constructs a closed Manager.
func NewManager(cfg Config, s Sessions, renewer Renewer, router *Router, log *slog.Logger, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if s == nil || router == nil {
		return nil, fmt.Errorf("%w: sessions and router are required", ErrConfig)
	}
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		cfg:      cfg,
		sessions: s,
		renewer:  renewer,
		router:   router,
		log:      log,
		after:    time.After,
		now:      time.Now,
		limiter:  NewRateLimiter(cfg.SendRateEvents, cfg.SendRateWindow),
		stateCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Start connects for the current live session. It is a no-op (returning
// false) when the manager is not CLOSED or there is no access credential.
func (m *Manager) Start(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateClosed {
		return false
	}
	snap := m.sessions.Snapshot()
	if !snap.State.Live() || snap.Access == "" {
		return false
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	m.attempts = 0
	m.setStateLocked(StateConnecting)
	go m.supervise(runCtx, snap.Generation, done)
	return true
}

// Stop closes the connection, cancels any pending reconnect and waits for the
// supervisor to exit. The manager is CLOSED afterwards. It is idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	m.mu.Lock()
	m.setStateLocked(StateClosed)
	m.mu.Unlock()
}

// Run keeps the channel in step with the session until ctx is done: it starts
// the manager whenever the session is live and the manager is CLOSED, and
// stops it when the session ends.
func (m *Manager) Run(ctx context.Context) error {
	defer m.Stop()
	for {
		changed := m.sessions.Changed()
		stateCh := m.StateChanged()

		if m.sessions.Snapshot().State.Live() {
			m.Start(ctx)
		} else {
			m.Stop()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		case <-stateCh:
		}
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StateChanged returns a channel closed by the next state transition.
func (m *Manager) StateChanged() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateCh
}

// WaitFor blocks until the manager is in state want or ctx is done.
func (m *Manager) WaitFor(ctx context.Context, want State) error {
	for {
		ch := m.StateChanged()
		if m.State() == want {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s (now %s): %w", want, m.State(), ctx.Err())
		}
	}
}

// Attempts returns the current consecutive reconnect attempt counter.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Router returns the router fed by this manager.
func (m *Manager) Router() *Router { return m.router }

// Send writes a reply frame {"message": text} on the open connection.
func (m *Manager) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidMessage)
	}
	if utf8.RuneCountInString(text) > maxMessageChars {
		return fmt.Errorf("%w: max=%d chars", ErrInvalidMessage, maxMessageChars)
	}

	m.mu.Lock()
	conn, st := m.conn, m.state
	m.mu.Unlock()
	if conn == nil || st != StateOpen {
		return ErrNotOpen
	}

	if ok, retry := m.limiter.Allow(time.Now()); !ok {
		return fmt.Errorf("%w: retry after %s", ErrRateLimited, retry.Round(time.Millisecond))
	}

	b, err := json.Marshal(v1.OutboundMessage{Message: text})
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, b); err != nil {
		return &ChannelError{Op: "write", Err: err}
	}
	return nil
}

// ---- supervisor ----

type endReason uint8

const (
	endDropped endReason = iota
	endUnauthorized
	endSession
	endStopped
)

func (m *Manager) supervise(ctx context.Context, gen uint64, done chan struct{}) {
	defer m.finish(done)

	log := m.log.With("gen", gen)
	authRetried := false
	for {
		if ctx.Err() != nil {
			return
		}
		snap := m.sessions.Snapshot()
		if !liveFor(snap, gen) {
			log.Info("channel.session.ended")
			return
		}

		conn, err := m.dial(ctx, snap.Access)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Info("channel.dial.fail", "attempt", m.Attempts(), "err", err)
			if errors.Is(err, ErrHandshakeUnauthorized) {
				if !m.renew(ctx, log, snap.Access, gen) {
					return
				}
				if !authRetried {
					authRetried = true
					continue
				}
			}
			if !m.backoff(ctx, log, gen) {
				return
			}
			continue
		}

		connID := m.attach(conn)
		log.Info("channel.open", "conn", connID, "access_fp", token.Fingerprint(snap.Access))

		reason := m.serve(ctx, conn, gen, connID)
		if m.detach(conn) {
			authRetried = false
		}

		switch reason {
		case endSession, endStopped:
			return
		case endUnauthorized:
			log.Info("channel.closed.unauthorized", "conn", connID)
			if !m.renew(ctx, log, snap.Access, gen) {
				return
			}
			if !authRetried {
				authRetried = true
				m.setState(StateReconnecting)
				m.setState(StateConnecting)
				continue
			}
			if !m.backoff(ctx, log, gen) {
				return
			}
			continue
		}

		m.metrics.Reconnect()
		if !m.backoff(ctx, log, gen) {
			return
		}
	}
}

// renew reports whether the session is still live for gen afterwards.
func (m *Manager) renew(ctx context.Context, log *slog.Logger, rejected string, gen uint64) bool {
	if m.renewer == nil {
		return liveFor(m.sessions.Snapshot(), gen)
	}
	if _, err := m.renewer.RenewAfter(ctx, rejected); err != nil {
		log.Info("channel.renew.fail", "err", err)
	}
	return ctx.Err() == nil && liveFor(m.sessions.Snapshot(), gen)
}

// backoff waits out the next reconnect delay. It returns false as soon as the
// session for gen ends or ctx is done.
func (m *Manager) backoff(ctx context.Context, log *slog.Logger, gen uint64) bool {
	m.mu.Lock()
	attempt := m.attempts
	m.attempts++
	m.setStateLocked(StateReconnecting)
	m.mu.Unlock()

	delay := m.cfg.Backoff.Delay(attempt)
	log.Info("channel.backoff", "attempt", attempt+1, "delay_ms", delay.Milliseconds())
	timer := m.after(delay)

	for {
		changed := m.sessions.Changed()
		if !liveFor(m.sessions.Snapshot(), gen) {
			log.Info("channel.backoff.cancel")
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-changed:
		case <-timer:
			m.setState(StateConnecting)
			return true
		}
	}
}

func (m *Manager) finish(done chan struct{}) {
	m.mu.Lock()
	if m.done == done {
		m.cancel()
		m.cancel, m.done = nil, nil
		m.setStateLocked(StateClosed)
	}
	m.mu.Unlock()
	close(done)
}

func (m *Manager) dial(ctx context.Context, access string) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dctx, dialURL(m.cfg.URL, access), &websocket.DialOptions{
		HTTPClient: m.httpClient,
	})
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return nil, &ChannelError{Op: "dial", Status: status, Err: ErrHandshakeUnauthorized}
		}
		return nil, &ChannelError{Op: "dial", Status: status, Err: err}
	}
	conn.SetReadLimit(maxFrameBytes)
	return conn, nil
}

func (m *Manager) attach(conn *websocket.Conn) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conn = conn
	m.connSeq++
	m.openedAt = m.now()
	m.limiter.Reset()
	m.setStateLocked(StateOpen)
	return m.connSeq
}

// detach forgets conn and reports whether it stayed up for StableAfter. Only
// a stable connection resets the reconnect attempt count.
func (m *Manager) detach(conn *websocket.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == conn {
		m.conn = nil
	}
	if m.now().Sub(m.openedAt) < m.cfg.StableAfter {
		return false
	}
	m.attempts = 0
	return true
}

// serve runs one connection until it drops, the session for gen ends or ctx is done.
func (m *Manager) serve(ctx context.Context, conn *websocket.Conn, gen, connID uint64) endReason {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readDone := make(chan error, 1)
	go func() { readDone <- m.readLoop(cctx, conn, gen, connID) }()

	hbDone := make(chan error, 1)
	go func() { hbDone <- m.heartbeat(cctx, conn, connID) }()

	log := m.log.With("gen", gen, "conn", connID)
	for {
		changed := m.sessions.Changed()
		if !liveFor(m.sessions.Snapshot(), gen) {
			_ = conn.Close(websocket.StatusNormalClosure, "session ended")
			cancel()
			<-readDone
			log.Info("channel.close", "reason", "session_ended")
			return endSession
		}

		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusGoingAway, "client stopping")
			<-readDone
			log.Info("channel.close", "reason", "stopped")
			return endStopped

		case err := <-readDone:
			cancel()
			_ = conn.CloseNow()
			if websocket.CloseStatus(err) == v1.CloseUnauthorized {
				return endUnauthorized
			}
			log.Info("channel.drop", "kind", readErrName(classifyReadErr(err)), "close_status", websocket.CloseStatus(err), "err", err)
			return endDropped

		case err := <-hbDone:
			hbDone = nil
			if err != nil {
				log.Info("channel.heartbeat.fail", "err", err)
				_ = conn.Close(websocket.StatusGoingAway, "heartbeat failed")
				cancel()
				<-readDone
				return endDropped
			}

		case <-changed:
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn, gen, connID uint64) error {
	for {
		mt, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if mt != websocket.MessageText && mt != websocket.MessageBinary {
			continue
		}
		if !liveFor(m.sessions.Snapshot(), gen) {
			return &ChannelError{Op: "read", Err: session.ErrNotAuthenticated}
		}

		f, err := ParseFrame(data)
		if err != nil {
			m.metrics.EventDropped("invalid")
			m.log.Debug("channel.frame.invalid", "conn", connID, "err", err)
			continue
		}
		m.router.Publish(EventFromFrame(f, gen, connID, time.Now().UTC()))
	}
}

func (m *Manager) heartbeat(ctx context.Context, conn *websocket.Conn, connID uint64) error {
	t := time.NewTicker(m.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, m.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				failures++
				m.log.Debug("channel.ping.fail", "conn", connID, "failures", failures, "err", err)
				if failures >= wsMaxPingFailures {
					return fmt.Errorf("%d consecutive ping failures: %w", failures, err)
				}
				continue
			}
			failures = 0
		}
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.setStateLocked(s)
	m.mu.Unlock()
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	from := m.state
	m.state = s
	close(m.stateCh)
	m.stateCh = make(chan struct{})
	m.metrics.ChannelState(s.String())
	m.log.Debug("channel.state", "from", from.String(), "to", s.String())
}

func liveFor(snap session.Snapshot, gen uint64) bool {
	return snap.State.Live() && snap.Generation == gen && snap.Access != ""
}
