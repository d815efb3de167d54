package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BonfaceGabriel/chapchat/cmd/internal/metrics"
	"github.com/BonfaceGabriel/chapchat/cmd/security/token"
)

// Store holds the process-wide session.
//
// Mutations are serialized by mu, which is never held across backend or
// persistence I/O. Durable writes are ordered by a version counter so a
// slow Save can never overwrite a later Clear.
type Store struct {
	be      Backend
	persist Persister
	log     *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	state   State
	gen     uint64
	access  string
	refresh string
	profile *Profile
	changed chan struct{}
	version uint64

	persistMu sync.Mutex
	persisted uint64
}

// Option configures optional Store dependencies.
type Option func(*Store)

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore constructs an anonymous Store. A nil persister keeps state in memory only.
func NewStore(be Backend, p Persister, log *slog.Logger, opts ...Option) *Store {
	if log == nil {
		log = slog.Default()
	}
	if p == nil {
		p = NewMemoryPersister()
	}
	s := &Store{
		be:      be,
		persist: p,
		log:     log,
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Login authenticates and loads the profile.
//
// ANONYMOUS -> AUTHENTICATING -> ACTIVE on success; back to ANONYMOUS with all
// partial state cleared on failure. A profile failure counts as a failed login.
func (s *Store) Login(ctx context.Context, creds Credentials) (Profile, error) {
	s.mu.Lock()
	if s.state == StateAuthenticating {
		s.mu.Unlock()
		return Profile{}, ErrLoginInProgress
	}
	s.clearLocked()
	gen := s.transitionLocked(StateAuthenticating, true)
	job := s.clearJobLocked()
	s.mu.Unlock()
	s.flush(ctx, job)

	log := s.log.With("gen", gen, "username", creds.Username)
	log.Info("session.login.start")

	toks, err := s.be.IssueSession(ctx, creds)
	if err != nil {
		s.abortLogin(gen)
		log.Info("session.login.fail", "err", err)
		return Profile{}, err
	}

	prof, err := s.be.FetchProfile(ctx, toks.Access)
	if err != nil {
		s.abortLogin(gen)
		log.Warn("session.login.profile.fail", "err", err)
		return Profile{}, fmt.Errorf("session: fetch profile: %w", err)
	}

	s.mu.Lock()
	if s.gen != gen || s.state != StateAuthenticating {
		s.mu.Unlock()
		log.Info("session.login.aborted")
		return Profile{}, ErrLoginAborted
	}
	s.access, s.refresh = toks.Access, toks.Refresh
	p := prof
	s.profile = &p
	s.transitionLocked(StateActive, false)
	job = s.saveJobLocked()
	s.mu.Unlock()
	s.flush(ctx, job)

	log.Info("session.login.ok", "access_fp", token.Fingerprint(toks.Access), "company", prof.CompanyName)
	return prof, nil
}

func (s *Store) abortLogin(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.state != StateAuthenticating {
		return
	}
	s.clearLocked()
	s.transitionLocked(StateAnonymous, false)
}

// Logout ends the current session. It is idempotent and never fails.
//
// A live or authenticating session moves to ANONYMOUS (ReasonUser) or EXPIRED
// (ReasonExpired) under a new generation. Durable state is always cleared.
func (s *Store) Logout(ctx context.Context, reason Reason) {
	s.logout(ctx, reason, 0, false)
}

// LogoutIf logs out only while gen is still the current generation, so a late
// renewal failure cannot end a newer session. It reports whether it acted.
func (s *Store) LogoutIf(ctx context.Context, gen uint64, reason Reason) bool {
	return s.logout(ctx, reason, gen, true)
}

func (s *Store) logout(ctx context.Context, reason Reason, gen uint64, guard bool) bool {
	target := StateAnonymous
	if reason == ReasonExpired {
		target = StateExpired
	}

	s.mu.Lock()
	if guard && s.gen != gen {
		s.mu.Unlock()
		return false
	}
	from := s.state
	switch {
	case !from.Terminal():
		s.clearLocked()
		s.transitionLocked(target, true)
	case from == StateExpired && reason == ReasonUser:
		s.transitionLocked(StateAnonymous, false)
	}
	cur := s.gen
	job := s.clearJobLocked()
	s.mu.Unlock()

	s.flush(ctx, job)

	if !from.Terminal() {
		s.log.Info("session.logout", "reason", reason.String(), "from", from.String(), "gen", cur)
	}
	return true
}

// Resume restores a persisted session. It reports whether a session is live afterwards.
// A persisted session without a profile fetches one; failure logs out.
func (s *Store) Resume(ctx context.Context) (bool, error) {
	rec, err := s.persist.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("session: load: %w", err)
	}
	if rec == nil || (rec.Access == "" && rec.Refresh == "") {
		return s.State().Live(), nil
	}

	s.mu.Lock()
	if !s.state.Terminal() {
		live := s.state.Live()
		s.mu.Unlock()
		return live, nil
	}
	s.access, s.refresh = rec.Access, rec.Refresh
	s.profile = nil
	if rec.Profile != nil {
		p := *rec.Profile
		s.profile = &p
	}
	gen := s.transitionLocked(StateActive, true)
	needProfile := s.profile == nil
	s.mu.Unlock()

	s.log.Info("session.resume", "gen", gen, "access_fp", token.Fingerprint(rec.Access), "saved_at", rec.SavedAt)

	if !needProfile {
		return true, nil
	}

	prof, err := s.be.FetchProfile(ctx, rec.Access)
	if err != nil {
		s.log.Warn("session.resume.profile.fail", "gen", gen, "err", err)
		s.Logout(ctx, ReasonExpired)
		return false, fmt.Errorf("session: fetch profile: %w", err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return false, ErrLoginAborted
	}
	s.profile = &prof
	s.notifyLocked()
	job := s.saveJobLocked()
	s.mu.Unlock()
	s.flush(ctx, job)
	return true, nil
}

// SetAccess stores a new access credential for the current live session.
func (s *Store) SetAccess(ctx context.Context, access string) error {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	return s.SetAccessIf(ctx, gen, access)
}

// SetAccessIf stores access only if gen is still the current generation.
// A REFRESHING session returns to ACTIVE.
func (s *Store) SetAccessIf(ctx context.Context, gen uint64, access string) error {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return ErrStaleSession
	}
	if !s.state.Live() {
		s.mu.Unlock()
		return ErrNotAuthenticated
	}
	s.access = access
	s.transitionLocked(StateActive, false)
	job := s.saveJobLocked()
	s.mu.Unlock()

	s.flush(ctx, job)
	return nil
}

// MarkRefreshing moves an ACTIVE session of generation gen to REFRESHING.
// It reports whether the session is live under gen.
func (s *Store) MarkRefreshing(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || !s.state.Live() {
		return false
	}
	if s.state == StateActive {
		s.transitionLocked(StateRefreshing, false)
	}
	return true
}

// BeginRefresh reads the refresh credential and generation under one lock and,
// when a live session has one, moves it to REFRESHING. refresh is "" when
// there is nothing to renew with.
func (s *Store) BeginRefresh() (gen uint64, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Live() || s.refresh == "" {
		return s.gen, ""
	}
	if s.state == StateActive {
		s.transitionLocked(StateRefreshing, false)
	}
	return s.gen, s.refresh
}

// Access returns the current access credential or "".
func (s *Store) Access() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access
}

// Refresh returns the current refresh credential or "".
func (s *Store) Refresh() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refresh
}

// Profile returns a copy of the seller profile, if any.
func (s *Store) Profile() (Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return Profile{}, false
	}
	return *s.profile, true
}

// State returns the lifecycle state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Generation returns the current session generation.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Snapshot returns state, generation and credentials read under one lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		State:      s.state,
		Generation: s.gen,
		Access:     s.access,
		HasRefresh: s.refresh != "",
	}
	if s.profile != nil {
		p := *s.profile
		snap.Profile = &p
	}
	return snap
}

// Changed returns a channel closed by the next mutation.
// Callers re-read Snapshot and call Changed again.
func (s *Store) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// ---- internals (mu held) ----

func (s *Store) clearLocked() {
	s.access, s.refresh, s.profile = "", "", nil
}

func (s *Store) transitionLocked(to State, newGen bool) uint64 {
	from := s.state
	s.state = to
	if newGen {
		s.gen++
	}
	s.notifyLocked()
	if from != to {
		s.metrics.SessionTransition(to.String())
		s.log.Debug("session.state", "from", from.String(), "to", to.String(), "gen", s.gen)
	}
	return s.gen
}

func (s *Store) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

type persistJob struct {
	version uint64
	clear   bool
	rec     Record
}

func (s *Store) saveJobLocked() persistJob {
	s.version++
	rec := Record{Access: s.access, Refresh: s.refresh, SavedAt: time.Now().UTC()}
	if s.profile != nil {
		p := *s.profile
		rec.Profile = &p
	}
	return persistJob{version: s.version, rec: rec}
}

func (s *Store) clearJobLocked() persistJob {
	s.version++
	return persistJob{version: s.version, clear: true}
}

// flush applies job unless a newer job was already applied.
// Persistence failures are logged; the in-memory session stays authoritative.
func (s *Store) flush(ctx context.Context, job persistJob) {
	ctx = context.WithoutCancel(ctx)

	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if job.version <= s.persisted {
		return
	}
	s.persisted = job.version

	var err error
	if job.clear {
		err = s.persist.Clear(ctx)
	} else {
		err = s.persist.Save(ctx, job.rec)
	}
	if err != nil {
		s.log.Error("session.persist.fail", "clear", job.clear, "err", err)
	}
}
