package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type fakeBackend struct {
	issue   func(ctx context.Context, creds Credentials) (Tokens, error)
	profile func(ctx context.Context, access string) (Profile, error)

	profileCalls atomic.Int32
}

func (f *fakeBackend) IssueSession(ctx context.Context, creds Credentials) (Tokens, error) {
	if f.issue == nil {
		return Tokens{Access: "acc-1", Refresh: "ref-1"}, nil
	}
	return f.issue(ctx, creds)
}

func (f *fakeBackend) FetchProfile(ctx context.Context, access string) (Profile, error) {
	f.profileCalls.Add(1)
	if f.profile == nil {
		return Profile{Username: "amina", Email: "amina@example.com", CompanyName: "Amina Crafts"}, nil
	}
	return f.profile(ctx, access)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, be Backend) (*Store, *MemoryPersister) {
	t.Helper()
	p := NewMemoryPersister()
	return NewStore(be, p, quietLogger()), p
}

func TestLogin_Success(t *testing.T) {
	t.Parallel()

	st, p := newTestStore(t, &fakeBackend{})
	ctx := context.Background()

	prof, err := st.Login(ctx, Credentials{Username: "amina", Password: "pw"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if prof.CompanyName != "Amina Crafts" {
		t.Fatalf("profile=%+v", prof)
	}

	snap := st.Snapshot()
	if snap.State != StateActive || snap.Access != "acc-1" || !snap.HasRefresh || snap.Profile == nil {
		t.Fatalf("snapshot=%+v", snap)
	}
	if st.Refresh() != "ref-1" {
		t.Fatalf("refresh=%q", st.Refresh())
	}

	rec, _ := p.Load(ctx)
	if rec == nil || rec.Access != "acc-1" || rec.Refresh != "ref-1" || rec.Profile == nil || rec.Profile.Username != "amina" {
		t.Fatalf("persisted=%+v", rec)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	t.Parallel()

	be := &fakeBackend{
		issue: func(context.Context, Credentials) (Tokens, error) {
			return Tokens{}, InvalidCredentialsError{Detail: "No active account found with the given credentials"}
		},
	}
	st, p := newTestStore(t, be)

	_, err := st.Login(context.Background(), Credentials{Username: "amina", Password: "nope"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if got := UserMessage(err); got != "No active account found with the given credentials" {
		t.Fatalf("UserMessage=%q", got)
	}
	if st.State() != StateAnonymous || st.Access() != "" || st.Refresh() != "" {
		t.Fatalf("partial state left behind: %+v", st.Snapshot())
	}
	if be.profileCalls.Load() != 0 {
		t.Fatalf("profile fetched after rejected login")
	}
	if rec, _ := p.Load(context.Background()); rec != nil {
		t.Fatalf("persisted after failed login: %+v", rec)
	}
}

func TestLogin_ProfileFailureLogsOut(t *testing.T) {
	t.Parallel()

	boom := errors.New("profile 500")
	st, p := newTestStore(t, &fakeBackend{
		profile: func(context.Context, string) (Profile, error) { return Profile{}, boom },
	})

	_, err := st.Login(context.Background(), Credentials{Username: "amina", Password: "pw"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped profile error, got %v", err)
	}
	if st.State() != StateAnonymous || st.Access() != "" {
		t.Fatalf("state=%v access=%q", st.State(), st.Access())
	}
	if rec, _ := p.Load(context.Background()); rec != nil {
		t.Fatalf("persisted after failed login: %+v", rec)
	}
}

func TestLogin_AbortedByLogout(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	st, _ := newTestStore(t, &fakeBackend{
		issue: func(context.Context, Credentials) (Tokens, error) {
			close(entered)
			<-release
			return Tokens{Access: "late", Refresh: "late-r"}, nil
		},
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := st.Login(context.Background(), Credentials{Username: "amina"})
		errCh <- err
	}()

	<-entered
	if _, err := st.Login(context.Background(), Credentials{Username: "amina"}); !errors.Is(err, ErrLoginInProgress) {
		t.Fatalf("expected ErrLoginInProgress, got %v", err)
	}
	st.Logout(context.Background(), ReasonUser)
	close(release)

	if err := <-errCh; !errors.Is(err, ErrLoginAborted) {
		t.Fatalf("expected ErrLoginAborted, got %v", err)
	}
	if st.State() != StateAnonymous || st.Access() != "" {
		t.Fatalf("aborted login resurrected credentials: %+v", st.Snapshot())
	}
}

func TestLogout_Idempotent(t *testing.T) {
	t.Parallel()

	st, p := newTestStore(t, &fakeBackend{})
	ctx := context.Background()
	if _, err := st.Login(ctx, Credentials{Username: "amina"}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	gen := st.Generation()

	st.Logout(ctx, ReasonExpired)
	if st.State() != StateExpired {
		t.Fatalf("state=%v want expired", st.State())
	}
	if st.Generation() == gen {
		t.Fatalf("logout must start a new generation")
	}
	gen = st.Generation()

	st.Logout(ctx, ReasonExpired)
	if st.State() != StateExpired || st.Generation() != gen {
		t.Fatalf("second logout changed state: %v gen=%d", st.State(), st.Generation())
	}

	st.Logout(ctx, ReasonUser)
	st.Logout(ctx, ReasonUser)
	snap := st.Snapshot()
	if snap.State != StateAnonymous || snap.Access != "" || snap.HasRefresh || snap.Profile != nil {
		t.Fatalf("snapshot=%+v", snap)
	}
	if rec, _ := p.Load(ctx); rec != nil {
		t.Fatalf("durable state not cleared: %+v", rec)
	}
	if saves, clears := p.Counts(); saves == 0 || clears == 0 {
		t.Fatalf("persister saves=%d clears=%d", saves, clears)
	}
}

func TestSetAccessIf_StaleGeneration(t *testing.T) {
	t.Parallel()

	st, p := newTestStore(t, &fakeBackend{})
	ctx := context.Background()
	if _, err := st.Login(ctx, Credentials{Username: "amina"}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	gen := st.Generation()

	if !st.MarkRefreshing(gen) || st.State() != StateRefreshing {
		t.Fatalf("MarkRefreshing failed: %v", st.State())
	}
	if err := st.SetAccessIf(ctx, gen, "acc-2"); err != nil {
		t.Fatalf("SetAccessIf: %v", err)
	}
	if st.State() != StateActive || st.Access() != "acc-2" {
		t.Fatalf("state=%v access=%q", st.State(), st.Access())
	}
	if rec, _ := p.Load(ctx); rec == nil || rec.Access != "acc-2" {
		t.Fatalf("renewed access not persisted: %+v", rec)
	}

	st.Logout(ctx, ReasonUser)
	if err := st.SetAccessIf(ctx, gen, "acc-3"); !errors.Is(err, ErrStaleSession) {
		t.Fatalf("expected ErrStaleSession, got %v", err)
	}
	if err := st.SetAccess(ctx, "acc-3"); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if st.Access() != "" {
		t.Fatalf("logged-out session resurrected")
	}
	if st.MarkRefreshing(gen) {
		t.Fatalf("MarkRefreshing on dead generation")
	}
}

func TestChanged_FiresOnMutation(t *testing.T) {
	t.Parallel()

	st, _ := newTestStore(t, &fakeBackend{})
	ch := st.Changed()

	select {
	case <-ch:
		t.Fatalf("changed before any mutation")
	default:
	}

	if _, err := st.Login(context.Background(), Credentials{Username: "amina"}); err != nil {
		t.Fatalf("Login: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("Changed not closed after login")
	}
	if st.Changed() == ch {
		t.Fatalf("Changed must return a fresh channel after firing")
	}
}

func TestResume_WithProfile(t *testing.T) {
	t.Parallel()

	be := &fakeBackend{}
	st, p := newTestStore(t, be)
	ctx := context.Background()
	_ = p.Save(ctx, Record{
		Access:  "acc-saved",
		Refresh: "ref-saved",
		Profile: &Profile{Username: "amina"},
	})

	live, err := st.Resume(ctx)
	if err != nil || !live {
		t.Fatalf("Resume live=%v err=%v", live, err)
	}
	if st.State() != StateActive || st.Access() != "acc-saved" || st.Refresh() != "ref-saved" {
		t.Fatalf("snapshot=%+v", st.Snapshot())
	}
	if be.profileCalls.Load() != 0 {
		t.Fatalf("profile refetched despite persisted profile")
	}
}

func TestResume_FetchesMissingProfile(t *testing.T) {
	t.Parallel()

	be := &fakeBackend{}
	st, p := newTestStore(t, be)
	ctx := context.Background()
	_ = p.Save(ctx, Record{Access: "acc-saved", Refresh: "ref-saved"})

	live, err := st.Resume(ctx)
	if err != nil || !live {
		t.Fatalf("Resume live=%v err=%v", live, err)
	}
	prof, ok := st.Profile()
	if !ok || prof.Username != "amina" {
		t.Fatalf("profile=%+v ok=%v", prof, ok)
	}
	rec, _ := p.Load(ctx)
	if rec == nil || rec.Profile == nil {
		t.Fatalf("fetched profile not persisted: %+v", rec)
	}
}

func TestResume_ProfileFailureExpires(t *testing.T) {
	t.Parallel()

	st, p := newTestStore(t, &fakeBackend{
		profile: func(context.Context, string) (Profile, error) { return Profile{}, errors.New("401") },
	})
	ctx := context.Background()
	_ = p.Save(ctx, Record{Access: "acc-saved", Refresh: "ref-saved"})

	live, err := st.Resume(ctx)
	if err == nil || live {
		t.Fatalf("Resume live=%v err=%v", live, err)
	}
	if st.State() != StateExpired || st.Refresh() != "" {
		t.Fatalf("snapshot=%+v", st.Snapshot())
	}
	if rec, _ := p.Load(ctx); rec != nil {
		t.Fatalf("durable state not cleared: %+v", rec)
	}
}

func TestResume_Empty(t *testing.T) {
	t.Parallel()

	st, _ := newTestStore(t, &fakeBackend{})
	live, err := st.Resume(context.Background())
	if err != nil || live {
		t.Fatalf("Resume live=%v err=%v", live, err)
	}
	if st.State() != StateAnonymous {
		t.Fatalf("state=%v", st.State())
	}
}

func TestStateLiveness(t *testing.T) {
	t.Parallel()

	cases := []struct {
		s        State
		live     bool
		terminal bool
	}{
		{StateAnonymous, false, true},
		{StateAuthenticating, false, false},
		{StateActive, true, false},
		{StateRefreshing, true, false},
		{StateExpired, false, true},
	}
	for _, tc := range cases {
		if tc.s.Live() != tc.live || tc.s.Terminal() != tc.terminal {
			t.Fatalf("%s live=%v terminal=%v", tc.s, tc.s.Live(), tc.s.Terminal())
		}
	}
}

func TestBeginRefresh(t *testing.T) {
	t.Parallel()

	st, _ := newTestStore(t, &fakeBackend{})
	ctx := context.Background()

	if _, ref := st.BeginRefresh(); ref != "" {
		t.Fatalf("anonymous session returned refresh %q", ref)
	}
	if st.State() != StateAnonymous {
		t.Fatalf("state=%v", st.State())
	}

	if _, err := st.Login(ctx, Credentials{Username: "amina"}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	gen, ref := st.BeginRefresh()
	if ref != "ref-1" || gen != st.Generation() {
		t.Fatalf("BeginRefresh=(%d,%q)", gen, ref)
	}
	if st.State() != StateRefreshing || !st.State().Live() {
		t.Fatalf("state=%v", st.State())
	}

	// A second caller sees the same generation and stays REFRESHING.
	if gen2, ref2 := st.BeginRefresh(); gen2 != gen || ref2 != ref {
		t.Fatalf("second BeginRefresh=(%d,%q)", gen2, ref2)
	}
}

func TestLogoutIf_IgnoresOldGeneration(t *testing.T) {
	t.Parallel()

	st, _ := newTestStore(t, &fakeBackend{})
	ctx := context.Background()

	if _, err := st.Login(ctx, Credentials{Username: "amina"}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	old := st.Generation()
	st.Logout(ctx, ReasonUser)
	if _, err := st.Login(ctx, Credentials{Username: "amina"}); err != nil {
		t.Fatalf("second Login: %v", err)
	}

	if st.LogoutIf(ctx, old, ReasonExpired) {
		t.Fatalf("LogoutIf acted on an old generation")
	}
	if st.State() != StateActive || st.Access() == "" {
		t.Fatalf("new session disturbed: state=%v", st.State())
	}
	if !st.LogoutIf(ctx, st.Generation(), ReasonExpired) || st.State() != StateExpired {
		t.Fatalf("LogoutIf on current generation: state=%v", st.State())
	}
}
