package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BonfaceGabriel/chapchat/cmd/internal/auth/session"
	"github.com/BonfaceGabriel/chapchat/cmd/internal/realtime"
	"github.com/BonfaceGabriel/chapchat/cmd/internal/sellerapi"
	"github.com/BonfaceGabriel/chapchat/cmd/security/password"
	v1 "github.com/BonfaceGabriel/chapchat/shared/contracts/realtime/v1"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type devFixture struct {
	dev *DevServer
	cfg Config
}

func newDevFixture(t *testing.T) devFixture {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Dev = DevConfig{Seller: "amina", Password: "duka-la-amina-42", Company: "Amina Crafts"}

	scfg := sellerapi.DefaultConfig()
	scfg.Password = password.LightConfig()
	dev, err := NewDevServer(context.Background(), cfg, scfg, quietLog())
	if err != nil {
		t.Fatalf("NewDevServer: %v", err)
	}
	srv := httptest.NewServer(dev.Handler)
	t.Cleanup(srv.Close)

	cfg.APIBase = srv.URL + "/api/"
	cfg.Session = SessionConfig{Backend: session.BackendFile, File: filepath.Join(t.TempDir(), "session.json")}
	return devFixture{dev: dev, cfg: cfg}
}

func newApp(t *testing.T, cfg Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, quietLog())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestApp_LoginResumeAndLogout(t *testing.T) {
	t.Parallel()
	f := newDevFixture(t)
	ctx := context.Background()

	first := newApp(t, f.cfg)
	prof, err := first.Login(ctx, "amina", "duka-la-amina-42")
	if err != nil || prof.CompanyName != "Amina Crafts" {
		t.Fatalf("Login=(%+v,%v)", prof, err)
	}

	// A second process picks the session up from the state file.
	second := newApp(t, f.cfg)
	live, err := second.Resume(ctx)
	if err != nil || !live {
		t.Fatalf("Resume=(%v,%v)", live, err)
	}
	orders, err := second.Dashboard().Orders(ctx)
	if err != nil || len(orders) != 3 {
		t.Fatalf("Orders=(%d,%v)", len(orders), err)
	}

	second.Logout(ctx)
	third := newApp(t, f.cfg)
	if live, err := third.Resume(ctx); err != nil || live {
		t.Fatalf("Resume after logout=(%v,%v)", live, err)
	}
	if err := third.Watch(ctx, &lockedBuffer{}); !errors.Is(err, session.ErrNotAuthenticated) {
		t.Fatalf("Watch without session err=%v", err)
	}
}

func TestApp_WatchPrintsFeedUntilLogout(t *testing.T) {
	t.Parallel()
	f := newDevFixture(t)
	ctx := context.Background()

	a := newApp(t, f.cfg)
	if _, err := a.Login(ctx, "amina", "duka-la-amina-42"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	out := &lockedBuffer{}
	done := make(chan error, 1)
	go func() { done <- a.Watch(ctx, out) }()

	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.Channel().WaitFor(wctx, realtime.StateOpen); err != nil {
		t.Fatalf("channel never opened: %v", err)
	}

	name := "Baraka"
	if _, err := f.dev.API.CreateOrder(ctx, "amina", sellerapi.NewOrderInput{
		Customer:    v1.Customer{PhoneNumber: "+254711000000", Name: &name},
		TotalAmount: "2400.00",
	}); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "New order #4 from Baraka: KES 2400.00") {
		if time.Now().After(deadline) {
			t.Fatalf("feed output=%q", out.String())
		}
		time.Sleep(5 * time.Millisecond)
	}

	a.Logout(ctx)
	select {
	case err := <-done:
		if !errors.Is(err, ErrSessionEnded) {
			t.Fatalf("Watch err=%v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Watch did not return after logout")
	}
	if st := a.Channel().State(); st != realtime.StateClosed {
		t.Fatalf("channel state=%v", st)
	}
}

func TestApp_OpsHandler(t *testing.T) {
	t.Parallel()
	f := newDevFixture(t)
	a := newApp(t, f.cfg)
	h := Wrap(a.opsHandler(), quietLog())

	get := func(path string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		return rr
	}

	if rr := get("/healthz"); rr.Code != http.StatusOK {
		t.Fatalf("/healthz=%d", rr.Code)
	}
	if rr := get("/readyz"); rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), "closed") {
		t.Fatalf("/readyz=%d %q", rr.Code, rr.Body.String())
	}
	rr := get("/metrics")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "chapchat_channel_state") {
		t.Fatalf("/metrics=%d", rr.Code)
	}
}

func TestDevServer_HealthAndRequestID(t *testing.T) {
	t.Parallel()
	f := newDevFixture(t)

	rr := httptest.NewRecorder()
	f.dev.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Header().Get(HeaderRequestID) == "" {
		t.Fatalf("healthz=%d id=%q", rr.Code, rr.Header().Get(HeaderRequestID))
	}
}
