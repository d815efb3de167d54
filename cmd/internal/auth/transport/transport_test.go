package transport_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BonfaceGabriel/chapchat/cmd/internal/auth/refresh"
	"github.com/BonfaceGabriel/chapchat/cmd/internal/auth/session"
	"github.com/BonfaceGabriel/chapchat/cmd/internal/auth/transport"
	"github.com/BonfaceGabriel/chapchat/cmd/internal/backend"
	"github.com/BonfaceGabriel/chapchat/cmd/internal/metrics"
)

// fakeAPI issues access "X" at login and "Y" on renewal. orders/ accepts
// whatever token is in valid; a renewal makes "Y" valid unless keepValid is set.
type fakeAPI struct {
	valid        atomic.Value // string
	keepValid    atomic.Bool
	refreshOK    atomic.Bool
	renewCalls   atomic.Int32
	ordersCalls  atomic.Int32
	orders401    atomic.Int32
	holdRenewFor int32

	mu       sync.Mutex
	seenAuth []string
}

func newFakeAPI() *fakeAPI {
	f := &fakeAPI{}
	f.valid.Store("X")
	f.refreshOK.Store(true)
	return f
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/token/{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]string{"access": "X", "refresh": "R"})
	})
	mux.HandleFunc("POST /api/token/refresh/{$}", func(w http.ResponseWriter, r *http.Request) {
		f.renewCalls.Add(1)
		deadline := time.Now().Add(2 * time.Second)
		for f.orders401.Load() < f.holdRenewFor && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		if !f.refreshOK.Load() {
			writeJSON(w, 401, map[string]string{"detail": "Token is invalid or expired"})
			return
		}
		if !f.keepValid.Load() {
			f.valid.Store("Y")
		}
		writeJSON(w, 200, map[string]string{"access": "Y"})
	})
	mux.HandleFunc("GET /api/seller/profile/{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]string{"username": "amina", "email": "a@example.com", "company_name": "Amina Crafts"})
	})
	mux.HandleFunc("GET /api/orders/{$}", func(w http.ResponseWriter, r *http.Request) {
		f.ordersCalls.Add(1)
		auth := r.Header.Get("Authorization")
		f.mu.Lock()
		f.seenAuth = append(f.seenAuth, auth)
		f.mu.Unlock()
		if auth != "Bearer "+f.valid.Load().(string) {
			f.orders401.Add(1)
			writeJSON(w, 401, map[string]string{"detail": "Given token not valid for any token type"})
			return
		}
		writeJSON(w, 200, []map[string]any{{"id": 1}})
	})
	mux.HandleFunc("GET /api/boom/{$}", func(w http.ResponseWriter, r *http.Request) {
		f.ordersCalls.Add(1)
		writeJSON(w, 500, map[string]string{"detail": "boom"})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type harness struct {
	api   *fakeAPI
	store *session.Store
	tr    *transport.Transport
	m     *metrics.Metrics
}

func newHarness(t *testing.T, api *fakeAPI, login bool) *harness {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	raw, err := transport.NewClient(srv.URL+"/api/", srv.Client())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	m := metrics.New(false)
	be := backend.New(raw, log)
	st := session.NewStore(be, nil, log, session.WithMetrics(m))
	coord := refresh.New(st, be, log, m)
	tr := transport.New(raw, st, coord, log, m)

	if login {
		if _, err := st.Login(context.Background(), session.Credentials{Username: "amina", Password: "pw"}); err != nil {
			t.Fatalf("Login: %v", err)
		}
	}
	return &harness{api: api, store: st, tr: tr, m: m}
}

func TestSend_SingleFlightRenewal(t *testing.T) {
	t.Parallel()

	const n = 8
	api := newFakeAPI()
	api.holdRenewFor = n
	h := newHarness(t, api, true)
	api.valid.Store("Y")

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.tr.Send(context.Background(), transport.Request{Method: "GET", Path: "orders/"})
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if got := api.renewCalls.Load(); got != 1 {
		t.Fatalf("renewSession calls=%d want 1", got)
	}
	if got := api.ordersCalls.Load(); got != 2*n {
		t.Fatalf("orders calls=%d want %d", got, 2*n)
	}
	api.mu.Lock()
	var withY int
	for _, a := range api.seenAuth {
		if a == "Bearer Y" {
			withY++
		}
	}
	api.mu.Unlock()
	if withY != n {
		t.Fatalf("retries carrying Y=%d want %d", withY, n)
	}
	if h.store.Access() != "Y" {
		t.Fatalf("store access=%q", h.store.Access())
	}
	if got := h.m.Value("transport_auth_retries_total", "resent"); got != n {
		t.Fatalf("resent metric=%v want %d", got, n)
	}
}

func TestSend_CredentialExpiryMidSession(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	h := newHarness(t, api, true)
	api.valid.Store("Y")

	resp, err := h.tr.Send(context.Background(), transport.Request{Path: "orders/"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Status != 200 {
		t.Fatalf("status=%d", resp.Status)
	}
	api.mu.Lock()
	seen := append([]string(nil), api.seenAuth...)
	api.mu.Unlock()
	if len(seen) != 2 || seen[0] != "Bearer X" || seen[1] != "Bearer Y" {
		t.Fatalf("authorization sequence=%v", seen)
	}
	if h.store.Access() != "Y" || h.store.State() != session.StateActive {
		t.Fatalf("store access=%q state=%v", h.store.Access(), h.store.State())
	}
}

func TestSend_RetryBound(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	h := newHarness(t, api, true)
	api.valid.Store("never")
	api.keepValid.Store(true)

	_, err := h.tr.Send(context.Background(), transport.Request{Path: "orders/"})
	var ae *transport.AuthorizationError
	if !errors.As(err, &ae) || ae.Status != 401 {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}
	if got := api.ordersCalls.Load(); got != 2 {
		t.Fatalf("orders calls=%d want 2", got)
	}
	if got := api.renewCalls.Load(); got != 1 {
		t.Fatalf("renew calls=%d want 1", got)
	}
	if h.store.State() != session.StateActive || h.store.Access() != "Y" {
		t.Fatalf("a rejected retry must not end the session: %v access=%q", h.store.State(), h.store.Access())
	}
	api.mu.Lock()
	seen := append([]string(nil), api.seenAuth...)
	api.mu.Unlock()
	if len(seen) != 2 || seen[0] != "Bearer X" || seen[1] != "Bearer Y" {
		t.Fatalf("authorization headers=%v", seen)
	}
}

func TestSend_UnrecoverableRefresh(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	h := newHarness(t, api, true)
	api.valid.Store("Y")
	api.refreshOK.Store(false)

	_, err := h.tr.Send(context.Background(), transport.Request{Path: "orders/"})
	if !errors.Is(err, transport.ErrAuthorization) || !errors.Is(err, session.ErrSessionExpired) {
		t.Fatalf("expected original authorization failure with expiry cause, got %v", err)
	}
	if got := api.ordersCalls.Load(); got != 1 {
		t.Fatalf("orders calls=%d want 1", got)
	}
	snap := h.store.Snapshot()
	if snap.State != session.StateExpired || snap.Access != "" || snap.HasRefresh {
		t.Fatalf("snapshot=%+v", snap)
	}

	// Subsequent calls go out anonymously and are not retried.
	_, err = h.tr.Send(context.Background(), transport.Request{Path: "orders/"})
	if !errors.Is(err, transport.ErrAuthorization) {
		t.Fatalf("expected ErrAuthorization, got %v", err)
	}
	api.mu.Lock()
	last := api.seenAuth[len(api.seenAuth)-1]
	api.mu.Unlock()
	if last != "" || api.renewCalls.Load() != 1 {
		t.Fatalf("anonymous call carried %q, renew calls=%d", last, api.renewCalls.Load())
	}
}

func TestSend_AnonymousPassesThrough(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	h := newHarness(t, api, false)

	_, err := h.tr.Send(context.Background(), transport.Request{Path: "orders/"})
	if !errors.Is(err, transport.ErrAuthorization) {
		t.Fatalf("expected ErrAuthorization, got %v", err)
	}
	if api.renewCalls.Load() != 0 || api.ordersCalls.Load() != 1 {
		t.Fatalf("anonymous 401 renewed or retried")
	}
}

func TestSend_NoRenewNotRetried(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	h := newHarness(t, api, true)
	api.valid.Store("Y")

	_, err := h.tr.Send(context.Background(), transport.Request{Path: "orders/", NoRenew: true})
	if !errors.Is(err, transport.ErrAuthorization) {
		t.Fatalf("expected ErrAuthorization, got %v", err)
	}
	if api.renewCalls.Load() != 0 {
		t.Fatalf("NoRenew request triggered renewal")
	}
}

func TestSend_ServerErrorNotRetried(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	h := newHarness(t, api, true)

	_, err := h.tr.Send(context.Background(), transport.Request{Path: "boom/"})
	var se *transport.ServerError
	if !errors.As(err, &se) || se.Status != 500 || se.Detail != "boom" {
		t.Fatalf("expected ServerError, got %v", err)
	}
	if api.ordersCalls.Load() != 1 || api.renewCalls.Load() != 0 {
		t.Fatalf("server error was retried")
	}
}

func TestSend_NetworkError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	raw, err := transport.NewClient(url+"/api/", nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	tr := transport.New(raw, nil, nil, nil, nil)
	_, err = tr.Send(context.Background(), transport.Request{Path: "orders/"})
	var ne *transport.NetworkError
	if !errors.As(err, &ne) || !errors.Is(err, transport.ErrNetwork) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if !strings.Contains(ne.URL, "/api/orders/") {
		t.Fatalf("NetworkError.URL=%q", ne.URL)
	}
}
