package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BonfaceGabriel/chapchat/cmd/internal/auth/session"
)

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestOpenPersister_Backends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	rec := session.Record{Access: "acc-1", Refresh: "ref-1", Profile: &session.Profile{Username: "amina"}}

	cases := []struct {
		name string
		cfg  SessionConfig
	}{
		{name: "memory", cfg: SessionConfig{Backend: session.BackendMemory}},
		{name: "file", cfg: SessionConfig{Backend: session.BackendFile, File: filepath.Join(dir, "s.json")}},
		{name: "sqlite", cfg: SessionConfig{Backend: session.BackendSQLite, SQLite: filepath.Join(dir, "s.db"), Key: "amina"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Session = tc.cfg
			p, closeFn, err := openPersister(ctx, cfg, nil, quietLog())
			if err != nil {
				t.Fatalf("openPersister: %v", err)
			}
			defer func() { _ = closeFn() }()

			if err := p.Save(ctx, rec); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := p.Load(ctx)
			if err != nil || got == nil || got.Refresh != "ref-1" || got.Profile.Username != "amina" {
				t.Fatalf("Load=(%+v,%v)", got, err)
			}
		})
	}
}

func TestOpenPersister_SealedFile(t *testing.T) {
	t.Setenv("CHAPCHAT_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("CHAPCHAT_ARGON2_ITERATIONS", "1")
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sealed.json")

	cfg := DefaultConfig()
	cfg.Session = SessionConfig{Backend: session.BackendFile, File: path, passphrase: "correct horse battery"}
	p, _, err := openPersister(ctx, cfg, nil, quietLog())
	if err != nil {
		t.Fatalf("openPersister: %v", err)
	}
	if err := p.Save(ctx, session.Record{Access: "acc-secret", Refresh: "ref-secret"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Contains(string(raw), "ref-secret") || !strings.HasPrefix(string(raw), "chapseal$") {
		t.Fatalf("state file is not sealed: %q", raw)
	}
	got, err := p.Load(ctx)
	if err != nil || got.Refresh != "ref-secret" {
		t.Fatalf("Load=(%+v,%v)", got, err)
	}
}

func TestOpenPersister_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.Session = SessionConfig{Backend: session.BackendPostgres, Key: "amina"}
	if _, _, err := openPersister(ctx, cfg, nil, quietLog()); !errors.Is(err, ErrConfig) {
		t.Fatalf("postgres without pool err=%v", err)
	}

	cfg.Session = SessionConfig{Backend: session.BackendFile, File: "x.json", passphrase: "short"}
	if _, _, err := openPersister(ctx, cfg, nil, quietLog()); !errors.Is(err, ErrConfig) {
		t.Fatalf("weak passphrase err=%v", err)
	}
}
