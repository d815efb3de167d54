package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BonfaceGabriel/chapchat/cmd/security/password"
	"github.com/BonfaceGabriel/chapchat/cmd/security/sealing"
)

func sampleRecord() Record {
	return Record{
		Access:  "acc-1",
		Refresh: "ref-1",
		Profile: &Profile{Username: "amina", Email: "amina@example.com", CompanyName: "Amina Crafts"},
		SavedAt: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func exercisePersister(t *testing.T, p Persister) {
	t.Helper()
	ctx := context.Background()

	rec, err := p.Load(ctx)
	if err != nil || rec != nil {
		t.Fatalf("empty Load rec=%+v err=%v", rec, err)
	}

	if err := p.Save(ctx, sampleRecord()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	updated := sampleRecord()
	updated.Access = "acc-2"
	if err := p.Save(ctx, updated); err != nil {
		t.Fatalf("Save (update): %v", err)
	}

	rec, err = p.Load(ctx)
	if err != nil || rec == nil {
		t.Fatalf("Load rec=%+v err=%v", rec, err)
	}
	if rec.Access != "acc-2" || rec.Refresh != "ref-1" || rec.Profile == nil || rec.Profile.CompanyName != "Amina Crafts" {
		t.Fatalf("round trip mismatch: %+v", rec)
	}

	if err := p.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := p.Clear(ctx); err != nil {
		t.Fatalf("Clear (again): %v", err)
	}
	if rec, err := p.Load(ctx); err != nil || rec != nil {
		t.Fatalf("Load after Clear rec=%+v err=%v", rec, err)
	}
}

func TestMemoryPersister(t *testing.T) {
	t.Parallel()
	exercisePersister(t, NewMemoryPersister())
}

func TestFilePersister_Plain(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "session.json")
	fp := NewFilePersister(path, nil)
	exercisePersister(t, fp)

	if err := fp.Save(context.Background(), sampleRecord()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if st.Mode().Perm() != 0o600 {
		t.Fatalf("perm=%v want 0600", st.Mode().Perm())
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `"accessToken":"acc-1"`) {
		t.Fatalf("unexpected file content: %s", data)
	}
}

func TestFilePersister_Sealed(t *testing.T) {
	t.Parallel()

	sealer, err := sealing.New("correct horse battery", password.LightConfig())
	if err != nil {
		t.Fatalf("sealing.New: %v", err)
	}
	path := filepath.Join(t.TempDir(), "session.json")
	exercisePersister(t, NewFilePersister(path, sealer))

	ctx := context.Background()
	if err := NewFilePersister(path, sealer).Save(ctx, sampleRecord()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "ref-1") {
		t.Fatalf("sealed file leaks refresh credential")
	}

	if _, err := NewFilePersister(path, nil).Load(ctx); !errors.Is(err, ErrSealedState) {
		t.Fatalf("expected ErrSealedState, got %v", err)
	}
}

func TestSQLitePersister(t *testing.T) {
	t.Parallel()

	p, err := OpenSQLitePersister(filepath.Join(t.TempDir(), "session.db"), "default", nil)
	if err != nil {
		t.Fatalf("OpenSQLitePersister: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	exercisePersister(t, p)
}

func TestSQLitePersister_KeysAreIsolated(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "shared.db")
	a, err := OpenSQLitePersister(path, "shop-a", nil)
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	b, err := OpenSQLitePersister(path, "shop-b", nil)
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	ctx := context.Background()
	if err := a.Save(ctx, sampleRecord()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if rec, err := b.Load(ctx); err != nil || rec != nil {
		t.Fatalf("key leak rec=%+v err=%v", rec, err)
	}
}

func TestOpenSQLitePersister_Config(t *testing.T) {
	t.Parallel()

	if _, err := OpenSQLitePersister("", "k", nil); err != ErrConfig {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if _, err := OpenSQLitePersister(":memory:", " ", nil); err != ErrConfig {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestStore_FileBackedRestart(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.json")
	ctx := context.Background()

	first := NewStore(&fakeBackend{}, NewFilePersister(path, nil), quietLogger())
	if _, err := first.Login(ctx, Credentials{Username: "amina"}); err != nil {
		t.Fatalf("Login: %v", err)
	}

	be := &fakeBackend{}
	second := NewStore(be, NewFilePersister(path, nil), quietLogger())
	live, err := second.Resume(ctx)
	if err != nil || !live {
		t.Fatalf("Resume live=%v err=%v", live, err)
	}
	if second.Access() != "acc-1" || second.Refresh() != "ref-1" {
		t.Fatalf("restart lost credentials: %+v", second.Snapshot())
	}
	if be.profileCalls.Load() != 0 {
		t.Fatalf("restart re-authenticated")
	}
}
