package session

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/BonfaceGabriel/chapchat/cmd/security/sealing"
)

// FilePersister stores the record as a 0600 JSON file, optionally sealed.
// Writes go through a temp file and rename so a crash never leaves half a record.
type FilePersister struct {
	path  string
	codec codec

	mu sync.Mutex
}

// NewFilePersister returns a persister at path. A nil sealer writes plain JSON.
func NewFilePersister(path string, sealer *sealing.Sealer) *FilePersister {
	return &FilePersister{path: path, codec: codec{sealer: sealer}}
}

// Path returns the state file location.
func (f *FilePersister) Path() string { return f.path }

// Load reads the record; a missing file is not an error.
func (f *FilePersister) Load(_ context.Context) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f.codec.decode(data)
}

// Save writes the record atomically.
func (f *FilePersister) Save(_ context.Context, rec Record) error {
	data, err := f.codec.encode(rec)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

// Clear removes the file; a missing file is not an error.
func (f *FilePersister) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
