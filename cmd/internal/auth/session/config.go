package session

import (
	"os"
	"path/filepath"
	"strings"
)

// Persistence backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config selects where durable session state lives.
type Config struct {
	// Backend is one of memory, file, sqlite, postgres.
	Backend string

	// FilePath is the JSON state file for the file backend.
	FilePath string

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string

	// StateKey names the row for SQL backends so several operators can share a database.
	StateKey string

	// Passphrase, when set, seals durable state at rest.
	Passphrase string
}

// DefaultConfig keeps state in the user's config directory.
func DefaultConfig() Config {
	dir := defaultStateDir()
	return Config{
		Backend:    BackendFile,
		FilePath:   filepath.Join(dir, "session.json"),
		SQLitePath: filepath.Join(dir, "session.db"),
		StateKey:   "default",
	}
}

// LoadConfigFromEnv loads persistence configuration from environment variables.
//
// Optional:
//   - CHAPCHAT_SESSION_BACKEND (memory|file|sqlite|postgres)
//   - CHAPCHAT_SESSION_FILE
//   - CHAPCHAT_SESSION_SQLITE
//   - CHAPCHAT_SESSION_KEY
//   - CHAPCHAT_STATE_PASSPHRASE
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays set environment variables onto cfg.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("CHAPCHAT_SESSION_BACKEND")); v != "" {
		c.Backend = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("CHAPCHAT_SESSION_FILE")); v != "" {
		c.FilePath = v
	}
	if v := strings.TrimSpace(os.Getenv("CHAPCHAT_SESSION_SQLITE")); v != "" {
		c.SQLitePath = v
	}
	if v := strings.TrimSpace(os.Getenv("CHAPCHAT_SESSION_KEY")); v != "" {
		c.StateKey = v
	}
	if v := os.Getenv("CHAPCHAT_STATE_PASSPHRASE"); v != "" {
		c.Passphrase = v
	}
}

// Validate checks backend-specific requirements.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendFile:
		if strings.TrimSpace(c.FilePath) == "" {
			return ErrConfig
		}
	case BackendSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" || strings.TrimSpace(c.StateKey) == "" {
			return ErrConfig
		}
	case BackendPostgres:
		if strings.TrimSpace(c.StateKey) == "" {
			return ErrConfig
		}
	default:
		return ErrConfig
	}
	return nil
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "chapchat")
	}
	return ".chapchat"
}
