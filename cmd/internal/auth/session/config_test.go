package session

import "testing"

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("CHAPCHAT_SESSION_BACKEND", "")
	t.Setenv("CHAPCHAT_SESSION_FILE", "")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.Backend != BackendFile || cfg.FilePath == "" || cfg.StateKey != "default" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("CHAPCHAT_SESSION_BACKEND", "SQLite")
	t.Setenv("CHAPCHAT_SESSION_SQLITE", "/tmp/x.db")
	t.Setenv("CHAPCHAT_SESSION_KEY", "shop-2")
	t.Setenv("CHAPCHAT_STATE_PASSPHRASE", "correct horse battery")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.Backend != BackendSQLite || cfg.SQLitePath != "/tmp/x.db" || cfg.StateKey != "shop-2" {
		t.Fatalf("override failed: %+v", cfg)
	}
	if cfg.Passphrase != "correct horse battery" {
		t.Fatalf("passphrase not loaded")
	}
}

func TestLoadConfigFromEnv_UnknownBackend(t *testing.T) {
	t.Setenv("CHAPCHAT_SESSION_BACKEND", "redis")
	if _, err := LoadConfigFromEnv(); err != ErrConfig {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		cfg Config
		ok  bool
	}{
		{Config{Backend: BackendMemory}, true},
		{Config{Backend: BackendFile}, false},
		{Config{Backend: BackendFile, FilePath: "s.json"}, true},
		{Config{Backend: BackendSQLite, SQLitePath: "s.db"}, false},
		{Config{Backend: BackendSQLite, SQLitePath: "s.db", StateKey: "k"}, true},
		{Config{Backend: BackendPostgres, StateKey: "k"}, true},
		{Config{Backend: ""}, false},
	}
	for _, tc := range cases {
		err := tc.cfg.Validate()
		if (err == nil) != tc.ok {
			t.Fatalf("Validate(%+v)=%v want ok=%v", tc.cfg, err, tc.ok)
		}
	}
}
