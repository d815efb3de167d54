package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BonfaceGabriel/chapchat/cmd/internal/auth/session"
)

// ErrConfig is returned for invalid runtime configuration.
var ErrConfig = errors.New("app: invalid config")

// Log formats.
const (
	LogFormatJSON   = "json"
	LogFormatPretty = "pretty"
)

// Config is the console runtime configuration.
//
// Values are layered: defaults, then the optional YAML file, then CHAPCHAT_*
// environment variables, then command-line flags applied by the caller.
type Config struct {
	// APIBase is the seller API root, e.g. https://api.chapchat.example/api/.
	APIBase string `yaml:"api_base"`
	// WSURL overrides the inbox websocket URL derived from APIBase.
	WSURL string `yaml:"ws_url"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogColor  bool   `yaml:"log_color"`

	// MetricsAddr enables the /metrics and /healthz listener when set.
	MetricsAddr string `yaml:"metrics_addr"`

	RequestTimeout time.Duration `yaml:"request_timeout"`

	DatabaseURL string `yaml:"database_url"`
	DBMaxConns  int32  `yaml:"db_max_conns"`
	DBMinConns  int32  `yaml:"db_min_conns"`

	Session SessionConfig `yaml:"session"`
	Dev     DevConfig     `yaml:"dev"`

	// RequireSealedState refuses to start with durable session state that
	// would be written unencrypted.
	RequireSealedState bool `yaml:"require_sealed_state"`
}

// SessionConfig is the file form of session.Config. The passphrase is only
// read from the environment.
type SessionConfig struct {
	Backend string `yaml:"backend"`
	File    string `yaml:"file"`
	SQLite  string `yaml:"sqlite"`
	Key     string `yaml:"key"`

	passphrase string
}

// DevConfig configures `chapdash devserver`.
type DevConfig struct {
	Addr     string `yaml:"addr"`
	Seller   string `yaml:"seller"`
	Password string `yaml:"password"`
	Company  string `yaml:"company"`
}

// DefaultConfig returns local development defaults.
func DefaultConfig() Config {
	sc := session.DefaultConfig()
	return Config{
		APIBase:        "http://127.0.0.1:8000/api/",
		LogLevel:       "info",
		LogFormat:      LogFormatJSON,
		RequestTimeout: 15 * time.Second,
		DBMaxConns:     4,
		Session: SessionConfig{
			Backend: sc.Backend,
			File:    sc.FilePath,
			SQLite:  sc.SQLitePath,
			Key:     sc.StateKey,
		},
		Dev: DevConfig{
			Addr:     "127.0.0.1:8000",
			Seller:   "demo",
			Password: "chapchat-demo-pass",
			Company:  "Demo Duka",
		},
	}
}

// LoadConfig builds a Config from defaults, the YAML file at path (skipped
// when path is empty) and the environment.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
		}
		if err := cfg.decodeYAML(data); err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrConfig, path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) decodeYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overlays set CHAPCHAT_* variables.
func (c *Config) ApplyEnv() {
	c.APIBase = EnvString("CHAPCHAT_API_BASE", c.APIBase)
	c.WSURL = EnvString("CHAPCHAT_WS_URL", c.WSURL)
	c.LogLevel = EnvString("CHAPCHAT_LOG_LEVEL", c.LogLevel)
	c.LogFormat = strings.ToLower(EnvString("CHAPCHAT_LOG_FORMAT", c.LogFormat))
	c.LogColor = EnvBool("CHAPCHAT_LOG_COLOR", c.LogColor)
	c.MetricsAddr = EnvString("CHAPCHAT_METRICS_ADDR", c.MetricsAddr)
	c.RequestTimeout = EnvDuration("CHAPCHAT_HTTP_TIMEOUT", c.RequestTimeout)
	c.DatabaseURL = EnvString("CHAPCHAT_DATABASE_URL", c.DatabaseURL)
	c.DBMaxConns = EnvInt32("CHAPCHAT_DB_MAX_CONNS", c.DBMaxConns)
	c.DBMinConns = EnvInt32("CHAPCHAT_DB_MIN_CONNS", c.DBMinConns)
	c.RequireSealedState = EnvBool("CHAPCHAT_REQUIRE_SEALED_STATE", c.RequireSealedState)

	sc := c.Session.toSession()
	sc.ApplyEnv()
	c.Session = sessionConfigFrom(sc)

	c.Dev.Addr = EnvString("CHAPCHAT_DEV_ADDR", c.Dev.Addr)
	c.Dev.Seller = EnvString("CHAPCHAT_DEV_SELLER", c.Dev.Seller)
	c.Dev.Password = EnvString("CHAPCHAT_DEV_PASSWORD", c.Dev.Password)
	c.Dev.Company = EnvString("CHAPCHAT_DEV_COMPANY", c.Dev.Company)
}

// Validate checks the API base, log settings and session backend.
func (c *Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.APIBase))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: api_base must be an absolute http(s) URL: %q", ErrConfig, c.APIBase)
	}
	switch c.LogFormat {
	case "", LogFormatJSON:
		c.LogFormat = LogFormatJSON
	case LogFormatPretty:
	default:
		return fmt.Errorf("%w: log_format must be json or pretty: %q", ErrConfig, c.LogFormat)
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 15 * time.Second
	}
	if c.DBMinConns > c.DBMaxConns && c.DBMaxConns > 0 {
		return fmt.Errorf("%w: db_min_conns > db_max_conns", ErrConfig)
	}
	sc := c.Session.toSession()
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("%w: session backend %q", ErrConfig, c.Session.Backend)
	}
	if sc.Backend == session.BackendPostgres && c.DatabaseURL == "" {
		return fmt.Errorf("%w: session backend postgres needs database_url", ErrConfig)
	}
	return nil
}

// SessionStore returns the session package configuration.
func (c Config) SessionStore() session.Config { return c.Session.toSession() }

func (s SessionConfig) toSession() session.Config {
	return session.Config{
		Backend:    strings.ToLower(strings.TrimSpace(s.Backend)),
		FilePath:   s.File,
		SQLitePath: s.SQLite,
		StateKey:   s.Key,
		Passphrase: s.passphrase,
	}
}

func sessionConfigFrom(sc session.Config) SessionConfig {
	return SessionConfig{
		Backend:    sc.Backend,
		File:       sc.FilePath,
		SQLite:     sc.SQLitePath,
		Key:        sc.StateKey,
		passphrase: sc.Passphrase,
	}
}
