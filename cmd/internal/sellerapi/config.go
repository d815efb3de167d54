package sellerapi

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BonfaceGabriel/chapchat/cmd/security/password"
)

// Config controls the dev seller API.
type Config struct {
	Issuer       string
	SecretKeyHex string // empty: a fresh Ed25519 key per process
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	ClockSkew    time.Duration
	MaxBodyBytes int64

	// Backlog is the number of frames retained per seller; Replay is how
	// many of the newest are written to every new connection.
	Backlog   int
	Replay    int
	SendQueue int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	WriteTimeout      time.Duration
	RateEvents        int
	RateWindow        time.Duration

	OriginRequired bool
	AllowedOrigins []string

	LoginMaxFailures int
	LoginWindow      time.Duration

	// DevEndpoints mounts /api/dev/.
	DevEndpoints bool

	Password password.Config
}

// DefaultConfig returns development defaults.
func DefaultConfig() Config {
	return Config{
		Issuer:            "chapchat-dev",
		AccessTTL:         5 * time.Minute,
		RefreshTTL:        24 * time.Hour,
		ClockSkew:         30 * time.Second,
		MaxBodyBytes:      1 << 20,
		Backlog:           256,
		Replay:            20,
		SendQueue:         128,
		HeartbeatInterval: 25 * time.Second,
		HeartbeatTimeout:  5 * time.Second,
		WriteTimeout:      5 * time.Second,
		RateEvents:        20,
		RateWindow:        10 * time.Second,
		OriginRequired:    false,
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		LoginMaxFailures:  5,
		LoginWindow:       5 * time.Minute,
		DevEndpoints:      true,
		Password:          password.DefaultConfig(),
	}
}

// LoadConfigFromEnv overlays CHAPCHAT_DEV_* variables on DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	cfg.Issuer = envString("CHAPCHAT_DEV_ISSUER", cfg.Issuer)
	cfg.SecretKeyHex = envString("CHAPCHAT_DEV_PASETO_SECRET_HEX", "")
	cfg.AccessTTL = envDuration("CHAPCHAT_DEV_ACCESS_TTL", cfg.AccessTTL)
	cfg.RefreshTTL = envDuration("CHAPCHAT_DEV_REFRESH_TTL", cfg.RefreshTTL)
	cfg.Replay = envInt("CHAPCHAT_DEV_REPLAY", cfg.Replay)
	cfg.OriginRequired = envBool("CHAPCHAT_DEV_WS_ORIGIN_REQUIRED", cfg.OriginRequired)
	cfg.AllowedOrigins = envCSV("CHAPCHAT_DEV_WS_ALLOWED_ORIGINS", cfg.AllowedOrigins)
	cfg.DevEndpoints = envBool("CHAPCHAT_DEV_ENDPOINTS", cfg.DevEndpoints)
	return cfg, cfg.Validate()
}

// Validate rejects inconsistent TTLs and replay sizes and fills zero values with defaults.
func (c *Config) Validate() error {
	def := DefaultConfig()
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("%w: empty issuer", ErrConfig)
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= c.AccessTTL {
		return fmt.Errorf("%w: need 0 < access ttl < refresh ttl", ErrConfig)
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	if c.Backlog <= 0 {
		c.Backlog = def.Backlog
	}
	if c.Replay < 0 || c.Replay > c.Backlog {
		return fmt.Errorf("%w: replay must be within [0, backlog]", ErrConfig)
	}
	if c.SendQueue < c.Replay+32 {
		c.SendQueue = c.Replay + 32
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = def.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = def.RateWindow
	}
	if c.LoginWindow <= 0 {
		c.LoginWindow = def.LoginWindow
	}
	if c.Password.Params.KeyLength == 0 {
		c.Password = def.Password
	}
	return nil
}

// ---- env helpers ----

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSV(key string, def []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
