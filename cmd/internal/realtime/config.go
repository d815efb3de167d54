package realtime

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	v1 "github.com/BonfaceGabriel/chapchat/shared/contracts/realtime/v1"
)

// Config tunes the channel manager.
type Config struct {
	// URL is the inbox endpoint (ws:// or wss://), without the token parameter.
	URL string

	Backoff Backoff
	// StableAfter is how long a connection must stay open before the
	// reconnect backoff starts over from Backoff.Initial.
	StableAfter time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	WriteTimeout      time.Duration

	SendRateEvents int
	SendRateWindow time.Duration

	Router RouterConfig
}

// DefaultConfig returns defaults for inboxURL.
func DefaultConfig(inboxURL string) Config {
	return Config{
		URL:               inboxURL,
		Backoff:           DefaultBackoff(),
		StableAfter:       stableAfter,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		WriteTimeout:      writeTimeout,
		SendRateEvents:    rateLimitEvents,
		SendRateWindow:    rateLimitWindow,
	}
}

// ApplyEnv overrides fields from CHAPCHAT_WS_* variables. Invalid values keep the current setting.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("CHAPCHAT_WS_URL")); v != "" {
		c.URL = v
	}
	c.Backoff.Initial = envDurationWS("CHAPCHAT_WS_BACKOFF_INITIAL", c.Backoff.Initial)
	c.Backoff.Max = envDurationWS("CHAPCHAT_WS_BACKOFF_MAX", c.Backoff.Max)
	c.StableAfter = envDurationWS("CHAPCHAT_WS_STABLE_AFTER", c.StableAfter)
	c.HeartbeatInterval = envDurationWS("CHAPCHAT_WS_HEARTBEAT_INTERVAL", c.HeartbeatInterval)
	c.HeartbeatTimeout = envDurationWS("CHAPCHAT_WS_HEARTBEAT_TIMEOUT", c.HeartbeatTimeout)
	c.WriteTimeout = envDurationWS("CHAPCHAT_WS_WRITE_TIMEOUT", c.WriteTimeout)
	c.SendRateEvents = envIntWS("CHAPCHAT_WS_RATE_EVENTS", c.SendRateEvents)
	c.SendRateWindow = envDurationWS("CHAPCHAT_WS_RATE_WINDOW", c.SendRateWindow)
	c.Router.Window = envIntWS("CHAPCHAT_ROUTER_WINDOW", c.Router.Window)
	c.Router.LogSize = envIntWS("CHAPCHAT_ROUTER_LOG", c.Router.LogSize)
}

// Validate checks the URL and fills zero durations with defaults.
func (c *Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.URL))
	if err != nil {
		return fmt.Errorf("%w: ws url: %v", ErrConfig, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: ws url must be ws(s): %q", ErrConfig, c.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: ws url missing host: %q", ErrConfig, c.URL)
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = heartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = heartbeatTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = writeTimeout
	}
	if c.StableAfter <= 0 {
		c.StableAfter = stableAfter
	}
	c.Backoff = c.Backoff.normalized()
	return nil
}

// InboxURL is v1.InboxURL with failures reported as ErrConfig.
func InboxURL(apiBase string) (string, error) {
	u, err := v1.InboxURL(apiBase)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return u, nil
}

func dialURL(base, access string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set(v1.TokenParam, access)
	u.RawQuery = q.Encode()
	return u.String()
}

// ---- env helpers ----

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
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
