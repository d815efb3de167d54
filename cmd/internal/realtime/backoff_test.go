package realtime

import (
	"errors"
	"testing"
	"time"
)

func TestBackoff_GrowsToCap(t *testing.T) {
	t.Parallel()

	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 2}
	want := []time.Duration{100, 200, 400, 800, 1000, 1000}
	for i, w := range want {
		if got := b.Delay(i); got != w*time.Millisecond {
			t.Fatalf("Delay(%d)=%v want %v", i, got, w*time.Millisecond)
		}
	}
	if got := b.Delay(500); got != time.Second {
		t.Fatalf("Delay(500)=%v want cap", got)
	}
}

func TestBackoff_JitterStaysInRange(t *testing.T) {
	t.Parallel()

	b := Backoff{Initial: time.Second, Max: time.Second, Factor: 2, Jitter: 0.25}
	for range 200 {
		d := b.Delay(3)
		if d > time.Second || d < 750*time.Millisecond {
			t.Fatalf("jittered delay %v out of range", d)
		}
	}
}

func TestBackoff_Normalizes(t *testing.T) {
	t.Parallel()

	var b Backoff
	if got := b.Delay(0); got <= 0 || got > backoffInitial {
		t.Fatalf("zero backoff Delay(0)=%v", got)
	}
	b = Backoff{Initial: time.Second, Max: time.Millisecond, Factor: 0.5}
	if got := b.Delay(4); got != time.Second {
		t.Fatalf("max below initial: Delay(4)=%v", got)
	}
}

func TestRateLimiter(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(2, time.Second)
	now := time.Unix(1000, 0)
	if ok, _ := rl.Allow(now); !ok {
		t.Fatalf("first denied")
	}
	if ok, _ := rl.Allow(now.Add(100 * time.Millisecond)); !ok {
		t.Fatalf("second denied")
	}
	ok, retry := rl.Allow(now.Add(200 * time.Millisecond))
	if ok || retry != 800*time.Millisecond {
		t.Fatalf("third=(%v,%v) want denied with 800ms", ok, retry)
	}
	if ok, _ := rl.Allow(now.Add(1001 * time.Millisecond)); !ok {
		t.Fatalf("denied after window slid")
	}
	rl.Reset()
	if ok, _ := rl.Allow(now.Add(1002 * time.Millisecond)); !ok {
		t.Fatalf("denied after reset")
	}
}

func TestInboxURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"http://localhost:8000/api/":         "ws://localhost:8000/ws/inbox/",
		"https://chapchat.onrender.com/api":  "wss://chapchat.onrender.com/ws/inbox/",
		"http://127.0.0.1:9000":              "ws://127.0.0.1:9000/ws/inbox/",
		"https://host/prefix/api/v1?x=1#top": "wss://host/prefix/ws/inbox/",
	}
	for in, want := range cases {
		got, err := InboxURL(in)
		if err != nil || got != want {
			t.Fatalf("InboxURL(%q)=(%q,%v) want %q", in, got, err, want)
		}
	}
	if _, err := InboxURL("ftp://x/api/"); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestDialURL(t *testing.T) {
	t.Parallel()

	if got := dialURL("ws://h/ws/inbox/", "a+b/c"); got != "ws://h/ws/inbox/?token=a%2Bb%2Fc" {
		t.Fatalf("dialURL=%q", got)
	}
}

func TestConfigEnv(t *testing.T) {
	t.Setenv("CHAPCHAT_WS_URL", "ws://other:1/ws/inbox/")
	t.Setenv("CHAPCHAT_WS_BACKOFF_MAX", "5s")
	t.Setenv("CHAPCHAT_WS_RATE_EVENTS", "nope")

	cfg := DefaultConfig("ws://h/ws/inbox/")
	cfg.ApplyEnv()
	if cfg.URL != "ws://other:1/ws/inbox/" || cfg.Backoff.Max != 5*time.Second || cfg.SendRateEvents != rateLimitEvents {
		t.Fatalf("cfg=%+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	bad := DefaultConfig("http://h/ws/inbox/")
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected ws scheme error")
	}
}
