package app

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	if got := stripANSI(in); got != "INFO plain ERR" {
		t.Fatalf("stripANSI()=%q", got)
	}
}

func TestPrettyHandler_Line(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, false))

	log.With("component", "channel").WithGroup("conn").Info("channel.open",
		"id", 2,
		"url", "ws://127.0.0.1:8000/ws/inbox/",
		slog.Group("backoff", "delay", 250*time.Millisecond),
	)
	log.Warn("transport.retry", "status", 401, "duration_ms", 12, "err", errors.New("access rejected"))
	log.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines=%q", lines)
	}
	want0 := `lvl=[INFO] msg=channel.open component=channel conn.id=2 conn.url=ws://127.0.0.1:8000/ws/inbox/ conn.backoff.delay=250ms`
	if !strings.Contains(lines[0], want0) {
		t.Fatalf("line[0]=%q\nwant suffix %q", lines[0], want0)
	}
	want1 := `lvl=[WARN] msg=transport.retry status=401 duration=12ms err="access rejected"`
	if !strings.Contains(lines[1], want1) {
		t.Fatalf("line[1]=%q", lines[1])
	}
}

func TestPrettyHandler_Color(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true))
	log.Error("channel.state", "state", "expired")

	out := buf.String()
	if !strings.Contains(out, ansiRed+"[ERROR]"+ansiReset) || !strings.Contains(out, ansiRed+"expired"+ansiReset) {
		t.Fatalf("out=%q", out)
	}
	if plain := stripANSI(out); !strings.Contains(plain, "lvl=[ERROR] msg=channel.state state=expired") {
		t.Fatalf("plain=%q", plain)
	}
}
