package realtime

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	v1 "github.com/BonfaceGabriel/chapchat/shared/contracts/realtime/v1"
)

func TestIdentity(t *testing.T) {
	t.Parallel()

	p := json.RawMessage(`{"id": 7, "status": "paid"}`)
	if got := Identity("new_order", 12, "x", p); got != "seq:12" {
		t.Fatalf("with seq=%q", got)
	}
	if got := Identity("new_order", 0, " abc ", p); got != "new_order:id:abc" {
		t.Fatalf("with frame id=%q", got)
	}
	if got := Identity("new_order", 0, "", p); got != "new_order:id:7" {
		t.Fatalf("with payload id=%q", got)
	}
	if got := Identity("new_message", 0, "", json.RawMessage(`{"id":"m-1"}`)); got != "new_message:id:m-1" {
		t.Fatalf("with string payload id=%q", got)
	}

	a := Identity("typing", 0, "", json.RawMessage(`{"who": "amina"}`))
	b := Identity("typing", 0, "", json.RawMessage(`{"who":"amina"}`))
	c := Identity("presence", 0, "", json.RawMessage(`{"who":"amina"}`))
	if !strings.HasPrefix(a, "typing:fp:") || a != b {
		t.Fatalf("fingerprint should ignore whitespace: %q vs %q", a, b)
	}
	if a == c {
		t.Fatalf("fingerprint must include kind")
	}
}

func TestParseFrame(t *testing.T) {
	t.Parallel()

	f, err := ParseFrame([]byte(`{"message":"hi there"}`))
	if err != nil || f.EventKind() != v1.KindEcho {
		t.Fatalf("echo frame=(%+v,%v)", f, err)
	}
	ev := EventFromFrame(f, 3, 1, time.Now())
	if ev.Identity != "" || ev.Generation != 3 {
		t.Fatalf("echo event=%+v", ev)
	}

	f, err = ParseFrame([]byte(`{"type":"message","seq":5,"payload":{"id":9,"content":"hello"}}`))
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	ev = EventFromFrame(f, 1, 1, time.Now())
	if ev.Kind != v1.TypeNewMessage || ev.Seq != 5 || ev.Identity != "seq:5" {
		t.Fatalf("event=%+v", ev)
	}
	msg, err := ev.Message()
	if err != nil || msg.ID != 9 || msg.Content != "hello" {
		t.Fatalf("Message()=(%+v,%v)", msg, err)
	}

	if _, err := ParseFrame([]byte(`{"payload":{}}`)); err == nil {
		t.Fatalf("untyped non-echo frame accepted")
	}
}

func TestWindowEvicts(t *testing.T) {
	t.Parallel()

	w := newWindow(3)
	for _, id := range []string{"a", "b", "c"} {
		w.add(id)
	}
	w.add("a")
	if w.len() != 3 {
		t.Fatalf("len=%d", w.len())
	}
	w.add("d")
	if w.seen("a") || !w.seen("b") || !w.seen("d") {
		t.Fatalf("eviction order wrong: a=%v b=%v d=%v", w.seen("a"), w.seen("b"), w.seen("d"))
	}
	w.reset()
	if w.len() != 0 || w.seen("d") {
		t.Fatalf("reset left state")
	}
}
