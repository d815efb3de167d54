package realtime

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	v1 "github.com/BonfaceGabriel/chapchat/shared/contracts/realtime/v1"
)

// InboundEvent is one frame read from the inbox channel.
type InboundEvent struct {
	Kind    string
	Payload json.RawMessage
	// Seq is the server sequence number, 0 when the frame had none.
	Seq int64
	// Identity is the dedup key; empty means the event is never deduplicated.
	Identity string

	Generation uint64
	Conn       uint64
	ReceivedAt time.Time
}

// Order decodes a new_order payload.
func (e InboundEvent) Order() (v1.Order, error) {
	var o v1.Order
	err := json.Unmarshal(e.Payload, &o)
	return o, err
}

// Message decodes a new_message payload.
func (e InboundEvent) Message() (v1.Message, error) {
	var m v1.Message
	err := json.Unmarshal(e.Payload, &m)
	return m, err
}

// ParseFrame decodes a text frame. Untyped {"message": ...} frames (reply
// echoes) become KindEcho frames carrying the whole object as payload.
func ParseFrame(data []byte) (v1.Frame, error) {
	f, err := v1.DecodeFrame(data)
	if err == nil {
		return f, nil
	}
	var echo v1.EchoMessage
	if json.Unmarshal(data, &echo) == nil && echo.Message != "" {
		return v1.Frame{Type: v1.KindEcho, Payload: json.RawMessage(bytes.Clone(data))}, nil
	}
	return v1.Frame{}, err
}

// EventFromFrame stamps f with its session generation and connection number.
func EventFromFrame(f v1.Frame, gen, conn uint64, now time.Time) InboundEvent {
	kind := f.EventKind()
	ev := InboundEvent{
		Kind:       kind,
		Payload:    f.Payload,
		Generation: gen,
		Conn:       conn,
		ReceivedAt: now,
	}
	if f.Seq != nil {
		ev.Seq = *f.Seq
	}
	if kind != v1.KindEcho {
		ev.Identity = Identity(kind, ev.Seq, f.ID, f.Payload)
	}
	return ev
}

// Identity derives the dedup key of an event:
//
//	seq:<n>            when the server assigned a sequence number
//	<kind>:id:<id>     from the frame id or the payload "id" field
//	<kind>:fp:<hex>    SHA-256 of kind and the compacted payload otherwise
func Identity(kind string, seq int64, id string, payload json.RawMessage) string {
	if seq > 0 {
		return "seq:" + strconv.FormatInt(seq, 10)
	}
	if id = strings.TrimSpace(id); id != "" {
		return kind + ":id:" + id
	}
	if pid := payloadID(payload); pid != "" {
		return kind + ":id:" + pid
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err != nil {
		buf.Reset()
		buf.Write(payload)
	}
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(buf.Bytes())
	return kind + ":fp:" + hex.EncodeToString(h.Sum(nil)[:16])
}

func payloadID(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	raw := strings.TrimSpace(string(probe.ID))
	if raw == "" || raw == "null" {
		return ""
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(probe.ID, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	}
	return raw
}
