// Package ids provides ULID primitives for request, subscription and session ids.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new 26-char ULID string stamped with now.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

var (
	monoMu sync.Mutex
	mono   = ulid.Monotonic(rand.Reader, 0)
)

// Next returns a ULID that sorts strictly after every earlier Next in the process.
// It never fails; on entropy exhaustion it falls back to a timestamp-only id.
func Next() string {
	monoMu.Lock()
	defer monoMu.Unlock()

	id, err := ulid.New(ulid.Now(), mono)
	if err != nil {
		var zero ulid.ULID
		_ = zero.SetTime(ulid.Now())
		return zero.String()
	}
	return id.String()
}

// Time extracts the timestamp of a ULID string.
func Time(id string) (time.Time, bool) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()), true
}
