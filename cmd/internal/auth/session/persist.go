package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/BonfaceGabriel/chapchat/cmd/security/sealing"
)

// Record is the durable session state. Nothing else is ever persisted.
type Record struct {
	Access  string    `json:"accessToken"`
	Refresh string    `json:"refreshToken"`
	Profile *Profile  `json:"user,omitempty"`
	SavedAt time.Time `json:"savedAt"`
}

// Persister stores one Record durably.
type Persister interface {
	// Load returns the stored record, or nil when none exists.
	Load(ctx context.Context) (*Record, error)
	Save(ctx context.Context, rec Record) error
	Clear(ctx context.Context) error
}

// codec turns a Record into bytes, sealing them when a Sealer is configured.
type codec struct {
	sealer *sealing.Sealer
}

func (c codec) encode(rec Record) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if c.sealer == nil {
		return b, nil
	}
	return c.sealer.Seal(b)
}

func (c codec) decode(data []byte) (*Record, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if sealing.IsSealed(data) {
		if c.sealer == nil {
			return nil, ErrSealedState
		}
		plain, err := c.sealer.Open(data)
		if err != nil {
			return nil, err
		}
		data = plain
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode session record: %w", err)
	}
	return &rec, nil
}

// MemoryPersister keeps the record in process memory (tests, ephemeral runs).
type MemoryPersister struct {
	mu  sync.Mutex
	rec *Record

	saves  int
	clears int
}

// NewMemoryPersister constructs an empty MemoryPersister.
func NewMemoryPersister() *MemoryPersister { return &MemoryPersister{} }

// Load returns a copy of the stored record.
func (m *MemoryPersister) Load(ctx context.Context) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec == nil {
		return nil, nil
	}
	cp := *m.rec
	return &cp, nil
}

// Save replaces the stored record.
func (m *MemoryPersister) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = &rec
	m.saves++
	return nil
}

// Clear drops the stored record.
func (m *MemoryPersister) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = nil
	m.clears++
	return nil
}

// Counts reports how many Save and Clear calls happened.
func (m *MemoryPersister) Counts() (saves, clears int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves, m.clears
}
