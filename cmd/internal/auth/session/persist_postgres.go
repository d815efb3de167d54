package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/BonfaceGabriel/chapchat/cmd/security/sealing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPersister stores the record in chapchat.session_state, one row per state key.
// The pool is owned by the caller.
type PostgresPersister struct {
	pool  *pgxpool.Pool
	key   string
	codec codec
}

// NewPostgresPersister returns a persister for key (e.g. the operator profile name).
func NewPostgresPersister(pool *pgxpool.Pool, key string, sealer *sealing.Sealer) (*PostgresPersister, error) {
	if pool == nil {
		return nil, errors.New("session: nil db pool")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrConfig
	}
	return &PostgresPersister{pool: pool, key: key, codec: codec{sealer: sealer}}, nil
}

// EnsureSchema creates the schema and table when missing.
func (p *PostgresPersister) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS chapchat`); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS chapchat.session_state (
			state_key  text PRIMARY KEY,
			state      bytea NOT NULL,
			saved_at   timestamptz NOT NULL
		)
	`)
	return err
}

// Load reads the row for the configured key.
func (p *PostgresPersister) Load(ctx context.Context) (*Record, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `
		SELECT state
		FROM chapchat.session_state
		WHERE state_key = $1
	`, p.key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p.codec.decode(data)
}

// Save upserts the row for the configured key.
func (p *PostgresPersister) Save(ctx context.Context, rec Record) error {
	data, err := p.codec.encode(rec)
	if err != nil {
		return err
	}
	savedAt := rec.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO chapchat.session_state (state_key, state, saved_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (state_key) DO UPDATE
		SET state = EXCLUDED.state,
		    saved_at = EXCLUDED.saved_at
	`, p.key, data, savedAt)
	return err
}

// Clear deletes the row (idempotent).
func (p *PostgresPersister) Clear(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		DELETE FROM chapchat.session_state
		WHERE state_key = $1
	`, p.key)
	return err
}
