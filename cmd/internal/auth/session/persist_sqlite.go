package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BonfaceGabriel/chapchat/cmd/security/sealing"

	_ "github.com/mattn/go-sqlite3"
)

// SQLitePersister stores the record in a local SQLite database.
type SQLitePersister struct {
	db    *sql.DB
	key   string
	codec codec
}

// OpenSQLitePersister opens (and migrates) the database at path.
// ":memory:" is supported and pinned to a single connection.
func OpenSQLitePersister(path, key string, sealer *sealing.Sealer) (*SQLitePersister, error) {
	key = strings.TrimSpace(key)
	if strings.TrimSpace(path) == "" || key == "" {
		return nil, ErrConfig
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if err := migrateSQLite(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLitePersister{db: db, key: key, codec: codec{sealer: sealer}}, nil
}

func migrateSQLite(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS session_state (
		state_key TEXT PRIMARY KEY,
		state BLOB NOT NULL,
		saved_at DATETIME NOT NULL
	);
	`)
	return err
}

// Close closes the database.
func (p *SQLitePersister) Close() error { return p.db.Close() }

// Load reads the row for the configured key.
func (p *SQLitePersister) Load(ctx context.Context) (*Record, error) {
	var data []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT state FROM session_state WHERE state_key = ?`, p.key,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p.codec.decode(data)
}

// Save upserts the row for the configured key.
func (p *SQLitePersister) Save(ctx context.Context, rec Record) error {
	data, err := p.codec.encode(rec)
	if err != nil {
		return err
	}
	savedAt := rec.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO session_state (state_key, state, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(state_key) DO UPDATE SET state = excluded.state, saved_at = excluded.saved_at
	`, p.key, data, savedAt)
	return err
}

// Clear deletes the row (idempotent).
func (p *SQLitePersister) Clear(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM session_state WHERE state_key = ?`, p.key)
	return err
}
