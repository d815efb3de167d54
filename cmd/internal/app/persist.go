package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BonfaceGabriel/chapchat/cmd/internal/auth/session"
	"github.com/BonfaceGabriel/chapchat/cmd/security/password"
	"github.com/BonfaceGabriel/chapchat/cmd/security/sealing"
)

// openPersister builds the session persister cfg selects. The returned close
// func releases backend resources and is never nil.
func openPersister(ctx context.Context, cfg Config, pool *pgxpool.Pool, log *slog.Logger) (session.Persister, func() error, error) {
	nop := func() error { return nil }
	sc := cfg.SessionStore()

	sealer, err := newSealer(sc.Passphrase)
	if err != nil {
		return nil, nil, err
	}
	log = log.With("backend", sc.Backend, "sealed", sealer != nil)

	switch sc.Backend {
	case session.BackendMemory:
		log.Info("session.persist.ready")
		return session.NewMemoryPersister(), nop, nil

	case session.BackendFile:
		log.Info("session.persist.ready", "path", sc.FilePath)
		return session.NewFilePersister(sc.FilePath, sealer), nop, nil

	case session.BackendSQLite:
		p, err := session.OpenSQLitePersister(sc.SQLitePath, sc.StateKey, sealer)
		if err != nil {
			return nil, nil, fmt.Errorf("app: open sqlite session state: %w", err)
		}
		log.Info("session.persist.ready", "path", sc.SQLitePath, "key", sc.StateKey)
		return p, p.Close, nil

	case session.BackendPostgres:
		if pool == nil {
			return nil, nil, fmt.Errorf("%w: session backend postgres needs a database", ErrConfig)
		}
		p, err := session.NewPostgresPersister(pool, sc.StateKey, sealer)
		if err != nil {
			return nil, nil, err
		}
		if err := p.EnsureSchema(ctx); err != nil {
			return nil, nil, fmt.Errorf("app: session schema: %w", err)
		}
		log.Info("session.persist.ready", "key", sc.StateKey)
		return p, nop, nil
	}
	return nil, nil, fmt.Errorf("%w: session backend %q", ErrConfig, sc.Backend)
}

func newSealer(passphrase string) (*sealing.Sealer, error) {
	if passphrase == "" {
		return nil, nil
	}
	pcfg, err := password.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	s, err := sealing.New(passphrase, pcfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return s, nil
}
