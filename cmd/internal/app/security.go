package app

import (
	"errors"

	"github.com/BonfaceGabriel/chapchat/cmd/internal/auth/session"
)

// ValidateSecurityConfig enforces the at-rest policy at startup: with
// RequireSealedState, durable session state must have a passphrase.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireSealedState {
		return nil
	}
	sc := cfg.SessionStore()
	if sc.Backend == session.BackendMemory {
		return nil
	}
	if sc.Passphrase == "" {
		return errors.New("security policy: CHAPCHAT_REQUIRE_SEALED_STATE=true but CHAPCHAT_STATE_PASSPHRASE is missing")
	}
	return nil
}
