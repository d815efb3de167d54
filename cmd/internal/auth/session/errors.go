package session

import (
	"errors"
	"strings"
)

// DefaultInvalidCredentialsDetail is shown when the backend gives no reason.
const DefaultInvalidCredentialsDetail = "Invalid credentials. Please try again."

var (
	// ErrInvalidCredentials is returned when login is rejected.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrSessionExpired is returned when the refresh credential is missing or rejected.
	ErrSessionExpired = errors.New("session expired")

	// ErrNotAuthenticated is returned for operations that need a live session.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrLoginInProgress is returned when Login is called during another login.
	ErrLoginInProgress = errors.New("login in progress")

	// ErrLoginAborted is returned when Logout ran while Login was waiting on the backend.
	ErrLoginAborted = errors.New("login aborted")

	// ErrStaleSession is returned when a mutation targets a generation that already ended.
	ErrStaleSession = errors.New("stale session generation")

	// ErrSealedState is returned when durable state is sealed and no passphrase is configured.
	ErrSealedState = errors.New("session state is sealed")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// InvalidCredentialsError carries the backend's user-facing reason.
type InvalidCredentialsError struct {
	Detail string
}

func (e InvalidCredentialsError) Error() string {
	if d := strings.TrimSpace(e.Detail); d != "" {
		return d
	}
	return DefaultInvalidCredentialsDetail
}

func (e InvalidCredentialsError) Unwrap() error { return ErrInvalidCredentials }

// UserMessage returns the message to show on the login form for err.
func UserMessage(err error) string {
	var ice InvalidCredentialsError
	if errors.As(err, &ice) {
		return ice.Error()
	}
	if errors.Is(err, ErrInvalidCredentials) {
		return DefaultInvalidCredentialsDetail
	}
	return "Login failed. Please try again."
}
