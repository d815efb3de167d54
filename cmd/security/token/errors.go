package token

import "errors"

var (
	// ErrHMACKeyMissing means CHAPCHAT_TOKEN_HMAC_KEY is unset; callers fall back to plain SHA-256.
	ErrHMACKeyMissing  = errors.New("token: hmac key not configured")
	ErrHMACKeyTooShort = errors.New("token: hmac key too short")
	ErrEntropy         = errors.New("token: crypto/rand failed")
)
