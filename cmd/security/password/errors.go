package password

import "errors"

// Policy and hash errors. Seller registration and state-file passphrases
// both surface these unchanged.
var (
	ErrPasswordTooShort = errors.New("password: below minimum length")
	ErrPasswordTooLong  = errors.New("password: above maximum length")
	ErrWeakPassword     = errors.New("password: too easy to guess")
	ErrInvalidHash      = errors.New("password: malformed argon2id hash")
)
