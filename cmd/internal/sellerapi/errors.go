package sellerapi

import "errors"

var (
	// ErrConfig is returned when the server configuration is invalid.
	ErrConfig = errors.New("sellerapi: invalid config")
	// ErrNotFound is returned when a seller, order or conversation does not exist.
	ErrNotFound = errors.New("sellerapi: not found")
	// ErrConflict is returned when a seller username is already taken.
	ErrConflict = errors.New("sellerapi: conflict")
	// ErrInvalidToken is returned for any access or refresh token that does not verify.
	ErrInvalidToken = errors.New("sellerapi: invalid token")
	// ErrInvalidInput is returned for malformed store input.
	ErrInvalidInput = errors.New("sellerapi: invalid input")
)
