// Package token provides credential hashing and fingerprinting primitives.
//
// Credentials never appear in logs; callers log Fingerprint(tok) instead.
// The dev seller API stores refresh tokens only as HashRefreshTokenHex output:
// HMAC-SHA256 when CHAPCHAT_TOKEN_HMAC_KEY is set, SHA-256 otherwise.
package token
