// Package sellerapi is an in-process seller backend for local development
// and tests.
//
// It serves the same contract the dashboard talks to in production: token
// issue and refresh, the seller profile, orders, WhatsApp conversations and
// the /ws/inbox/ websocket. Access tokens are PASETO v4.public; refresh tokens
// are opaque and stored hashed. Every inbox frame carries a per-seller
// sequence number and a connecting client is replayed the tail of the
// backlog, so reconnecting clients see duplicates the way they would after a
// real server restart.
//
// Dev-only endpoints under /api/dev/ publish events and expire or revoke
// credentials on demand.
package sellerapi
