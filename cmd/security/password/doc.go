// Package password holds the Argon2id primitives used for secrets typed by people.
//
// Two consumers share one parameter set:
//   - the dev seller API hashes seller passwords (Hash / Verify, PHC-like strings)
//   - state sealing derives an encryption key from a passphrase (DeriveKey)
//
// Encoded hashes are untrusted input during Verify; parameters far above the
// configured cost are refused.
package password
