// Package sealing encrypts small blobs at rest under a passphrase.
//
// The key is derived with Argon2id (see package password) and the payload is
// sealed with XChaCha20-Poly1305. The header is authenticated as associated data.
//
// Format:
//
//	chapseal$v=1$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<nonce||ciphertext b64>
package sealing

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/BonfaceGabriel/chapchat/cmd/security/password"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	magic   = "chapseal"
	version = "v=1"
)

var (
	// ErrNotSealed is returned by Open for input without the sealing header.
	ErrNotSealed = errors.New("sealing: not a sealed blob")
	// ErrOpen is returned when the passphrase is wrong or the blob was modified.
	ErrOpen = errors.New("sealing: cannot open")
	// ErrPassphrase is returned when the passphrase violates policy.
	ErrPassphrase = errors.New("sealing: passphrase rejected")
)

var b64 = base64.RawStdEncoding

// Sealer seals and opens blobs with one passphrase.
type Sealer struct {
	cfg        password.Config
	passphrase string
}

// New validates the passphrase against cfg.Policy and returns a Sealer.
func New(passphrase string, cfg password.Config) (*Sealer, error) {
	if err := cfg.Validate(passphrase); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPassphrase, err)
	}
	cfg.Params.KeyLength = chacha20poly1305.KeySize
	return &Sealer{cfg: cfg, passphrase: passphrase}, nil
}

// IsSealed reports whether data carries the sealing header.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, []byte(magic+"$"))
}

// Seal encrypts plaintext under a fresh salt and nonce.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	salt, err := s.cfg.NewSalt()
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(s.cfg.DeriveKey(s.passphrase, salt))
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	header := strings.Join([]string{magic, version, s.cfg.Params.Encode(), b64.EncodeToString(salt)}, "$")
	box := aead.Seal(nonce, nonce, plaintext, []byte(header))

	return []byte(header + "$" + b64.EncodeToString(box)), nil
}

// Open reverses Seal. Cost parameters come from the header but must stay
// within twice the Sealer's own configuration.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if !IsSealed(sealed) {
		return nil, ErrNotSealed
	}

	raw := strings.TrimSpace(string(sealed))
	cut := strings.LastIndexByte(raw, '$')
	header, body := raw[:cut], raw[cut+1:]

	parts := strings.Split(header, "$")
	if len(parts) != 4 || parts[1] != version {
		return nil, ErrOpen
	}
	params, err := password.ParseParams(parts[2])
	if err != nil {
		return nil, ErrOpen
	}
	salt, err := b64.DecodeString(parts[3])
	if err != nil {
		return nil, ErrOpen
	}
	params.SaltLength = uint32(len(salt)) // #nosec G115 -- checked by Within.
	params.KeyLength = chacha20poly1305.KeySize
	if !params.Within(s.cfg.Params) {
		return nil, ErrOpen
	}

	box, err := b64.DecodeString(body)
	if err != nil || len(box) < chacha20poly1305.NonceSizeX {
		return nil, ErrOpen
	}

	key := password.Config{Params: params}.DeriveKey(s.passphrase, salt)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, ErrOpen
	}
	nonce, ct := box[:aead.NonceSize()], box[aead.NonceSize():]

	plain, err := aead.Open(nil, nonce, ct, []byte(header))
	if err != nil {
		return nil, ErrOpen
	}
	return plain, nil
}
