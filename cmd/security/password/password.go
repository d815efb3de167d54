package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const argon2Version = argon2.Version

var b64 = base64.RawStdEncoding

// Hash hashes a password and returns
// $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>.
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}

	salt, err := c.NewSalt()
	if err != nil {
		return "", err
	}
	key := c.DeriveKey(password, salt)

	return fmt.Sprintf(
		"$argon2id$v=%d$%s$%s$%s",
		argon2Version,
		c.Params.Encode(),
		b64.EncodeToString(salt),
		b64.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encodedHash.
// Malformed or out-of-bounds hashes return ErrInvalidHash.
func (c Config) Verify(encodedHash, password string) (bool, error) {
	params, salt, expected, err := decode(encodedHash)
	if err != nil {
		return false, err
	}
	if !params.Within(c.Params) {
		return false, ErrInvalidHash
	}

	got := Config{Params: params}.DeriveKey(password, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1, nil
}

// NewSalt returns SaltLength random bytes.
func (c Config) NewSalt() ([]byte, error) {
	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("salt: %w", err)
	}
	return salt, nil
}

// DeriveKey stretches secret into KeyLength bytes.
func (c Config) DeriveKey(secret string, salt []byte) []byte {
	return argon2.IDKey(
		[]byte(secret),
		salt,
		c.Params.Iterations,
		c.Params.MemoryKiB,
		c.Params.Parallelism,
		c.Params.KeyLength,
	)
}

// Encode renders the cost parameters as m=..,t=..,p=...
func (p Argon2idParams) Encode() string {
	return fmt.Sprintf("m=%d,t=%d,p=%d", p.MemoryKiB, p.Iterations, p.Parallelism)
}

// ParseParams is the inverse of Encode; salt and key lengths are left zero.
func ParseParams(s string) (Argon2idParams, error) {
	if !strings.HasPrefix(s, "m=") {
		return Argon2idParams{}, ErrInvalidHash
	}
	var mem, it, par uint32
	if _, err := fmt.Sscanf(s, "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return Argon2idParams{}, ErrInvalidHash
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return Argon2idParams{}, ErrInvalidHash
	}
	return Argon2idParams{MemoryKiB: mem, Iterations: it, Parallelism: uint8(par)}, nil // #nosec G115 -- checked above.
}

// Within reports whether p stays inside twice the cost of limits.
// Smaller historical settings are accepted.
func (p Argon2idParams) Within(limits Argon2idParams) bool {
	switch {
	case p.MemoryKiB > limits.MemoryKiB*2:
		return false
	case p.Iterations > limits.Iterations*2:
		return false
	case p.Parallelism > limits.Parallelism*2:
		return false
	case p.SaltLength < 8 || p.SaltLength > 64:
		return false
	case p.KeyLength < 16 || p.KeyLength > 128:
		return false
	}
	return true
}

func decode(encoded string) (Argon2idParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2Version) {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	params, err := ParseParams(parts[3])
	if err != nil {
		return Argon2idParams{}, nil, nil, err
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	hash, err := b64.DecodeString(parts[5])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	params.SaltLength = uint32(len(salt)) // #nosec G115 -- bounded by Within.
	params.KeyLength = uint32(len(hash))  // #nosec G115 -- bounded by Within.
	return params, salt, hash, nil
}
