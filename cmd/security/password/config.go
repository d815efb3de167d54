package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id cost. MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds accepted secrets.
type Policy struct {
	MinLength      int
	MaxLength      int
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns the interactive-login baseline.
func DefaultConfig() Config {
	threads := min(max(runtime.NumCPU(), 1), 4)

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 8,
			MaxLength: 256,
		},
	}
}

// LightConfig is a cheap parameter set for tests and throwaway dev data.
func LightConfig() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

// FromEnv loads config from environment variables.
//
// Env surface:
//   - CHAPCHAT_PASSWORD_MIN_LEN
//   - CHAPCHAT_PASSWORD_MAX_LEN
//   - CHAPCHAT_PASSWORD_REJECT_VERY_WEAK
//   - CHAPCHAT_ARGON2_MEMORY_KIB
//   - CHAPCHAT_ARGON2_ITERATIONS
//   - CHAPCHAT_ARGON2_PARALLELISM
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	ints := []struct {
		key      string
		min, max int
		dst      *int
	}{
		{"CHAPCHAT_PASSWORD_MIN_LEN", 1, 1024, &cfg.Policy.MinLength},
		{"CHAPCHAT_PASSWORD_MAX_LEN", 1, 4096, &cfg.Policy.MaxLength},
	}
	for _, it := range ints {
		v, ok := os.LookupEnv(it.key)
		if !ok {
			continue
		}
		n, err := parseBounded(v, it.min, it.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", it.key, err)
		}
		*it.dst = n
	}

	if v, ok := os.LookupEnv("CHAPCHAT_PASSWORD_REJECT_VERY_WEAK"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("CHAPCHAT_PASSWORD_REJECT_VERY_WEAK: invalid boolean")
		}
		cfg.Policy.RejectVeryWeak = b
	}

	if v, ok := os.LookupEnv("CHAPCHAT_ARGON2_MEMORY_KIB"); ok {
		n, err := parseBounded(v, 8*1024, 1024*1024)
		if err != nil {
			return Config{}, fmt.Errorf("CHAPCHAT_ARGON2_MEMORY_KIB: %w", err)
		}
		cfg.Params.MemoryKiB = uint32(n) // #nosec G115 -- bounded above.
	}
	if v, ok := os.LookupEnv("CHAPCHAT_ARGON2_ITERATIONS"); ok {
		n, err := parseBounded(v, 1, 20)
		if err != nil {
			return Config{}, fmt.Errorf("CHAPCHAT_ARGON2_ITERATIONS: %w", err)
		}
		cfg.Params.Iterations = uint32(n) // #nosec G115 -- bounded above.
	}
	if v, ok := os.LookupEnv("CHAPCHAT_ARGON2_PARALLELISM"); ok {
		n, err := parseBounded(v, 1, math.MaxUint8)
		if err != nil {
			return Config{}, fmt.Errorf("CHAPCHAT_ARGON2_PARALLELISM: %w", err)
		}
		cfg.Params.Parallelism = uint8(n) // #nosec G115 -- bounded above.
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength,
			cfg.Policy.MaxLength,
		)
	}

	return cfg, nil
}

func parseBounded(s string, minVal, maxVal int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	if n < minVal || n > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return n, nil
}
