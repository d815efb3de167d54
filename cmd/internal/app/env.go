package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvString returns the trimmed value of key, or def when unset or blank.
func EnvString(key, def string) string {
	if v, ok := lookupEnv(key); ok {
		return v
	}
	return def
}

// EnvBool accepts anything strconv.ParseBool does; other values yield def.
func EnvBool(key string, def bool) bool {
	return envParse(key, def, strconv.ParseBool)
}

// EnvInt32 is used for pool sizes; negative values yield def.
func EnvInt32(key string, def int32) int32 {
	return envParse(key, def, func(s string) (int32, error) {
		n, err := strconv.ParseInt(s, 10, 32)
		if err == nil && n < 0 {
			err = strconv.ErrRange
		}
		return int32(n), err
	})
}

// EnvDuration parses Go duration syntax ("750ms", "2m"); non-positive values yield def.
func EnvDuration(key string, def time.Duration) time.Duration {
	return envParse(key, def, func(s string) (time.Duration, error) {
		d, err := time.ParseDuration(s)
		if err == nil && d <= 0 {
			err = strconv.ErrRange
		}
		return d, err
	})
}

func lookupEnv(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func envParse[T any](key string, def T, parse func(string) (T, error)) T {
	raw, ok := lookupEnv(key)
	if !ok {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}
