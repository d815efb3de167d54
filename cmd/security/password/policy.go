package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validate checks the policy, counting runes rather than bytes.
func (c Config) Validate(secret string) error {
	n := utf8.RuneCountInString(secret)

	if n < c.Policy.MinLength {
		return ErrPasswordTooShort
	}
	if n > c.Policy.MaxLength {
		return ErrPasswordTooLong
	}
	if c.Policy.RejectVeryWeak && looksVeryWeak(secret) {
		return ErrWeakPassword
	}
	return nil
}

var trivial = map[string]struct{}{
	"password": {}, "password123": {}, "123456": {}, "123456789": {},
	"qwerty": {}, "qwerty123": {}, "11111111": {}, "chapchat": {},
}

func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	if strings.Trim(s, string(first)) == "" {
		return true
	}

	if strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 && utf8.RuneCountInString(s) < 12 {
		return true
	}

	_, ok := trivial[strings.ToLower(s)]
	return ok
}
