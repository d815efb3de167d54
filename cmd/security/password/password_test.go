package password

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestHashAndVerify(t *testing.T) {
	t.Parallel()

	cfg := LightConfig()

	h, err := cfg.Hash("amina-shop-secret")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(h, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding: %q", h)
	}

	ok, err := cfg.Verify(h, "amina-shop-secret")
	if err != nil || !ok {
		t.Fatalf("Verify ok=%v err=%v", ok, err)
	}

	ok, err = cfg.Verify(h, "wrong password")
	if err != nil || ok {
		t.Fatalf("Verify(wrong) ok=%v err=%v", ok, err)
	}
}

func TestVerify_InvalidHash(t *testing.T) {
	t.Parallel()

	cfg := LightConfig()
	for _, in := range []string{
		"not-a-hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHQ$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHQ$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$t=1$c2FsdHNhbHQ$aGFzaGhhc2hoYXNoaGFzaA",
	} {
		ok, err := cfg.Verify(in, "whatever")
		if !errors.Is(err, ErrInvalidHash) || ok {
			t.Fatalf("Verify(%q) ok=%v err=%v", in, ok, err)
		}
	}
}

func TestVerify_RefusesExpensiveParams(t *testing.T) {
	t.Parallel()

	heavy := LightConfig()
	heavy.Params.Iterations = 5
	h, err := heavy.Hash("amina-shop-secret")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	if _, err := LightConfig().Verify(h, "amina-shop-secret"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
}

func TestDeriveKey_Deterministic(t *testing.T) {
	t.Parallel()

	cfg := LightConfig()
	salt := bytes.Repeat([]byte{7}, int(cfg.Params.SaltLength))

	a := cfg.DeriveKey("passphrase", salt)
	b := cfg.DeriveKey("passphrase", salt)
	c := cfg.DeriveKey("passphrase!", salt)
	if !bytes.Equal(a, b) || bytes.Equal(a, c) || len(a) != int(cfg.Params.KeyLength) {
		t.Fatalf("derive mismatch a=%x b=%x c=%x", a, b, c)
	}
}

func TestParseParams_RoundTrip(t *testing.T) {
	t.Parallel()

	p := LightConfig().Params
	got, err := ParseParams(p.Encode())
	if err != nil {
		t.Fatalf("ParseParams error: %v", err)
	}
	if got.MemoryKiB != p.MemoryKiB || got.Iterations != p.Iterations || got.Parallelism != p.Parallelism {
		t.Fatalf("got=%+v want=%+v", got, p)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Policy.MinLength = 8
	cfg.Policy.MaxLength = 16
	cfg.Policy.RejectVeryWeak = true

	cases := []struct {
		in   string
		want error
	}{
		{"short", ErrPasswordTooShort},
		{"this password is definitely too long", ErrPasswordTooLong},
		{"password", ErrWeakPassword},
		{"aaaaaaaaaa", ErrWeakPassword},
		{"11112222", ErrWeakPassword},
		{"a-very-ok-pass", nil},
	}
	for _, tc := range cases {
		if err := cfg.Validate(tc.in); err != tc.want {
			t.Fatalf("Validate(%q)=%v want %v", tc.in, err, tc.want)
		}
	}
}
