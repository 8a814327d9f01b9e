package password

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func testHashers(t *testing.T) map[string]Hasher {
	t.Helper()

	b, err := NewBcrypt(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewBcrypt: %v", err)
	}
	return map[string]Hasher{
		"bcrypt": b,
		"argon2id": NewArgon2id(Argon2idParams{
			MemoryKiB:   8 * 1024,
			Iterations:  1,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   32,
		}),
	}
}

func TestHashAndCompare(t *testing.T) {
	for name, h := range testHashers(t) {
		t.Run(name, func(t *testing.T) {
			hashed, err := h.Hash("correct horse battery staple")
			if err != nil {
				t.Fatalf("Hash error: %v", err)
			}

			ok, err := h.Compare("correct horse battery staple", hashed)
			if err != nil || !ok {
				t.Fatalf("expected match, got ok=%v err=%v", ok, err)
			}

			ok, err = h.Compare("wrong horse battery staple", hashed)
			if err != nil || ok {
				t.Fatalf("expected mismatch, got ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestHash_Salted(t *testing.T) {
	for name, h := range testHashers(t) {
		t.Run(name, func(t *testing.T) {
			a, err := h.Hash("same-secret")
			if err != nil {
				t.Fatalf("Hash error: %v", err)
			}
			b, err := h.Hash("same-secret")
			if err != nil {
				t.Fatalf("Hash error: %v", err)
			}
			if a == b {
				t.Fatalf("expected distinct hashes for the same secret")
			}
		})
	}
}

func TestHash_EmptySecret(t *testing.T) {
	for name, h := range testHashers(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := h.Hash(""); err != ErrEmptySecret {
				t.Fatalf("expected ErrEmptySecret, got %v", err)
			}
		})
	}
}

func TestBcrypt_LongSecretsAreNotTruncated(t *testing.T) {
	h, err := NewBcrypt(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewBcrypt: %v", err)
	}

	// Two secrets sharing the first 100 bytes must not collide.
	prefix := strings.Repeat("a", 100)
	hashed, err := h.Hash(prefix + "-one")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	ok, err := h.Compare(prefix+"-two", hashed)
	if err != nil {
		t.Fatalf("Compare error: %v", err)
	}
	if ok {
		t.Fatalf("secrets differing after byte 72 must not match")
	}
}

func TestBcrypt_CostBounds(t *testing.T) {
	if _, err := NewBcrypt(2); err == nil {
		t.Fatalf("expected error for cost below minimum")
	}
	h, err := NewBcrypt(0)
	if err != nil {
		t.Fatalf("NewBcrypt(0): %v", err)
	}
	if h.Cost() != DefaultBcryptCost {
		t.Fatalf("expected default cost, got %d", h.Cost())
	}
}

func TestCompare_InvalidHash(t *testing.T) {
	for name, h := range testHashers(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := h.Compare("secret", "not-a-hash")
			if err != ErrInvalidHash || ok {
				t.Fatalf("expected ErrInvalidHash, got ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestArgon2id_RejectsOversizedParams(t *testing.T) {
	h := NewArgon2id(Argon2idParams{MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})

	// m is far above 2x the configured memory.
	enc := "$argon2id$v=19$m=1048576,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5"
	if _, err := h.Compare("secret", enc); err != ErrInvalidHash {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
}

func TestPolicy_Validate(t *testing.T) {
	p := Policy{MinLength: 8, MaxLength: 12}

	if err := p.Validate("short"); err != ErrPasswordTooShort {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if err := p.Validate("this-is-way-too-long"); err != ErrPasswordTooLong {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
	// 8 runes, more than 8 bytes.
	if err := p.Validate("ääääääää"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func BenchmarkBcryptCompare(b *testing.B) {
	h, err := NewBcrypt(bcrypt.MinCost)
	if err != nil {
		b.Fatalf("NewBcrypt: %v", err)
	}
	hashed, err := h.Hash("refresh-token-sample")
	if err != nil {
		b.Fatalf("Hash: %v", err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = h.Compare("refresh-token-sample", hashed)
	}
}
