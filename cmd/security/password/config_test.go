package password

import (
	"errors"
	"os"
	"testing"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{
		"QUILL_CREDENTIAL_HASH",
		"QUILL_BCRYPT_COST",
		"QUILL_PASSWORD_MIN_LEN",
		"QUILL_PASSWORD_MAX_LEN",
		"QUILL_ARGON2_MEMORY_KIB",
		"QUILL_ARGON2_ITERATIONS",
		"QUILL_ARGON2_PARALLELISM",
	} {
		_ = os.Unsetenv(k)
	}

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}

	def := DefaultConfig()
	if cfg.Algorithm != AlgorithmBcrypt || cfg.BcryptCost != DefaultBcryptCost {
		t.Fatalf("unexpected hasher defaults: %+v", cfg)
	}
	if cfg.Policy != def.Policy {
		t.Fatalf("policy mismatch: %+v", cfg.Policy)
	}
}

func TestFromEnv_Override(t *testing.T) {
	t.Setenv("QUILL_CREDENTIAL_HASH", "Argon2id")
	t.Setenv("QUILL_BCRYPT_COST", "10")
	t.Setenv("QUILL_PASSWORD_MIN_LEN", "10")
	t.Setenv("QUILL_PASSWORD_MAX_LEN", "200")
	t.Setenv("QUILL_ARGON2_MEMORY_KIB", "32768")
	t.Setenv("QUILL_ARGON2_ITERATIONS", "4")
	t.Setenv("QUILL_ARGON2_PARALLELISM", "2")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}

	if cfg.Algorithm != AlgorithmArgon2id || cfg.BcryptCost != 10 {
		t.Fatalf("hasher override failed: %+v", cfg)
	}
	if cfg.Policy.MinLength != 10 || cfg.Policy.MaxLength != 200 {
		t.Fatalf("policy override failed: %+v", cfg.Policy)
	}
	if cfg.Params.MemoryKiB != 32768 || cfg.Params.Iterations != 4 || cfg.Params.Parallelism != 2 {
		t.Fatalf("argon2 override failed: %+v", cfg.Params)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := map[string]string{
		"QUILL_CREDENTIAL_HASH":   "md5",
		"QUILL_BCRYPT_COST":       "3",
		"QUILL_PASSWORD_MIN_LEN":  "x",
		"QUILL_ARGON2_ITERATIONS": "0",
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv(k, v)
			if _, err := FromEnv(); err == nil {
				t.Fatalf("expected error for %s=%q", k, v)
			}
		})
	}
}

func TestFromEnv_MinGreaterThanMax(t *testing.T) {
	t.Setenv("QUILL_PASSWORD_MIN_LEN", "50")
	t.Setenv("QUILL_PASSWORD_MAX_LEN", "20")

	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewHasher_Unknown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Algorithm = "scrypt"
	if _, err := NewHasher(cfg); !errors.Is(err, ErrUnknownAlgorithm) {
		t.Fatalf("expected ErrUnknownAlgorithm, got %v", err)
	}
}
