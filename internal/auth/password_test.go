package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestPasswordHashers(t *testing.T) {
	for _, algo := range []string{AlgorithmBcrypt, AlgorithmArgon2id} {
		t.Run(algo, func(t *testing.T) {
			h, err := NewPasswordHasher(algo, 4)
			if err != nil {
				t.Fatalf("new hasher: %v", err)
			}
			hash, err := h.Hash("s3cret-pass")
			if err != nil {
				t.Fatalf("hash: %v", err)
			}
			if strings.Contains(hash, "s3cret-pass") {
				t.Fatalf("hash leaks plaintext")
			}
			if err := h.Verify(hash, "s3cret-pass"); err != nil {
				t.Fatalf("verify: %v", err)
			}
			if err := h.Verify(hash, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("expected ErrInvalidCredentials, got %v", err)
			}
			again, err := h.Hash("s3cret-pass")
			if err != nil {
				t.Fatalf("hash: %v", err)
			}
			if again == hash {
				t.Fatalf("hashes are not salted")
			}
		})
	}
}

func TestPasswordHasherVerifiesEitherAlgorithm(t *testing.T) {
	bc, err := NewPasswordHasher(AlgorithmBcrypt, 4)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	ar, err := NewPasswordHasher(AlgorithmArgon2id, 0)
	if err != nil {
		t.Fatalf("argon2id: %v", err)
	}
	legacy, err := bc.Hash("migrating")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := ar.Verify(legacy, "migrating"); err != nil {
		t.Fatalf("argon2id hasher rejected bcrypt hash: %v", err)
	}
}

func TestArgon2idIgnoresBcryptCost(t *testing.T) {
	for _, cost := range []int{0, 3, 12, 99} {
		h, err := NewPasswordHasher(AlgorithmArgon2id, cost)
		if err != nil {
			t.Fatalf("cost %d: %v", cost, err)
		}
		hash, err := h.Hash("s3cret")
		if err != nil {
			t.Fatalf("cost %d: hash: %v", cost, err)
		}
		if !strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=1$") {
			t.Fatalf("cost %d changed the argon2id parameters: %s", cost, hash)
		}
	}
}

func TestNewPasswordHasherValidates(t *testing.T) {
	if _, err := NewPasswordHasher("md5", 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for md5, got %v", err)
	}
	if _, err := NewPasswordHasher(AlgorithmBcrypt, 40); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for cost 40, got %v", err)
	}
	h, err := NewPasswordHasher(AlgorithmBcrypt, 4)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := h.Hash(""); err == nil {
		t.Fatalf("empty password hashed")
	}
}
