package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Supported password hashing algorithms.
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// Argon2id parameters, OWASP recommendation.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 1
	argonKeyLen  = 32
	argonSaltLen = 16
)

var errEmptyPassword = errors.New("password is empty")

// PasswordHasher hashes new passwords and verifies stored hashes.
type PasswordHasher interface {
	Hash(password string) (string, error)
	// Verify returns ErrInvalidCredentials when password does not match hash.
	Verify(hash, password string) error
}

// NewPasswordHasher returns a hasher that produces hashes with algorithm and
// verifies hashes of every supported algorithm, so switching algorithms does
// not lock out existing accounts. cost is the bcrypt work factor; argon2id
// always uses the fixed argon* parameters and ignores it.
func NewPasswordHasher(algorithm string, cost int) (PasswordHasher, error) {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "", AlgorithmBcrypt:
		if cost == 0 {
			cost = bcrypt.DefaultCost
		}
		if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			return nil, fmt.Errorf("%w: bcrypt cost %d out of range", ErrInvalidInput, cost)
		}
		return passwordHasher{primary: AlgorithmBcrypt, cost: cost}, nil
	case AlgorithmArgon2id:
		return passwordHasher{primary: AlgorithmArgon2id}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported password algorithm %q", ErrInvalidInput, algorithm)
	}
}

type passwordHasher struct {
	primary string
	cost    int
}

func (h passwordHasher) Hash(password string) (string, error) {
	if len(password) == 0 {
		return "", errEmptyPassword
	}
	if h.primary == AlgorithmArgon2id {
		return hashArgon2id(password)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (h passwordHasher) Verify(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	if strings.HasPrefix(hash, "$argon2id$") {
		ok, err := verifyArgon2id(password, hash)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidCredentials
		}
		return nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrInvalidCredentials
	}
	return err
}

// hashArgon2id returns the PHC string form:
// $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
func hashArgon2id(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

func verifyArgon2id(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != AlgorithmArgon2id {
		return false, errors.New("invalid argon2id hash format")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("parse version: %w", err)
	}
	var (
		memory, iterations uint32
		threads            uint8
	)
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false, fmt.Errorf("parse parameters: %w", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}
	got := argon2.IDKey([]byte(password), salt, iterations, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}
