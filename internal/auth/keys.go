package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultKeyBits is the modulus size used by GenerateRSAKeyPEM.
const DefaultKeyBits = 2048

// ParseRSAKeys parses a PEM encoded key pair. PKCS#1 and PKCS#8 private keys
// and PKIX or PKCS#1 public keys are accepted.
func ParseRSAKeys(privatePEM, publicPEM []byte) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	if len(strings.TrimSpace(string(privatePEM))) == 0 || len(strings.TrimSpace(string(publicPEM))) == 0 {
		return nil, nil, errors.New("auth: both private and public keys are required")
	}
	priv, err := jwt.ParseRSAPrivateKeyFromPEM(privatePEM)
	if err != nil {
		return nil, nil, fmt.Errorf("auth: parse private key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(publicPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	if priv.PublicKey.N.Cmp(pub.N) != 0 || priv.PublicKey.E != pub.E {
		return nil, nil, errors.New("auth: public key does not match private key")
	}
	return priv, pub, nil
}

// LoadRSAKeys reads and parses the key pair from disk.
func LoadRSAKeys(privatePath, publicPath string) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	privatePEM, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, nil, fmt.Errorf("auth: read private key: %w", err)
	}
	publicPEM, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, nil, fmt.Errorf("auth: read public key: %w", err)
	}
	return ParseRSAKeys(privatePEM, publicPEM)
}

// GenerateRSAKeyPEM creates a new key pair encoded as PKCS#8 and PKIX PEM.
func GenerateRSAKeyPEM(bits int) (privatePEM, publicPEM []byte, err error) {
	if bits == 0 {
		bits = DefaultKeyBits
	}
	if bits < 2048 {
		return nil, nil, fmt.Errorf("%w: rsa key size %d below 2048", ErrInvalidInput, bits)
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, err
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	privatePEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	publicPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return privatePEM, publicPEM, nil
}
