package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// secretBytes is the entropy of every bound secret (256 bits).
const secretBytes = 32

// KeyStore mints and revokes the per-user secret pair that binds issued
// tokens to a session. Revoking a session means replacing or deleting the
// row; tokens carrying the old secrets then verify as stale.
type KeyStore struct {
	store  Store
	random io.Reader
}

// NewKeyStore constructs the key store service.
func NewKeyStore(store Store) (*KeyStore, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	return &KeyStore{store: store, random: rand.Reader}, nil
}

// Issue generates a fresh pair and replaces any existing row for userID.
func (k *KeyStore) Issue(ctx context.Context, userID string) (SecretPair, error) {
	if strings.TrimSpace(userID) == "" {
		return SecretPair{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	pair, err := k.generate()
	if err != nil {
		return SecretPair{}, err
	}
	if err := k.store.Secrets(ctx).Upsert(ctx, userID, pair); err != nil {
		return SecretPair{}, err
	}
	return pair, nil
}

// Rotate replaces the row for userID, provided its refresh secret still
// equals currentRefresh. Of two concurrent rotations presenting the same
// refresh secret only one succeeds; the other gets ErrStaleToken.
func (k *KeyStore) Rotate(ctx context.Context, userID, currentRefresh string) (SecretPair, error) {
	if strings.TrimSpace(userID) == "" {
		return SecretPair{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	pair, err := k.generate()
	if err != nil {
		return SecretPair{}, err
	}
	if err := k.store.Secrets(ctx).Swap(ctx, userID, currentRefresh, pair); err != nil {
		return SecretPair{}, err
	}
	return pair, nil
}

// Get returns ErrNoActiveSession when the user has no row.
func (k *KeyStore) Get(ctx context.Context, userID string) (SecretPair, error) {
	return k.store.Secrets(ctx).Get(ctx, userID)
}

// Clear deletes the row. Clearing an empty key store is not an error.
func (k *KeyStore) Clear(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return k.store.Secrets(ctx).Delete(ctx, userID)
}

func (k *KeyStore) generate() (SecretPair, error) {
	access, err := randomToken(k.random)
	if err != nil {
		return SecretPair{}, err
	}
	refresh, err := randomToken(k.random)
	if err != nil {
		return SecretPair{}, err
	}
	return SecretPair{AccessSecret: access, RefreshSecret: refresh}, nil
}

func randomToken(r io.Reader) (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
