package auth

import (
	"context"
	"crypto/rsa"
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier checks signature, expiry and session binding of tokens.
type TokenVerifier struct {
	cfg   TokenConfig
	key   *rsa.PublicKey
	store Store
	live  *PermissionResolver
}

// VerifierOption configures TokenVerifier behavior.
type VerifierOption func(*TokenVerifier)

// WithLivePermissions makes access token verification resolve permissions
// from the user's current role instead of trusting the claim snapshot.
func WithLivePermissions(resolver *PermissionResolver) VerifierOption {
	return func(v *TokenVerifier) {
		v.live = resolver
	}
}

// NewTokenVerifier constructs a verifier from the public half of the signing key.
func NewTokenVerifier(key *rsa.PublicKey, store Store, cfg TokenConfig, opts ...VerifierOption) (*TokenVerifier, error) {
	if key == nil {
		return nil, errors.New("auth: public key is required")
	}
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	v := &TokenVerifier{cfg: cfg.withDefaults(), key: key, store: store}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify accepts raw only if it is well signed for purpose, unexpired, names
// an existing user and carries the secret currently stored for that user.
// Checks run in that order and the first failure is returned.
func (v *TokenVerifier) Verify(ctx context.Context, raw string, purpose Purpose) (Principal, error) {
	p, _, err := v.verify(ctx, raw, purpose)
	return p, err
}

func (v *TokenVerifier) verify(ctx context.Context, raw string, purpose Purpose) (Principal, *Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || !purpose.Valid() {
		return Principal{}, nil, ErrInvalidSignature
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return Principal{}, nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if claims.Issuer != v.cfg.Issuer || !slices.Contains(claims.Audience, v.cfg.Audience) {
		return Principal{}, nil, fmt.Errorf("%w: issuer or audience mismatch", ErrInvalidSignature)
	}
	if claims.TokenType != purpose {
		return Principal{}, nil, fmt.Errorf("%w: token type %q", ErrInvalidSignature, claims.TokenType)
	}
	if claims.Subject == "" || claims.Param == "" || claims.ExpiresAt == nil {
		return Principal{}, nil, fmt.Errorf("%w: missing claims", ErrInvalidSignature)
	}

	if !v.cfg.Now().Before(claims.ExpiresAt.Time) {
		return Principal{}, nil, ErrExpired
	}

	user, err := v.store.Users(ctx).Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, nil, ErrUnknownSubject
		}
		return Principal{}, nil, err
	}

	pair, err := v.store.Secrets(ctx).Get(ctx, user.ID)
	if err != nil {
		return Principal{}, nil, err
	}
	expected := pair.AccessSecret
	if purpose == PurposeRefresh {
		expected = pair.RefreshSecret
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(claims.Param)) != 1 {
		return Principal{}, nil, ErrStaleToken
	}

	principal := Principal{
		UserID:    user.ID,
		RoleID:    user.RoleID,
		Purpose:   purpose,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if purpose == PurposeAccess {
		if v.live != nil {
			principal.Permissions, err = v.live.Resolve(ctx, user.RoleID)
			if err != nil {
				return Principal{}, nil, err
			}
		} else {
			principal.Permissions, err = ParsePermissionSet(claims.Permissions)
			if err != nil {
				return Principal{}, nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
			}
		}
	}
	return principal, claims, nil
}
