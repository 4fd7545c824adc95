package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"codemingle.dev/internal/ids"
)

const defaultResetTTL = time.Hour

// ResetLedger issues and consumes one-shot password reset tokens.
type ResetLedger struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	random io.Reader
}

// NewResetLedger constructs the ledger. A non-positive ttl selects one hour.
func NewResetLedger(store Store, ttl time.Duration, now func() time.Time) (*ResetLedger, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if ttl <= 0 {
		ttl = defaultResetTTL
	}
	if now == nil {
		now = time.Now
	}
	return &ResetLedger{store: store, ttl: ttl, now: now, random: rand.Reader}, nil
}

// HashResetToken returns the ledger key of a raw token. The raw token is
// 256 random bits, so a fast deterministic hash suffices and keeps the
// lookup on an index.
func HashResetToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Issue stores a new unused row for userID and returns the raw token. The
// raw token is never persisted.
func (l *ResetLedger) Issue(ctx context.Context, userID string) (string, PasswordResetToken, error) {
	if strings.TrimSpace(userID) == "" {
		return "", PasswordResetToken{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	raw, err := randomToken(l.random)
	if err != nil {
		return "", PasswordResetToken{}, err
	}
	now := l.now().UTC()
	tok := PasswordResetToken{
		ID:        ids.New(),
		UserID:    userID,
		TokenHash: HashResetToken(raw),
		ExpiresAt: now.Add(l.ttl),
		CreatedAt: now,
	}
	if err := l.store.Resets(ctx).Create(ctx, &tok); err != nil {
		return "", PasswordResetToken{}, err
	}
	return raw, tok, nil
}

// Consume redeems raw and stores passwordHash for its owner. Malformed,
// unknown, expired and already used tokens are indistinguishable.
func (l *ResetLedger) Consume(ctx context.Context, raw, passwordHash string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || passwordHash == "" {
		return "", ErrInvalidOrExpiredToken
	}
	userID, err := l.store.Resets(ctx).Consume(ctx, HashResetToken(raw), l.now().UTC(), passwordHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrInvalidOrExpiredToken
		}
		return "", err
	}
	return userID, nil
}

// PurgeExpired removes rows whose expiry lies one validity window in the past.
func (l *ResetLedger) PurgeExpired(ctx context.Context) (int64, error) {
	return l.store.Resets(ctx).PurgeExpired(ctx, l.now().UTC().Add(-l.ttl))
}
