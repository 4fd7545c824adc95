package pg

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"

	"codemingle.dev/internal/auth"
)

type secretStore struct{ db *sql.DB }

// Upsert is a single statement so concurrent logins never leave two rows.
func (s *secretStore) Upsert(ctx context.Context, userID string, pair auth.SecretPair) error {
	_, err := s.db.ExecContext(ctx, `
		insert into key_stores (user_id, access_secret, refresh_secret, updated_at)
		values ($1, $2, $3, now())
		on conflict (user_id) do update
		set access_secret = excluded.access_secret,
		    refresh_secret = excluded.refresh_secret,
		    updated_at = now()
	`, userID, pair.AccessSecret, pair.RefreshSecret)
	if isPgCode(err, pgErrForeignKeyViolation) {
		return auth.ErrNotFound
	}
	return classify(err)
}

func (s *secretStore) Swap(ctx context.Context, userID, currentRefresh string, next auth.SecretPair) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	var stored string
	err = tx.QueryRowContext(ctx,
		`select refresh_secret from key_stores where user_id = $1 for update`, userID,
	).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNoActiveSession
	}
	if err != nil {
		return classify(err)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(currentRefresh)) != 1 {
		return auth.ErrStaleToken
	}
	if _, err := tx.ExecContext(ctx, `
		update key_stores
		set access_secret = $2, refresh_secret = $3, updated_at = now()
		where user_id = $1
	`, userID, next.AccessSecret, next.RefreshSecret); err != nil {
		return classify(err)
	}
	return classify(tx.Commit())
}

func (s *secretStore) Get(ctx context.Context, userID string) (auth.SecretPair, error) {
	var pair auth.SecretPair
	err := s.db.QueryRowContext(ctx,
		`select access_secret, refresh_secret from key_stores where user_id = $1`, userID,
	).Scan(&pair.AccessSecret, &pair.RefreshSecret)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.SecretPair{}, auth.ErrNoActiveSession
	}
	if err != nil {
		return auth.SecretPair{}, classify(err)
	}
	return pair, nil
}

func (s *secretStore) Delete(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `delete from key_stores where user_id = $1`, userID)
	return classify(err)
}
