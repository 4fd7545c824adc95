package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"codemingle.dev/internal/auth"
	"codemingle.dev/internal/ids"
)

type resetStore struct{ db *sql.DB }

func (s *resetStore) Create(ctx context.Context, tok *auth.PasswordResetToken) error {
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	err := s.db.QueryRowContext(ctx, `
		insert into password_reset_tokens (id, user_id, token_hash, expires_at, used)
		values ($1, $2, $3, $4, false)
		returning created_at
	`, tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt).Scan(&tok.CreatedAt)
	if isPgCode(err, pgErrForeignKeyViolation) {
		return auth.ErrNotFound
	}
	return classify(err)
}

func (s *resetStore) FindByHash(ctx context.Context, tokenHash string) (*auth.PasswordResetToken, error) {
	var tok auth.PasswordResetToken
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, expires_at, used, created_at
		from password_reset_tokens
		where token_hash = $1
	`, tokenHash).Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.ExpiresAt, &tok.Used, &tok.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return &tok, nil
}

// Consume locks the ledger row so two concurrent resets with the same token
// cannot both succeed.
func (s *resetStore) Consume(ctx context.Context, tokenHash string, now time.Time, passwordHash string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id, userID string
		expiresAt  time.Time
		used       bool
	)
	err = tx.QueryRowContext(ctx, `
		select id, user_id, expires_at, used
		from password_reset_tokens
		where token_hash = $1
		for update
	`, tokenHash).Scan(&id, &userID, &expiresAt, &used)
	if errors.Is(err, sql.ErrNoRows) {
		return "", auth.ErrInvalidOrExpiredToken
	}
	if err != nil {
		return "", classify(err)
	}
	if used || !now.Before(expiresAt) {
		return "", auth.ErrInvalidOrExpiredToken
	}

	res, err := tx.ExecContext(ctx,
		`update users set password_hash = $2, updated_at = now() where id = $1`,
		userID, passwordHash)
	if err := affectedOne(res, err); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return "", auth.ErrInvalidOrExpiredToken
		}
		return "", err
	}
	if _, err := tx.ExecContext(ctx,
		`update password_reset_tokens set used = true where id = $1`, id); err != nil {
		return "", classify(err)
	}
	if err := tx.Commit(); err != nil {
		return "", classify(err)
	}
	return userID, nil
}

func (s *resetStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		delete from password_reset_tokens
		where expires_at < $1 or (used and created_at < $1)
	`, cutoff)
	if err != nil {
		return 0, classify(err)
	}
	return res.RowsAffected()
}
