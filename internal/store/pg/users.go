package pg

import (
	"context"
	"database/sql"
	"errors"

	"codemingle.dev/internal/auth"
	"codemingle.dev/internal/ids"
)

const userColumns = `u.id, u.email, u.first_name, u.last_name, u.role_id, u.created_at, u.updated_at`

type userStore struct{ db *sql.DB }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner, extra ...any) (*auth.User, error) {
	var u auth.User
	dest := append([]any{&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.RoleID, &u.CreatedAt, &u.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, classify(err)
	}
	return &u, nil
}

func (s *userStore) Create(ctx context.Context, c *auth.Credential) error {
	if c.ID == "" {
		c.ID = ids.New()
	}
	err := s.db.QueryRowContext(ctx, `
		insert into users (id, email, password_hash, first_name, last_name, role_id)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at, updated_at
	`, c.ID, c.Email, nullIfEmpty(c.PasswordHash), c.FirstName, c.LastName, c.RoleID).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return auth.ErrEmailAlreadyExists
			case pgErrForeignKeyViolation:
				return auth.ErrNotFound
			}
		}
		return classify(err)
	}
	return nil
}

func (s *userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users u where u.id = $1`, id)
	return scanUser(row)
}

func (s *userStore) FindCredential(ctx context.Context, id string) (*auth.Credential, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+`, u.password_hash from users u where u.id = $1`, id)
	return scanCredential(row)
}

func (s *userStore) FindCredentialByEmail(ctx context.Context, email string) (*auth.Credential, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+`, u.password_hash from users u where u.email = $1`, email)
	return scanCredential(row)
}

func scanCredential(row rowScanner) (*auth.Credential, error) {
	var hash sql.NullString
	u, err := scanUser(row, &hash)
	if err != nil {
		return nil, err
	}
	return &auth.Credential{User: *u, PasswordHash: hash.String}, nil
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash = $2, updated_at = now() where id = $1`,
		userID, passwordHash)
	return affectedOne(res, err)
}

func (s *userStore) UpdateRole(ctx context.Context, userID, roleID string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set role_id = $2, updated_at = now() where id = $1`,
		userID, roleID)
	if isPgCode(err, pgErrForeignKeyViolation) {
		return auth.ErrNotFound
	}
	return affectedOne(res, err)
}

// Delete removes the account. Key store, identity and reset rows cascade.
func (s *userStore) Delete(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, userID)
	return affectedOne(res, err)
}

func (s *userStore) FindByIdentity(ctx context.Context, provider, providerID string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from user_identities i
		join users u on u.id = i.user_id
		where i.provider = $1 and i.provider_id = $2
	`, provider, providerID)
	return scanUser(row)
}

func (s *userStore) LinkIdentity(ctx context.Context, userID, provider, providerID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_identities (provider, provider_id, user_id)
		values ($1, $2, $3)
		on conflict (provider, provider_id) do update set user_id = excluded.user_id
	`, provider, providerID, userID)
	if isPgCode(err, pgErrForeignKeyViolation) {
		return auth.ErrNotFound
	}
	return classify(err)
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
