package pg

import (
	"context"
	"database/sql"
	"errors"

	"codemingle.dev/internal/auth"
	"codemingle.dev/internal/ids"
)

type roleStore struct{ db *sql.DB }

func (s *roleStore) Ensure(ctx context.Context, role *auth.Role) error {
	if role.ID == "" {
		role.ID = ids.New()
	}
	err := s.db.QueryRowContext(ctx, `
		insert into roles (id, name, display_name)
		values ($1, $2, $3)
		on conflict (name) do update
		set display_name = coalesce(nullif(excluded.display_name, ''), roles.display_name)
		returning id, name, display_name, created_at
	`, role.ID, role.Name, role.DisplayName).Scan(&role.ID, &role.Name, &role.DisplayName, &role.CreatedAt)
	return classify(err)
}

func (s *roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	return s.findOne(ctx, `where id = $1`, id)
}

func (s *roleStore) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	return s.findOne(ctx, `where name = $1`, name)
}

func (s *roleStore) findOne(ctx context.Context, where string, arg string) (*auth.Role, error) {
	var r auth.Role
	err := s.db.QueryRowContext(ctx,
		`select id, name, display_name, created_at from roles `+where, arg,
	).Scan(&r.ID, &r.Name, &r.DisplayName, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return &r, nil
}

func (s *roleStore) List(ctx context.Context) ([]auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `select id, name, display_name, created_at from roles order by name`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []auth.Role
	for rows.Next() {
		var r auth.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.DisplayName, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (s *roleStore) EnsurePermissions(ctx context.Context, perms []auth.Permission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range perms {
		if _, err := tx.ExecContext(ctx, `
			insert into permissions (resource, action)
			values ($1, $2)
			on conflict (resource, action) do nothing
		`, string(p.Resource), string(p.Action)); err != nil {
			return classify(err)
		}
	}
	return classify(tx.Commit())
}

// SetPermissions replaces every grant of roleID in one transaction.
func (s *roleStore) SetPermissions(ctx context.Context, roleID string, perms []auth.Permission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	var dummy int
	if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1 for update`, roleID).Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.ErrNotFound
		}
		return classify(err)
	}
	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return classify(err)
	}
	for _, p := range perms {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, resource, action)
			values ($1, $2, $3)
			on conflict do nothing
		`, roleID, string(p.Resource), string(p.Action)); err != nil {
			if isPgCode(err, pgErrForeignKeyViolation) {
				return auth.ErrNotFound
			}
			return classify(err)
		}
	}
	return classify(tx.Commit())
}

func (s *roleStore) PermissionsForRole(ctx context.Context, roleID string) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select resource, action
		from role_permissions
		where role_id = $1
		order by resource, action
	`, roleID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []auth.Permission
	for rows.Next() {
		var resource, action string
		if err := rows.Scan(&resource, &action); err != nil {
			return nil, err
		}
		out = append(out, auth.Permission{Resource: auth.Resource(resource), Action: auth.Action(action)})
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}
