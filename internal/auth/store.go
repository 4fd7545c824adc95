package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
// Implementations live in internal/store/pg and internal/store/memory.
type Store interface {
	Users(ctx context.Context) UserStore
	Roles(ctx context.Context) RoleStore
	Secrets(ctx context.Context) SecretStore
	Resets(ctx context.Context) ResetStore
}

// UserStore manages accounts and their credentials.
type UserStore interface {
	// Create inserts the account. A duplicate email yields ErrEmailAlreadyExists.
	Create(ctx context.Context, c *Credential) error
	Find(ctx context.Context, id string) (*User, error)
	FindCredential(ctx context.Context, id string) (*Credential, error)
	FindCredentialByEmail(ctx context.Context, email string) (*Credential, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	UpdateRole(ctx context.Context, userID, roleID string) error
	Delete(ctx context.Context, userID string) error
	FindByIdentity(ctx context.Context, provider, providerID string) (*User, error)
	LinkIdentity(ctx context.Context, userID, provider, providerID string) error
}

// RoleStore manages roles and the role to permission join.
type RoleStore interface {
	// Ensure upserts role by name and fills in its ID.
	Ensure(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]Role, error)
	EnsurePermissions(ctx context.Context, perms []Permission) error
	SetPermissions(ctx context.Context, roleID string, perms []Permission) error
	PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error)
}

// SecretStore persists at most one SecretPair per user.
type SecretStore interface {
	// Upsert atomically replaces any existing row for userID.
	Upsert(ctx context.Context, userID string, pair SecretPair) error
	// Swap replaces the row only if its refresh secret still equals
	// currentRefresh. It returns ErrNoActiveSession when no row exists and
	// ErrStaleToken when the row has already moved on.
	Swap(ctx context.Context, userID, currentRefresh string, next SecretPair) error
	// Get returns ErrNoActiveSession when no row exists.
	Get(ctx context.Context, userID string) (SecretPair, error)
	// Delete is idempotent.
	Delete(ctx context.Context, userID string) error
}

// ResetStore is the password reset ledger.
type ResetStore interface {
	Create(ctx context.Context, tok *PasswordResetToken) error
	FindByHash(ctx context.Context, tokenHash string) (*PasswordResetToken, error)
	// Consume looks up an unexpired, unused row by hash, stores the new
	// password hash for its user and marks the row used, all in one
	// transaction. Any failed precondition yields ErrInvalidOrExpiredToken.
	Consume(ctx context.Context, tokenHash string, now time.Time, passwordHash string) (userID string, err error)
	// PurgeExpired deletes rows that expired before cutoff and used rows
	// created before cutoff.
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
