package auth

import "time"

// Built-in role names seeded at deploy time.
const (
	RoleAdmin     = "ADMIN"
	RoleModerator = "MODERATOR"
	RoleUser      = "USER"
)

// Profile carries the caller supplied fields of a new account.
type Profile struct {
	Email     string
	FirstName string
	LastName  string
}

// User is an account identity. The password hash never leaves the
// credential layer, see Credential.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	RoleID    string    `json:"roleId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Credential is a user together with its stored password hash. Only
// repositories and the Credentials service handle it.
type Credential struct {
	User
	PasswordHash string
}

// HasPassword reports whether the account can sign in with a password.
// Accounts created through an external provider have no hash.
func (c Credential) HasPassword() bool { return c.PasswordHash != "" }

// Role groups permissions.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RolePermission links roles to permissions.
type RolePermission struct {
	RoleID     string
	Permission Permission
}

// SecretPair is the per-user key store row. The values are bound into issued
// tokens and compared on every verification.
type SecretPair struct {
	AccessSecret  string
	RefreshSecret string
}

// PasswordResetToken is a ledger row. Only the hash of the raw token is kept.
type PasswordResetToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// ExternalIdentity is a verified (email, provider subject) pair handed over by
// an OAuth provider exchange.
type ExternalIdentity struct {
	Provider   string
	ProviderID string
	Email      string
	FirstName  string
	LastName   string
}

// Purpose distinguishes access tokens from refresh tokens.
type Purpose string

const (
	PurposeAccess  Purpose = "access"
	PurposeRefresh Purpose = "refresh"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == PurposeAccess || p == PurposeRefresh
}

// TokenPair represents access and refresh tokens along with their expirations.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
