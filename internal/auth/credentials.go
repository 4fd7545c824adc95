package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Credentials authenticates accounts. Password hashes stay inside it: every
// exported method returns User values only.
type Credentials struct {
	store  Store
	hasher PasswordHasher

	dummyOnce sync.Once
	dummyHash string
}

// NewCredentials constructs the credential store service.
func NewCredentials(store Store, hasher PasswordHasher) (*Credentials, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if hasher == nil {
		return nil, errors.New("auth: password hasher is required")
	}
	return &Credentials{store: store, hasher: hasher}, nil
}

// HashPassword hashes a plaintext password with the configured algorithm.
func (c *Credentials) HashPassword(password string) (string, error) {
	return c.hasher.Hash(password)
}

// CreateUser stores a new account with an already hashed password.
func (c *Credentials) CreateUser(ctx context.Context, profile Profile, passwordHash, roleID string) (User, error) {
	profile, err := normalizeProfile(profile)
	if err != nil {
		return User{}, err
	}
	if strings.TrimSpace(roleID) == "" {
		return User{}, fmt.Errorf("%w: role is required", ErrInvalidInput)
	}
	cred := &Credential{
		User: User{
			Email:     profile.Email,
			FirstName: profile.FirstName,
			LastName:  profile.LastName,
			RoleID:    roleID,
		},
		PasswordHash: passwordHash,
	}
	if err := c.store.Users(ctx).Create(ctx, cred); err != nil {
		return User{}, err
	}
	return cred.User, nil
}

// FindByEmail returns ErrNotFound when no account uses email.
func (c *Credentials) FindByEmail(ctx context.Context, email string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrNotFound
	}
	cred, err := c.store.Users(ctx).FindCredentialByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	u := cred.User
	return &u, nil
}

// Authenticate checks email and password. Unknown accounts, passwordless
// accounts and wrong passwords all yield ErrInvalidCredentials, and the
// unknown-account path still pays for one hash comparison.
func (c *Credentials) Authenticate(ctx context.Context, email, password string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		c.burn(password)
		return nil, ErrInvalidCredentials
	}
	cred, err := c.store.Users(ctx).FindCredentialByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.burn(password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !cred.HasPassword() {
		c.burn(password)
		return nil, ErrInvalidCredentials
	}
	if err := c.hasher.Verify(cred.PasswordHash, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("verify password: %w", err)
	}
	u := cred.User
	return &u, nil
}

// CheckPassword verifies the current password of a known account.
func (c *Credentials) CheckPassword(ctx context.Context, userID, password string) error {
	cred, err := c.store.Users(ctx).FindCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	if !cred.HasPassword() {
		return ErrInvalidCredentials
	}
	return c.hasher.Verify(cred.PasswordHash, password)
}

// UpdatePassword replaces the stored hash.
func (c *Credentials) UpdatePassword(ctx context.Context, userID, newHash string) error {
	if strings.TrimSpace(userID) == "" || newHash == "" {
		return fmt.Errorf("%w: user_id and hash are required", ErrInvalidInput)
	}
	return c.store.Users(ctx).UpdatePassword(ctx, userID, newHash)
}

func (c *Credentials) burn(password string) {
	c.dummyOnce.Do(func() {
		c.dummyHash, _ = c.hasher.Hash("codemingle-dummy-password")
	})
	if c.dummyHash != "" {
		_ = c.hasher.Verify(c.dummyHash, password)
	}
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func normalizeProfile(p Profile) (Profile, error) {
	p.Email = normalizeEmail(p.Email)
	if p.Email == "" || !strings.Contains(p.Email, "@") {
		return Profile{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	return p, nil
}
