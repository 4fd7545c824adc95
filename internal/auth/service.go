package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// PasswordResetMail is handed to the Mailer after a reset was requested.
// Link embeds the raw token and must not be logged.
type PasswordResetMail struct {
	UserID    string
	Email     string
	Link      string
	ExpiresAt time.Time
}

// Mailer delivers password reset links.
type Mailer interface {
	SendPasswordReset(ctx context.Context, msg PasswordResetMail) error
}

type discardMailer struct{}

func (discardMailer) SendPasswordReset(context.Context, PasswordResetMail) error { return nil }

// Service wires the credential, key store, ledger, resolver and token
// components into the session flows.
type Service struct {
	store Store
	now   func() time.Time

	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	keyID      string
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	resetTTL   time.Duration

	hasher          PasswordHasher
	permissionTTL   time.Duration
	livePermissions bool
	mailer          Mailer
	resetLinkBase   string
	logger          *zap.Logger

	credentials *Credentials
	keys        *KeyStore
	ledger      *ResetLedger
	resolver    *PermissionResolver
	tokens      *TokenIssuer
	verifier    *TokenVerifier
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithRS256Keys configures RSA keys from PEM text.
func WithRS256Keys(privatePEM, publicPEM string) ServiceOption {
	return func(s *Service) error {
		priv, pub, err := ParseRSAKeys([]byte(privatePEM), []byte(publicPEM))
		if err != nil {
			return err
		}
		s.privateKey, s.publicKey = priv, pub
		return nil
	}
}

// WithRSAKeys configures already parsed keys.
func WithRSAKeys(priv *rsa.PrivateKey, pub *rsa.PublicKey) ServiceOption {
	return func(s *Service) error {
		if priv == nil || pub == nil {
			return errors.New("auth: both private and public keys are required")
		}
		s.privateKey, s.publicKey = priv, pub
		return nil
	}
}

// WithKeyID sets the key identifier embedded into JWT headers.
func WithKeyID(kid string) ServiceOption {
	return func(s *Service) error {
		s.keyID = strings.TrimSpace(kid)
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		s.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAudience overrides the token audience claim.
func WithAudience(audience string) ServiceOption {
	return func(s *Service) error {
		s.audience = strings.TrimSpace(audience)
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithResetTTL configures how long password reset tokens stay redeemable.
func WithResetTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.resetTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithPasswordHasher replaces the default bcrypt hasher.
func WithPasswordHasher(h PasswordHasher) ServiceOption {
	return func(s *Service) error {
		if h != nil {
			s.hasher = h
		}
		return nil
	}
}

// WithPermissionCache memoizes resolved role permissions for ttl.
func WithPermissionCache(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		s.permissionTTL = ttl
		return nil
	}
}

// WithLivePermissionChecks resolves access token permissions from the
// database on every verification instead of trusting the token snapshot.
func WithLivePermissionChecks(enabled bool) ServiceOption {
	return func(s *Service) error {
		s.livePermissions = enabled
		return nil
	}
}

// WithMailer sets the collaborator receiving password reset links.
func WithMailer(m Mailer) ServiceOption {
	return func(s *Service) error {
		if m != nil {
			s.mailer = m
		}
		return nil
	}
}

// WithResetLinkBase sets the URL the raw reset token is appended to.
func WithResetLinkBase(base string) ServiceOption {
	return func(s *Service) error {
		s.resetLinkBase = strings.TrimSpace(base)
		return nil
	}
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// NewService constructs Service with optional configuration. RSA keys are
// required.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	svc := &Service{
		store:      store,
		now:        time.Now,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		resetTTL:   defaultResetTTL,
		mailer:     discardMailer{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if svc.privateKey == nil || svc.publicKey == nil {
		return nil, fmt.Errorf("%w: rsa keys are required", ErrNotConfigured)
	}
	if svc.accessTTL >= svc.refreshTTL {
		return nil, fmt.Errorf("%w: access ttl must be shorter than refresh ttl", ErrInvalidInput)
	}
	if svc.hasher == nil {
		h, err := NewPasswordHasher(AlgorithmBcrypt, 0)
		if err != nil {
			return nil, err
		}
		svc.hasher = h
	}

	var err error
	if svc.credentials, err = NewCredentials(store, svc.hasher); err != nil {
		return nil, err
	}
	if svc.keys, err = NewKeyStore(store); err != nil {
		return nil, err
	}
	if svc.ledger, err = NewResetLedger(store, svc.resetTTL, svc.now); err != nil {
		return nil, err
	}
	svc.resolver = NewPermissionResolver(store, svc.permissionTTL)

	cfg := TokenConfig{
		Issuer:     svc.issuer,
		Audience:   svc.audience,
		KeyID:      svc.keyID,
		AccessTTL:  svc.accessTTL,
		RefreshTTL: svc.refreshTTL,
		Now:        svc.now,
	}
	if svc.tokens, err = NewTokenIssuer(svc.privateKey, cfg); err != nil {
		return nil, err
	}
	var vopts []VerifierOption
	if svc.livePermissions {
		vopts = append(vopts, WithLivePermissions(svc.resolver))
	}
	if svc.verifier, err = NewTokenVerifier(svc.publicKey, store, cfg, vopts...); err != nil {
		return nil, err
	}
	return svc, nil
}

// AccessTTL returns the access token validity window.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL returns the refresh token validity window.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// Credentials exposes the credential store service.
func (s *Service) Credentials() *Credentials { return s.credentials }

// KeyStore exposes the key store service.
func (s *Service) KeyStore() *KeyStore { return s.keys }

// Ledger exposes the password reset ledger.
func (s *Service) Ledger() *ResetLedger { return s.ledger }

// Resolver exposes the permission resolver.
func (s *Service) Resolver() *PermissionResolver { return s.resolver }

// Issuer exposes the token issuer.
func (s *Service) Issuer() *TokenIssuer { return s.tokens }

// Verifier exposes the token verifier.
func (s *Service) Verifier() *TokenVerifier { return s.verifier }

// EnsureBuiltins seeds the permission catalog and the built-in roles. Roles
// that already carry grants keep them.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	seeded, err := SeedBuiltins(ctx, s.store.Roles(ctx))
	for _, id := range seeded {
		s.resolver.Invalidate(id)
	}
	return err
}

// SeedBuiltins upserts BuiltinPermissions and BuiltinRoles into roles and
// returns the IDs of roles whose grants were written. It is idempotent.
func SeedBuiltins(ctx context.Context, roles RoleStore) ([]string, error) {
	if err := roles.EnsurePermissions(ctx, BuiltinPermissions); err != nil {
		return nil, fmt.Errorf("ensure permissions: %w", err)
	}
	var seeded []string
	for _, b := range BuiltinRoles {
		role := &Role{Name: b.Name, DisplayName: b.DisplayName}
		if err := roles.Ensure(ctx, role); err != nil {
			return seeded, fmt.Errorf("ensure role %s: %w", b.Name, err)
		}
		existing, err := roles.PermissionsForRole(ctx, role.ID)
		if err != nil {
			return seeded, err
		}
		if len(existing) > 0 {
			continue
		}
		if err := roles.SetPermissions(ctx, role.ID, b.Permissions); err != nil {
			return seeded, fmt.Errorf("grant role %s: %w", b.Name, err)
		}
		seeded = append(seeded, role.ID)
	}
	return seeded, nil
}

// Roles lists the seeded roles.
func (s *Service) Roles(ctx context.Context) ([]Role, error) {
	return s.store.Roles(ctx).List(ctx)
}

// User loads an account by ID.
func (s *Service) User(ctx context.Context, userID string) (*User, error) {
	return s.store.Users(ctx).Find(ctx, userID)
}

// SetRolePermissions replaces the grants of roleID. Principals observe the
// change at their next refresh unless live permission checks are enabled.
func (s *Service) SetRolePermissions(ctx context.Context, roleID string, perms []string) (PermissionSet, error) {
	set, err := ParsePermissionSet(perms)
	if err != nil {
		return PermissionSet{}, err
	}
	roles := s.store.Roles(ctx)
	if _, err := roles.Find(ctx, roleID); err != nil {
		return PermissionSet{}, err
	}
	list := set.Permissions()
	if err := roles.EnsurePermissions(ctx, list); err != nil {
		return PermissionSet{}, err
	}
	if err := roles.SetPermissions(ctx, roleID, list); err != nil {
		return PermissionSet{}, err
	}
	s.resolver.Invalidate(roleID)
	return set, nil
}

// AssignRole moves userID to roleID.
func (s *Service) AssignRole(ctx context.Context, userID, roleID string) error {
	if _, err := s.store.Roles(ctx).Find(ctx, roleID); err != nil {
		return err
	}
	return s.store.Users(ctx).UpdateRole(ctx, userID, roleID)
}

// PurgeExpiredResets removes stale ledger rows.
func (s *Service) PurgeExpiredResets(ctx context.Context) (int64, error) {
	return s.ledger.PurgeExpired(ctx)
}
