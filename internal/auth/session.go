package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 72
)

// Session is the outcome of a flow that mints tokens.
type Session struct {
	User      User
	Principal Principal
	Tokens    TokenPair
}

// Signup creates a USER account. No tokens are issued.
func (s *Service) Signup(ctx context.Context, profile Profile, password string) (User, error) {
	if err := validatePassword(password); err != nil {
		return User{}, err
	}
	role, err := s.store.Roles(ctx).FindByName(ctx, RoleUser)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, fmt.Errorf("%w: role %s is not seeded", ErrNotConfigured, RoleUser)
		}
		return User{}, err
	}
	hash, err := s.credentials.HashPassword(password)
	if err != nil {
		return User{}, err
	}
	user, err := s.credentials.CreateUser(ctx, profile, hash, role.ID)
	if err != nil {
		return User{}, err
	}
	s.logger.Info("user signed up", zap.String("user_id", user.ID))
	return user, nil
}

// Login authenticates email and password and starts a new session, ending
// any previous session of the same user.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.credentials.Authenticate(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.startSession(ctx, *user)
}

// LoginExternal signs in a verified external identity. The identity is
// linked to the account with the same email, or to a new passwordless USER
// account when none exists.
func (s *Service) LoginExternal(ctx context.Context, identity ExternalIdentity) (Session, error) {
	identity.Provider = strings.ToLower(strings.TrimSpace(identity.Provider))
	identity.ProviderID = strings.TrimSpace(identity.ProviderID)
	if identity.Provider == "" || identity.ProviderID == "" {
		return Session{}, fmt.Errorf("%w: provider and provider id are required", ErrInvalidInput)
	}
	users := s.store.Users(ctx)
	user, err := users.FindByIdentity(ctx, identity.Provider, identity.ProviderID)
	if err == nil {
		return s.startSession(ctx, *user)
	}
	if !errors.Is(err, ErrNotFound) {
		return Session{}, err
	}

	user, err = s.credentials.FindByEmail(ctx, identity.Email)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		role, err := s.store.Roles(ctx).FindByName(ctx, RoleUser)
		if err != nil {
			return Session{}, err
		}
		created, err := s.credentials.CreateUser(ctx, Profile{
			Email:     identity.Email,
			FirstName: identity.FirstName,
			LastName:  identity.LastName,
		}, "", role.ID)
		if err != nil {
			return Session{}, err
		}
		user = &created
	default:
		return Session{}, err
	}
	if err := users.LinkIdentity(ctx, user.ID, identity.Provider, identity.ProviderID); err != nil {
		return Session{}, err
	}
	s.logger.Info("external identity linked",
		zap.String("user_id", user.ID),
		zap.String("provider", identity.Provider))
	return s.startSession(ctx, *user)
}

// Authenticate verifies an access token.
func (s *Service) Authenticate(ctx context.Context, rawAccess string) (Principal, error) {
	p, err := s.verifier.Verify(ctx, rawAccess, PurposeAccess)
	if err != nil {
		s.logRejection("access token rejected", err)
	}
	return p, err
}

// Refresh verifies a refresh token and rotates the user's secrets. The
// presented token is stale as soon as rotation commits.
func (s *Service) Refresh(ctx context.Context, rawRefresh string) (Session, error) {
	_, claims, err := s.verifier.verify(ctx, rawRefresh, PurposeRefresh)
	if err != nil {
		s.logRejection("refresh token rejected", err)
		return Session{}, err
	}
	user, err := s.store.Users(ctx).Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrUnknownSubject
		}
		return Session{}, err
	}
	perms, err := s.resolver.Resolve(ctx, user.RoleID)
	if err != nil {
		return Session{}, err
	}
	pair, err := s.keys.Rotate(ctx, user.ID, claims.Param)
	if err != nil {
		s.logRejection("refresh rotation rejected", err)
		return Session{}, err
	}
	return s.mint(*user, perms, pair)
}

// Logout clears the user's key store row. Repeated calls succeed.
func (s *Service) Logout(ctx context.Context, userID string) error {
	return s.keys.Clear(ctx, userID)
}

// ForgotPassword records a reset token and mails its link. Unknown emails
// and mail delivery failures are not reported to the caller.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.credentials.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	raw, tok, err := s.ledger.Issue(ctx, user.ID)
	if err != nil {
		return err
	}
	msg := PasswordResetMail{
		UserID:    user.ID,
		Email:     user.Email,
		Link:      s.resetLink(raw),
		ExpiresAt: tok.ExpiresAt,
	}
	if err := s.mailer.SendPasswordReset(ctx, msg); err != nil {
		s.logger.Error("password reset mail failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	return nil
}

// ResetPassword redeems a raw reset token. Every session of the user ends.
func (s *Service) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	hash, err := s.credentials.HashPassword(newPassword)
	if err != nil {
		return err
	}
	userID, err := s.ledger.Consume(ctx, rawToken, hash)
	if err != nil {
		return err
	}
	if err := s.keys.Clear(ctx, userID); err != nil {
		s.logger.Warn("clear sessions after reset failed", zap.String("user_id", userID), zap.Error(err))
	}
	s.logger.Info("password reset", zap.String("user_id", userID))
	return nil
}

// ChangePassword replaces the password of a signed in user and starts a new
// session; tokens held by other devices become stale.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) (Session, error) {
	if err := validatePassword(next); err != nil {
		return Session{}, err
	}
	if err := s.credentials.CheckPassword(ctx, userID, current); err != nil {
		return Session{}, err
	}
	hash, err := s.credentials.HashPassword(next)
	if err != nil {
		return Session{}, err
	}
	if err := s.credentials.UpdatePassword(ctx, userID, hash); err != nil {
		return Session{}, err
	}
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.startSession(ctx, *user)
}

// DeleteAccount removes the user together with its session and ledger rows.
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	if err := s.keys.Clear(ctx, userID); err != nil {
		return err
	}
	if err := s.store.Users(ctx).Delete(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("account deleted", zap.String("user_id", userID))
	return nil
}

func (s *Service) startSession(ctx context.Context, user User) (Session, error) {
	perms, err := s.resolver.Resolve(ctx, user.RoleID)
	if err != nil {
		return Session{}, err
	}
	pair, err := s.keys.Issue(ctx, user.ID)
	if err != nil {
		return Session{}, err
	}
	return s.mint(user, perms, pair)
}

func (s *Service) mint(user User, perms PermissionSet, pair SecretPair) (Session, error) {
	access, err := s.tokens.IssueAccessToken(user, perms, pair.AccessSecret)
	if err != nil {
		return Session{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.tokens.IssueRefreshToken(user, pair.RefreshSecret)
	if err != nil {
		return Session{}, fmt.Errorf("issue refresh token: %w", err)
	}
	return Session{
		User: user,
		Principal: Principal{
			UserID:      user.ID,
			RoleID:      user.RoleID,
			Permissions: perms,
			Purpose:     PurposeAccess,
			TokenID:     access.ID,
			ExpiresAt:   access.ExpiresAt,
		},
		Tokens: TokenPair{
			AccessToken:      access.Value,
			RefreshToken:     refresh.Value,
			AccessExpiresAt:  access.ExpiresAt,
			RefreshExpiresAt: refresh.ExpiresAt,
		},
	}, nil
}

func (s *Service) resetLink(raw string) string {
	if s.resetLinkBase == "" {
		return raw
	}
	sep := "?"
	if strings.Contains(s.resetLinkBase, "?") {
		sep = "&"
	}
	return s.resetLinkBase + sep + "token=" + url.QueryEscape(raw)
}

func (s *Service) logRejection(msg string, err error) {
	if IsRoutine(err) {
		s.logger.Debug(msg, zap.String("reason", RejectionReason(err)))
		return
	}
	if errors.Is(err, ErrDatabaseUnavailable) {
		s.logger.Error(msg, zap.Error(err))
		return
	}
	s.logger.Info(msg, zap.String("reason", RejectionReason(err)))
}

func validatePassword(pw string) error {
	if len(pw) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	if len(pw) > maxPasswordLength {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidInput, maxPasswordLength)
	}
	return nil
}
