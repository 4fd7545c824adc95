package auth_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"codemingle.dev/internal/auth"
)

func TestSignupThenLoginCarriesUserPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := f.signup(t, "Ada@Example.com ", "correct horse")
	if user.Email != "ada@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}

	sess := f.login(t, "ada@example.com", "correct horse")
	role, err := f.store.Roles(ctx).FindByName(ctx, auth.RoleUser)
	if err != nil {
		t.Fatalf("find role: %v", err)
	}
	want, err := f.svc.Resolver().Resolve(ctx, role.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !sess.Principal.Permissions.Equal(want) {
		t.Fatalf("login permissions %v, want %v", sess.Principal.Permissions.Strings(), want.Strings())
	}

	p, err := f.svc.Authenticate(ctx, sess.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if p.UserID != user.ID || !p.Permissions.Equal(want) {
		t.Fatalf("unexpected principal %+v", p)
	}
	if !p.Can(auth.ResourcePost, auth.ActionCreate) || p.Can(auth.ResourcePost, auth.ActionDelete) {
		t.Fatalf("USER grants mismatch: %v", p.Permissions.Strings())
	}
}

func TestSignupRejectsDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.signup(t, "dup@example.com", "password-1")

	_, err := f.svc.Signup(ctx, auth.Profile{Email: "DUP@example.com"}, "password-2")
	if !errors.Is(err, auth.ErrEmailAlreadyExists) {
		t.Fatalf("expected ErrEmailAlreadyExists, got %v", err)
	}
	cred, err := f.store.Users(ctx).FindCredentialByEmail(ctx, "dup@example.com")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if cred.ID != first.ID {
		t.Fatalf("second row created: %s != %s", cred.ID, first.ID)
	}
}

func TestSignupValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"short password", "a@example.com", "short"},
		{"missing email", "", "long enough"},
		{"malformed email", "not-an-email", "long enough"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Signup(ctx, auth.Profile{Email: tc.email}, tc.password)
			if !errors.Is(err, auth.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestLoginDoesNotRevealWhichFactorFailed(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "grace@example.com", "hopper-1906")
	ctx := context.Background()

	_, errWrongPw := f.svc.Login(ctx, "grace@example.com", "wrong-password")
	_, errNoUser := f.svc.Login(ctx, "nobody@example.com", "hopper-1906")
	if !errors.Is(errWrongPw, auth.ErrInvalidCredentials) || !errors.Is(errNoUser, auth.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials twice, got %v and %v", errWrongPw, errNoUser)
	}
	if errWrongPw.Error() != errNoUser.Error() {
		t.Fatalf("messages differ: %q vs %q", errWrongPw, errNoUser)
	}
}

func TestLogoutIsIdempotentAndRevokesTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.signup(t, "l@example.com", "logout-pass")
	sess := f.login(t, "l@example.com", "logout-pass")

	if err := f.svc.Logout(ctx, user.ID); err != nil {
		t.Fatalf("first logout: %v", err)
	}
	if err := f.svc.Logout(ctx, user.ID); err != nil {
		t.Fatalf("second logout: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, sess.Tokens.AccessToken); !errors.Is(err, auth.ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	if _, err := f.svc.Refresh(ctx, sess.Tokens.RefreshToken); !errors.Is(err, auth.ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession on refresh, got %v", err)
	}
}

func TestRefreshRotatesAndOldRefreshTokenGoesStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "r@example.com", "refresh-pass")
	first := f.login(t, "r@example.com", "refresh-pass")

	f.clock.Advance(time.Minute)
	second, err := f.svc.Refresh(ctx, first.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.Tokens.RefreshToken == first.Tokens.RefreshToken {
		t.Fatalf("refresh token not rotated")
	}
	if _, err := f.svc.Refresh(ctx, first.Tokens.RefreshToken); !errors.Is(err, auth.ErrStaleToken) {
		t.Fatalf("replayed refresh: expected ErrStaleToken, got %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, first.Tokens.AccessToken); !errors.Is(err, auth.ErrStaleToken) {
		t.Fatalf("old access: expected ErrStaleToken, got %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, second.Tokens.AccessToken); err != nil {
		t.Fatalf("new access rejected: %v", err)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "p@example.com", "purpose-pass")
	sess := f.login(t, "p@example.com", "purpose-pass")
	if _, err := f.svc.Refresh(context.Background(), sess.Tokens.AccessToken); !errors.Is(err, auth.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestConcurrentRefreshOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "c@example.com", "concurrent-pass")
	sess := f.login(t, "c@example.com", "concurrent-pass")

	const n = 8
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		wins  int
		stale int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Refresh(ctx, sess.Tokens.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, auth.ErrStaleToken):
				stale++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 || stale != n-1 {
		t.Fatalf("wins=%d stale=%d", wins, stale)
	}
}

func TestSecondLoginInvalidatesFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "s@example.com", "single-pass")
	first := f.login(t, "s@example.com", "single-pass")
	second := f.login(t, "s@example.com", "single-pass")

	if _, err := f.svc.Authenticate(ctx, first.Tokens.AccessToken); !errors.Is(err, auth.ErrStaleToken) {
		t.Fatalf("first access: expected ErrStaleToken, got %v", err)
	}
	if _, err := f.svc.Refresh(ctx, first.Tokens.RefreshToken); !errors.Is(err, auth.ErrStaleToken) {
		t.Fatalf("first refresh: expected ErrStaleToken, got %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, second.Tokens.AccessToken); err != nil {
		t.Fatalf("second access rejected: %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t, auth.WithResetLinkBase("https://codemingle.dev/reset"))
	ctx := context.Background()
	user := f.signup(t, "user@x.com", "old-password")
	sess := f.login(t, "user@x.com", "old-password")

	before, err := f.store.Users(ctx).FindCredential(ctx, user.ID)
	if err != nil {
		t.Fatalf("credential: %v", err)
	}

	if err := f.svc.ForgotPassword(ctx, "user@x.com"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	msg := f.mailer.last(t)
	if msg.UserID != user.ID || msg.Email != "user@x.com" {
		t.Fatalf("unexpected mail %+v", msg)
	}
	if !strings.HasPrefix(msg.Link, "https://codemingle.dev/reset?token=") {
		t.Fatalf("unexpected link %q", msg.Link)
	}
	raw := strings.TrimPrefix(msg.Link, "https://codemingle.dev/reset?token=")

	row, err := f.store.Resets(ctx).FindByHash(ctx, auth.HashResetToken(raw))
	if err != nil {
		t.Fatalf("ledger row: %v", err)
	}
	if row.Used || row.UserID != user.ID {
		t.Fatalf("unexpected ledger row %+v", row)
	}
	if !row.ExpiresAt.Equal(f.clock.Now().Add(time.Hour)) {
		t.Fatalf("expiry %v, want now+1h", row.ExpiresAt)
	}

	if err := f.svc.ResetPassword(ctx, raw, "new-password"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	after, err := f.store.Users(ctx).FindCredential(ctx, user.ID)
	if err != nil {
		t.Fatalf("credential: %v", err)
	}
	if after.PasswordHash == before.PasswordHash {
		t.Fatalf("password hash unchanged")
	}
	row, err = f.store.Resets(ctx).FindByHash(ctx, auth.HashResetToken(raw))
	if err != nil {
		t.Fatalf("ledger row: %v", err)
	}
	if !row.Used {
		t.Fatalf("ledger row not marked used")
	}

	if err := f.svc.ResetPassword(ctx, raw, "another-password"); !errors.Is(err, auth.ErrInvalidOrExpiredToken) {
		t.Fatalf("replay: expected ErrInvalidOrExpiredToken, got %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, sess.Tokens.AccessToken); !errors.Is(err, auth.ErrNoActiveSession) {
		t.Fatalf("sessions should end after reset, got %v", err)
	}
	if _, err := f.svc.Login(ctx, "user@x.com", "old-password"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("old password still accepted: %v", err)
	}
	f.login(t, "user@x.com", "new-password")
}

func TestPasswordResetRejectsExpiredAndUnknownTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "exp@example.com", "expiring-pass")
	if err := f.svc.ForgotPassword(ctx, "exp@example.com"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	raw := f.mailer.last(t).Link

	for _, tok := range []string{"", "garbage", raw + "x"} {
		if err := f.svc.ResetPassword(ctx, tok, "new-password"); !errors.Is(err, auth.ErrInvalidOrExpiredToken) {
			t.Fatalf("token %q: expected ErrInvalidOrExpiredToken, got %v", tok, err)
		}
	}

	f.clock.Advance(time.Hour)
	if err := f.svc.ResetPassword(ctx, raw, "new-password"); !errors.Is(err, auth.ErrInvalidOrExpiredToken) {
		t.Fatalf("expired: expected ErrInvalidOrExpiredToken, got %v", err)
	}

	f.clock.Advance(2 * time.Hour)
	n, err := f.svc.PurgeExpiredResets(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d rows, want 1", n)
	}
}

func TestForgotPasswordUnknownEmailIsSilent(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.ForgotPassword(context.Background(), "ghost@example.com"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if len(f.mailer.sent) != 0 {
		t.Fatalf("mail sent for unknown account")
	}
}

func TestChangePasswordEndsOtherSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.signup(t, "cp@example.com", "first-password")
	other := f.login(t, "cp@example.com", "first-password")

	if _, err := f.svc.ChangePassword(ctx, user.ID, "wrong-password", "second-password"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	sess, err := f.svc.ChangePassword(ctx, user.ID, "first-password", "second-password")
	if err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, other.Tokens.AccessToken); !errors.Is(err, auth.ErrStaleToken) {
		t.Fatalf("other device: expected ErrStaleToken, got %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, sess.Tokens.AccessToken); err != nil {
		t.Fatalf("new session rejected: %v", err)
	}
	f.login(t, "cp@example.com", "second-password")
}

func TestDeleteAccountRejectsOutstandingTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.signup(t, "del@example.com", "delete-pass")
	sess := f.login(t, "del@example.com", "delete-pass")

	if err := f.svc.DeleteAccount(ctx, user.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, sess.Tokens.AccessToken); !errors.Is(err, auth.ErrUnknownSubject) {
		t.Fatalf("expected ErrUnknownSubject, got %v", err)
	}
	if _, err := f.svc.Login(ctx, "del@example.com", "delete-pass"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("deleted account can log in: %v", err)
	}
}

func TestLoginExternalCreatesThenLinks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	identity := auth.ExternalIdentity{
		Provider:   "GitHub",
		ProviderID: "42",
		Email:      "octo@example.com",
		FirstName:  "Octo",
	}

	first, err := f.svc.LoginExternal(ctx, identity)
	if err != nil {
		t.Fatalf("first external login: %v", err)
	}
	second, err := f.svc.LoginExternal(ctx, identity)
	if err != nil {
		t.Fatalf("second external login: %v", err)
	}
	if first.User.ID != second.User.ID {
		t.Fatalf("second login created another user")
	}
	if _, err := f.svc.Login(ctx, "octo@example.com", "anything-at-all"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("passwordless account accepted a password: %v", err)
	}

	existing := f.signup(t, "linked@example.com", "linked-pass")
	linked, err := f.svc.LoginExternal(ctx, auth.ExternalIdentity{Provider: "google", ProviderID: "g-1", Email: "linked@example.com"})
	if err != nil {
		t.Fatalf("link login: %v", err)
	}
	if linked.User.ID != existing.ID {
		t.Fatalf("identity not linked to existing account")
	}

	if _, err := f.svc.LoginExternal(ctx, auth.ExternalIdentity{Provider: "github"}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRolePermissionChangeAppliesAtNextRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.signup(t, "stale@example.com", "staleness-pass")
	sess := f.login(t, "stale@example.com", "staleness-pass")

	if _, err := f.svc.SetRolePermissions(ctx, user.RoleID, []string{"post:read"}); err != nil {
		t.Fatalf("set permissions: %v", err)
	}
	p, err := f.svc.Authenticate(ctx, sess.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !p.Can(auth.ResourcePost, auth.ActionCreate) {
		t.Fatalf("snapshot should still grant POST:CREATE until refresh")
	}

	next, err := f.svc.Refresh(ctx, sess.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	p, err = f.svc.Authenticate(ctx, next.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if p.Can(auth.ResourcePost, auth.ActionCreate) || !p.Can(auth.ResourcePost, auth.ActionRead) {
		t.Fatalf("refreshed permissions %v", p.Permissions.Strings())
	}
}

func TestLivePermissionChecksSeeRoleChangesImmediately(t *testing.T) {
	f := newFixture(t, auth.WithLivePermissionChecks(true), auth.WithPermissionCache(time.Minute))
	ctx := context.Background()
	user := f.signup(t, "live@example.com", "live-check-pass")
	sess := f.login(t, "live@example.com", "live-check-pass")

	if _, err := f.svc.SetRolePermissions(ctx, user.RoleID, []string{"comment:read"}); err != nil {
		t.Fatalf("set permissions: %v", err)
	}
	p, err := f.svc.Authenticate(ctx, sess.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if p.Can(auth.ResourcePost, auth.ActionCreate) || !p.Can(auth.ResourceComment, auth.ActionRead) {
		t.Fatalf("live permissions %v", p.Permissions.Strings())
	}
}

func TestAssignRoleToAdminGrantsWildcard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.signup(t, "boss@example.com", "admin-pass-1")
	admin, err := f.store.Roles(ctx).FindByName(ctx, auth.RoleAdmin)
	if err != nil {
		t.Fatalf("admin role: %v", err)
	}
	if err := f.svc.AssignRole(ctx, user.ID, admin.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	sess := f.login(t, "boss@example.com", "admin-pass-1")
	if !sess.Principal.Permissions.IsAll() || !sess.Principal.Can(auth.ResourceUpload, auth.ActionDelete) {
		t.Fatalf("admin principal lacks wildcard: %v", sess.Principal.Permissions.Strings())
	}
	if err := f.svc.AssignRole(ctx, user.ID, "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEnsureBuiltinsIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.svc.EnsureBuiltins(ctx); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	roles, err := f.svc.Roles(ctx)
	if err != nil {
		t.Fatalf("roles: %v", err)
	}
	if len(roles) != len(auth.BuiltinRoles) {
		t.Fatalf("got %d roles, want %d", len(roles), len(auth.BuiltinRoles))
	}
}
