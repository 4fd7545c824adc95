package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"codemingle.dev/internal/auth"
)

func seedUser(t *testing.T, s *Store, email string) string {
	t.Helper()
	role := &auth.Role{Name: auth.RoleUser}
	if err := s.Roles(context.Background()).Ensure(context.Background(), role); err != nil {
		t.Fatalf("ensure role: %v", err)
	}
	c := &auth.Credential{User: auth.User{Email: email, RoleID: role.ID}, PasswordHash: "h"}
	if err := s.Users(context.Background()).Create(context.Background(), c); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return c.ID
}

func TestCreateRejectsDuplicateEmail(t *testing.T) {
	s := New()
	seedUser(t, s, "a@example.com")
	err := s.Users(context.Background()).Create(context.Background(), &auth.Credential{User: auth.User{Email: "a@example.com"}})
	if !errors.Is(err, auth.ErrEmailAlreadyExists) {
		t.Fatalf("expected ErrEmailAlreadyExists, got %v", err)
	}
}

func TestSwapIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := New()
	uid := seedUser(t, s, "a@example.com")
	sec := s.Secrets(ctx)

	if err := sec.Swap(ctx, uid, "r0", auth.SecretPair{}); !errors.Is(err, auth.ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	if err := sec.Upsert(ctx, uid, auth.SecretPair{AccessSecret: "a0", RefreshSecret: "r0"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- sec.Swap(ctx, uid, "r0", auth.SecretPair{AccessSecret: "a1", RefreshSecret: "r1"})
		}()
	}
	wg.Wait()
	close(results)
	wins := 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case !errors.Is(err, auth.ErrStaleToken):
			t.Fatalf("unexpected error %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}

	if err := sec.Delete(ctx, uid); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := sec.Delete(ctx, uid); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := sec.Get(ctx, uid); !errors.Is(err, auth.ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession after delete, got %v", err)
	}
}

func TestConsumeAndPurge(t *testing.T) {
	ctx := context.Background()
	s := New()
	uid := seedUser(t, s, "a@example.com")
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	res := s.Resets(ctx)

	live := &auth.PasswordResetToken{UserID: uid, TokenHash: "live", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	old := &auth.PasswordResetToken{UserID: uid, TokenHash: "old", ExpiresAt: now.Add(-2 * time.Hour), CreatedAt: now.Add(-3 * time.Hour)}
	for _, tok := range []*auth.PasswordResetToken{live, old} {
		if err := res.Create(ctx, tok); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	if _, err := res.Consume(ctx, "old", now, "new"); !errors.Is(err, auth.ErrInvalidOrExpiredToken) {
		t.Fatalf("expired: expected ErrInvalidOrExpiredToken, got %v", err)
	}
	got, err := res.Consume(ctx, "live", now, "new-hash")
	if err != nil || got != uid {
		t.Fatalf("consume: %q %v", got, err)
	}
	if _, err := res.Consume(ctx, "live", now, "again"); !errors.Is(err, auth.ErrInvalidOrExpiredToken) {
		t.Fatalf("replay: expected ErrInvalidOrExpiredToken, got %v", err)
	}
	c, err := s.Users(ctx).FindCredential(ctx, uid)
	if err != nil || c.PasswordHash != "new-hash" {
		t.Fatalf("password not updated: %+v %v", c, err)
	}

	n, err := res.PurgeExpired(ctx, now.Add(-time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("purge: n=%d err=%v", n, err)
	}
	if _, err := res.FindByHash(ctx, "live"); err != nil {
		t.Fatalf("used row inside window must survive: %v", err)
	}
}

func TestDeleteCascades(t *testing.T) {
	ctx := context.Background()
	s := New()
	uid := seedUser(t, s, "a@example.com")
	_ = s.Secrets(ctx).Upsert(ctx, uid, auth.SecretPair{AccessSecret: "a", RefreshSecret: "r"})
	_ = s.Users(ctx).LinkIdentity(ctx, uid, "github", "42")
	_ = s.Resets(ctx).Create(ctx, &auth.PasswordResetToken{UserID: uid, TokenHash: "h", ExpiresAt: time.Now().Add(time.Hour)})

	if err := s.Users(ctx).Delete(ctx, uid); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Secrets(ctx).Get(ctx, uid); !errors.Is(err, auth.ErrNoActiveSession) {
		t.Fatalf("secrets survived: %v", err)
	}
	if _, err := s.Users(ctx).FindByIdentity(ctx, "github", "42"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("identity survived: %v", err)
	}
	if _, err := s.Resets(ctx).FindByHash(ctx, "h"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("reset row survived: %v", err)
	}
	if err := s.Users(ctx).Delete(ctx, uid); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}
}
