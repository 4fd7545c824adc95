package auth_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"codemingle.dev/internal/auth"
	"codemingle.dev/internal/store/memory"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func signingKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = k
	})
	return testKey
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type capturedMailer struct {
	mu   sync.Mutex
	sent []auth.PasswordResetMail
}

func (m *capturedMailer) SendPasswordReset(_ context.Context, msg auth.PasswordResetMail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *capturedMailer) last(t *testing.T) auth.PasswordResetMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatalf("no reset mail sent")
	}
	return m.sent[len(m.sent)-1]
}

type fixture struct {
	svc    *auth.Service
	store  *memory.Store
	clock  *testClock
	mailer *capturedMailer
}

func newFixture(t *testing.T, opts ...auth.ServiceOption) *fixture {
	t.Helper()
	store := memory.New()
	clock := newTestClock()
	mailer := &capturedMailer{}
	hasher, err := auth.NewPasswordHasher(auth.AlgorithmBcrypt, 4)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	key := signingKey(t)
	base := []auth.ServiceOption{
		auth.WithRSAKeys(key, &key.PublicKey),
		auth.WithIssuer("codemingle-test"),
		auth.WithAudience("codemingle-web"),
		auth.WithClock(clock.Now),
		auth.WithPasswordHasher(hasher),
		auth.WithMailer(mailer),
	}
	svc, err := auth.NewService(store, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.EnsureBuiltins(context.Background()); err != nil {
		t.Fatalf("ensure builtins: %v", err)
	}
	return &fixture{svc: svc, store: store, clock: clock, mailer: mailer}
}

func (f *fixture) signup(t *testing.T, email, password string) auth.User {
	t.Helper()
	u, err := f.svc.Signup(context.Background(), auth.Profile{Email: email, FirstName: "Ada", LastName: "Lovelace"}, password)
	if err != nil {
		t.Fatalf("signup %s: %v", email, err)
	}
	return u
}

func (f *fixture) login(t *testing.T, email, password string) auth.Session {
	t.Helper()
	sess, err := f.svc.Login(context.Background(), email, password)
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return sess
}
