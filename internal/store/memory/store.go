// Package memory keeps every auth repository in process memory. It backs the
// tests and `authd serve --store=memory`.
package memory

import (
	"context"
	"crypto/subtle"
	"sort"
	"sync"
	"time"

	"codemingle.dev/internal/auth"
	"codemingle.dev/internal/ids"
)

// Store implements auth.Store. All repositories share one lock, so every
// method is atomic with respect to every other.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	users      map[string]*auth.Credential
	emails     map[string]string
	identities map[identityKey]string

	roles     map[string]*auth.Role
	roleNames map[string]string
	catalog   map[auth.Permission]struct{}
	grants    map[string]map[auth.Permission]struct{}

	secrets map[string]auth.SecretPair
	resets  map[string]*auth.PasswordResetToken
}

type identityKey struct {
	provider   string
	providerID string
}

// New returns an empty store.
func New() *Store {
	return &Store{
		now:        time.Now,
		users:      make(map[string]*auth.Credential),
		emails:     make(map[string]string),
		identities: make(map[identityKey]string),
		roles:      make(map[string]*auth.Role),
		roleNames:  make(map[string]string),
		catalog:    make(map[auth.Permission]struct{}),
		grants:     make(map[string]map[auth.Permission]struct{}),
		secrets:    make(map[string]auth.SecretPair),
		resets:     make(map[string]*auth.PasswordResetToken),
	}
}

func (s *Store) Users(context.Context) auth.UserStore     { return users{s} }
func (s *Store) Roles(context.Context) auth.RoleStore     { return roles{s} }
func (s *Store) Secrets(context.Context) auth.SecretStore { return secrets{s} }
func (s *Store) Resets(context.Context) auth.ResetStore   { return resets{s} }

type users struct{ s *Store }

func (r users) Create(_ context.Context, c *auth.Credential) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emails[c.Email]; ok {
		return auth.ErrEmailAlreadyExists
	}
	if c.ID == "" {
		c.ID = ids.New()
	}
	now := s.now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	cp := *c
	s.users[c.ID] = &cp
	s.emails[c.Email] = c.ID
	return nil
}

func (r users) Find(_ context.Context, id string) (*auth.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	u := c.User
	return &u, nil
}

func (r users) FindCredential(_ context.Context, id string) (*auth.Credential, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r users) FindCredentialByEmail(_ context.Context, email string) (*auth.Credential, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.emails[email]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *r.s.users[id]
	return &cp, nil
}

func (r users) UpdatePassword(_ context.Context, userID, hash string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	c.PasswordHash = hash
	c.UpdatedAt = s.now().UTC()
	return nil
}

func (r users) UpdateRole(_ context.Context, userID, roleID string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	if _, ok := s.roles[roleID]; !ok {
		return auth.ErrNotFound
	}
	c.RoleID = roleID
	c.UpdatedAt = s.now().UTC()
	return nil
}

func (r users) Delete(_ context.Context, userID string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	delete(s.users, userID)
	delete(s.emails, c.Email)
	delete(s.secrets, userID)
	for k, id := range s.identities {
		if id == userID {
			delete(s.identities, k)
		}
	}
	for h, tok := range s.resets {
		if tok.UserID == userID {
			delete(s.resets, h)
		}
	}
	return nil
}

func (r users) FindByIdentity(_ context.Context, provider, providerID string) (*auth.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.identities[identityKey{provider, providerID}]
	if !ok {
		return nil, auth.ErrNotFound
	}
	u := r.s.users[id].User
	return &u, nil
}

func (r users) LinkIdentity(_ context.Context, userID, provider, providerID string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return auth.ErrNotFound
	}
	s.identities[identityKey{provider, providerID}] = userID
	return nil
}

type roles struct{ s *Store }

func (r roles) Ensure(_ context.Context, role *auth.Role) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.roleNames[role.Name]; ok {
		existing := s.roles[id]
		if role.DisplayName != "" {
			existing.DisplayName = role.DisplayName
		}
		*role = *existing
		return nil
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	role.CreatedAt = s.now().UTC()
	cp := *role
	s.roles[role.ID] = &cp
	s.roleNames[role.Name] = role.ID
	return nil
}

func (r roles) Find(_ context.Context, id string) (*auth.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	role, ok := r.s.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *role
	return &cp, nil
}

func (r roles) FindByName(_ context.Context, name string) (*auth.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.roleNames[name]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *r.s.roles[id]
	return &cp, nil
}

func (r roles) List(context.Context) ([]auth.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]auth.Role, 0, len(r.s.roles))
	for _, role := range r.s.roles {
		out = append(out, *role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r roles) EnsurePermissions(_ context.Context, perms []auth.Permission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range perms {
		r.s.catalog[p] = struct{}{}
	}
	return nil
}

func (r roles) SetPermissions(_ context.Context, roleID string, perms []auth.Permission) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return auth.ErrNotFound
	}
	next := make(map[auth.Permission]struct{}, len(perms))
	for _, p := range perms {
		if _, ok := s.catalog[p]; !ok {
			return auth.ErrNotFound
		}
		next[p] = struct{}{}
	}
	s.grants[roleID] = next
	return nil
}

func (r roles) PermissionsForRole(_ context.Context, roleID string) ([]auth.Permission, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]auth.Permission, 0, len(r.s.grants[roleID]))
	for p := range r.s.grants[roleID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

type secrets struct{ s *Store }

func (r secrets) Upsert(_ context.Context, userID string, pair auth.SecretPair) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[userID]; !ok {
		return auth.ErrNotFound
	}
	r.s.secrets[userID] = pair
	return nil
}

func (r secrets) Swap(_ context.Context, userID, currentRefresh string, next auth.SecretPair) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.secrets[userID]
	if !ok {
		return auth.ErrNoActiveSession
	}
	if subtle.ConstantTimeCompare([]byte(cur.RefreshSecret), []byte(currentRefresh)) != 1 {
		return auth.ErrStaleToken
	}
	r.s.secrets[userID] = next
	return nil
}

func (r secrets) Get(_ context.Context, userID string) (auth.SecretPair, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	pair, ok := r.s.secrets[userID]
	if !ok {
		return auth.SecretPair{}, auth.ErrNoActiveSession
	}
	return pair, nil
}

func (r secrets) Delete(_ context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.secrets, userID)
	return nil
}

type resets struct{ s *Store }

func (r resets) Create(_ context.Context, tok *auth.PasswordResetToken) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[tok.UserID]; !ok {
		return auth.ErrNotFound
	}
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = s.now().UTC()
	}
	cp := *tok
	s.resets[tok.TokenHash] = &cp
	return nil
}

func (r resets) FindByHash(_ context.Context, tokenHash string) (*auth.PasswordResetToken, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	tok, ok := r.s.resets[tokenHash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (r resets) Consume(_ context.Context, tokenHash string, now time.Time, passwordHash string) (string, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.resets[tokenHash]
	if !ok || tok.Used || !now.Before(tok.ExpiresAt) {
		return "", auth.ErrInvalidOrExpiredToken
	}
	c, ok := s.users[tok.UserID]
	if !ok {
		return "", auth.ErrInvalidOrExpiredToken
	}
	c.PasswordHash = passwordHash
	c.UpdatedAt = now
	tok.Used = true
	return tok.UserID, nil
}

func (r resets) PurgeExpired(_ context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for h, tok := range r.s.resets {
		if tok.ExpiresAt.Before(cutoff) || (tok.Used && tok.CreatedAt.Before(cutoff)) {
			delete(r.s.resets, h)
			n++
		}
	}
	return n, nil
}
