package auth

import (
	"context"
	"time"
)

// Principal is the authenticated caller behind a verified token.
type Principal struct {
	UserID      string
	RoleID      string
	Permissions PermissionSet
	Purpose     Purpose
	TokenID     string
	ExpiresAt   time.Time
}

// Can reports whether the principal may perform action on resource.
func (p Principal) Can(r Resource, a Action) bool {
	return p.Permissions.Allows(r, a)
}

// HasPermission checks a permission in RESOURCE:ACTION form.
func (p Principal) HasPermission(perm string) bool {
	parsed, err := ParsePermission(perm)
	if err != nil {
		return false
	}
	return p.Permissions.Has(parsed)
}

type principalContextKey struct{}
type tokenContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// ContextWithToken stores the raw access token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the access token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
