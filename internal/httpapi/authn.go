package httpapi

import (
	"net/http"
	"strings"

	"codemingle.dev/internal/auth"
	"codemingle.dev/internal/obs"
)

const bearer = "bearer "

var publicPaths = map[string]struct{}{
	"/healthz":              {},
	"/readyz":               {},
	"/metrics":              {},
	"/auth/signup":          {},
	"/auth/login":           {},
	"/auth/logout":          {},
	"/auth/refresh":         {},
	"/auth/forgot-password": {},
	"/auth/reset-password":  {},
}

// withAuth verifies the access token from the access_token cookie or the
// Authorization header and stores the principal in the request context.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := publicPaths[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		token := accessToken(r)
		if token == "" {
			writeError(w, r, http.StatusUnauthorized, "missing access token")
			return
		}
		principal, err := a.auth.Authenticate(r.Context(), token)
		obs.ObserveVerification(string(auth.PurposeAccess), auth.RejectionReason(err))
		if err != nil {
			a.writeAuthError(w, r, err)
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePermission writes 403 and returns false unless the principal holds
// perm.
func (a *API) requirePermission(w http.ResponseWriter, r *http.Request, perm auth.Permission) bool {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return false
	}
	if !principal.Permissions.Has(perm) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}

func accessToken(r *http.Request) string {
	if v := cookieValue(r, accessCookie); v != "" {
		return v
	}
	return bearerToken(r.Header.Get("Authorization"))
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) <= len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return ""
	}
	return strings.TrimSpace(header[len(bearer):])
}
