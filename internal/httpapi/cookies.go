package httpapi

import (
	"net/http"
	"time"

	"codemingle.dev/internal/auth"
)

const (
	accessCookie  = "access_token"
	refreshCookie = "refresh_token"
)

type cookieConfig struct {
	secure     bool
	domain     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func (c cookieConfig) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func (c cookieConfig) setSession(w http.ResponseWriter, pair auth.TokenPair) {
	http.SetCookie(w, c.cookie(accessCookie, pair.AccessToken, int(c.accessTTL.Seconds())))
	http.SetCookie(w, c.cookie(refreshCookie, pair.RefreshToken, int(c.refreshTTL.Seconds())))
}

// clearSession expires both cookies. MaxAge -1 sends Max-Age=0.
func (c cookieConfig) clearSession(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(accessCookie, "", -1))
	http.SetCookie(w, c.cookie(refreshCookie, "", -1))
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
