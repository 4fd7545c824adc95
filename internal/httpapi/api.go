package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"codemingle.dev/internal/audit"
	"codemingle.dev/internal/auth"
	"codemingle.dev/internal/obs"
)

const serviceName = "codemingle-auth"

// ReadinessChecker reports whether dependencies are reachable.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// PingFunc adapts a ping function, typically pg.Store.Ping, to ReadinessChecker.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Check(ctx context.Context) error {
	if f == nil {
		return nil
	}
	return f(ctx)
}

// Options tune the HTTP surface.
type Options struct {
	Version        string
	SecureCookies  bool
	CookieDomain   string
	MaxBodyBytes   int64
	RateBurst      int
	RatePerSecond  float64
	TrustedProxies TrustedProxies
	AllowedOrigins []string
	Logger         *zap.Logger
	Audit          *audit.Logger
	Readiness      ReadinessChecker
}

// API is the HTTP layer in front of auth.Service.
type API struct {
	mux     *http.ServeMux
	auth    *auth.Service
	audit   *audit.Logger
	logger  *zap.Logger
	ready   ReadinessChecker
	cookies cookieConfig

	version        string
	maxBody        int64
	rateBurst      int
	ratePerSec     float64
	proxies        TrustedProxies
	allowedOrigins []string
}

// New builds the API and registers every route.
func New(svc *auth.Service, opts Options) *API {
	a := &API{
		mux:    http.NewServeMux(),
		auth:   svc,
		audit:  opts.Audit,
		logger: opts.Logger,
		ready:  opts.Readiness,
		cookies: cookieConfig{
			secure:     opts.SecureCookies,
			domain:     opts.CookieDomain,
			accessTTL:  svc.AccessTTL(),
			refreshTTL: svc.RefreshTTL(),
		},
		version:        opts.Version,
		maxBody:        opts.MaxBodyBytes,
		rateBurst:      opts.RateBurst,
		ratePerSec:     opts.RatePerSecond,
		proxies:        opts.TrustedProxies,
		allowedOrigins: opts.AllowedOrigins,
	}
	if a.logger == nil {
		a.logger = obs.Logger()
	}
	if a.ready == nil {
		a.ready = PingFunc(nil)
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 10
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/auth/signup", a.handleSignup)
	a.mux.HandleFunc("/auth/login", a.handleLogin)
	a.mux.HandleFunc("/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/auth/forgot-password", a.handleForgotPassword)
	a.mux.HandleFunc("/auth/reset-password", a.handleResetPassword)
	a.mux.HandleFunc("/auth/me", a.handleMe)
	a.mux.HandleFunc("/auth/change-password", a.handleChangePassword)
	a.mux.HandleFunc("/auth/account", a.handleAccount)

	a.mux.HandleFunc("/admin/roles/", a.handleRoleResource)
	a.mux.HandleFunc("/admin/users/", a.handleUserResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	return a
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec, a.proxies)
	h = CORS(h, a.allowedOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(a.logger, h)
	h = obs.Instrument(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) record(ctx context.Context, event, userID string, fields map[string]any) {
	_ = a.audit.Record(ctx, event, userID, fields)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
