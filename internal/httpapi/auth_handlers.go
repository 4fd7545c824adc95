package httpapi

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"codemingle.dev/internal/audit"
	"codemingle.dev/internal/auth"
	"codemingle.dev/internal/obs"
)

type signupRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type sessionResponse struct {
	User             auth.User          `json:"user"`
	Permissions      auth.PermissionSet `json:"permissions"`
	AccessExpiresAt  time.Time          `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time          `json:"refreshExpiresAt"`
}

type principalResponse struct {
	UserID      string             `json:"userId"`
	RoleID      string             `json:"roleId"`
	Permissions auth.PermissionSet `json:"permissions"`
	ExpiresAt   time.Time          `json:"expiresAt"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func newSessionResponse(s auth.Session) sessionResponse {
	return sessionResponse{
		User:             s.User,
		Permissions:      s.Principal.Permissions,
		AccessExpiresAt:  s.Tokens.AccessExpiresAt,
		RefreshExpiresAt: s.Tokens.RefreshExpiresAt,
	}
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.auth.Signup(r.Context(), auth.Profile{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}, req.Password)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	a.record(r.Context(), audit.EventSignup, user.ID, nil)
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	session, err := a.auth.Login(r.Context(), req.Email, req.Password)
	obs.ObserveLogin(auth.RejectionReason(err))
	if err != nil {
		a.record(r.Context(), audit.EventLoginFailed, "", map[string]any{"reason": auth.RejectionReason(err)})
		a.writeAuthError(w, r, err)
		return
	}
	a.cookies.setSession(w, session.Tokens)
	a.record(r.Context(), audit.EventLogin, session.User.ID, nil)
	writeJSON(w, http.StatusOK, newSessionResponse(session))
}

// handleLogout ends the caller's session. The user is taken from the access
// token, or from the refresh token when the access token already expired.
// Cookies are cleared even when neither identifies a live session.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	userID := ""
	if raw := accessToken(r); raw != "" {
		if p, err := a.auth.Authenticate(r.Context(), raw); err == nil {
			userID = p.UserID
		}
	}
	if userID == "" {
		if raw := cookieValue(r, refreshCookie); raw != "" {
			if p, err := a.auth.Verifier().Verify(r.Context(), raw, auth.PurposeRefresh); err == nil {
				userID = p.UserID
			}
		}
	}
	a.cookies.clearSession(w)
	if userID != "" {
		if err := a.auth.Logout(r.Context(), userID); err != nil {
			a.writeAuthError(w, r, err)
			return
		}
		a.record(r.Context(), audit.EventLogout, userID, nil)
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "logged_out"})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	raw := cookieValue(r, refreshCookie)
	if raw == "" {
		obs.ObserveRefresh("missing")
		writeError(w, r, http.StatusUnauthorized, "missing refresh token")
		return
	}
	session, err := a.auth.Refresh(r.Context(), raw)
	obs.ObserveVerification(string(auth.PurposeRefresh), auth.RejectionReason(err))
	obs.ObserveRefresh(auth.RejectionReason(err))
	if err != nil {
		// A stale refresh token usually means a concurrent refresh won;
		// clearing here could wipe the winner's cookies.
		if auth.IsRejection(err) && !errors.Is(err, auth.ErrStaleToken) {
			a.cookies.clearSession(w)
		}
		a.writeAuthError(w, r, err)
		return
	}
	a.cookies.setSession(w, session.Tokens)
	a.record(r.Context(), audit.EventRefresh, session.User.ID, nil)
	writeJSON(w, http.StatusOK, newSessionResponse(session))
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req forgotPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err := a.auth.ForgotPassword(r.Context(), req.Email)
	obs.ObservePasswordReset("request", auth.RejectionReason(err))
	if err != nil {
		// The response never depends on the account or the ledger.
		a.logger.Error("password reset request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err))
	} else {
		a.record(r.Context(), audit.EventResetRequested, "", nil)
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err := a.auth.ResetPassword(r.Context(), req.Token, req.NewPassword)
	obs.ObservePasswordReset("complete", auth.RejectionReason(err))
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	a.cookies.clearSession(w)
	a.record(r.Context(), audit.EventResetCompleted, "", nil)
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, principalResponse{
		UserID:      p.UserID,
		RoleID:      p.RoleID,
		Permissions: p.Permissions,
		ExpiresAt:   p.ExpiresAt,
	})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	session, err := a.auth.ChangePassword(r.Context(), p.UserID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	a.cookies.setSession(w, session.Tokens)
	a.record(r.Context(), audit.EventPasswordChange, p.UserID, nil)
	writeJSON(w, http.StatusOK, newSessionResponse(session))
}

func (a *API) handleAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := a.auth.DeleteAccount(r.Context(), p.UserID); err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	a.cookies.clearSession(w)
	a.record(r.Context(), audit.EventAccountDeleted, p.UserID, nil)
	w.WriteHeader(http.StatusNoContent)
}
