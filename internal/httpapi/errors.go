package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"codemingle.dev/internal/auth"
)

// statusFor maps auth errors to HTTP status codes and a client safe message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid email or password"
	case errors.Is(err, auth.ErrExpired), errors.Is(err, auth.ErrStaleToken):
		return http.StatusUnauthorized, "token expired"
	case auth.IsRejection(err):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, auth.ErrEmailAlreadyExists):
		return http.StatusConflict, "email already registered"
	case errors.Is(err, auth.ErrInvalidOrExpiredToken):
		return http.StatusBadRequest, "invalid or expired token"
	case errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, auth.ErrNotFound):
		return http.StatusNotFound, "resource not found"
	case errors.Is(err, auth.ErrDatabaseUnavailable):
		return http.StatusServiceUnavailable, "service unavailable"
	case errors.Is(err, auth.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (a *API) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeError(w, r, code, msg)
}
