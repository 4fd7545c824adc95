package auth

import "errors"

var (
	ErrInvalidInput  = errors.New("auth: invalid input")
	ErrNotFound      = errors.New("auth: not found")
	ErrForbidden     = errors.New("auth: forbidden")
	ErrNotConfigured = errors.New("auth: not configured")
	ErrTimeout       = errors.New("auth: timeout")
)

// Rejections surfaced by the credential, token and reset flows.
var (
	ErrInvalidCredentials    = errors.New("auth: invalid credentials")
	ErrEmailAlreadyExists    = errors.New("auth: email already exists")
	ErrInvalidSignature      = errors.New("auth: invalid token signature")
	ErrExpired               = errors.New("auth: token expired")
	ErrUnknownSubject        = errors.New("auth: unknown token subject")
	ErrNoActiveSession       = errors.New("auth: no active session")
	ErrStaleToken            = errors.New("auth: stale token")
	ErrInvalidOrExpiredToken = errors.New("auth: invalid or expired reset token")
	ErrDatabaseUnavailable   = errors.New("auth: database unavailable")
)

// IsRoutine reports whether err is an expected outcome that should send the
// client through the refresh flow rather than be treated as a failure.
func IsRoutine(err error) bool {
	return errors.Is(err, ErrExpired) || errors.Is(err, ErrStaleToken)
}

// IsRejection reports whether err is one of the token verification rejections.
func IsRejection(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidSignature),
		errors.Is(err, ErrExpired),
		errors.Is(err, ErrUnknownSubject),
		errors.Is(err, ErrNoActiveSession),
		errors.Is(err, ErrStaleToken):
		return true
	}
	return false
}

// RejectionReason returns a short label for metrics and logs.
func RejectionReason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrUnknownSubject):
		return "unknown_subject"
	case errors.Is(err, ErrNoActiveSession):
		return "no_active_session"
	case errors.Is(err, ErrStaleToken):
		return "stale_token"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrEmailAlreadyExists):
		return "email_exists"
	case errors.Is(err, ErrInvalidOrExpiredToken):
		return "invalid_reset_token"
	case errors.Is(err, ErrDatabaseUnavailable):
		return "database_unavailable"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "error"
	}
}
