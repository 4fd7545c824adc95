// Package audit records security relevant session events.
package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"codemingle.dev/internal/auth"
)

// Event names.
const (
	EventSignup         = "signup"
	EventLogin          = "login"
	EventLoginFailed    = "login_failed"
	EventLogout         = "logout"
	EventRefresh        = "refresh"
	EventResetRequested = "password_reset_requested"
	EventResetCompleted = "password_reset_completed"
	EventPasswordChange = "password_changed"
	EventAccountDeleted = "account_deleted"
	EventRoleChanged    = "role_changed"
	EventGrantsChanged  = "role_permissions_changed"
)

// Event is one audit record.
type Event struct {
	Name      string         `json:"event"`
	At        time.Time      `json:"ts"`
	RequestID string         `json:"requestId,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Publisher receives every recorded event.
type Publisher interface {
	PublishAudit(ctx context.Context, ev Event) error
}

type ctxKey struct{}

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// RequestIDFromContext returns the request id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(ctxKey{}).(string)
	return v
}

// Logger writes audit events to zap and, when set, to a Publisher.
type Logger struct {
	logger    *zap.Logger
	publisher Publisher
	now       func() time.Time
}

// New returns a Logger. publisher may be nil.
func New(logger *zap.Logger, publisher Publisher) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{
		logger:    logger.With(zap.String("type", "audit")),
		publisher: publisher,
		now:       time.Now,
	}
}

// Record logs an event enriched with request and principal context. The
// user id falls back to the principal when userID is empty. Publish
// failures are logged, never returned.
func (l *Logger) Record(ctx context.Context, name, userID string, fields map[string]any) error {
	if l == nil {
		return nil
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("audit: event name is required")
	}
	ev := Event{
		Name:      name,
		At:        l.now().UTC(),
		RequestID: RequestIDFromContext(ctx),
		UserID:    userID,
	}
	if ev.UserID == "" {
		if p, ok := auth.PrincipalFromContext(ctx); ok {
			ev.UserID = p.UserID
		}
	}
	if len(fields) > 0 {
		ev.Fields = make(map[string]any, len(fields))
		for k, v := range fields {
			ev.Fields[k] = v
		}
	}

	zf := []zap.Field{zap.String("event", ev.Name)}
	if ev.RequestID != "" {
		zf = append(zf, zap.String("request_id", ev.RequestID))
	}
	if ev.UserID != "" {
		zf = append(zf, zap.String("user_id", ev.UserID))
	}
	if ev.Fields != nil {
		zf = append(zf, zap.Any("fields", ev.Fields))
	}
	l.logger.Info("audit", zf...)

	if l.publisher != nil {
		if err := l.publisher.PublishAudit(ctx, ev); err != nil {
			l.logger.Warn("audit publish failed", zap.String("event", ev.Name), zap.Error(err))
		}
	}
	return nil
}
