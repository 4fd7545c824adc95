// Package events publishes auth side effects on NATS: password reset mail
// hand-off and the audit stream.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"codemingle.dev/internal/audit"
	"codemingle.dev/internal/auth"
)

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher marshals events to JSON and publishes them under a subject prefix.
type Publisher struct {
	conn   Conn
	prefix string
	logger *zap.Logger
}

// Connect dials url and returns the connection, with reconnect logging hooked
// into logger.
func Connect(url, name string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return conn, nil
}

// NewPublisher wraps conn. An empty prefix defaults to "codemingle".
func NewPublisher(conn Conn, prefix string, logger *zap.Logger) (*Publisher, error) {
	if conn == nil {
		return nil, errors.New("events: connection is required")
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "codemingle"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{conn: conn, prefix: prefix, logger: logger}, nil
}

// Subject returns prefix.suffix.
func (p *Publisher) Subject(suffix string) string {
	return p.prefix + "." + suffix
}

type passwordResetMessage struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Link      string    `json:"link"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SendPasswordReset hands the reset link to the mailer service listening on
// <prefix>.mail.password_reset.
func (p *Publisher) SendPasswordReset(ctx context.Context, msg auth.PasswordResetMail) error {
	return p.publish(ctx, p.Subject("mail.password_reset"), passwordResetMessage{
		UserID:    msg.UserID,
		Email:     msg.Email,
		Link:      msg.Link,
		ExpiresAt: msg.ExpiresAt.UTC(),
	})
}

// PublishAudit forwards an audit event to <prefix>.audit.<event>.
func (p *Publisher) PublishAudit(ctx context.Context, ev audit.Event) error {
	return p.publish(ctx, p.Subject("audit."+ev.Name), ev)
}

func (p *Publisher) publish(ctx context.Context, subject string, v any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("event published", zap.String("subject", subject))
	return nil
}

var (
	_ auth.Mailer     = (*Publisher)(nil)
	_ audit.Publisher = (*Publisher)(nil)
)
