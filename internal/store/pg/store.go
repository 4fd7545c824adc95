package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"codemingle.dev/internal/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrTooManyConnections  = "53300"
	pgErrAdminShutdown       = "57P01"
	pgErrCannotConnectNow    = "57P03"
)

// PoolConfig tunes the database/sql connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Store implements auth.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ auth.Store = (*Store)(nil)

// Open connects through the pgx stdlib driver.
func Open(dsn string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if pool.MaxOpenConns <= 0 {
		pool.MaxOpenConns = 50
	}
	if pool.MaxIdleConns <= 0 {
		pool.MaxIdleConns = 25
	}
	if pool.ConnMaxLifetime <= 0 {
		pool.ConnMaxLifetime = 15 * time.Minute
	}
	if pool.ConnMaxIdleTime <= 0 {
		pool.ConnMaxIdleTime = 5 * time.Minute
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports database reachability for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return classify(s.db.PingContext(ctx))
}

func (s *Store) Users(context.Context) auth.UserStore     { return &userStore{db: s.db} }
func (s *Store) Roles(context.Context) auth.RoleStore     { return &roleStore{db: s.db} }
func (s *Store) Secrets(context.Context) auth.SecretStore { return &secretStore{db: s.db} }
func (s *Store) Resets(context.Context) auth.ResetStore   { return &resetStore{db: s.db} }

// classify maps driver failures onto the auth sentinels. Errors that are not
// connectivity or deadline problems pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", auth.ErrTimeout, err)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", auth.ErrDatabaseUnavailable, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %v", auth.ErrDatabaseUnavailable, err)
	}
	if pgErr, ok := maybePgError(err); ok {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"),
			pgErr.Code == pgErrTooManyConnections,
			pgErr.Code == pgErrAdminShutdown,
			pgErr.Code == pgErrCannotConnectNow:
			return fmt.Errorf("%w: %v", auth.ErrDatabaseUnavailable, err)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", auth.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", auth.ErrDatabaseUnavailable, err)
	}
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func isPgCode(err error, code string) bool {
	pgErr, ok := maybePgError(err)
	return ok && pgErr.Code == code
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
