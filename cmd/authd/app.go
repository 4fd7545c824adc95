package main

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"codemingle.dev/internal/audit"
	"codemingle.dev/internal/auth"
	"codemingle.dev/internal/config"
	"codemingle.dev/internal/events"
	"codemingle.dev/internal/obs"
	"codemingle.dev/internal/store/memory"
	"codemingle.dev/internal/store/pg"
)

// app holds the process wide collaborators. close releases them in reverse
// order of acquisition.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   auth.Store
	pg      *pg.Store
	svc     *auth.Service
	audit   *audit.Logger
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, configPath, storeKind string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := obs.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, obs.SetLogger(logger), func() { _ = logger.Sync() })

	switch strings.ToLower(storeKind) {
	case "memory":
		logger.Warn("using in-memory store; state is lost on exit")
		a.store = memory.New()
	case "pg", "postgres", "":
		if cfg.Database.DSN == "" {
			a.close()
			return nil, fmt.Errorf("database.dsn is required for the pg store")
		}
		st, err := pg.Open(cfg.Database.DSN, pg.PoolConfig{
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
		})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.pg, a.store = st, st
		a.closers = append(a.closers, func() { _ = st.Close() })
	default:
		a.close()
		return nil, fmt.Errorf("unknown store %q (want memory or pg)", storeKind)
	}

	var publisher *events.Publisher
	if cfg.NATS.URL != "" {
		conn, err := events.Connect(cfg.NATS.URL, "authd", logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = conn.Drain() })
		publisher, err = events.NewPublisher(conn, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			a.close()
			return nil, err
		}
	}

	hasher, err := auth.NewPasswordHasher(cfg.Auth.PasswordAlgorithm, cfg.Auth.PasswordHashCost)
	if err != nil {
		a.close()
		return nil, err
	}
	priv, pub, err := auth.LoadRSAKeys(cfg.Auth.PrivateKeyPath, cfg.Auth.PublicKeyPath)
	if err != nil {
		a.close()
		return nil, err
	}
	opts := []auth.ServiceOption{
		auth.WithRSAKeys(priv, pub),
		auth.WithKeyID(cfg.Auth.KeyID),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAudience(cfg.Auth.Audience),
		auth.WithAccessTTL(cfg.Auth.AccessTTL()),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL()),
		auth.WithResetTTL(cfg.Auth.ResetTTL()),
		auth.WithPasswordHasher(hasher),
		auth.WithPermissionCache(cfg.Auth.PermissionCacheTTL()),
		auth.WithLivePermissionChecks(cfg.Auth.LivePermissions),
		auth.WithResetLinkBase(cfg.Reset.LinkBaseURL),
		auth.WithLogger(logger.Named("auth")),
	}
	if publisher != nil {
		opts = append(opts, auth.WithMailer(publisher))
		a.audit = audit.New(logger.Named("audit"), publisher)
	} else {
		a.audit = audit.New(logger.Named("audit"), nil)
	}
	a.svc, err = auth.NewService(a.store, opts...)
	if err != nil {
		a.close()
		return nil, err
	}
	if err := a.svc.EnsureBuiltins(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("seed built-in roles: %w", err)
	}
	return a, nil
}

// ping is the readiness probe; the memory store is always ready.
func (a *app) ping(ctx context.Context) error {
	if a.pg == nil {
		return nil
	}
	return a.pg.Ping(ctx)
}
