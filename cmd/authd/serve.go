package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"codemingle.dev/internal/httpapi"
	"codemingle.dev/internal/obs"
)

func serveCmd(configPath *string) *cobra.Command {
	var storeKind string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *configPath, storeKind)
		},
	}
	cmd.Flags().StringVar(&storeKind, "store", "pg", "Persistence backend: pg or memory")
	return cmd
}

func serve(ctx context.Context, configPath, storeKind string) error {
	a, err := newApp(ctx, configPath, storeKind)
	if err != nil {
		return err
	}
	defer a.close()
	cfg, logger := a.cfg, a.logger

	obs.Init()
	obs.InitBuildInfo(version, commit)

	proxies, err := cfg.HTTP.TrustedProxyPrefixes()
	if err != nil {
		return err
	}

	ready := httpapi.PingFunc(a.ping)
	api := httpapi.New(a.svc, httpapi.Options{
		Version:        version,
		SecureCookies:  cfg.SecureCookies(),
		CookieDomain:   cfg.Cookies.Domain,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		RateBurst:      cfg.HTTP.RateLimitBurst,
		RatePerSecond:  cfg.HTTP.RateLimitPerSec,
		TrustedProxies: httpapi.TrustedProxies(proxies),
		AllowedOrigins: cfg.HTTP.CORSAllowedOrigin,
		Logger:         logger.Named("http"),
		Audit:          a.audit,
		Readiness:      ready,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout(),
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout(),
		WriteTimeout:      cfg.HTTP.WriteTimeout(),
		IdleTimeout:       cfg.HTTP.IdleTimeout(),
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcSrv *httpapi.GRPCServer
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return err
		}
		grpcSrv = httpapi.NewGRPCServer(a.svc, ready, logger.Named("grpc"))
		_ = grpcSrv.Refresh(ctx)
		go func() {
			logger.Info("grpc listening", zap.String("addr", cfg.GRPC.Addr))
			if err := grpcSrv.Server().Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	go janitor(ctx, a, grpcSrv, cfg.Reset.PurgeInterval())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	logger.Info("stopped")
	return nil
}

// janitor purges stale reset ledger rows and refreshes gRPC health until ctx
// ends.
func janitor(ctx context.Context, a *app, grpcSrv *httpapi.GRPCServer, every time.Duration) {
	if every <= 0 {
		every = time.Hour
	}
	purge := time.NewTicker(every)
	defer purge.Stop()
	health := time.NewTicker(15 * time.Second)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-purge.C:
			n, err := a.svc.PurgeExpiredResets(ctx)
			if err != nil {
				a.logger.Warn("reset purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				a.logger.Info("reset tokens purged", zap.Int64("rows", n))
			}
		case <-health.C:
			if grpcSrv != nil {
				_ = grpcSrv.Refresh(ctx)
			}
		}
	}
}
