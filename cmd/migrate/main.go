// Command migrate applies the embedded schema migrations and seeds the
// built-in roles.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"codemingle.dev/internal/auth"
	"codemingle.dev/internal/migrate"
	"codemingle.dev/internal/obs"
	"codemingle.dev/internal/store/pg"
	"codemingle.dev/migrations"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	dsn      string
	seedsDir string
	timeout  time.Duration
}

func rootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the CodeMingle auth database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.dsn, "dsn", os.Getenv("CODEMINGLE_DATABASE_DSN"), "PostgreSQL DSN")
	cmd.PersistentFlags().StringVar(&opts.seedsDir, "seeds", "", "Directory of extra *.sql seed files")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Overall timeout")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: withManager(opts, func(ctx context.Context, cmd *cobra.Command, _ *sql.DB, m *migrate.Manager) error {
				done, err := m.Up(ctx)
				for _, name := range done {
					fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
				}
				if err == nil && len(done) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				}
				return err
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: withManager(opts, func(ctx context.Context, cmd *cobra.Command, _ *sql.DB, m *migrate.Manager) error {
				name, err := m.Down(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", name)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Seed built-in roles and permissions, then extra seed files",
			RunE: withManager(opts, func(ctx context.Context, cmd *cobra.Command, db *sql.DB, m *migrate.Manager) error {
				seeded, err := auth.SeedBuiltins(ctx, pg.New(db).Roles(ctx))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "built-in roles ready (%d granted)\n", len(seeded))
				done, err := m.Seed(ctx)
				for _, name := range done {
					fmt.Fprintf(cmd.OutOrStdout(), "seeded %s\n", name)
				}
				return err
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			RunE: withManager(opts, func(ctx context.Context, cmd *cobra.Command, _ *sql.DB, m *migrate.Manager) error {
				items, err := m.Status(ctx)
				if err != nil {
					return err
				}
				for _, it := range items {
					state := "pending"
					if it.Applied {
						state = "applied " + it.AppliedAt.UTC().Format(time.RFC3339)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%-40s %s\n", it.Name, state)
				}
				return nil
			}),
		},
	)
	return cmd
}

type action func(ctx context.Context, cmd *cobra.Command, db *sql.DB, m *migrate.Manager) error

func withManager(opts *options, fn action) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		if opts.dsn == "" {
			return fmt.Errorf("missing DSN: provide --dsn or CODEMINGLE_DATABASE_DSN")
		}
		logger, err := obs.NewLogger("info", "console")
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
		defer cancel()

		db, err := sql.Open("pgx", opts.dsn)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		mopts := []migrate.Option{migrate.WithLogger(logger.Named("migrate"))}
		if opts.seedsDir != "" {
			mopts = append(mopts, migrate.WithSeeds(os.DirFS(opts.seedsDir)))
		}
		m := migrate.NewManager(db, migrations.FS, mopts...)
		if err := fn(ctx, cmd, db, m); err != nil {
			logger.Error("migrate failed", zap.String("command", cmd.Name()), zap.Error(err))
			return err
		}
		return nil
	}
}
