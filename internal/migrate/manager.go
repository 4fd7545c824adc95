package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"
	upSuffix               = ".up.sql"
	downSuffix             = ".down.sql"
)

// ErrNothingToRollback is returned by Down when no migration is applied.
var ErrNothingToRollback = errors.New("migrate: no migrations applied")

// Manager applies SQL migrations and seed files read from an fs.FS.
type Manager struct {
	db              *sql.DB
	migrations      fs.FS
	seeds           fs.FS
	migrationsTable string
	seedsTable      string
	now             func() time.Time
	logger          *zap.Logger
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithSeedsTable overrides the default seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// WithSeeds sets the file system holding *.sql seed files.
func WithSeeds(seeds fs.FS) Option {
	return func(m *Manager) { m.seeds = seeds }
}

// WithLogger reports each applied file.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager constructs a Manager. Migration files are found anywhere in
// migrations and ordered by base name.
func NewManager(db *sql.DB, migrations fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		migrations:      migrations,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
		now:             time.Now,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Status describes one migration file.
type Status struct {
	Name      string
	Applied   bool
	AppliedAt time.Time
}

// Up applies all pending migrations and returns their names.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	executed, err := m.applied(ctx, m.migrationsTable)
	if err != nil {
		return nil, err
	}
	files, err := collectSQL(m.migrations, upSuffix)
	if err != nil {
		return nil, err
	}
	var done []string
	for _, mig := range files {
		if _, ok := executed[mig.Base]; ok {
			continue
		}
		if err := m.apply(ctx, m.migrations, mig.Path, m.migrationsTable, mig.Base); err != nil {
			return done, fmt.Errorf("apply migration %s: %w", mig.Base, err)
		}
		m.logger.Info("migration applied", zap.String("name", mig.Base))
		done = append(done, mig.Base)
	}
	return done, nil
}

// Down rolls back the most recently applied migration and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return "", err
	}
	executed, err := m.history(ctx, m.migrationsTable)
	if err != nil {
		return "", err
	}
	if len(executed) == 0 {
		return "", ErrNothingToRollback
	}
	last := executed[len(executed)-1].Name
	files, err := collectSQL(m.migrations, downSuffix)
	if err != nil {
		return "", err
	}
	want := strings.TrimSuffix(last, upSuffix) + downSuffix
	var downPath string
	for _, f := range files {
		if f.Base == want {
			downPath = f.Path
			break
		}
	}
	if downPath == "" {
		return "", fmt.Errorf("missing down migration for %s", last)
	}
	stmts, err := readStatements(m.migrations, downPath)
	if err != nil {
		return "", err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return "", fmt.Errorf("rollback migration %s: %w", last, err)
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable), last); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	m.logger.Info("migration rolled back", zap.String("name", last))
	return last, nil
}

// Status lists every known migration, applied ones with their timestamp.
func (m *Manager) Status(ctx context.Context) ([]Status, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	executed, err := m.applied(ctx, m.migrationsTable)
	if err != nil {
		return nil, err
	}
	files, err := collectSQL(m.migrations, upSuffix)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(files))
	for _, f := range files {
		at, ok := executed[f.Base]
		out = append(out, Status{Name: f.Base, Applied: ok, AppliedAt: at})
	}
	return out, nil
}

// Seed applies seed files idempotently.
func (m *Manager) Seed(ctx context.Context) ([]string, error) {
	if m.seeds == nil {
		return nil, nil
	}
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	executed, err := m.applied(ctx, m.seedsTable)
	if err != nil {
		return nil, err
	}
	files, err := collectSQL(m.seeds, ".sql")
	if err != nil {
		return nil, err
	}
	var done []string
	for _, seed := range files {
		if _, ok := executed[seed.Base]; ok {
			continue
		}
		if err := m.apply(ctx, m.seeds, seed.Path, m.seedsTable, seed.Base); err != nil {
			return done, fmt.Errorf("apply seed %s: %w", seed.Base, err)
		}
		m.logger.Info("seed applied", zap.String("name", seed.Base))
		done = append(done, seed.Base)
	}
	return done, nil
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		ddl := fmt.Sprintf(`create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

// apply runs one file and records it in the same transaction.
func (m *Manager) apply(ctx context.Context, fsys fs.FS, name, table, base string) error {
	stmts, err := readStatements(fsys, name)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, table),
		base, m.now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) applied(ctx context.Context, table string) (map[string]time.Time, error) {
	hist, err := m.history(ctx, table)
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(hist))
	for _, h := range hist {
		out[h.Name] = h.AppliedAt
	}
	return out, nil
}

func (m *Manager) history(ctx context.Context, table string) ([]Status, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name, applied_at from %s order by applied_at asc, name asc`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Status
	for rows.Next() {
		st := Status{Applied: true}
		if err := rows.Scan(&st.Name, &st.AppliedAt); err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

type sqlFile struct {
	Base string
	Path string
}

func collectSQL(fsys fs.FS, suffix string) ([]sqlFile, error) {
	if fsys == nil {
		return nil, nil
	}
	var files []sqlFile
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, suffix) {
			return nil
		}
		// ".sql" would otherwise also match up and down files.
		if suffix == ".sql" && (strings.HasSuffix(name, upSuffix) || strings.HasSuffix(name, downSuffix)) {
			return nil
		}
		files = append(files, sqlFile{Base: path.Base(p), Path: p})
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Base < files[j].Base
	})
	return files, nil
}

func readStatements(fsys fs.FS, name string) ([]string, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, stmt := range splitStatements(string(data)) {
		if strings.TrimSpace(stripComments(stmt)) != "" {
			out = append(out, stmt)
		}
	}
	return out, nil
}

// splitStatements splits SQL on semicolons outside single quoted strings.
func splitStatements(sql string) []string {
	var stmts []string
	var current strings.Builder
	var inString bool
	for _, r := range sql {
		current.WriteRune(r)
		switch r {
		case '\'':
			inString = !inString
		case ';':
			if !inString {
				stmts = append(stmts, current.String())
				current.Reset()
			}
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}

func stripComments(stmt string) string {
	var b strings.Builder
	for _, line := range strings.Split(stmt, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
