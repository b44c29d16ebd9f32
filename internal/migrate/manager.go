// Package migrate applies the embedded client-storage schema to Postgres or SQLite.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

const defaultMigrationsTable = "schema_migrations"

//go:embed sql
var embedded embed.FS

var (
	ErrNothingApplied = errors.New("migrate: no migrations applied")
	ErrMissingDown    = errors.New("migrate: missing down migration")
)

// Migration is one versioned step found in the source directory.
type Migration struct {
	Version string // numeric file prefix, e.g. "0001"
	Name    string // file name without the .up.sql suffix
	Applied bool
}

func (m Migration) String() string {
	state := "pending"
	if m.Applied {
		state = "applied"
	}
	return fmt.Sprintf("%s %s", state, m.Name)
}

// Manager executes SQL migrations for one dialect.
type Manager struct {
	db      *sql.DB
	dialect Dialect
	fsys    fs.FS
	dir     string
	table   string
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.table = name
		}
	}
}

// WithSource reads migrations from dir inside fsys instead of the embedded set.
func WithSource(fsys fs.FS, dir string) Option {
	return func(m *Manager) {
		if fsys != nil {
			m.fsys = fsys
			m.dir = dir
		}
	}
}

// NewManager constructs a Manager reading the embedded migrations of dialect.
func NewManager(db *sql.DB, dialect Dialect, opts ...Option) *Manager {
	m := &Manager{
		db:      db,
		dialect: dialect,
		fsys:    embedded,
		dir:     dialect.dir(),
		table:   defaultMigrationsTable,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies every pending migration in version order. Each migration and its
// bookkeeping row commit together.
func (m *Manager) Up(ctx context.Context) error {
	plan, err := m.Status(ctx)
	if err != nil {
		return err
	}
	for _, mig := range plan {
		if mig.Applied {
			continue
		}
		err := m.inTx(ctx, path.Join(m.dir, mig.Name+".up.sql"), func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, m.dialect.Rebind(fmt.Sprintf(
				`insert into %s(version, name, applied_at) values ($1, $2, $3)`, m.table)),
				mig.Version, mig.Name, time.Now().UTC())
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", mig.Name, err)
		}
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	plan, err := m.Status(ctx)
	if err != nil {
		return err
	}
	var last *Migration
	for i := range plan {
		if plan[i].Applied {
			last = &plan[i]
		}
	}
	if last == nil {
		return ErrNothingApplied
	}
	downPath := path.Join(m.dir, last.Name+".down.sql")
	if _, err := fs.Stat(m.fsys, downPath); err != nil {
		return fmt.Errorf("%w: %s", ErrMissingDown, last.Name)
	}
	err = m.inTx(ctx, downPath, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, m.dialect.Rebind(fmt.Sprintf(`delete from %s where version = $1`, m.table)), last.Version)
		return err
	})
	if err != nil {
		return fmt.Errorf("rollback migration %s: %w", last.Name, err)
	}
	return nil
}

// Status lists every known migration in version order with its applied flag.
func (m *Manager) Status(ctx context.Context) ([]Migration, error) {
	if _, err := m.db.ExecContext(ctx, m.dialect.bookkeepingDDL(m.table)); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	plan, err := collect(m.fsys, m.dir)
	if err != nil {
		return nil, err
	}
	for i := range plan {
		plan[i].Applied = applied[plan[i].Version]
	}
	return plan, nil
}

// inTx runs the statements of file and then record inside one transaction.
func (m *Manager) inTx(ctx context.Context, file string, record func(*sql.Tx) error) error {
	body, err := fs.ReadFile(m.fsys, file)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if err := record(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) applied(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select version from %s`, m.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

// collect finds NNNN_name.up.sql files directly under dir.
func collect(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	seen := make(map[string]string)
	var out []Migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".up.sql") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".up.sql")
		version, _, ok := strings.Cut(name, "_")
		if !ok || version == "" || strings.Trim(version, "0123456789") != "" {
			return nil, fmt.Errorf("migrate: %s lacks a numeric version prefix", e.Name())
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrate: version %s used by %s and %s", version, prev, name)
		}
		seen[version] = name
		out = append(out, Migration{Version: version, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// splitStatements splits on semicolons outside single-quoted literals and
// drops empty statements.
func splitStatements(body string) []string {
	var (
		stmts   []string
		current strings.Builder
		quoted  bool
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			stmts = append(stmts, s)
		}
		current.Reset()
	}
	for _, r := range body {
		current.WriteRune(r)
		switch {
		case r == '\'':
			quoted = !quoted
		case r == ';' && !quoted:
			flush()
		}
	}
	flush()
	return stmts
}
