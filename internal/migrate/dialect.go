package migrate

import (
	"fmt"
	"strings"
)

// Dialect selects SQL flavour differences between Postgres and SQLite.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ParseDialect accepts driver or dialect names.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pgx", "pg":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("migrate: unknown dialect %q", name)
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	if d == SQLite {
		return "sqlite"
	}
	return "pgx"
}

// Rebind rewrites $n placeholders into ?n for SQLite. Quoted text is left alone.
func (d Dialect) Rebind(query string) string {
	if d != SQLite {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	inString := false
	for _, r := range query {
		switch {
		case r == '\'':
			inString = !inString
			b.WriteRune(r)
		case r == '$' && !inString:
			b.WriteRune('?')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (d Dialect) dir() string {
	return "sql/" + string(d)
}

func (d Dialect) bookkeepingDDL(table string) string {
	if d == SQLite {
		return fmt.Sprintf(`
		create table if not exists %s (
			version    text primary key,
			name       text not null,
			applied_at text not null default current_timestamp
		);`, table)
	}
	return fmt.Sprintf(`
		create table if not exists %s (
			version    text primary key,
			name       text not null,
			applied_at timestamptz not null default now()
		);`, table)
}
