// Package sqlkv implements store.KV on the client_storage table for Postgres and SQLite.
package sqlkv

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"wildwatch.app/internal/migrate"
	"wildwatch.app/internal/store"
)

type Store struct {
	db      *sql.DB
	dialect migrate.Dialect
	now     func() time.Time
}

var _ store.KV = (*Store)(nil)

// Open connects with pool settings suited to the dialect.
func Open(dialect migrate.Dialect, dsn string) (*Store, error) {
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, err
	}
	if dialect == migrate.SQLite {
		// single writer; modernc serialises anyway and this avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(15 * time.Minute)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
	return New(db, dialect), nil
}

// SQLiteDSN builds a modernc DSN with a busy timeout and WAL journal.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// New wraps an existing handle; used with sqlmock in tests.
func New(db *sql.DB, dialect migrate.Dialect) *Store {
	return &Store{db: db, dialect: dialect, now: time.Now}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() migrate.Dialect { return s.dialect }

func (s *Store) q(query string) string { return s.dialect.Rebind(query) }

func (s *Store) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	if err := store.Validate(ns, key); err != nil {
		return nil, false, err
	}
	var (
		value   []byte
		expires sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		select value, expires_at from client_storage
		where namespace = $1 and item_key = $2`), ns, key).Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if expires.Valid && expires.Int64 <= s.now().UnixNano() {
		_, _ = s.db.ExecContext(ctx, s.q(`
			delete from client_storage
			where namespace = $1 and item_key = $2 and expires_at = $3`), ns, key, expires.Int64)
		return nil, false, nil
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, ns, key string, value []byte, ttl time.Duration) error {
	if err := store.Validate(ns, key); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	now := s.now()
	var expires sql.NullInt64
	if ttl > 0 {
		expires = sql.NullInt64{Int64: now.Add(ttl).UnixNano(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		insert into client_storage(namespace, item_key, value, expires_at, updated_at)
		values ($1, $2, $3, $4, $5)
		on conflict (namespace, item_key) do update
		set value = excluded.value, expires_at = excluded.expires_at, updated_at = excluded.updated_at`),
		ns, key, value, expires, now.UnixNano())
	return err
}

func (s *Store) Delete(ctx context.Context, ns, key string) error {
	if err := store.Validate(ns, key); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.q(`delete from client_storage where namespace = $1 and item_key = $2`), ns, key)
	return err
}

func (s *Store) Keys(ctx context.Context, ns string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		select item_key from client_storage
		where namespace = $1 and (expires_at is null or expires_at > $2)
		order by item_key`), ns, s.now().UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *Store) Clear(ctx context.Context, ns string) (int, error) {
	res, err := s.db.ExecContext(ctx, s.q(`delete from client_storage where namespace = $1`), ns)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// PurgeExpired drops rows whose ttl has elapsed.
func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		delete from client_storage
		where expires_at is not null and expires_at <= $1`), s.now().UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// StartJanitor runs PurgeExpired every interval until ctx ends.
func (s *Store) StartJanitor(ctx context.Context, interval time.Duration, onErr func(error)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.PurgeExpired(ctx); err != nil && onErr != nil {
					onErr(err)
				}
			}
		}
	}()
}
