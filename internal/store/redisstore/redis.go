// Package redisstore implements store.KV on Redis for session storage and the profile cache.
package redisstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"wildwatch.app/internal/store"
)

const scanBatch = 200

type Store struct {
	client redis.UniversalClient
	prefix string
}

var _ store.KV = (*Store)(nil)

// New wraps client; every key is stored under "<prefix>:<ns>:<key>".
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "wildwatch"
	}
	return &Store{client: client, prefix: prefix}
}

// Dial creates a client and checks connectivity.
func Dial(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (s *Store) keyFor(ns, key string) string {
	return s.prefix + ":" + ns + ":" + key
}

func (s *Store) pattern(ns string) string {
	return escapeGlob(s.prefix+":"+ns+":") + "*"
}

func (s *Store) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	if err := store.Validate(ns, key); err != nil {
		return nil, false, err
	}
	value, err := s.client.Get(ctx, s.keyFor(ns, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, ns, key string, value []byte, ttl time.Duration) error {
	if err := store.Validate(ns, key); err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	return s.client.Set(ctx, s.keyFor(ns, key), value, ttl).Err()
}

func (s *Store) Delete(ctx context.Context, ns, key string) error {
	if err := store.Validate(ns, key); err != nil {
		return err
	}
	return s.client.Del(ctx, s.keyFor(ns, key)).Err()
}

func (s *Store) Keys(ctx context.Context, ns string) ([]string, error) {
	full, err := s.scan(ctx, ns)
	if err != nil {
		return nil, err
	}
	trim := s.prefix + ":" + ns + ":"
	keys := make([]string, 0, len(full))
	for _, k := range full {
		keys = append(keys, strings.TrimPrefix(k, trim))
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Clear(ctx context.Context, ns string) (int, error) {
	full, err := s.scan(ctx, ns)
	if err != nil {
		return 0, err
	}
	if len(full) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, full...).Result()
	return int(n), err
}

// scan lists the full keys of ns. SCAN may report a key more than once while
// the keyspace is rehashing, so the result is deduplicated.
func (s *Store) scan(ctx context.Context, ns string) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	seen := make(map[string]struct{})
	match := s.pattern(ns)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

// escapeGlob quotes characters that SCAN MATCH treats specially.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
