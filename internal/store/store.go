// Package store defines the namespaced key/value contract behind local
// storage, session storage, the profile cache and evidence staging.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var ErrInvalidKey = errors.New("store: namespace and key are required")

// KV is a namespaced byte store. A zero ttl means no expiry.
// Get reports a miss as (nil, false, nil).
type KV interface {
	Get(ctx context.Context, ns, key string) ([]byte, bool, error)
	Set(ctx context.Context, ns, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, ns, key string) error
	Keys(ctx context.Context, ns string) ([]string, error)
	Clear(ctx context.Context, ns string) (int, error)
}

// Validate rejects empty namespaces or keys.
func Validate(ns, key string) error {
	if strings.TrimSpace(ns) == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	return nil
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory is an in-process KV used for session storage without Redis and in tests.
type Memory struct {
	mu   sync.Mutex
	data map[string]map[string]entry
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string]entry), now: time.Now}
}

// WithClock overrides the time source; used by expiry tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Get(_ context.Context, ns, key string) ([]byte, bool, error) {
	if err := Validate(ns, key); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[ns][key]
	if !ok {
		return nil, false, nil
	}
	if e.expired(m.now()) {
		delete(m.data[ns], key)
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (m *Memory) Set(_ context.Context, ns, key string, value []byte, ttl time.Duration) error {
	if err := Validate(ns, key); err != nil {
		return err
	}
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.data[ns]
	if !ok {
		bucket = make(map[string]entry)
		m.data[ns] = bucket
	}
	bucket[key] = e
	return nil
}

func (m *Memory) Delete(_ context.Context, ns, key string) error {
	if err := Validate(ns, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[ns], key)
	return nil
}

func (m *Memory) Keys(_ context.Context, ns string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	keys := make([]string, 0, len(m.data[ns]))
	for k, e := range m.data[ns] {
		if e.expired(now) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Clear(_ context.Context, ns string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.data[ns])
	delete(m.data, ns)
	return n, nil
}

// Namespace binds a KV to one namespace, e.g. the local storage of one client.
type Namespace struct {
	KV   KV
	Name string
	TTL  time.Duration
}

// LocalNamespace and SessionNamespace name the per-client storage areas.
func LocalNamespace(clientID string) string { return "local:" + clientID }

func SessionNamespace(clientID string) string { return "session:" + clientID }

func (n Namespace) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return n.KV.Get(ctx, n.Name, key)
}

func (n Namespace) Set(ctx context.Context, key string, value []byte) error {
	return n.KV.Set(ctx, n.Name, key, value, n.TTL)
}

func (n Namespace) Delete(ctx context.Context, key string) error {
	return n.KV.Delete(ctx, n.Name, key)
}

func (n Namespace) Keys(ctx context.Context) ([]string, error) {
	return n.KV.Keys(ctx, n.Name)
}

// Clear removes every key of the namespace.
func (n Namespace) Clear(ctx context.Context) error {
	_, err := n.KV.Clear(ctx, n.Name)
	return err
}
