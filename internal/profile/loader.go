package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wildwatch.app/internal/auth"
	"wildwatch.app/internal/backend"
	"wildwatch.app/internal/obs"
	"wildwatch.app/internal/store"
)

var (
	// ErrAuth means the backend answered 401; the token must be discarded.
	ErrAuth = errors.New("profile: authorization failed")
	// ErrNetwork covers every other failure; the token is kept.
	ErrNetwork = errors.New("profile: backend unavailable")
)

// NetworkError wraps the underlying backend failure.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "profile: " + e.Err.Error() }

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// Source is the backend call the loader depends on.
type Source interface {
	Profile(ctx context.Context, token string) (backend.ProfilePayload, error)
}

const cacheNamespace = "profile"

// Loader fetches profiles, optionally through a cache keyed by token fingerprint.
type Loader struct {
	src   Source
	cache store.KV
	ttl   time.Duration
	fpKey []byte
}

// Option configures Loader.
type Option func(*Loader)

// WithCache enables caching in kv for ttl, keyed by HMAC(fpKey, token).
func WithCache(kv store.KV, fpKey []byte, ttl time.Duration) Option {
	return func(l *Loader) {
		if kv != nil && len(fpKey) > 0 && ttl > 0 {
			l.cache, l.fpKey, l.ttl = kv, fpKey, ttl
		}
	}
}

func NewLoader(src Source, opts ...Option) *Loader {
	l := &Loader{src: src}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type freshKey struct{}

// WithFresh marks ctx so Fetch skips cached entries and asks the backend.
// The fresh result still refreshes the cache.
func WithFresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, freshKey{}, true)
}

func fresh(ctx context.Context) bool {
	v, _ := ctx.Value(freshKey{}).(bool)
	return v
}

// Fetch returns the profile for token. A 401 yields ErrAuth and evicts any
// cached entry; other failures yield *NetworkError.
func (l *Loader) Fetch(ctx context.Context, token string) (Profile, error) {
	if token == "" {
		return Profile{}, fmt.Errorf("%w: empty token", ErrAuth)
	}
	key := ""
	if l.cache != nil {
		key = auth.Fingerprint(l.fpKey, token)
		if !fresh(ctx) {
			if p, ok := l.cached(ctx, key); ok {
				obs.ObserveProfileFetch("cache_hit")
				return p, nil
			}
		}
	}

	payload, err := l.src.Profile(ctx, token)
	switch {
	case errors.Is(err, backend.ErrUnauthorized):
		obs.ObserveProfileFetch("auth")
		if key != "" {
			_ = l.cache.Delete(context.WithoutCancel(ctx), cacheNamespace, key)
		}
		return Profile{}, fmt.Errorf("%w: %w", ErrAuth, err)
	case err != nil:
		obs.ObserveProfileFetch("network")
		return Profile{}, &NetworkError{Err: err}
	}

	p := Normalize(payload)
	obs.ObserveProfileFetch("ok")
	if key != "" && p.Valid() {
		if data, err := json.Marshal(p); err == nil {
			if err := l.cache.Set(ctx, cacheNamespace, key, data, l.ttl); err != nil {
				obs.Warn("profile_cache_write_failed", map[string]any{"err": err})
			}
		}
	}
	return p, nil
}

// Forget drops the cached profile for token, if any.
func (l *Loader) Forget(ctx context.Context, token string) {
	if l.cache == nil || token == "" {
		return
	}
	_ = l.cache.Delete(ctx, cacheNamespace, auth.Fingerprint(l.fpKey, token))
}

func (l *Loader) cached(ctx context.Context, key string) (Profile, bool) {
	data, ok, err := l.cache.Get(ctx, cacheNamespace, key)
	if err != nil {
		obs.Warn("profile_cache_read_failed", map[string]any{"err": err})
		return Profile{}, false
	}
	if !ok {
		return Profile{}, false
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil || !p.Valid() {
		return Profile{}, false
	}
	return p, true
}
