// Package logout tears a session down in a fixed order and always ends on
// the login page.
package logout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wildwatch.app/internal/audit"
	"wildwatch.app/internal/obs"
)

// DefaultTimeout bounds the backend call when none is configured.
const DefaultTimeout = 3 * time.Second

// Backend is the remote logout call.
type Backend interface {
	Logout(ctx context.Context, token string) error
}

// Tokens is the slice of the token store logout needs.
type Tokens interface {
	Token() (string, bool)
	RemoveToken(ctx context.Context) error
}

// Clearer empties one client-side store.
type Clearer interface {
	Name() string
	Clear(ctx context.Context) error
}

// Navigator receives the single final navigation.
type Navigator interface {
	Navigate(target string)
	HardNavigate(target string)
}

// ClearFunc adapts a function to Clearer.
type ClearFunc struct {
	Label string
	Fn    func(ctx context.Context) error
}

func (c ClearFunc) Name() string                    { return c.Label }
func (c ClearFunc) Clear(ctx context.Context) error { return c.Fn(ctx) }

// StorageError reports a store that could not be cleared.
type StorageError struct {
	Store string
	Err   error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("logout: clear %s: %v", e.Store, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Result describes a finished logout.
type Result struct {
	BackendErr error
	Storage    []*StorageError
	Hard       bool
	Target     string
}

// Err joins the storage failures, nil when every store was cleared.
func (r Result) Err() error {
	if len(r.Storage) == 0 {
		return nil
	}
	errs := make([]error, len(r.Storage))
	for i, e := range r.Storage {
		errs[i] = e
	}
	return errors.Join(errs...)
}

type Sequencer struct {
	backend   Backend
	timeout   time.Duration
	loginPath string
}

// Option configures Sequencer.
type Option func(*Sequencer)

func WithTimeout(d time.Duration) Option {
	return func(s *Sequencer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLoginPath sets the navigation target, "/login" by default.
func WithLoginPath(p string) Option {
	return func(s *Sequencer) {
		if p = strings.TrimSpace(p); p != "" {
			s.loginPath = p
		}
	}
}

func New(b Backend, opts ...Option) *Sequencer {
	s := &Sequencer{backend: b, timeout: DefaultTimeout, loginPath: "/login"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs the logout:
//  1. backend logout with the current token, errors ignored
//  2. every clearer in order
//  3. token removal and broadcast
//  4. exactly one navigation, hard if any store failed
func (s *Sequencer) Run(ctx context.Context, tokens Tokens, clearers []Clearer, nav Navigator) Result {
	res := Result{Target: s.loginPath}

	if token, ok := tokens.Token(); ok && s.backend != nil {
		res.BackendErr = s.callBackend(ctx, token)
		if res.BackendErr != nil {
			obs.Warn("logout_backend_failed", map[string]any{"err": res.BackendErr})
		}
	}

	for _, c := range clearers {
		if err := clearSafely(ctx, c); err != nil {
			res.Storage = append(res.Storage, err)
			obs.Error("logout_storage_failed", map[string]any{"store": err.Store, "err": err.Err})
		}
	}

	if err := tokens.RemoveToken(ctx); err != nil {
		se := &StorageError{Store: "token", Err: err}
		res.Storage = append(res.Storage, se)
		obs.Error("logout_storage_failed", map[string]any{"store": se.Store, "err": err})
	}

	res.Hard = len(res.Storage) > 0
	if res.Hard {
		nav.HardNavigate(s.loginPath)
	} else {
		nav.Navigate(s.loginPath)
	}

	obs.ObserveLogout(res.Hard, res.BackendErr != nil)
	_ = audit.LogEvent(ctx, audit.EventLogout, map[string]any{
		"hard":           res.Hard,
		"backend_failed": res.BackendErr != nil,
		"storage_errors": len(res.Storage),
	})
	return res
}

func (s *Sequencer) callBackend(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.backend.Logout(ctx, token)
}

func clearSafely(ctx context.Context, c Clearer) (serr *StorageError) {
	name := c.Name()
	defer func() {
		if r := recover(); r != nil {
			serr = &StorageError{Store: name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := c.Clear(ctx); err != nil {
		return &StorageError{Store: name, Err: err}
	}
	return nil
}
