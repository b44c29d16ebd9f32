// Package session holds the bearer token lifecycle shared by the portal and wwctl.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var ErrEmptyToken = errors.New("session: token is empty")

// Durable is the place of truth for the token: the browser cookie for the
// portal, a row in the local state file for wwctl.
type Durable interface {
	Load(ctx context.Context) (string, bool, error)
	Save(ctx context.Context, token string) error
	Remove(ctx context.Context) error
}

// TokenStore mirrors the durable token in memory for synchronous reads and
// broadcasts every mutation on the Bus.
type TokenStore struct {
	durable  Durable
	bus      *Bus
	clientID string

	mu      sync.Mutex
	token   string
	present bool
}

// Open hydrates the mirror from d.
func Open(ctx context.Context, d Durable, bus *Bus, clientID string) (*TokenStore, error) {
	s := &TokenStore{durable: d, bus: bus, clientID: clientID}
	token, ok, err := d.Load(ctx)
	if err != nil {
		return nil, err
	}
	if ok && strings.TrimSpace(token) != "" {
		s.token, s.present = token, true
	}
	return s, nil
}

// ClientID is the instance the store belongs to.
func (s *TokenStore) ClientID() string { return s.clientID }

// Token returns the current token. It is absent after RemoveToken.
func (s *TokenStore) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.present
}

// SetToken persists token and notifies listeners. The mirror only changes
// once the durable write succeeded.
func (s *TokenStore) SetToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}
	if err := s.durable.Save(ctx, token); err != nil {
		return err
	}
	s.mu.Lock()
	s.token, s.present = token, true
	s.mu.Unlock()
	s.publish(TokenSet)
	return nil
}

// RemoveToken clears the mirror, expires the durable copy under every scope
// and notifies listeners. The mirror is cleared even if the durable removal fails.
func (s *TokenStore) RemoveToken(ctx context.Context) error {
	s.mu.Lock()
	s.token, s.present = "", false
	s.mu.Unlock()
	err := s.durable.Remove(ctx)
	s.publish(TokenRemoved)
	return err
}

// Subscribe follows changes made for this client by any view.
func (s *TokenStore) Subscribe(ctx context.Context) <-chan Change {
	return s.bus.Subscribe(ctx, s.clientID)
}

func (s *TokenStore) publish(kind Kind) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(Change{ClientID: s.clientID, Kind: kind, At: time.Now().UTC()})
}
