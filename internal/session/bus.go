package session

import (
	"context"
	"sync"
	"time"

	"wildwatch.app/internal/obs"
)

// Kind names a token store mutation.
type Kind string

const (
	TokenSet     Kind = "set"
	TokenRemoved Kind = "removed"
)

// Change is broadcast after every token store mutation.
type Change struct {
	ClientID string    `json:"clientId"`
	Kind     Kind      `json:"kind"`
	At       time.Time `json:"at"`
}

type subscriber struct {
	clientID string
	ch       chan Change
}

// Bus fans session changes out to open views (SSE streams, CLI watchers).
type Bus struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber for clientID ("" receives every client).
// The channel is closed when ctx ends.
func (b *Bus) Subscribe(ctx context.Context, clientID string) <-chan Change {
	ch := make(chan Change, 16)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = subscriber{clientID: clientID, ch: ch}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Publish delivers c to matching subscribers without blocking.
func (b *Bus) Publish(c Change) {
	if b == nil {
		return
	}
	obs.ObserveSessionChange(string(c.Kind))
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.clientID != "" && sub.clientID != c.ClientID {
			continue
		}
		select {
		case sub.ch <- c:
		default:
			// slow subscriber; it re-reads state on its next navigation
		}
	}
}

// Len reports the number of active subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
