// Package realtime follows live upvote counts for one bulletin card.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"wildwatch.app/internal/obs"
)

var (
	ErrClosed          = errors.New("realtime: listener closed")
	ErrInvalidBulletin = errors.New("realtime: invalid bulletin id")
)

// Conn is the part of a websocket connection the listener uses.
type Conn interface {
	WriteJSON(v any) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens a Conn to url.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type subscribeFrame struct {
	Type        string `json:"type"`
	Destination string `json:"destination"`
}

// Topic is the upvote destination for a bulletin.
func Topic(bulletinID string) string {
	return "/topic/bulletins/" + bulletinID + "/upvotes"
}

// ParseCount reads {"body":"<int>"}; a bare number body is accepted too.
func ParseCount(data []byte) (int, error) {
	var frame struct {
		Body json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return 0, err
	}
	if len(frame.Body) == 0 {
		return 0, errors.New("realtime: frame has no body")
	}
	raw := string(frame.Body)
	var s string
	if err := json.Unmarshal(frame.Body, &s); err == nil {
		raw = s
	}
	return strconv.Atoi(strings.TrimSpace(raw))
}

// subscription is one open socket. close runs at most once.
type subscription struct {
	bulletinID string
	conn       Conn
	once       sync.Once
	closed     atomic.Bool
	done       chan struct{}
}

func (s *subscription) close() {
	s.once.Do(func() {
		s.closed.Store(true)
		_ = s.conn.Close()
		obs.UpvoteListenerClosed()
	})
}

// Listener owns zero or one subscription, as a mounted card does.
type Listener struct {
	dialer Dialer
	url    string

	mu      sync.Mutex
	cur     *subscription
	onCount func(int)
	closed  bool
}

// NewListener returns a listener dialing url (the backend /ws endpoint).
func NewListener(d Dialer, url string) *Listener {
	return &Listener{dialer: d, url: url}
}

// Open subscribes to bulletinID and calls onCount for every parsed count.
// An already open subscription for another bulletin is closed first.
func (l *Listener) Open(ctx context.Context, bulletinID string, onCount func(int)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.onCount = onCount
	return l.switchLocked(ctx, bulletinID)
}

// SetBulletin moves the listener to id. Same id is a no-op.
func (l *Listener) SetBulletin(ctx context.Context, bulletinID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	return l.switchLocked(ctx, bulletinID)
}

// BulletinID reports the current subscription, "" when none.
func (l *Listener) BulletinID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cur == nil {
		return ""
	}
	return l.cur.bulletinID
}

// Done is closed when the current subscription ends, either through Close or
// SetBulletin or because the backend dropped the socket. With no subscription
// it returns a closed channel.
func (l *Listener) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cur == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return l.cur.done
}

// Close ends the listener. Later calls are no-ops.
func (l *Listener) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.cur != nil {
		l.cur.close()
		l.cur = nil
	}
}

func (l *Listener) switchLocked(ctx context.Context, bulletinID string) error {
	bulletinID = strings.TrimSpace(bulletinID)
	if l.cur != nil && l.cur.bulletinID == bulletinID {
		return nil
	}
	if l.cur != nil {
		l.cur.close()
		l.cur = nil
	}
	if bulletinID == "" {
		return nil
	}
	if strings.ContainsAny(bulletinID, "/ ") {
		return ErrInvalidBulletin
	}

	conn, err := l.dialer.Dial(ctx, l.url)
	if err != nil {
		return err
	}
	obs.UpvoteListenerOpened()
	sub := &subscription{bulletinID: bulletinID, conn: conn, done: make(chan struct{})}
	if err := conn.WriteJSON(subscribeFrame{Type: "SUBSCRIBE", Destination: Topic(bulletinID)}); err != nil {
		sub.close()
		return err
	}
	l.cur = sub
	go l.read(sub, l.onCount)
	return nil
}

func (l *Listener) read(sub *subscription, onCount func(int)) {
	defer close(sub.done)
	for {
		_, data, err := sub.conn.ReadMessage()
		if err != nil {
			if !sub.closed.Load() {
				obs.Warn("upvote_socket_lost", map[string]any{"bulletin_id": sub.bulletinID, "err": err})
				sub.close()
				l.drop(sub)
			}
			return
		}
		if sub.closed.Load() {
			return
		}
		n, err := ParseCount(data)
		if err != nil {
			obs.Warn("upvote_frame_ignored", map[string]any{"bulletin_id": sub.bulletinID, "err": err})
			continue
		}
		if onCount != nil {
			onCount(n)
		}
	}
}

// drop forgets sub so a later SetBulletin with the same id dials again.
func (l *Listener) drop(sub *subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cur == sub {
		l.cur = nil
	}
}
