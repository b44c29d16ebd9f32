package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"wildwatch.app/internal/obs"
	"wildwatch.app/internal/realtime"
)

const keepAlive = 15 * time.Second

type sse struct {
	w http.ResponseWriter
	f http.Flusher
}

func startSSE(w http.ResponseWriter, r *http.Request) (*sse, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()
	return &sse{w: w, f: flusher}, true
}

func (s *sse) event(name string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

func (s *sse) ping() error {
	if _, err := s.w.Write([]byte(": ping\n\n")); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// handleSessionEvents streams token changes for this browser instance so
// other open tabs can leave protected pages.
func (a *API) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	rs := requestSessionFrom(r.Context())
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := rs.tokens.Subscribe(ctx)
	stream, ok := startSSE(w, r)
	if !ok {
		return
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case change, open := <-ch:
			if !open {
				return
			}
			if err := stream.event("session", change); err != nil {
				return
			}
		case <-ticker.C:
			if err := stream.ping(); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// handleUpvotes is one mounted bulletin card: it owns a listener for the
// lifetime of the stream.
func (a *API) handleUpvotes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	counts := make(chan int, 8)
	l := realtime.NewListener(a.deps.Dialer, a.deps.WSURL)
	defer l.Close()
	err := l.Open(ctx, id, func(n int) {
		select {
		case counts <- n:
		case <-ctx.Done():
		}
	})
	if err != nil {
		obs.Warn("upvote_listener_failed", map[string]any{"bulletin_id": id, "err": err})
		writeError(w, r, http.StatusBadGateway, "live updates unavailable")
		return
	}

	lost := l.Done()

	stream, ok := startSSE(w, r)
	if !ok {
		return
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-lost:
			// EventSource reconnects and the next request dials a fresh socket.
			_ = stream.event("upvotes_closed", map[string]any{"bulletinId": id})
			return
		case n := <-counts:
			if err := stream.event("upvotes", map[string]any{"bulletinId": id, "count": n}); err != nil {
				return
			}
		case <-ticker.C:
			if err := stream.ping(); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
