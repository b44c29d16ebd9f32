package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"wildwatch.app/internal/store"
)

type fakeDurable struct {
	token     string
	present   bool
	saveErr   error
	removeErr error
	removes   int
}

func (f *fakeDurable) Load(context.Context) (string, bool, error) { return f.token, f.present, nil }

func (f *fakeDurable) Save(_ context.Context, token string) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.token, f.present = token, true
	return nil
}

func (f *fakeDurable) Remove(context.Context) error {
	f.removes++
	f.token, f.present = "", false
	return f.removeErr
}

func TestRemoveTokenThenTokenIsAbsent(t *testing.T) {
	ctx := context.Background()
	d := &fakeDurable{token: "abc", present: true}
	s, err := Open(ctx, d, nil, "c1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if tok, ok := s.Token(); !ok || tok != "abc" {
		t.Fatalf("Token = %q, %v", tok, ok)
	}
	if err := s.RemoveToken(ctx); err != nil {
		t.Fatalf("RemoveToken: %v", err)
	}
	if tok, ok := s.Token(); ok || tok != "" {
		t.Fatalf("Token after remove = %q, %v", tok, ok)
	}
	if d.removes != 1 {
		t.Fatalf("durable removes = %d", d.removes)
	}
}

func TestRemoveTokenClearsMirrorWhenDurableFails(t *testing.T) {
	ctx := context.Background()
	d := &fakeDurable{token: "abc", present: true, removeErr: errors.New("disk full")}
	s, _ := Open(ctx, d, nil, "c1")

	if err := s.RemoveToken(ctx); err == nil {
		t.Fatal("expected durable error to surface")
	}
	if _, ok := s.Token(); ok {
		t.Fatal("mirror must be cleared regardless of durable failure")
	}
}

func TestSetTokenVisibleImmediately(t *testing.T) {
	ctx := context.Background()
	s, _ := Open(ctx, &fakeDurable{}, nil, "c1")
	if _, ok := s.Token(); ok {
		t.Fatal("unexpected token")
	}
	if err := s.SetToken(ctx, " jwt-1 "); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	if tok, ok := s.Token(); !ok || tok != "jwt-1" {
		t.Fatalf("Token = %q, %v", tok, ok)
	}
}

func TestSetTokenRejectsEmptyAndKeepsMirrorOnFailure(t *testing.T) {
	ctx := context.Background()
	d := &fakeDurable{token: "old", present: true}
	s, _ := Open(ctx, d, nil, "c1")

	if err := s.SetToken(ctx, "  "); !errors.Is(err, ErrEmptyToken) {
		t.Fatalf("expected ErrEmptyToken, got %v", err)
	}
	d.saveErr = errors.New("write failed")
	if err := s.SetToken(ctx, "new"); err == nil {
		t.Fatal("expected save error")
	}
	if tok, _ := s.Token(); tok != "old" {
		t.Fatalf("mirror changed despite failed save: %q", tok)
	}
}

func TestMutationsBroadcastToSameClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewBus()
	mine := bus.Subscribe(ctx, "c1")
	other := bus.Subscribe(ctx, "c2")
	all := bus.Subscribe(ctx, "")

	s, _ := Open(ctx, &fakeDurable{}, bus, "c1")
	if err := s.SetToken(ctx, "jwt"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	if err := s.RemoveToken(ctx); err != nil {
		t.Fatalf("RemoveToken: %v", err)
	}

	for _, want := range []Kind{TokenSet, TokenRemoved} {
		select {
		case c := <-mine:
			if c.Kind != want || c.ClientID != "c1" {
				t.Fatalf("got %+v, want kind %s", c, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("no %s change delivered", want)
		}
	}
	if got := len(all); got != 2 {
		t.Fatalf("wildcard subscriber got %d changes, want 2", got)
	}
	select {
	case c := <-other:
		t.Fatalf("change leaked to another client: %+v", c)
	default:
	}
}

func TestBusDropsSubscriberOnCancel(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	ch := bus.Subscribe(ctx, "c1")
	if bus.Len() != 1 {
		t.Fatalf("Len = %d", bus.Len())
	}
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	if bus.Len() != 0 {
		t.Fatalf("Len after cancel = %d", bus.Len())
	}
}

func TestBusNeverBlocksOnSlowSubscriber(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewBus()
	_ = bus.Subscribe(ctx, "c1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(Change{ClientID: "c1", Kind: TokenSet})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestKVDurableRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := KVDurable{KV: store.NewMemory(), Namespace: "cookies"}
	s, err := Open(ctx, d, nil, "cli")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.SetToken(ctx, "jwt"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	reopened, _ := Open(ctx, d, nil, "cli")
	if tok, ok := reopened.Token(); !ok || tok != "jwt" {
		t.Fatalf("token not persisted: %q, %v", tok, ok)
	}
	if err := reopened.RemoveToken(ctx); err != nil {
		t.Fatalf("RemoveToken: %v", err)
	}
	again, _ := Open(ctx, d, nil, "cli")
	if _, ok := again.Token(); ok {
		t.Fatal("token survived removal")
	}
}
