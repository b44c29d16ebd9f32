package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := Namespace{KV: m, Name: LocalNamespace("client-a")}
	b := Namespace{KV: m, Name: LocalNamespace("client-b")}

	if err := a.Set(ctx, "draft", []byte("report")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, _ := b.Get(ctx, "draft"); ok {
		t.Fatal("value leaked across namespaces")
	}
	got, ok, err := a.Get(ctx, "draft")
	if err != nil || !ok || string(got) != "report" {
		t.Fatalf("Get = %q, %v, %v", got, ok, err)
	}
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	m := NewMemory().WithClock(func() time.Time { return now })

	if err := m.Set(ctx, "session:x", "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	keys, _ := m.Keys(ctx, "session:x")
	if len(keys) != 1 {
		t.Fatalf("keys = %v", keys)
	}
	now = now.Add(time.Minute)
	if _, ok, _ := m.Get(ctx, "session:x", "k"); ok {
		t.Fatal("expired entry returned")
	}
	keys, _ = m.Keys(ctx, "session:x")
	if len(keys) != 0 {
		t.Fatalf("expired key listed: %v", keys)
	}
}

func TestMemoryClear(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, k := range []string{"a", "b", "c"} {
		if err := m.Set(ctx, "local:x", k, []byte(k), 0); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	n, err := m.Clear(ctx, "local:x")
	if err != nil || n != 3 {
		t.Fatalf("Clear = %d, %v", n, err)
	}
	n, err = m.Clear(ctx, "local:x")
	if err != nil || n != 0 {
		t.Fatalf("second Clear = %d, %v", n, err)
	}
}

func TestMemoryRejectsEmptyKey(t *testing.T) {
	m := NewMemory()
	if err := m.Set(context.Background(), "local:x", "", nil, 0); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	src := []byte("abc")
	_ = m.Set(ctx, "ns", "k", src, 0)
	src[0] = 'z'
	got, _, _ := m.Get(ctx, "ns", "k")
	if string(got) != "abc" {
		t.Fatalf("stored value aliased caller slice: %q", got)
	}
}
