// Package storetest holds the behaviour every store.KV implementation shares.
package storetest

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"wildwatch.app/internal/store"
)

// Run exercises kv against the KV contract. advance moves the clock kv uses
// for expiry forward by d.
func Run(t *testing.T, kv store.KV, advance func(d time.Duration)) {
	t.Helper()

	t.Run("miss", func(t *testing.T) {
		v, ok, err := kv.Get(context.Background(), "local:miss", "nothing")
		if err != nil || ok || v != nil {
			t.Fatalf("Get = %q, %v, %v; want clean miss", v, ok, err)
		}
	})

	t.Run("set get upsert", func(t *testing.T) {
		ctx := context.Background()
		if err := kv.Set(ctx, "local:rt", "draft", []byte("first"), 0); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := kv.Set(ctx, "local:rt", "draft", []byte("second"), 0); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		got, ok, err := kv.Get(ctx, "local:rt", "draft")
		if err != nil || !ok || string(got) != "second" {
			t.Fatalf("Get = %q, %v, %v", got, ok, err)
		}
	})

	t.Run("namespaces are isolated", func(t *testing.T) {
		ctx := context.Background()
		_ = kv.Set(ctx, "local:a", "k", []byte("a"), 0)
		_ = kv.Set(ctx, "local:ab", "k", []byte("ab"), 0)
		_ = kv.Set(ctx, "local:a*", "k", []byte("glob"), 0)

		keys, err := kv.Keys(ctx, "local:a")
		if err != nil || !reflect.DeepEqual(keys, []string{"k"}) {
			t.Fatalf("Keys(local:a) = %v, %v", keys, err)
		}
		n, err := kv.Clear(ctx, "local:a*")
		if err != nil || n != 1 {
			t.Fatalf("Clear(local:a*) = %d, %v", n, err)
		}
		if got, ok, _ := kv.Get(ctx, "local:ab", "k"); !ok || string(got) != "ab" {
			t.Fatal("clearing one namespace touched a sibling")
		}
		if got, ok, _ := kv.Get(ctx, "local:a", "k"); !ok || string(got) != "a" {
			t.Fatal("glob characters in a namespace matched another namespace")
		}
	})

	t.Run("keys sorted and unique", func(t *testing.T) {
		ctx := context.Background()
		for _, k := range []string{"theme", "draft", "lastTab", "draft"} {
			if err := kv.Set(ctx, "local:keys", k, []byte(k), 0); err != nil {
				t.Fatalf("Set %s: %v", k, err)
			}
		}
		keys, err := kv.Keys(ctx, "local:keys")
		if err != nil || !reflect.DeepEqual(keys, []string{"draft", "lastTab", "theme"}) {
			t.Fatalf("Keys = %v, %v", keys, err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		ctx := context.Background()
		_ = kv.Set(ctx, "local:del", "k", []byte("v"), 0)
		if err := kv.Delete(ctx, "local:del", "k"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := kv.Delete(ctx, "local:del", "k"); err != nil {
			t.Fatalf("Delete of a missing key: %v", err)
		}
		if _, ok, _ := kv.Get(ctx, "local:del", "k"); ok {
			t.Fatal("deleted value returned")
		}
	})

	t.Run("clear", func(t *testing.T) {
		ctx := context.Background()
		for _, k := range []string{"a", "b", "c"} {
			_ = kv.Set(ctx, "session:clear", k, []byte(k), 0)
		}
		_ = kv.Set(ctx, "session:other", "a", []byte("a"), 0)
		n, err := kv.Clear(ctx, "session:clear")
		if err != nil || n != 3 {
			t.Fatalf("Clear = %d, %v", n, err)
		}
		if n, err := kv.Clear(ctx, "session:clear"); err != nil || n != 0 {
			t.Fatalf("second Clear = %d, %v", n, err)
		}
		if _, ok, _ := kv.Get(ctx, "session:other", "a"); !ok {
			t.Fatal("Clear removed another namespace")
		}
	})

	t.Run("validation", func(t *testing.T) {
		ctx := context.Background()
		if _, _, err := kv.Get(ctx, "", "k"); !errors.Is(err, store.ErrInvalidKey) {
			t.Fatalf("Get empty ns: %v", err)
		}
		if err := kv.Set(ctx, "ns", " ", nil, 0); !errors.Is(err, store.ErrInvalidKey) {
			t.Fatalf("Set blank key: %v", err)
		}
		if err := kv.Delete(ctx, "ns", ""); !errors.Is(err, store.ErrInvalidKey) {
			t.Fatalf("Delete empty key: %v", err)
		}
	})

	// Expiry runs last since advance moves a clock shared with the cases above.
	t.Run("expiry", func(t *testing.T) {
		ctx := context.Background()
		if err := kv.Set(ctx, "session:ttl", "short", []byte("x"), time.Second); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := kv.Set(ctx, "session:ttl", "long", []byte("y"), 0); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if _, ok, _ := kv.Get(ctx, "session:ttl", "short"); !ok {
			t.Fatal("value missing before its ttl")
		}
		advance(2 * time.Second)
		if _, ok, _ := kv.Get(ctx, "session:ttl", "short"); ok {
			t.Fatal("expired value returned")
		}
		keys, err := kv.Keys(ctx, "session:ttl")
		if err != nil || !reflect.DeepEqual(keys, []string{"long"}) {
			t.Fatalf("Keys after expiry = %v, %v", keys, err)
		}
	})
}
