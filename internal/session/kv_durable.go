package session

import (
	"context"

	"wildwatch.app/internal/store"
)

// KVDurable keeps the token in a store namespace; wwctl uses it over SQLite.
type KVDurable struct {
	KV        store.KV
	Namespace string
}

func (d KVDurable) Load(ctx context.Context) (string, bool, error) {
	v, ok, err := d.KV.Get(ctx, d.Namespace, TokenCookie)
	if err != nil || !ok {
		return "", false, err
	}
	return string(v), len(v) > 0, nil
}

func (d KVDurable) Save(ctx context.Context, token string) error {
	return d.KV.Set(ctx, d.Namespace, TokenCookie, []byte(token), 0)
}

func (d KVDurable) Remove(ctx context.Context) error {
	return d.KV.Delete(ctx, d.Namespace, TokenCookie)
}

// Name identifies the namespace in logout results.
func (d KVDurable) Name() string { return "cookies" }

// Clear drops every "cookie" kept in the namespace.
func (d KVDurable) Clear(ctx context.Context) error {
	_, err := d.KV.Clear(ctx, d.Namespace)
	return err
}
