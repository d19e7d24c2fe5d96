package testsupport

import (
	"context"
	"testing"

	"postforge/internal/objectstore"
)

// MustOpenSQLite opens a sqlite-backed gateway for tests and registers cleanup.
func MustOpenSQLite(t testing.TB, path string) *objectstore.SQLite {
	t.Helper()

	store, err := objectstore.OpenSQLite(path)
	if err != nil {
		t.Fatalf("objectstore.OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// Seed writes each payload to the gateway.
func Seed(t testing.TB, store objectstore.Gateway, objects map[string]objectstore.Payload) {
	t.Helper()

	for key, payload := range objects {
		if err := store.WriteJSON(context.Background(), key, payload); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}
}

// MustRead returns the payload stored at key.
func MustRead(t testing.TB, store objectstore.Gateway, key string) objectstore.Payload {
	t.Helper()

	payload, err := store.ReadJSON(context.Background(), key)
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	return payload
}

// MustList returns the keys under prefix.
func MustList(t testing.TB, store objectstore.Gateway, prefix string) []string {
	t.Helper()

	keys, err := store.List(context.Background(), prefix)
	if err != nil {
		t.Fatalf("list %s: %v", prefix, err)
	}
	return keys
}
