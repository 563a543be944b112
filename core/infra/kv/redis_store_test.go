package kv

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStoreSetIfAbsent(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	ok, err := store.SetIfAbsent(ctx, "lock:stock:1", "token-a", 2*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected first set to win, ok=%v err=%v", ok, err)
	}
	ok, err = store.SetIfAbsent(ctx, "lock:stock:1", "token-b", 2*time.Second)
	if err != nil || ok {
		t.Fatalf("expected second set to lose, ok=%v err=%v", ok, err)
	}
	if got, _ := mr.Get("lock:stock:1"); got != "token-a" {
		t.Fatalf("expected value untouched, got %q", got)
	}
	if ttl := mr.TTL("lock:stock:1"); ttl <= 0 || ttl > 2*time.Second {
		t.Fatalf("expected ttl set, got %s", ttl)
	}

	mr.FastForward(3 * time.Second)
	ok, err = store.SetIfAbsent(ctx, "lock:stock:1", "token-b", 2*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected set after expiry, ok=%v err=%v", ok, err)
	}
}

func TestRedisStoreCompareAndDelete(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	if _, err := store.SetIfAbsent(ctx, "k", "owner-a", time.Minute); err != nil {
		t.Fatalf("seed: %v", err)
	}
	deleted, err := store.CompareAndDelete(ctx, "k", "owner-b")
	if err != nil {
		t.Fatalf("compare and delete: %v", err)
	}
	if deleted {
		t.Fatalf("expected mismatch to keep key")
	}
	if !mr.Exists("k") {
		t.Fatalf("key removed on mismatch")
	}
	deleted, err = store.CompareAndDelete(ctx, "k", "owner-a")
	if err != nil || !deleted {
		t.Fatalf("expected delete on match, deleted=%v err=%v", deleted, err)
	}
	if mr.Exists("k") {
		t.Fatalf("key still present after delete")
	}
	deleted, err = store.CompareAndDelete(ctx, "missing", "owner-a")
	if err != nil || deleted {
		t.Fatalf("expected false for missing key, deleted=%v err=%v", deleted, err)
	}
}

func TestRedisStoreGetSetTTL(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.TTL(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for ttl, got %v", err)
	}
	if err := store.Set(ctx, "stock:1", "100", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if ttl, err := store.TTL(ctx, "stock:1"); err != nil || ttl != 0 {
		t.Fatalf("expected no expiry, ttl=%s err=%v", ttl, err)
	}
	if err := store.Set(ctx, "pw", "secret", 3*time.Minute); err != nil {
		t.Fatalf("set with ttl: %v", err)
	}
	got, err := store.Get(ctx, "pw")
	if err != nil || got != "secret" {
		t.Fatalf("unexpected get: %q %v", got, err)
	}
	ttl, err := store.TTL(ctx, "pw")
	if err != nil || ttl <= 0 || ttl > 3*time.Minute {
		t.Fatalf("unexpected ttl: %s %v", ttl, err)
	}
	mr.FastForward(4 * time.Minute)
	if _, err := store.Get(ctx, "pw"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected key expired, got %v", err)
	}
}

func TestRedisStoreServerError(t *testing.T) {
	store, mr := newTestRedisStore(t)
	mr.SetError("ERR server unavailable")
	if _, err := store.SetIfAbsent(context.Background(), "k", "v", time.Second); err == nil {
		t.Fatalf("expected error while server fails")
	}
	if _, err := store.CompareAndDelete(context.Background(), "k", "v"); err == nil {
		t.Fatalf("expected error while server fails")
	}
	mr.SetError("")
	if _, err := store.SetIfAbsent(context.Background(), "k", "v", time.Second); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
}

func TestNilRedisStore(t *testing.T) {
	var store *RedisStore
	if _, err := store.SetIfAbsent(context.Background(), "k", "v", time.Second); err == nil {
		t.Fatalf("expected error for nil store")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close nil store: %v", err)
	}
}
