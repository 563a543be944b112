package password

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/cordum/stocklock/core/infra/kv"
)

func newService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := kv.NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewService(store), mr
}

func TestRandomString(t *testing.T) {
	s, err := RandomString(Length)
	if err != nil {
		t.Fatalf("random: %v", err)
	}
	if len(s) != Length {
		t.Fatalf("expected %d chars, got %q", Length, s)
	}
	for _, r := range s {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !isAlnum {
			t.Fatalf("unexpected rune %q in %q", r, s)
		}
	}
	if empty, _ := RandomString(0); empty != "" {
		t.Fatalf("expected empty string")
	}
}

func TestIssueStoresWithTTL(t *testing.T) {
	svc, mr := newService(t)
	pw, err := svc.Issue(context.Background(), "42", 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, err := mr.Get("temporary_password:42")
	if err != nil || got != pw {
		t.Fatalf("expected stored password %q, got %q err=%v", pw, got, err)
	}
	if ttl := mr.TTL("temporary_password:42"); ttl != DefaultTTL {
		t.Fatalf("expected ttl %v, got %v", DefaultTTL, ttl)
	}
}

func TestVerifyConsumesOnce(t *testing.T) {
	svc, mr := newService(t)
	svc.WithGenerator(func(int) (string, error) { return "abcDEF1234", nil })
	ctx := context.Background()
	if _, err := svc.Issue(ctx, "7", time.Minute); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if ok, err := svc.Verify(ctx, "7", "wrong"); err != nil || ok {
		t.Fatalf("expected mismatch, ok=%v err=%v", ok, err)
	}
	if !mr.Exists("temporary_password:7") {
		t.Fatalf("mismatch must not consume the password")
	}
	if ok, err := svc.Verify(ctx, "7", "abcDEF1234"); err != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, err)
	}
	if ok, _ := svc.Verify(ctx, "7", "abcDEF1234"); ok {
		t.Fatalf("password must verify at most once")
	}
}

func TestVerifyAfterExpiry(t *testing.T) {
	svc, mr := newService(t)
	ctx := context.Background()
	pw, err := svc.Issue(ctx, "9", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if ok, _ := svc.Verify(ctx, "9", pw); ok {
		t.Fatalf("expired password must not verify")
	}
}

func TestInvalidInput(t *testing.T) {
	svc := NewService(kv.NewMemoryStore())
	ctx := context.Background()
	if _, err := svc.Issue(ctx, " ", 0); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
	if _, err := svc.Verify(ctx, "", "x"); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
	if ok, err := svc.Verify(ctx, "1", ""); ok || err != nil {
		t.Fatalf("empty candidate must be rejected without error")
	}
}

func TestGeneratorError(t *testing.T) {
	svc := NewService(kv.NewMemoryStore()).WithGenerator(func(int) (string, error) {
		return "", errors.New("entropy")
	})
	if _, err := svc.Issue(context.Background(), "1", 0); err == nil {
		t.Fatalf("expected generator error")
	}
}
