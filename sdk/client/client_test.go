package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/cordum/stocklock/core/gateway"
	"github.com/cordum/stocklock/core/guard"
	"github.com/cordum/stocklock/core/infra/kv"
	"github.com/cordum/stocklock/core/infra/locks"
	"github.com/cordum/stocklock/core/password"
	"github.com/cordum/stocklock/core/stock"
)

func newTestServer(t *testing.T, apiKey string) (*httptest.Server, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := kv.NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	manager := locks.NewManager(store)
	exec := guard.NewExecutor(manager, guard.Options{MaxAttempts: 1})
	srv := gateway.New(gateway.Deps{
		Locks:     manager,
		Stocks:    stock.NewService(stock.NewRedisRepository(store), exec),
		Passwords: password.NewService(store),
		APIKey:    apiKey,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, mr
}

func TestClientStocks(t *testing.T) {
	ts, _ := newTestServer(t, "k")
	c := New(ts.URL+"/", "k")
	ctx := context.Background()

	if _, err := c.PutStock(ctx, 1, 10); err != nil {
		t.Fatalf("put: %v", err)
	}
	st, err := c.DecreaseStock(ctx, 1, 3, false)
	if err != nil {
		t.Fatalf("decrease: %v", err)
	}
	if st.Count != 7 || st.Result == nil || st.Result.Outcome != "executed" || !st.Result.Released {
		t.Fatalf("unexpected stock %#v", st)
	}
	st, err = c.DecreaseStock(ctx, 1, 1, true)
	if err != nil || st.Count != 6 || st.Result != nil {
		t.Fatalf("unguarded decrease: %#v %v", st, err)
	}
	st, err = c.GetStock(ctx, 1)
	if err != nil || st.Count != 6 {
		t.Fatalf("get: %#v %v", st, err)
	}
	if _, err := c.GetStock(ctx, 2); !IsStatus(err, http.StatusNotFound) {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestClientLocks(t *testing.T) {
	ts, _ := newTestServer(t, "")
	c := New(ts.URL, "")
	ctx := context.Background()

	lock, err := c.AcquireLock(ctx, "lock:cli", "", time.Minute)
	if err != nil || lock.Token == "" || !lock.Acquired {
		t.Fatalf("acquire: %#v %v", lock, err)
	}
	if _, err := c.AcquireLock(ctx, "lock:cli", "other", 0); !IsStatus(err, http.StatusConflict) {
		t.Fatalf("expected 409, got %v", err)
	}
	held, err := c.GetLock(ctx, "lock:cli")
	if err != nil || held.Token != lock.Token || held.TTLms <= 0 {
		t.Fatalf("get: %#v %v", held, err)
	}
	if _, err := c.ReleaseLock(ctx, "lock:cli", "other"); !IsStatus(err, http.StatusConflict) {
		t.Fatalf("expected 409 for foreign release, got %v", err)
	}
	rel, err := c.ReleaseLock(ctx, "lock:cli", lock.Token)
	if err != nil || !rel.Released {
		t.Fatalf("release: %#v %v", rel, err)
	}
}

func TestClientPasswords(t *testing.T) {
	ts, mr := newTestServer(t, "")
	c := New(ts.URL, "")
	ctx := context.Background()
	if err := c.ResetPassword(ctx, "5"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	pw, err := mr.Get(password.Key("5"))
	if err != nil {
		t.Fatalf("stored password: %v", err)
	}
	if err := c.VerifyPassword(ctx, "5", "wrong"); !IsStatus(err, http.StatusBadRequest) {
		t.Fatalf("expected 400, got %v", err)
	}
	if err := c.VerifyPassword(ctx, "5", pw); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestClientAPIKeyRejected(t *testing.T) {
	ts, _ := newTestServer(t, "right")
	c := New(ts.URL, "wrong")
	_, err := c.PutStock(context.Background(), 1, 1)
	if !IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("expected 401, got %v", err)
	}
}
