package gateway

import (
	"net/http"
	"testing"
	"time"
)

func TestLockHandlers(t *testing.T) {
	g := newTestGateway(t, testOptions{})

	code, body := g.do(t, http.MethodPost, "/api/v1/locks/acquire", map[string]any{"key": "lock:test", "ttl_ms": 5000})
	if code != http.StatusOK {
		t.Fatalf("acquire lock: %d %s", code, body)
	}
	var acquired lockResponse
	decodeBody(t, body, &acquired)
	if acquired.Token == "" || !acquired.Acquired || acquired.TTLms != 5000 {
		t.Fatalf("unexpected acquire response %s", body)
	}
	if ttl := g.mr.TTL("lock:test"); ttl != 5*time.Second {
		t.Fatalf("expected 5s ttl, got %v", ttl)
	}

	code, _ = g.do(t, http.MethodPost, "/api/v1/locks/acquire", map[string]any{"key": "lock:test", "token": "other"})
	if code != http.StatusConflict {
		t.Fatalf("expected 409 for held lock, got %d", code)
	}

	code, body = g.do(t, http.MethodGet, "/api/v1/locks?key=lock:test", nil)
	var lock map[string]any
	decodeBody(t, body, &lock)
	if code != http.StatusOK || lock["token"] != acquired.Token {
		t.Fatalf("get lock: %d %s", code, body)
	}

	code, _ = g.do(t, http.MethodPost, "/api/v1/locks/release", map[string]any{"key": "lock:test", "token": "other"})
	if code != http.StatusConflict {
		t.Fatalf("expected 409 for foreign token, got %d", code)
	}
	if !g.mr.Exists("lock:test") {
		t.Fatalf("foreign release must leave the lock intact")
	}

	code, body = g.do(t, http.MethodPost, "/api/v1/locks/release", map[string]any{"key": "lock:test", "token": acquired.Token})
	if code != http.StatusOK {
		t.Fatalf("release lock: %d %s", code, body)
	}
	code, _ = g.do(t, http.MethodGet, "/api/v1/locks?key=lock:test", nil)
	if code != http.StatusNotFound {
		t.Fatalf("expected 404 after release, got %d", code)
	}
}

func TestLockHandlersValidation(t *testing.T) {
	g := newTestGateway(t, testOptions{})
	cases := []struct {
		path string
		body any
	}{
		{"/api/v1/locks/acquire", map[string]any{"ttl_ms": 100}},
		{"/api/v1/locks/acquire", map[string]any{"key": "  "}},
		{"/api/v1/locks/acquire", map[string]any{"key": "k", "mode": "exclusive"}},
		{"/api/v1/locks/release", map[string]any{"key": "k"}},
		{"/api/v1/locks/release", nil},
	}
	for _, tc := range cases {
		if code, body := g.do(t, http.MethodPost, tc.path, tc.body); code != http.StatusBadRequest {
			t.Fatalf("%s %v: expected 400 got %d %s", tc.path, tc.body, code, body)
		}
	}
	if code, _ := g.do(t, http.MethodGet, "/api/v1/locks", nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 without key, got %d", code)
	}
}

func TestLockDefaultTTL(t *testing.T) {
	g := newTestGateway(t, testOptions{})
	code, body := g.do(t, http.MethodPost, "/api/v1/locks/acquire", map[string]any{"key": "lock:default", "token": "t"})
	if code != http.StatusOK {
		t.Fatalf("acquire: %d %s", code, body)
	}
	if ttl := g.mr.TTL("lock:default"); ttl != 30*time.Second {
		t.Fatalf("expected default ttl, got %v", ttl)
	}
}

func TestAPIKeyGatesMutations(t *testing.T) {
	g := newTestGateway(t, testOptions{apiKey: "secret"})
	body := map[string]any{"key": "lock:auth", "token": "t"}

	if code, _ := g.do(t, http.MethodPost, "/api/v1/locks/acquire", body); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", code)
	}
	if code, _ := g.do(t, http.MethodPost, "/api/v1/locks/acquire", body, "X-API-Key", "wrong"); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", code)
	}
	if code, _ := g.do(t, http.MethodPut, "/api/v1/stocks/1", map[string]any{"count": 1}); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for stock put, got %d", code)
	}
	if code, b := g.do(t, http.MethodPost, "/api/v1/locks/acquire", body, "X-API-Key", `"secret"`); code != http.StatusOK {
		t.Fatalf("expected 200 with quoted key, got %d %s", code, b)
	}
	// reads stay open
	if code, _ := g.do(t, http.MethodGet, "/api/v1/locks?key=lock:auth", nil); code != http.StatusOK {
		t.Fatalf("expected open read, got %d", code)
	}
}
