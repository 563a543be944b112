package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/cordum/stocklock/core/infra/locks"
	"github.com/gorilla/websocket"
)

func wsURL(g *testGateway) string {
	return "ws" + strings.TrimPrefix(g.http.URL, "http") + "/api/v1/stream"
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d ws clients, have %d", n, hub.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamDeliversLockEvents(t *testing.T) {
	g := newTestGateway(t, testOptions{})
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(g), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitForClients(t, g.hub, 1)

	ctx := context.Background()
	if ok, err := g.manager.Acquire(ctx, "lock:stream", "tok", time.Minute); !ok || err != nil {
		t.Fatalf("acquire: %v %v", ok, err)
	}
	if ok, err := g.manager.Release(ctx, "lock:stream", "tok"); !ok || err != nil {
		t.Fatalf("release: %v %v", ok, err)
	}

	want := []locks.EventType{locks.EventAcquired, locks.EventReleased}
	for _, typ := range want {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var evt locks.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if evt.Type != typ || evt.Key != "lock:stream" || evt.Token != "tok" {
			t.Fatalf("unexpected event %#v, want %s", evt, typ)
		}
	}

	conn.Close()
	waitForClients(t, g.hub, 0)
}

func TestStreamRequiresAPIKey(t *testing.T) {
	g := newTestGateway(t, testOptions{apiKey: "secret"})
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(g), nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %#v", resp)
	}

	dialer := websocket.Dialer{Subprotocols: []string{wsAPIKeyProtocol, base64.RawURLEncoding.EncodeToString([]byte("secret"))}}
	conn, _, err := dialer.Dial(wsURL(g), nil)
	if err != nil {
		t.Fatalf("dial with key: %v", err)
	}
	conn.Close()
}

func TestHubEvictsSlowClient(t *testing.T) {
	hub := NewHub(1)
	ch := hub.subscribe()
	hub.PublishLockEvent(locks.Event{Type: locks.EventAcquired, Key: "k"})
	hub.PublishLockEvent(locks.Event{Type: locks.EventReleased, Key: "k"})
	if hub.Len() != 0 {
		t.Fatalf("expected slow client evicted")
	}
	evt, ok := <-ch
	if !ok || evt.Type != locks.EventAcquired {
		t.Fatalf("expected buffered event before close")
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	// unsubscribe after eviction must not double close
	hub.unsubscribe(ch)
}
