package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/cordum/stocklock/core/guard"
	"github.com/cordum/stocklock/core/infra/kv"
	"github.com/cordum/stocklock/core/infra/locks"
	"github.com/cordum/stocklock/core/password"
	"github.com/cordum/stocklock/core/stock"
)

type testGateway struct {
	srv     *Server
	http    *httptest.Server
	mr      *miniredis.Miniredis
	manager *locks.Manager
	hub     *Hub
	metrics *recordingMetrics
}

type testOptions struct {
	apiKey string
	guard  guard.Options
}

type recordingMetrics struct {
	mu     sync.Mutex
	routes []string
}

func (m *recordingMetrics) ObserveRequest(method, route, status string, _ float64) {
	m.mu.Lock()
	m.routes = append(m.routes, method+" "+route+" "+status)
	m.mu.Unlock()
}

func (m *recordingMetrics) seen() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.routes...)
}

func newTestGateway(t *testing.T, opts testOptions) *testGateway {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := kv.NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	hub := NewHub(16)
	manager := locks.NewManager(store).WithEvents(hub)
	if opts.guard == (guard.Options{}) {
		opts.guard = guard.Options{MaxAttempts: 1000, RetryDelay: time.Millisecond}
	}
	exec := guard.NewExecutor(manager, opts.guard)
	rec := &recordingMetrics{}
	srv := New(Deps{
		Locks:     manager,
		Stocks:    stock.NewService(stock.NewRedisRepository(store), exec),
		Passwords: password.NewService(store),
		Hub:       hub,
		Metrics:   rec,
		APIKey:    opts.apiKey,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testGateway{srv: srv, http: ts, mr: mr, manager: manager, hub: hub, metrics: rec}
}

func (g *testGateway) do(t *testing.T, method, path string, body any, headers ...string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, g.http.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := g.http.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

func decodeBody(t *testing.T, data []byte, dst any) {
	t.Helper()
	if err := json.Unmarshal(data, dst); err != nil {
		t.Fatalf("decode %s: %v", string(data), err)
	}
}
