// Package gateway exposes stocks, locks and temporary passwords over HTTP and
// streams lock events to websocket clients.
package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cordum/stocklock/core/guard"
	"github.com/cordum/stocklock/core/infra/buildinfo"
	"github.com/cordum/stocklock/core/infra/locks"
	"github.com/cordum/stocklock/core/infra/logging"
	infraMetrics "github.com/cordum/stocklock/core/infra/metrics"
	"github.com/cordum/stocklock/core/password"
	"github.com/cordum/stocklock/core/stock"
)

const (
	component       = "gateway"
	maxBodyBytes    = 64 << 10
	shutdownTimeout = 10 * time.Second

	defaultWriteTimeout = 60 * time.Second
	// critical section, release and response after the lock wait
	writeTimeoutSlack = 15 * time.Second
)

// Deps are the services a Server routes to. Nil services answer 503.
type Deps struct {
	Locks     *locks.Manager
	Stocks    *stock.Service
	Passwords *password.Service
	Hub       *Hub
	Metrics   infraMetrics.GatewayMetrics
	// APIKey gates lock and stock mutations when non-empty.
	APIKey string
}

// Server holds handler state.
type Server struct {
	locks     *locks.Manager
	stocks    *stock.Service
	passwords *password.Service
	hub       *Hub
	metrics   infraMetrics.GatewayMetrics
	apiKey    string
	limiter   *tokenBucket
	started   time.Time
}

func New(d Deps) *Server {
	s := &Server{
		locks:     d.Locks,
		stocks:    d.Stocks,
		passwords: d.Passwords,
		hub:       d.Hub,
		metrics:   d.Metrics,
		apiKey:    normalizeAPIKey(d.APIKey),
		limiter:   newTokenBucketFromEnv(),
		started:   time.Now().UTC(),
	}
	if s.metrics == nil {
		s.metrics = infraMetrics.Noop{}
	}
	if s.hub == nil {
		s.hub = NewHub(0)
	}
	return s
}

// Handler returns the routed, middleware-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", infraMetrics.Handler())
	mux.HandleFunc("GET /api/v1/version", s.instrumented("/api/v1/version", s.handleVersion))

	// Stocks
	mux.HandleFunc("GET /api/v1/stocks/{id}", s.instrumented("/api/v1/stocks/{id}", s.handleGetStock))
	mux.HandleFunc("PUT /api/v1/stocks/{id}", s.instrumented("/api/v1/stocks/{id}", s.requireAPIKey(s.handlePutStock)))
	mux.HandleFunc("POST /api/v1/stocks/{id}/decrease", s.instrumented("/api/v1/stocks/{id}/decrease", s.requireAPIKey(s.handleDecreaseStock)))

	// Locks
	mux.HandleFunc("GET /api/v1/locks", s.instrumented("/api/v1/locks", s.handleGetLock))
	mux.HandleFunc("POST /api/v1/locks/acquire", s.instrumented("/api/v1/locks/acquire", s.requireAPIKey(s.handleAcquireLock)))
	mux.HandleFunc("POST /api/v1/locks/release", s.instrumented("/api/v1/locks/release", s.requireAPIKey(s.handleReleaseLock)))

	// Temporary passwords
	mux.HandleFunc("POST /api/v1/users/reset-password/{userId}", s.instrumented("/api/v1/users/reset-password/{userId}", s.handleResetPassword))
	mux.HandleFunc("POST /api/v1/users/verify-password", s.instrumented("/api/v1/users/verify-password", s.handleVerifyPassword))

	// Stream (WebSocket)
	mux.HandleFunc("GET /api/v1/stream", s.instrumented("/api/v1/stream", s.requireAPIKey(s.handleStream)))

	return rateLimitMiddleware(s.limiter, mux)
}

// Close releases background resources held by the server.
func (s *Server) Close() {
	s.limiter.Stop()
}

// WriteTimeoutFor returns a write deadline long enough for a guarded request
// that waits up to maxWait for its lock.
func WriteTimeoutFor(maxWait time.Duration) time.Duration {
	return max(defaultWriteTimeout, maxWait+writeTimeoutSlack)
}

// ListenAndServe serves handler on addr until ctx ends, then shuts down
// gracefully. A non-positive writeTimeout uses the 60s default.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, writeTimeout time.Duration) error {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Info(component, "http listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logging.Error(component, "http server error", "error", err)
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logging.Info(component, "http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{"uptime_seconds": int64(time.Since(s.started).Seconds())}
	for k, v := range buildinfo.Fields() {
		info[k] = v
	}
	writeJSON(w, http.StatusOK, info)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack forwards websocket hijacking support to the underlying writer when available.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijacker not supported")
	}
	return hj.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// instrumented wraps handlers to record metrics.
func (s *Server) instrumented(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		s.metrics.ObserveRequest(r.Method, route, fmt.Sprintf("%d", rec.status), time.Since(start).Seconds())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeGuardError maps executor and store failures onto status codes.
func writeGuardError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, guard.ErrAcquisitionExhausted):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, locks.ErrStoreUnavailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, locks.ErrInvalidLock), errors.Is(err, stock.ErrInvalidQuantity):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, stock.ErrNotFound), errors.Is(err, locks.ErrNotHeld):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "request cancelled", http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
