package gateway

import (
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	envRateLimitRPS   = "API_RATE_LIMIT_RPS"
	envRateLimitBurst = "API_RATE_LIMIT_BURST"
	// #nosec G101 -- protocol label, not a credential.
	wsAPIKeyProtocol = "stocklock-api-key"
)

type tokenBucket struct {
	tokens chan struct{}
	stop   chan struct{}
	once   sync.Once
}

func newTokenBucket(rps, burst int) *tokenBucket {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	tb := &tokenBucket{tokens: make(chan struct{}, burst), stop: make(chan struct{})}
	for i := 0; i < burst; i++ {
		tb.tokens <- struct{}{}
	}
	interval := time.Second / time.Duration(rps)
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-tb.stop:
				return
			case <-ticker.C:
			}
			select {
			case <-tb.stop:
				return
			default:
			}
			select {
			case tb.tokens <- struct{}{}:
			default:
			}
		}
	}()
	return tb
}

// Stop ends the refill goroutine. Remaining tokens can still be spent.
func (tb *tokenBucket) Stop() {
	if tb == nil {
		return
	}
	tb.once.Do(func() { close(tb.stop) })
}

// newTokenBucketFromEnv returns nil, meaning unlimited, unless
// API_RATE_LIMIT_RPS is set.
func newTokenBucketFromEnv() *tokenBucket {
	rps, err := strconv.Atoi(strings.TrimSpace(os.Getenv(envRateLimitRPS)))
	if err != nil || rps <= 0 {
		return nil
	}
	burst := rps * 2
	if parsed, err := strconv.Atoi(strings.TrimSpace(os.Getenv(envRateLimitBurst))); err == nil && parsed > 0 {
		burst = parsed
	}
	return newTokenBucket(rps, burst)
}

func (tb *tokenBucket) Allow() bool {
	if tb == nil {
		return true
	}
	select {
	case <-tb.tokens:
		return true
	default:
		return false
	}
}

func rateLimitMiddleware(limiter *tokenBucket, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		if !limiter.Allow() {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAPIKey rejects the request unless it carries the configured key.
// With no key configured every request passes.
func (s *Server) requireAPIKey(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			fn(w, r)
			return
		}
		key := normalizeAPIKey(r.Header.Get("X-API-Key"))
		if key == "" && websocket.IsWebSocketUpgrade(r) {
			key = normalizeAPIKey(apiKeyFromWebSocket(r))
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		fn(w, r)
	}
}

func normalizeAPIKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	// Common .env mistake: quoting values (e.g. "super-secret-key").
	key = strings.Trim(key, "\"'")
	return strings.TrimSpace(key)
}

// apiKeyFromWebSocket reads the key from Sec-WebSocket-Protocol, either as
// the entry after wsAPIKeyProtocol or as "<wsAPIKeyProtocol>.<key>".
func apiKeyFromWebSocket(r *http.Request) string {
	if r == nil {
		return ""
	}
	protocols := websocket.Subprotocols(r)
	prefix := strings.ToLower(wsAPIKeyProtocol) + "."
	for i, protocol := range protocols {
		if strings.EqualFold(protocol, wsAPIKeyProtocol) && i+1 < len(protocols) {
			return decodeWSAPIKey(protocols[i+1])
		}
		if strings.HasPrefix(strings.ToLower(protocol), prefix) {
			return decodeWSAPIKey(protocol[len(prefix):])
		}
	}
	return ""
}

func decodeWSAPIKey(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(raw); err == nil {
		return string(decoded)
	}
	return raw
}
