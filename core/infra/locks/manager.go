package locks

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cordum/stocklock/core/infra/kv"
)

// DefaultTTL applies when a caller passes a non-positive ttl.
const DefaultTTL = 30 * time.Second

// Manager turns the store's set-if-absent and compare-and-delete primitives
// into token-owned, self-expiring locks.
type Manager struct {
	store  kv.Store
	events EventSink
	now    func() time.Time
}

// NewManager constructs a Manager over store.
func NewManager(store kv.Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// WithEvents attaches a sink for lock lifecycle events.
func (m *Manager) WithEvents(sink EventSink) *Manager {
	m.events = sink
	return m
}

// Acquire attempts to take key for token with a single set-if-absent.
func (m *Manager) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	key, token, err := normalize(key, token)
	if err != nil {
		return false, err
	}
	if m == nil || m.store == nil {
		return false, &StoreError{Op: "acquire", Key: key, Err: errors.New("no store configured")}
	}
	ttl = normalizeTTL(ttl)
	ok, err := m.store.SetIfAbsent(ctx, key, token, ttl)
	if err != nil {
		return false, classify(ctx, "acquire", key, err)
	}
	if ok {
		m.publish(EventAcquired, key, token)
	} else {
		m.publish(EventContended, key, token)
	}
	return ok, nil
}

// Release deletes key if and only if token still owns it.
func (m *Manager) Release(ctx context.Context, key, token string) (bool, error) {
	key, token, err := normalize(key, token)
	if err != nil {
		return false, err
	}
	if m == nil || m.store == nil {
		return false, &StoreError{Op: "release", Key: key, Err: errors.New("no store configured")}
	}
	released, err := m.store.CompareAndDelete(ctx, key, token)
	if err != nil {
		return false, classify(ctx, "release", key, err)
	}
	if released {
		m.publish(EventReleased, key, token)
	} else {
		m.publish(EventReleaseMissed, key, token)
	}
	return released, nil
}

// Get reports the current holder of key, or ErrNotHeld.
func (m *Manager) Get(ctx context.Context, key string) (*Lock, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrInvalidLock
	}
	if m == nil || m.store == nil {
		return nil, &StoreError{Op: "get", Key: key, Err: errors.New("no store configured")}
	}
	token, err := m.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotHeld
	}
	if err != nil {
		return nil, classify(ctx, "get", key, err)
	}
	ttl, err := m.store.TTL(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		// expired between the two reads
		return nil, ErrNotHeld
	}
	if err != nil {
		return nil, classify(ctx, "get", key, err)
	}
	lock := &Lock{Key: key, Token: token, TTL: ttl, TTLms: ttl.Milliseconds()}
	if ttl > 0 {
		lock.ExpiresAt = m.now().Add(ttl).UTC()
	}
	return lock, nil
}

func (m *Manager) publish(typ EventType, key, token string) {
	if m.events == nil {
		return
	}
	m.events.PublishLockEvent(Event{Type: typ, Key: key, Token: token, At: m.now().UTC()})
}

// classify keeps the caller's own cancellation distinguishable from store failure.
func classify(ctx context.Context, op, key string, err error) error {
	if ctx != nil && ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return ctx.Err()
	}
	return &StoreError{Op: op, Key: key, Err: err}
}

func normalize(key, token string) (string, string, error) {
	key = strings.TrimSpace(key)
	token = strings.TrimSpace(token)
	if key == "" || token == "" {
		return "", "", ErrInvalidLock
	}
	return key, token, nil
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
