package locks

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStoreUnavailable marks failures of the backing store itself
	// (network, timeout, server error), as opposed to a lock being held.
	ErrStoreUnavailable = errors.New("lock store unavailable")
	// ErrNotHeld is returned by Get when no holder owns the key.
	ErrNotHeld = errors.New("lock not held")
	// ErrInvalidLock rejects empty keys or tokens.
	ErrInvalidLock = errors.New("lock key and token required")
)

// Lock captures the current ownership of a key.
type Lock struct {
	Key       string        `json:"key"`
	Token     string        `json:"token"`
	TTL       time.Duration `json:"-"`
	TTLms     int64         `json:"ttl_ms"`
	ExpiresAt time.Time     `json:"expires_at,omitempty"`
}

// Locker is the acquire/release contract the guarded executor drives.
type Locker interface {
	// Acquire makes one attempt to take key for token. It never blocks
	// waiting for a holder and reports false when the key is taken.
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// Release frees key only if token still owns it. A false result means
	// there was nothing of ours left to free.
	Release(ctx context.Context, key, token string) (bool, error)
}

// StoreError wraps a backing store failure for one lock operation.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Key, ErrStoreUnavailable, e.Err)
}

func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is lets errors.Is(err, ErrStoreUnavailable) match any StoreError.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}
