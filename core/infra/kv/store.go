// Package kv exposes the small set of key-value primitives the lock protocol
// and its collaborators rely on. Conditional operations are atomic on the
// server; callers never emulate them with separate reads and writes.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is a key-value store with atomic conditional primitives.
type Store interface {
	// SetIfAbsent stores value under key with ttl only when key is absent.
	// It reports whether this call created the key.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareAndDelete deletes key only when its current value equals
	// expected, as one indivisible operation.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	// Set unconditionally stores value. A ttl <= 0 keeps the key until deleted.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Close() error
}
