// Package password issues single-use temporary passwords kept in the KV store.
package password

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cordum/stocklock/core/infra/kv"
	"github.com/cordum/stocklock/core/infra/logging"
)

const (
	// DefaultTTL is how long an issued password stays valid.
	DefaultTTL = 3 * time.Minute
	// Length of generated passwords.
	Length    = 10
	keyPrefix = "temporary_password:"
	alphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	component = "password"
)

var ErrInvalidUser = errors.New("user id required")

// Service stores one temporary password per user.
type Service struct {
	store kv.Store
	gen   func(int) (string, error)
}

func NewService(store kv.Store) *Service {
	return &Service{store: store, gen: RandomString}
}

// WithGenerator replaces the password generator.
func (s *Service) WithGenerator(gen func(int) (string, error)) *Service {
	if gen != nil {
		s.gen = gen
	}
	return s
}

// Key is the storage key of a user's temporary password.
func Key(userID string) string {
	return keyPrefix + userID
}

// Issue generates a password for userID and stores it for ttl, replacing any
// earlier one. Non-positive ttl means DefaultTTL.
func (s *Service) Issue(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", ErrInvalidUser
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	pw, err := s.gen(Length)
	if err != nil {
		return "", fmt.Errorf("generate password: %w", err)
	}
	if err := s.store.Set(ctx, Key(userID), pw, ttl); err != nil {
		return "", fmt.Errorf("store password: %w", err)
	}
	// delivery stands in for an email or SMS channel
	logging.Info(component, "temporary password issued", "user", userID, "password", pw, "ttl", ttl)
	return pw, nil
}

// Verify consumes the user's password when candidate matches. A password
// verifies at most once.
func (s *Service) Verify(ctx context.Context, userID, candidate string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, ErrInvalidUser
	}
	if candidate == "" {
		return false, nil
	}
	ok, err := s.store.CompareAndDelete(ctx, Key(userID), candidate)
	if err != nil {
		return false, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		logging.Warn(component, "temporary password rejected", "user", userID)
	}
	return ok, nil
}

// RandomString returns n characters drawn uniformly from [A-Za-z0-9].
func RandomString(n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	limit := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String(), nil
}
