package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cordum/stocklock/core/infra/redisutil"
	"github.com/redis/go-redis/v9"
)

// compareAndDeleteScript runs server-side so the value check and the delete
// cannot interleave with another client's SET.
var compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore implements Store on Redis.
type RedisStore struct {
	client    redis.UniversalClient
	opTimeout time.Duration
}

// NewRedisStore connects to url (redis:// or rediss://) and verifies the server answers.
func NewRedisStore(url string) (*RedisStore, error) {
	client, err := redisutil.Connect(context.Background(), url)
	if err != nil {
		return nil, err
	}
	return NewRedisStoreFromClient(client), nil
}

// NewRedisStoreFromClient wraps an existing client. Close closes the client.
func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, opTimeout: redisutil.OpTimeout()}
}

// Close shuts down the Redis client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Client exposes the underlying Redis client.
func (s *RedisStore) Client() redis.UniversalClient {
	return s.client
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	if ttl < 0 {
		ttl = 0
	}
	cctx, cancel := s.opContext(ctx)
	defer cancel()
	// SET key value NX PX ttl
	ok, err := s.client.SetNX(cctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("set if absent %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	cctx, cancel := s.opContext(ctx)
	defer cancel()
	deleted, err := compareAndDeleteScript.Run(cctx, s.client, []string{key}, expected).Int64()
	if err != nil {
		return false, fmt.Errorf("compare and delete %s: %w", key, err)
	}
	return deleted == 1, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	cctx, cancel := s.opContext(ctx)
	defer cancel()
	val, err := s.client.Get(cctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.ready(); err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	cctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.client.Set(cctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	cctx, cancel := s.opContext(ctx)
	defer cancel()
	ttl, err := s.client.PTTL(cctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("pttl %s: %w", key, err)
	}
	// go-redis passes PTTL's -2 (missing) and -1 (no expiry) through unscaled.
	switch ttl {
	case -2:
		return 0, ErrNotFound
	case -1:
		return 0, nil
	}
	return ttl, nil
}

func (s *RedisStore) ready() error {
	if s == nil || s.client == nil {
		return errors.New("kv: redis store not initialized")
	}
	return nil
}

func (s *RedisStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}
