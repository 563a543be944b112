package stock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/cordum/stocklock/core/infra/kv"
)

// ErrNotFound is returned for unknown stock ids.
var ErrNotFound = errors.New("stock not found")

// Repository loads and stores stocks.
type Repository interface {
	FindByID(ctx context.Context, id int64) (*Stock, error)
	Save(ctx context.Context, s *Stock) error
}

// MemoryRepository keeps stocks in process. FindByID hands out the stored
// pointer, so concurrent callers share one Stock.
type MemoryRepository struct {
	mu     sync.RWMutex
	stocks map[int64]*Stock
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{stocks: make(map[int64]*Stock)}
}

func (r *MemoryRepository) FindByID(_ context.Context, id int64) (*Stock, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stocks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return s, nil
}

func (r *MemoryRepository) Save(_ context.Context, s *Stock) error {
	if s == nil {
		return errors.New("stock is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stocks[s.ID] = s
	return nil
}

// RedisRepository stores each stock's count as a plain string key. A load
// followed by a save is two round trips, so processes sharing a key race the
// same way goroutines sharing a MemoryRepository do.
type RedisRepository struct {
	store kv.Store
}

func NewRedisRepository(store kv.Store) *RedisRepository {
	return &RedisRepository{store: store}
}

func (r *RedisRepository) FindByID(ctx context.Context, id int64) (*Stock, error) {
	raw, err := r.store.Get(ctx, Key(id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load stock %d: %w", id, err)
	}
	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode stock %d: %w", id, err)
	}
	return New(id, count), nil
}

func (r *RedisRepository) Save(ctx context.Context, s *Stock) error {
	if s == nil {
		return errors.New("stock is nil")
	}
	if err := r.store.Set(ctx, Key(s.ID), strconv.FormatInt(s.Count(), 10), 0); err != nil {
		return fmt.Errorf("save stock %d: %w", s.ID, err)
	}
	return nil
}

// Key is the storage key of a stock's count.
func Key(id int64) string {
	return "stock:" + strconv.FormatInt(id, 10)
}

// LockKey is the lock guarding a stock.
func LockKey(id int64) string {
	return "lock:stock:" + strconv.FormatInt(id, 10)
}
