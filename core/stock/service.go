package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/cordum/stocklock/core/guard"
	"github.com/cordum/stocklock/core/infra/logging"
)

// ErrInvalidQuantity rejects non-positive decrements.
var ErrInvalidQuantity = errors.New("quantity must be positive")

// Service decrements stock with or without the distributed lock.
type Service struct {
	repo    Repository
	guard   *guard.Executor
	options func(key string) guard.Options
}

func NewService(repo Repository, exec *guard.Executor) *Service {
	return &Service{repo: repo, guard: exec}
}

// WithOptions resolves per-lock executor options. Without it every lock uses
// the executor's defaults.
func (s *Service) WithOptions(fn func(key string) guard.Options) *Service {
	s.options = fn
	return s
}

// Get returns the stock with id.
func (s *Service) Get(ctx context.Context, id int64) (*Stock, error) {
	return s.repo.FindByID(ctx, id)
}

// Put creates or overwrites the stock with id.
func (s *Service) Put(ctx context.Context, id, count int64) (*Stock, error) {
	st := New(id, count)
	if err := s.repo.Save(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// DecreaseWithoutLock loads, decrements and saves with no coordination.
// Concurrent callers lose updates.
func (s *Service) DecreaseWithoutLock(ctx context.Context, id, quantity int64) (*Stock, error) {
	return s.decrease(ctx, id, quantity)
}

// DecreaseWithLock performs the same update while holding LockKey(id).
func (s *Service) DecreaseWithLock(ctx context.Context, id, quantity int64) (*Stock, guard.Result, error) {
	if s.guard == nil {
		return nil, guard.Result{}, fmt.Errorf("stock service has no lock executor")
	}
	if quantity <= 0 {
		return nil, guard.Result{}, ErrInvalidQuantity
	}
	key := LockKey(id)
	opts := s.guard.Options()
	if s.options != nil {
		opts = s.options(key)
	}
	var updated *Stock
	res, err := s.guard.RunWith(ctx, key, opts, func(ctx context.Context) error {
		st, err := s.decrease(ctx, id, quantity)
		if err != nil {
			return err
		}
		updated = st
		logging.Info("stock", "stock decreased", "id", id, "count", st.Count())
		return nil
	})
	return updated, res, err
}

func (s *Service) decrease(ctx context.Context, id, quantity int64) (*Stock, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	st, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	st.Decrease(quantity)
	if err := s.repo.Save(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}
