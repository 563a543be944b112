// Package stock holds the shared counter the distributed lock protects.
package stock

import (
	"runtime"
	"sync/atomic"
)

// Stock is a quantity that many callers decrement. Reads and writes are
// individually atomic but Decrease as a whole is not: two concurrent callers
// can read the same value and one update is lost. Only call Decrease on a
// shared Stock while holding the stock's lock.
type Stock struct {
	ID    int64
	count atomic.Int64
}

// New returns a stock with the given quantity.
func New(id, count int64) *Stock {
	s := &Stock{ID: id}
	s.count.Store(count)
	return s
}

// Count returns the current quantity.
func (s *Stock) Count() int64 {
	return s.count.Load()
}

// Decrease subtracts quantity when the quantity read is positive.
func (s *Stock) Decrease(quantity int64) {
	current := s.count.Load()
	if current <= 0 {
		return
	}
	// yield between read and write so unsynchronized callers interleave
	runtime.Gosched()
	s.count.Store(current - quantity)
}
