package guard

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff returns the pause after the given failed attempt (1-based).
type Backoff interface {
	Next(attempt int) time.Duration
}

// Constant waits the same delay after every failed attempt.
type Constant time.Duration

func (c Constant) Next(int) time.Duration {
	if c < 0 {
		return 0
	}
	return time.Duration(c)
}

// DefaultMaxBackoff caps an Exponential whose Max is unset.
const DefaultMaxBackoff = 5 * time.Second

// Exponential doubles Base after every failed attempt up to Max, or
// DefaultMaxBackoff when Max <= 0. Jitter in [0,1] randomizes that fraction
// of each delay downward so waiters spread out.
type Exponential struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

func (e Exponential) Next(attempt int) time.Duration {
	if e.Base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	limit := e.Max
	if limit <= 0 {
		limit = DefaultMaxBackoff
	}
	delay := e.Base
	for i := 1; i < attempt && delay < limit; i++ {
		if delay > math.MaxInt64/2 {
			delay = limit
			break
		}
		delay *= 2
	}
	if delay > limit {
		delay = limit
	}
	if e.Jitter > 0 {
		j := e.Jitter
		if j > 1 {
			j = 1
		}
		delay -= time.Duration(rand.Float64() * j * float64(delay))
	}
	return delay
}

// Sleeper pauses for d or until ctx ends, returning ctx.Err() in that case.
type Sleeper func(ctx context.Context, d time.Duration) error

// TimerSleep is the wall-clock Sleeper.
func TimerSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
