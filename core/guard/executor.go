// Package guard runs a critical section while holding a distributed lock.
//
// Acquisition is bounded polling: up to MaxAttempts single-shot attempts with
// a Backoff pause between them. Waiters are not queued, so there is no
// fairness among them. Once the lock is held the critical section runs exactly
// once and the lock is released on every exit path, including panics and
// caller cancellation. Holders are never renewed; a critical section that
// outlives its TTL may overlap with the next holder.
package guard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cordum/stocklock/core/infra/locks"
	"github.com/cordum/stocklock/core/infra/logging"
	"github.com/cordum/stocklock/core/infra/metrics"
	"github.com/google/uuid"
)

const (
	DefaultTTL         = 30 * time.Second
	DefaultMaxAttempts = 100
	DefaultRetryDelay  = 100 * time.Millisecond

	defaultReleaseTimeout = 2 * time.Second
	component             = "guard"
)

// Options bound a single guarded run.
type Options struct {
	// TTL is how long the store keeps the lock without an explicit release.
	TTL time.Duration
	// MaxAttempts caps acquisition attempts.
	MaxAttempts int
	// RetryDelay is the constant pause between attempts when Backoff is nil.
	RetryDelay time.Duration
	Backoff    Backoff
}

// DefaultOptions returns a 30s TTL, 100 attempts and a 100ms pause.
func DefaultOptions() Options {
	return Options{TTL: DefaultTTL, MaxAttempts: DefaultMaxAttempts, RetryDelay: DefaultRetryDelay}
}

func (o Options) normalized() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.Backoff == nil {
		o.Backoff = Constant(o.RetryDelay)
	}
	return o
}

// MaxWait is the longest a run can pause between acquisition attempts under
// o. Jitter only shortens pauses, so it is ignored.
func (o Options) MaxWait() time.Duration {
	o = o.normalized()
	b := o.Backoff
	if exp, ok := b.(Exponential); ok {
		exp.Jitter = 0
		b = exp
	}
	var total time.Duration
	for attempt := 1; attempt < o.MaxAttempts; attempt++ {
		total += b.Next(attempt)
	}
	return total
}

// Result describes one guarded run.
type Result struct {
	Key      string        `json:"key"`
	Token    string        `json:"token"`
	Outcome  Outcome       `json:"outcome"`
	Attempts int           `json:"attempts"`
	Released bool          `json:"released"`
	Waited   time.Duration `json:"-"`
	Held     time.Duration `json:"-"`
}

// Executor drives a Locker through acquire, critical section and release.
type Executor struct {
	locker         locks.Locker
	opts           Options
	sleep          Sleeper
	newToken       func() string
	metrics        metrics.LockMetrics
	releaseTimeout time.Duration
	now            func() time.Time
}

// NewExecutor returns an Executor whose Run uses opts.
func NewExecutor(locker locks.Locker, opts Options) *Executor {
	return &Executor{
		locker:         locker,
		opts:           opts.normalized(),
		sleep:          TimerSleep,
		newToken:       uuid.NewString,
		metrics:        metrics.Noop{},
		releaseTimeout: defaultReleaseTimeout,
		now:            time.Now,
	}
}

// WithSleeper replaces the wall-clock pause between attempts.
func (e *Executor) WithSleeper(s Sleeper) *Executor {
	if s != nil {
		e.sleep = s
	}
	return e
}

// WithTokenSource replaces the ownership token generator.
func (e *Executor) WithTokenSource(fn func() string) *Executor {
	if fn != nil {
		e.newToken = fn
	}
	return e
}

// WithMetrics records attempts, outcomes and timings.
func (e *Executor) WithMetrics(m metrics.LockMetrics) *Executor {
	if m != nil {
		e.metrics = m
	}
	return e
}

// Options returns the defaults used by Run.
func (e *Executor) Options() Options {
	return e.opts
}

// RunGuarded is a one-shot helper around NewExecutor(locker, opts).Run.
func RunGuarded(ctx context.Context, locker locks.Locker, key string, opts Options, fn func(context.Context) error) (Result, error) {
	return NewExecutor(locker, opts).Run(ctx, key, fn)
}

// Run executes fn under the lock named key using the executor's Options.
func (e *Executor) Run(ctx context.Context, key string, fn func(context.Context) error) (Result, error) {
	return e.RunWith(ctx, key, e.opts, fn)
}

// RunWith executes fn under the lock named key.
//
// A nil error with OutcomeCancelled means ctx ended before the lock was taken.
// An error from fn is returned unchanged after the release attempt.
func (e *Executor) RunWith(ctx context.Context, key string, opts Options, fn func(context.Context) error) (res Result, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	key = strings.TrimSpace(key)
	res = Result{Key: key}
	if key == "" {
		res.Outcome = OutcomeFailed
		return res, locks.ErrInvalidLock
	}
	if fn == nil {
		res.Outcome = OutcomeFailed
		return res, errors.New("guard: critical section required")
	}
	if e.locker == nil {
		res.Outcome = OutcomeUnavailable
		return res, &locks.StoreError{Op: "acquire", Key: key, Err: errors.New("no locker configured")}
	}
	opts = opts.normalized()
	res.Token = e.newToken()

	started := e.now()
	acquired, err := e.acquire(ctx, &res, opts)
	res.Waited = e.now().Sub(started)
	e.metrics.ObserveWait(key, res.Waited.Seconds())
	if !acquired {
		e.metrics.IncRun(key, string(res.Outcome))
		return res, err
	}

	heldAt := e.now()
	res.Outcome = OutcomeFailed
	defer func() {
		res.Released = e.release(ctx, key, res.Token)
		res.Held = e.now().Sub(heldAt)
		e.metrics.ObserveHold(key, res.Held.Seconds())
		e.metrics.IncRun(key, string(res.Outcome))
	}()

	if err = fn(ctx); err != nil {
		logging.Error(component, "critical section failed", "key", key, "token", res.Token, "error", err)
		return res, err
	}
	res.Outcome = OutcomeExecuted
	return res, nil
}

func (e *Executor) acquire(ctx context.Context, res *Result, opts Options) (bool, error) {
	key, token := res.Key, res.Token
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			res.Outcome = OutcomeCancelled
			logging.Info(component, "lock acquisition abandoned", "key", key, "token", token, "attempts", res.Attempts)
			return false, nil
		}
		res.Attempts = attempt
		ok, err := e.locker.Acquire(ctx, key, token, opts.TTL)
		switch {
		case err != nil && ctx.Err() != nil:
			e.metrics.IncAcquireAttempt(key, "cancelled")
			// The server may have applied the SET before the cancellation reached us.
			e.release(ctx, key, token)
			res.Outcome = OutcomeCancelled
			logging.Info(component, "lock acquisition abandoned", "key", key, "token", token, "attempts", attempt)
			return false, nil
		case err != nil:
			e.metrics.IncAcquireAttempt(key, "error")
			res.Outcome = OutcomeUnavailable
			if !errors.Is(err, locks.ErrStoreUnavailable) {
				res.Outcome = OutcomeFailed
			}
			logging.Error(component, "lock acquire failed", "key", key, "token", token, "attempt", attempt, "error", err)
			return false, err
		case ok:
			e.metrics.IncAcquireAttempt(key, "acquired")
			logging.Info(component, "lock acquired", "key", key, "token", token, "attempt", attempt)
			return true, nil
		}
		e.metrics.IncAcquireAttempt(key, "contended")
		if attempt == opts.MaxAttempts {
			break
		}
		if err := e.sleep(ctx, opts.Backoff.Next(attempt)); err != nil {
			res.Outcome = OutcomeCancelled
			logging.Info(component, "lock acquisition abandoned", "key", key, "token", token, "attempts", attempt)
			return false, nil
		}
	}
	res.Outcome = OutcomeExhausted
	logging.Warn(component, "lock acquisition exhausted", "key", key, "token", token, "attempts", res.Attempts)
	return false, fmt.Errorf("%w: key=%s attempts=%d", ErrAcquisitionExhausted, key, res.Attempts)
}

// release never reports failure to the caller: a missed release means the
// TTL already freed the key, and a store error leaves it to the TTL.
func (e *Executor) release(ctx context.Context, key, token string) bool {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.releaseTimeout)
	defer cancel()
	released, err := e.locker.Release(rctx, key, token)
	switch {
	case err != nil:
		e.metrics.IncRelease(key, "error")
		logging.Error(component, "lock release failed", "key", key, "token", token, "error", err)
		return false
	case released:
		e.metrics.IncRelease(key, "released")
		logging.Info(component, "lock released", "key", key, "token", token)
		return true
	default:
		e.metrics.IncRelease(key, "missed")
		logging.Warn(component, "lock release missed", "key", key, "token", token, "reason", "expired or held by another token")
		return false
	}
}
