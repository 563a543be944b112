package main

import (
	"context"
	"sync"
	"time"

	"github.com/cordum/stocklock/core/guard"
	"github.com/cordum/stocklock/core/infra/kv"
	"github.com/cordum/stocklock/core/infra/locks"
	"github.com/cordum/stocklock/core/infra/redisutil"
	"github.com/cordum/stocklock/core/stock"
)

// raceReport summarizes one concurrent decrement run.
type raceReport struct {
	ID        int64          `json:"id"`
	Guarded   bool           `json:"guarded"`
	Workers   int            `json:"workers"`
	Initial   int64          `json:"initial"`
	Final     int64          `json:"final"`
	Expected  int64          `json:"expected"`
	Lost      int64          `json:"lost_updates"`
	Outcomes  map[string]int `json:"outcomes,omitempty"`
	Failures  int            `json:"failures"`
	ElapsedMs int64          `json:"elapsed_ms"`
}

func runRaceCmd(args []string) {
	fs := newFlagSet("race")
	redisURL := fs.String("redis", envOr("REDIS_URL", redisutil.DefaultURL), "redis url")
	memory := fs.Bool("memory", false, "use an in-process store")
	id := fs.Int64("id", 1, "stock id")
	initial := fs.Int64("initial", 100, "starting count")
	workers := fs.Int("workers", 100, "concurrent decrements")
	unguarded := fs.Bool("unguarded", false, "decrement without the lock")
	attempts := fs.Int("max-attempts", guard.DefaultMaxAttempts, "lock attempts per worker")
	delay := fs.Duration("retry-delay", guard.DefaultRetryDelay, "pause between lock attempts")
	fs.ParseArgs(args)

	var store kv.Store
	if *memory {
		store = kv.NewMemoryStore()
	} else {
		rs, err := kv.NewRedisStore(*redisURL)
		check(err)
		store = rs
	}
	defer func() { _ = store.Close() }()

	opts := guard.DefaultOptions()
	opts.MaxAttempts = *attempts
	opts.RetryDelay = *delay

	report, err := race(context.Background(), store, opts, *id, *initial, *workers, !*unguarded)
	check(err)
	printJSON(report)
}

// race seeds stock id with initial units and decrements it once from each
// worker at the same time.
func race(ctx context.Context, store kv.Store, opts guard.Options, id, initial int64, workers int, guarded bool) (raceReport, error) {
	exec := guard.NewExecutor(locks.NewManager(store), opts)
	svc := stock.NewService(stock.NewRedisRepository(store), exec)
	if _, err := svc.Put(ctx, id, initial); err != nil {
		return raceReport{}, err
	}

	report := raceReport{
		ID:       id,
		Guarded:  guarded,
		Workers:  workers,
		Initial:  initial,
		Expected: initial - int64(workers),
		Outcomes: map[string]int{},
	}

	start := time.Now()
	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		ready = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ready
			var (
				res guard.Result
				err error
			)
			if guarded {
				_, res, err = svc.DecreaseWithLock(ctx, id, 1)
			} else {
				_, err = svc.DecreaseWithoutLock(ctx, id, 1)
			}
			mu.Lock()
			defer mu.Unlock()
			if guarded {
				report.Outcomes[string(res.Outcome)]++
			}
			if err != nil {
				report.Failures++
			}
		}()
	}
	close(ready)
	wg.Wait()
	report.ElapsedMs = elapsedMs(start)

	final, err := svc.Get(ctx, id)
	if err != nil {
		return report, err
	}
	report.Final = final.Count()
	// failed workers never decremented
	report.Expected += int64(report.Failures)
	report.Lost = report.Final - report.Expected
	return report, nil
}
