package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cordum/stocklock/core/gateway"
	"github.com/cordum/stocklock/core/guard"
	"github.com/cordum/stocklock/core/infra/buildinfo"
	"github.com/cordum/stocklock/core/infra/bus"
	"github.com/cordum/stocklock/core/infra/config"
	"github.com/cordum/stocklock/core/infra/kv"
	"github.com/cordum/stocklock/core/infra/locks"
	"github.com/cordum/stocklock/core/infra/logging"
	"github.com/cordum/stocklock/core/infra/metrics"
	"github.com/cordum/stocklock/core/password"
	"github.com/cordum/stocklock/core/stock"
)

const service = "stocklock-api"

func main() {
	memory := flag.Bool("memory", false, "use an in-process store instead of redis")
	flag.Parse()

	buildinfo.Log(service)
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *memory); err != nil {
		log.Fatalf("%s error: %v", service, err)
	}
}

func run(ctx context.Context, cfg *config.Config, memory bool) error {
	store, err := openStore(cfg, memory)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	hub := gateway.NewHub(0)
	sinks := locks.Sinks{hub}
	if cfg.NatsURL != "" {
		nb, err := bus.NewNatsBus(cfg.NatsURL)
		if err != nil {
			return err
		}
		defer nb.Close()
		sinks = append(sinks, nb)
		logging.Info(service, "publishing lock events", "nats", cfg.NatsURL, "status", nb.Status(), "jetstream", nb.Redelivers(bus.SubjectLockAll))
	}
	manager := locks.NewManager(store).WithEvents(sinks)

	guardCfg, err := config.LoadGuard(cfg.GuardConfigPath)
	if err != nil {
		logging.Warn(service, "guard config unavailable, using defaults", "path", cfg.GuardConfigPath, "error", err)
	}

	lockMetrics := metrics.NewLockProm(cfg.MetricsNamespace)
	exec := guard.NewExecutor(manager, guardCfg.Default.Options()).WithMetrics(lockMetrics)
	stocks := stock.NewService(stock.NewRedisRepository(store), exec).WithOptions(guardCfg.Options)

	srv := gateway.New(gateway.Deps{
		Locks:     manager,
		Stocks:    stocks,
		Passwords: password.NewService(store),
		Hub:       hub,
		Metrics:   metrics.NewGatewayProm(cfg.MetricsNamespace),
		APIKey:    cfg.APIKey,
	})
	defer srv.Close()
	writeTimeout := gateway.WriteTimeoutFor(guardCfg.MaxWait())
	logging.Info(service, "listening", "addr", cfg.GatewayAddr, "memory", memory, "write_timeout", writeTimeout)
	return gateway.ListenAndServe(ctx, cfg.GatewayAddr, srv.Handler(), writeTimeout)
}

func openStore(cfg *config.Config, memory bool) (kv.Store, error) {
	if memory {
		logging.Warn(service, "using in-memory store; locks are not shared across processes")
		return kv.NewMemoryStore(), nil
	}
	return kv.NewRedisStore(cfg.RedisURL)
}
