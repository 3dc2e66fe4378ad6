package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dabbsLondon/pivot-experiment/internal/analytics"
	"github.com/dabbsLondon/pivot-experiment/internal/cache"
	"github.com/dabbsLondon/pivot-experiment/internal/cache/aside"
	"github.com/dabbsLondon/pivot-experiment/internal/cache/memstore"
	"github.com/dabbsLondon/pivot-experiment/internal/cache/redisstore"
	"github.com/dabbsLondon/pivot-experiment/internal/core/config"
	"github.com/dabbsLondon/pivot-experiment/internal/core/executor"
	"github.com/dabbsLondon/pivot-experiment/internal/core/health"
	"github.com/dabbsLondon/pivot-experiment/internal/core/observability"
	"github.com/dabbsLondon/pivot-experiment/internal/core/router"
	"github.com/dabbsLondon/pivot-experiment/internal/core/server"
	"github.com/dabbsLondon/pivot-experiment/internal/events"
	"github.com/dabbsLondon/pivot-experiment/internal/logger"
	"github.com/dabbsLondon/pivot-experiment/internal/metrics"
	"github.com/dabbsLondon/pivot-experiment/internal/query"
)

// set via -ldflags
var (
	Version   = "dev"
	Revision  = ""
	BuildDate = ""
)

func main() {
	os.Exit(run())
}

func run() int {
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded before reading the environment")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		return 1
	}

	cfg := config.FromEnv()
	zl := logger.Build(logger.Config{
		Level:     cfg.Log.Level,
		Console:   cfg.Log.Console,
		SampleN:   cfg.Log.SampleN,
		Service:   "pivot-api",
		Component: "api",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	if err := cfg.Validate(); err != nil {
		appLog.Error("invalid configuration", "err", err)
		return 1
	}

	prov := metrics.Init(metrics.Config{
		Enabled: true,
		Build:   metrics.BuildInfo{Version: Version, Revision: Revision, BuildDate: BuildDate},
	})
	observability.Init(prov.Registerer(), true)

	appLog.Info("starting pivot-api",
		"addr", cfg.Addr(),
		"version", Version,
		"database", cfg.ClickHouse.Database,
		"cache_enabled", cfg.Cache.Enabled,
		"cache_backend", cfg.Cache.Backend,
		"events_enabled", cfg.Events.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	exec, err := executor.Open(appLog, cfg.ClickHouse.DSN)
	if err != nil {
		appLog.Error("failed to initialize executor", "err", err)
		return 1
	}
	defer func() { _ = exec.Close() }()

	store, err := openStore(ctx, cfg)
	if err != nil {
		// run uncached
		appLog.Warn("cache unavailable, continuing uncached", "backend", cfg.Cache.Backend, "err", err)
		store = nil
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	sink := openSink(cfg, appLog)
	defer func() {
		if err := sink.Close(); err != nil {
			appLog.Warn("event publisher close failed", "err", err)
		}
	}()

	orch := aside.New(store, aside.Config{
		Enabled:   cfg.Cache.Enabled,
		OpTimeout: cfg.Cache.OpTimeout,
		Codec:     cache.Codec{CompressMin: cfg.Cache.CompressMin},
	}, appLog)
	svc := analytics.New(
		query.New(cfg.ClickHouse.Database),
		exec,
		orch,
		aside.TTLs{Default: cfg.Cache.TTLDefault, Overrides: cfg.Cache.TTLOvr},
		sink,
		appLog,
	)

	checker := health.Checker{ClickHouse: exec, Version: Version}
	if store != nil {
		checker.Cache = store
	}

	err = server.Run(ctx, cfg, server.Deps{
		Logger:  appLog,
		API:     router.New(svc, appLog, cfg.MaxBodyBytes),
		Health:  checker,
		Metrics: prov,
		Timeout: cfg.RequestTimeout,
	})
	if err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

func openStore(ctx context.Context, cfg config.Config) (cache.Store, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}
	switch cfg.Cache.Backend {
	case config.BackendMemory:
		return memstore.New(cfg.Cache.MemEntries)
	default:
		dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return redisstore.New(dctx, cfg.Cache.RedisURL)
	}
}

func openSink(cfg config.Config, log *slog.Logger) events.Sink {
	if !cfg.Events.Enabled {
		return events.Nop{}
	}
	p, err := events.NewPublisher(cfg.Events.Brokers, cfg.Events.Topic, cfg.Events.Queue, log)
	if err != nil {
		log.Warn("event publisher unavailable, events disabled", "err", err)
		return events.Nop{}
	}
	return p
}
