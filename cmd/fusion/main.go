package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/seantiz/fusion/internal/api"
	"github.com/seantiz/fusion/internal/config"
	"github.com/seantiz/fusion/internal/engine"
	"github.com/seantiz/fusion/internal/event"
	"github.com/seantiz/fusion/internal/executor"
	"github.com/seantiz/fusion/internal/executor/remote"
	"github.com/seantiz/fusion/internal/store"
	"github.com/seantiz/fusion/internal/telemetry"
)

const startupTimeout = 10 * time.Second

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("fusion: starting",
		"listen_addr", cfg.ListenAddr,
		"store", cfg.StoreDriver,
		"step_timeout", cfg.StepTimeout.String(),
	)

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	db, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer db.Close()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := telemetry.NewPrometheus(promReg, logger)
	if err != nil {
		log.Fatalf("failed to register metrics: %v", err)
	}
	httpMetrics, err := telemetry.NewHTTPMetrics(promReg)
	if err != nil {
		log.Fatalf("failed to register http metrics: %v", err)
	}

	broker := event.NewBroker()
	defer broker.Shutdown()

	reg := executor.NewRegistry(broker)
	if err := registerRemoteExecutors(reg, cfg.ExecutorsFile, logger); err != nil {
		log.Fatalf("failed to load executors: %v", err)
	}

	coord := engine.NewCoordinator(reg, logger,
		engine.WithStore(db),
		engine.WithBroker(broker),
		engine.WithTelemetry(metrics),
		engine.WithDefaultStepTimeout(cfg.StepTimeout),
	)
	defer coord.Cleanup()

	n, err := coord.Restore(ctx)
	if err != nil {
		logger.Warn("failed to restore definitions", "error", err)
	} else {
		logger.Info("definitions restored", "count", n)
	}

	srv := api.NewServer(cfg.ListenAddr, coord, reg, logger, api.WithMetrics(httpMetrics, promReg))

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverRedis:
		return store.OpenRedisStore(ctx, cfg.RedisAddr, cfg.RedisPrefix)
	case config.DriverBadger:
		return store.NewBadgerStore(cfg.BadgerDir)
	case config.DriverSQLite:
		return store.NewSQLiteStore(cfg.DBPath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func registerRemoteExecutors(reg *executor.Registry, path string, logger *slog.Logger) error {
	if path == "" {
		return nil
	}
	cfgs, err := remote.LoadFile(path)
	if err != nil {
		return err
	}
	ids, err := remote.RegisterAll(reg, cfgs, &http.Client{}, logger)
	if err != nil {
		return err
	}
	logger.Info("remote executors registered", "ids", ids)
	return nil
}
