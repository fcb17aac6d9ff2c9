/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// sessiond runs the tiered session store daemon: hot and durable providers,
// the mirror worker, the archival scheduler, and a Prometheus metrics
// endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/meridianlabs/tidestore/internal/archive"
	"github.com/meridianlabs/tidestore/internal/config"
	"github.com/meridianlabs/tidestore/internal/session/providers"
	"github.com/meridianlabs/tidestore/internal/session/providers/memory"
	"github.com/meridianlabs/tidestore/internal/session/providers/postgres"
	"github.com/meridianlabs/tidestore/internal/session/providers/redis"
	"github.com/meridianlabs/tidestore/internal/session/store"
	"github.com/meridianlabs/tidestore/pkg/logging"
	"github.com/meridianlabs/tidestore/pkg/metrics"
)

// flags groups all CLI flags for the session daemon.
type flags struct {
	configPath   string
	redisAddrs   string
	postgresConn string
	metricsAddr  string
	skipMigrate  bool
}

func parseFlags() *flags {
	f := &flags{}
	flag.StringVar(&f.configPath, "config", "", "Path to config YAML")
	flag.StringVar(&f.redisAddrs, "redis-addrs", "", "Redis addresses (csv)")
	flag.StringVar(&f.postgresConn, "postgres-conn", "", "Postgres conn string")
	flag.StringVar(&f.metricsAddr, "metrics-addr", ":9090", "Metrics address")
	flag.BoolVar(&f.skipMigrate, "skip-migrate", false, "Skip schema migrations on startup")
	flag.Parse()

	// Env var fallbacks for secrets.
	if f.postgresConn == "" {
		f.postgresConn = os.Getenv("POSTGRES_CONN")
	}
	if f.redisAddrs == "" {
		f.redisAddrs = os.Getenv("REDIS_ADDRS")
	}
	return f
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	f := parseFlags()

	// --- Logger ---
	zapLog, err := logging.NewZapLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = zapLog.Sync() }()
	log := zapLog.Sugar()
	logrLog := zapr.NewLogger(zapLog)

	// --- Config ---
	cfg := config.Default()
	if f.configPath != "" {
		cfg, err = config.Load(f.configPath)
		if err != nil {
			return err
		}
	}
	if f.redisAddrs != "" {
		cfg.Redis.Addrs = strings.Split(f.redisAddrs, ",")
	}
	if f.postgresConn != "" {
		cfg.Postgres.ConnString = f.postgresConn
	}

	// --- Signal context ---
	ctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	// --- Metrics server (goroutine) ---
	storeMetrics := metrics.NewStoreMetrics()
	archivalMetrics := metrics.NewArchivalMetrics()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: f.metricsAddr, Handler: mux}
	go func() {
		log.Infow("starting metrics server", "addr", f.metricsAddr)
		if srvErr := srv.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
			log.Errorw("metrics server error", "error", srvErr)
		}
	}()
	defer func() {
		shutCtx, shutCancel := context.WithTimeout(
			context.Background(), 5*time.Second,
		)
		defer shutCancel()
		_ = srv.Shutdown(shutCtx)
	}()

	// --- Providers ---
	registry, err := initProviders(cfg, f, log, logrLog)
	if err != nil {
		return err
	}
	defer func() { _ = registry.Close() }()

	// --- Tiered store ---
	storeCfg := store.DefaultConfig()
	storeCfg.HotRetention = cfg.HotRetention()
	storeCfg.ArchiveAfterIdle = cfg.ArchiveAfterIdle()
	storeCfg.MaxHotMessages = cfg.Tiering.MaxHotMessages
	storeCfg.ArchiveBatchSize = cfg.Scheduler.BatchSize

	hot, err := registry.HotStore()
	if err != nil {
		return err
	}
	durable, err := registry.DurableStore()
	if err != nil {
		return err
	}
	tiered := store.New(hot, durable, storeCfg, logrLog, storeMetrics)
	defer func() { _ = tiered.Close() }()

	// --- Archival scheduler ---
	scheduler := archive.NewScheduler(tiered, archive.Options{
		Interval:  cfg.SchedulerInterval(),
		BatchSize: cfg.Scheduler.BatchSize,
		Enabled:   cfg.SchedulerEnabled(),
	}, archivalMetrics, log)
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	log.Infow("session daemon started",
		"hotRetention", storeCfg.HotRetention,
		"archiveAfterIdle", storeCfg.ArchiveAfterIdle,
		"maxHotMessages", storeCfg.MaxHotMessages)

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

// migrateUp applies pending schema migrations before the pool opens.
func migrateUp(connString string, log logr.Logger) error {
	mg, err := postgres.NewMigrator(connString, log)
	if err != nil {
		return err
	}
	defer func() { _ = mg.Close() }()
	return mg.Up()
}

// initProviders creates the tier providers. Backends without connection
// settings fall back to in-memory implementations, which keeps local
// development a zero-dependency affair.
func initProviders(cfg *config.Config, f *flags, log *zap.SugaredLogger, logrLog logr.Logger) (*providers.Registry, error) {
	registry := providers.NewRegistry()

	if len(cfg.Redis.Addrs) > 0 {
		redisCfg := redis.DefaultConfig()
		redisCfg.Addrs = cfg.Redis.Addrs
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		if cfg.Redis.KeyPrefix != "" {
			redisCfg.KeyPrefix = cfg.Redis.KeyPrefix
		}
		hot, err := redis.New(redisCfg)
		if err != nil {
			return nil, fmt.Errorf("creating redis provider: %w", err)
		}
		registry.SetHotStore(hot)
		log.Infow("hot tier: redis", "addrs", cfg.Redis.Addrs)
	} else {
		registry.SetHotStore(memory.NewHotStore())
		log.Infow("hot tier: in-memory")
	}

	if cfg.Postgres.ConnString != "" {
		if !f.skipMigrate {
			if err := migrateUp(cfg.Postgres.ConnString, logrLog); err != nil {
				_ = registry.Close()
				return nil, err
			}
		}

		pgCfg := postgres.DefaultConfig()
		pgCfg.ConnString = cfg.Postgres.ConnString
		if cfg.Postgres.MaxConns > 0 {
			pgCfg.MaxConns = cfg.Postgres.MaxConns
		}
		durable, err := postgres.New(pgCfg)
		if err != nil {
			_ = registry.Close()
			return nil, fmt.Errorf("creating postgres provider: %w", err)
		}
		registry.SetDurableStore(durable)
		log.Infow("durable tier: postgres")
	} else {
		registry.SetDurableStore(memory.NewDurableStore())
		log.Infow("durable tier: in-memory")
	}

	return registry, nil
}
