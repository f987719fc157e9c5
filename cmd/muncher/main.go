// Command muncher runs the label ingestion engine: it subscribes to one or
// more publisher label streams, validates every label, appends valid ones
// to the relational label store, and optionally dispatches takedown labels
// to a downstream moderation dataplane (SPEC_FULL.md §4).
//
// Wiring here mirrors the teacher's cdc-worker and audit-service entry
// points: build dependencies sequentially, fail fast on any construction
// error, then hand off to signal.NotifyContext for graceful shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/arc-self/muncher/internal/config"
	"github.com/arc-self/muncher/internal/dataplane"
	"github.com/arc-self/muncher/internal/identity"
	"github.com/arc-self/muncher/internal/orchestrator"
	"github.com/arc-self/muncher/internal/servicerecord"
	"github.com/arc-self/muncher/internal/sink"
	"github.com/arc-self/muncher/internal/statestore"
	"github.com/arc-self/muncher/internal/validator"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 1
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger error:", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.StoreURL)
	if err != nil {
		logger.Fatal("failed to connect to relational store", zap.Error(err))
	}
	defer pool.Close()

	labelSink, err := sink.NewPostgresSink(pool, cfg.StoreSchema, logger)
	if err != nil {
		logger.Fatal("failed to build label sink", zap.Error(err))
	}

	store, err := statestore.Open(cfg.StateStorePath)
	if err != nil {
		logger.Fatal("failed to open state store", zap.Error(err))
	}

	httpClient := retryablehttp.NewClient()
	httpClient.Logger = nil
	httpClient.RetryMax = 3

	resolver := identity.New(cfg.PLCDirectoryURL, httpClient, logger)
	records := servicerecord.New(resolver, httpClient, store, logger)
	val := validator.New(store, resolver, records, logger)

	var dataClient dataplane.Client
	if cfg.ModServiceDID != "" {
		dataClient, err = dataplane.New(cfg.DataplaneURLs, cfg.DataplaneHTTPVersion)
		if err != nil {
			logger.Fatal("failed to build dataplane client", zap.Error(err))
		}
	}

	orch := orchestrator.New(orchestrator.Config{
		DIDs:          cfg.PublisherDIDs,
		Resolver:      resolver,
		Store:         store,
		Validator:     val,
		Sink:          labelSink,
		ModServiceDID: cfg.ModServiceDID,
		Dataplane:     dataClient,
		ChangeFeedURL: cfg.ChangeFeedURL,
		Logger:        logger,
		CloseStore:    func() error { pool.Close(); return nil },
	})

	if err := orch.Start(ctx); err != nil {
		logger.Fatal("failed to start orchestrator", zap.Error(err))
	}
	logger.Info("muncher started", zap.Strings("publishers", cfg.PublisherDIDs))

	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections")

	if err := orch.Stop(); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
		return 1
	}

	logger.Info("muncher stopped cleanly")
	return 0
}

func newLogger(level string) (*zap.Logger, error) {
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zl)
	return cfg.Build()
}
