// Package main wires together the alphafeed service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/growsignal/alphafeed/internal/api"
	"github.com/growsignal/alphafeed/internal/clock/system"
	"github.com/growsignal/alphafeed/internal/collector"
	"github.com/growsignal/alphafeed/internal/config"
	"github.com/growsignal/alphafeed/internal/feed"
	"github.com/growsignal/alphafeed/internal/hash/sha256"
	"github.com/growsignal/alphafeed/internal/id/uuid"
	"github.com/growsignal/alphafeed/internal/injector"
	"github.com/growsignal/alphafeed/internal/logging"
	"github.com/growsignal/alphafeed/internal/metrics"
	"github.com/growsignal/alphafeed/internal/monitor"
	"github.com/growsignal/alphafeed/internal/oracle"
	"github.com/growsignal/alphafeed/internal/pipeline"
	logsink "github.com/growsignal/alphafeed/internal/sink/log"
	pubsubsink "github.com/growsignal/alphafeed/internal/sink/pubsub"
	"github.com/growsignal/alphafeed/internal/store/memory"
	"github.com/growsignal/alphafeed/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("service exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	metrics.Init()

	clock := system.New()
	hasher := sha256.New()
	ids := uuid.New()

	items, seen, drops, closeStores, err := buildStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	scorer, err := oracle.New(oracle.Config{
		BaseURL:        cfg.Oracle.BaseURL,
		APIKey:         cfg.Oracle.APIKey,
		Timeout:        time.Duration(cfg.Oracle.TimeoutSec) * time.Second,
		MaxRetries:     cfg.Oracle.MaxRetries,
		Backoff:        time.Duration(cfg.Oracle.BackoffMs) * time.Millisecond,
		RequestsPerSec: cfg.Oracle.RequestsPerSec,
	}, logger.Named("oracle"))
	if err != nil {
		return fmt.Errorf("build oracle client: %w", err)
	}

	sink, closeSink, err := buildSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	session, err := collector.NewChromeSession(cfg.Session, logger.Named("session"))
	if err != nil {
		return fmt.Errorf("build browser session: %w", err)
	}
	defer session.Close()

	selectors := collector.Selectors{
		Item:   cfg.Session.ItemSelector,
		Text:   cfg.Session.TextSelector,
		Author: cfg.Session.AuthorSelector,
	}
	coll := collector.New(session, items, seen, hasher, clock, cfg.Collector, selectors, logger.Named("collector"))

	categories := make([]feed.CategoryContext, 0, len(cfg.Categories))
	for _, c := range cfg.Categories {
		categories = append(categories, feed.CategoryContext{
			Name:     c.Name,
			Priority: c.Priority,
			Keywords: c.Keywords,
			Focus:    c.Focus,
		})
	}
	runner := pipeline.NewRunner([]pipeline.Filter{
		pipeline.NewProcessor(items, drops, hasher, clock, logger.Named("processor")),
		pipeline.NewAlphaFilter(items, drops, scorer, categories, cfg.Pipeline.AlphaThreshold, clock, logger.Named("alpha_filter")),
		pipeline.NewContentFilter(items, drops, categories, cfg.Pipeline.RiskKeywords, cfg.Pipeline.RiskThreshold, clock, logger.Named("content_filter")),
		pipeline.NewNewsFilter(items, drops, sink, ids, cfg.Pipeline.NewsMinWords,
			time.Duration(cfg.Pipeline.NewsMaxAgeHours)*time.Hour, clock, logger.Named("news_filter")),
	}, cfg.PipelineInterval(), logger.Named("pipeline"))

	watchdog := monitor.New(
		monitor.SystemSampler{DiskPath: cfg.Monitor.DiskPath},
		items,
		coll,
		clock,
		monitor.Config{
			Interval:         time.Duration(cfg.Monitor.IntervalSec) * time.Second,
			MemoryWarnPct:    cfg.Monitor.MemoryWarnPct,
			MemoryCritical:   cfg.Monitor.MemoryCriticalPct,
			DiskWarnPct:      cfg.Monitor.DiskWarnPct,
			Retention:        cfg.RetentionWindow(),
			MaxItemsPerStage: cfg.Monitor.MaxItemsPerStage,
		},
		logger.Named("monitor"),
	)

	resolver := injector.NewCollyResolver(cfg.Injector.UserAgent,
		time.Duration(cfg.Injector.TimeoutSec)*time.Second)
	inj := injector.New(resolver, items, hasher, clock, logger.Named("injector"))

	server := api.NewServer(inj, items, cfg.Server, logger.Named("api"))
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 4)
	go func() { errCh <- fmt.Errorf("collector: %w", coll.Run(ctx)) }()
	go func() { errCh <- fmt.Errorf("pipeline: %w", runner.Start(ctx)) }()
	go func() { errCh <- fmt.Errorf("monitor: %w", watchdog.Run(ctx)) }()
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = err
			logger.Error("subsystem failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
	return runErr
}

func buildStores(ctx context.Context, cfg config.Config) (feed.ItemStore, feed.SeenStore, feed.DropLog, func(), error) {
	switch cfg.Store.Driver {
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:         cfg.Store.DSN,
			TablePrefix: cfg.Store.TablePrefix,
			MaxConns:    cfg.Store.MaxConns,
			MinConns:    cfg.Store.MinConns,
		})
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("build postgres store: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return store, store, store, store.Close, nil
	default:
		return memory.NewItemStore(), memory.NewSeenStore(), memory.NewDropLog(), func() {}, nil
	}
}

func buildSink(ctx context.Context, cfg config.Config, logger *zap.Logger) (feed.Sink, func(), error) {
	switch cfg.Sink.Kind {
	case "pubsub":
		sink, err := pubsubsink.New(ctx, cfg.Sink.ProjectID, cfg.Sink.Topic, logger.Named("sink"))
		if err != nil {
			return nil, nil, fmt.Errorf("build pubsub sink: %w", err)
		}
		return sink, func() {
			if err := sink.Close(); err != nil {
				logger.Warn("closing pubsub sink failed", zap.Error(err))
			}
		}, nil
	default:
		return logsink.New(logger.Named("sink")), func() {}, nil
	}
}
