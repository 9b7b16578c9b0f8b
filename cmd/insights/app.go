package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sales-insight/internal/config"
	"sales-insight/internal/events"
	"sales-insight/internal/middleware"
	"sales-insight/internal/narrative"
	"sales-insight/internal/observability"
	"sales-insight/internal/scheduler"
	"sales-insight/internal/server"
	"sales-insight/internal/snapshot"
	"sales-insight/internal/source"
)

// app holds the pipeline components built from one configuration.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	source      source.Source
	store       *snapshot.Store
	publisher   events.Publisher
	metrics     *observability.Metrics
	coordinator *scheduler.Coordinator
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	src, err := source.Open(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("open record source: %w", err)
	}

	gen, err := narrative.NewGenerator(ctx, cfg.Narrative)
	if err != nil {
		logger.Warn("narrative generator unavailable, summaries will use the placeholder", "error", err)
		gen = narrative.Disabled{}
	}

	store := snapshot.NewStore(cfg.Snapshot, logger)
	publisher := events.NewPublisher(cfg.Events, logger)
	metrics := observability.NewMetrics()

	coordinator := scheduler.NewCoordinator(scheduler.Options{
		Analysis:    cfg.Analysis,
		Placeholder: cfg.Narrative.Placeholder,
		Source:      src,
		Summarizer:  narrative.NewSummarizer(gen, cfg.Narrative.Timeout, logger),
		Store:       store,
		Publisher:   publisher,
		Metrics:     metrics,
		Logger:      logger,
	})

	return &app{
		cfg:         cfg,
		logger:      logger,
		source:      src,
		store:       store,
		publisher:   publisher,
		metrics:     metrics,
		coordinator: coordinator,
	}, nil
}

func (a *app) Close() error {
	return errors.Join(a.publisher.Close(), a.source.Close())
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.runOnce(ctx)
}

func (a *app) runOnce(ctx context.Context) error {
	result, ran := a.coordinator.Tick(context.WithoutCancel(ctx))
	if !ran {
		return errors.New("run was not started")
	}
	if result.State == scheduler.StateFailed {
		return fmt.Errorf("run %s failed: %s", result.RunID, result.Error)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	logger.Info("starting application", "version", versionString(), "address", cfg.Address())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.serve(ctx)
}

func (a *app) serve(ctx context.Context) error {
	watcher, err := snapshot.NewWatcher(a.cfg.Snapshot.Path, a.logger)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		watcher.Close()
		return err
	}

	httpServer := &http.Server{
		Addr:         a.cfg.Address(),
		Handler:      a.handler(watcher),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}
	gracefulServer := server.NewGracefulServer(httpServer, a.logger, a.cfg.Server)

	schedCtx, cancelSched := context.WithCancel(context.Background())
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		a.coordinator.Start(schedCtx)
	}()

	// Cancelling only stops new ticks; the in-flight run is awaited below,
	// outside the shutdown deadline.
	gracefulServer.RegisterShutdownHook(func(context.Context) error {
		cancelSched()
		return nil
	})
	gracefulServer.RegisterShutdownHook(func(context.Context) error {
		return watcher.Close()
	})

	err = gracefulServer.Run(ctx)
	if err != nil {
		// the listener may have failed before any hook ran
		watcher.Close()
	}

	cancelSched()
	a.logger.Info("waiting for in-flight run before exit")
	<-schedDone
	return err
}

func (a *app) handler(notifier *snapshot.Watcher) http.Handler {
	srv := server.NewServer(server.Deps{
		Store:    a.store,
		Runner:   a.coordinator,
		Notifier: notifier,
		Metrics:  a.metrics.Handler(),
		Version:  version,
	}, a.logger)

	chain := middleware.Chain(
		middleware.Recovery(a.logger),
		middleware.RequestID(),
		middleware.Logger(a.logger),
		middleware.Tracing(),
		middleware.SecurityHeaders(),
		middleware.CORS(a.cfg.Security),
		middleware.TrustedProxy(a.cfg.Security),
		middleware.RateLimit(middleware.NewRateLimiter(a.cfg.Security), a.logger),
		middleware.Metrics(a.metrics),
	)
	return chain(srv)
}

func writeSnapshot(w io.Writer, cfg *config.Config, history int, logger *slog.Logger) error {
	store := snapshot.NewStore(cfg.Snapshot, logger)

	if history > 0 {
		entries, err := store.History(history)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	data, err := store.ReadRaw()
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}
