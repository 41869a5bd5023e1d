package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/harmonia-labs/harmonia/internal/components"
	"github.com/harmonia-labs/harmonia/internal/engine"
	"github.com/harmonia-labs/harmonia/internal/logging"
	"github.com/harmonia-labs/harmonia/internal/scheduler"
	"github.com/harmonia-labs/harmonia/internal/store"
	"github.com/harmonia-labs/harmonia/internal/streaming"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "harmonia:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if keys := nonDefaultKeys(cfg); len(keys) > 0 {
		logger.Info("config overrides active", slog.Any("keys", keys))
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	registry := components.NewRegistry()
	if err := components.RegisterBuiltins(registry); err != nil {
		return fmt.Errorf("register builtin components: %w", err)
	}

	hub := streaming.NewMemoryHub()
	defer hub.Close()

	eng, err := engine.NewEngine(st, registry, hub, logger, engine.Config{
		MaxConcurrentTasks: cfg.MaxConcurrentTasks,
		CheckpointInterval: cfg.checkpointInterval(),
		JitterFraction:     cfg.JitterFraction,
	})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	sched := scheduler.NewScheduler(st, eng, logger)
	if err := sched.RecoverMissed(ctx); err != nil {
		logger.Warn("missed schedule recovery failed", slog.String("error", err.Error()))
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	logger.Info("harmonia started",
		slog.String("db_path", cfg.DBPath),
		slog.Int("max_concurrent_tasks", cfg.MaxConcurrentTasks),
		slog.String("checkpoint_interval", cfg.checkpointInterval().String()))

	<-ctx.Done()
	logger.Info("shutting down")

	if err := sched.Stop(); err != nil {
		logger.Warn("scheduler stop failed", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Warn("engine shutdown incomplete", slog.String("error", err.Error()))
	}

	logger.Info("harmonia stopped")
	return nil
}

// newLogger builds the process logger: JSON output with correlation IDs
// injected from the context on every record.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
