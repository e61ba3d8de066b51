package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gyaneshwarpardhi/chronicle/internal/api"
	"github.com/gyaneshwarpardhi/chronicle/internal/config"
	"github.com/gyaneshwarpardhi/chronicle/internal/event"
	"github.com/gyaneshwarpardhi/chronicle/internal/replay"
	"github.com/gyaneshwarpardhi/chronicle/internal/repository"
	"github.com/gyaneshwarpardhi/chronicle/internal/storage/backend"
	"github.com/gyaneshwarpardhi/chronicle/internal/telemetry"
	"github.com/gyaneshwarpardhi/chronicle/internal/tweet"
	"github.com/gyaneshwarpardhi/chronicle/internal/user"
)

func main() {
	cfgPath := flag.String("config", "configs/chronicle.yaml", "Path to YAML config (empty: defaults and environment only)")
	addr := flag.String("addr", "", "HTTP listen address (overrides server.addr)")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	if err := config.Validate(cfg); err != nil {
		slog.Error("config validation failed", "err", err)
		os.Exit(1)
	}
	if l, err := config.ParseLevel(cfg.Log.Level); err == nil {
		level.Set(l)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Tracing ──────────────────────────────────────────────────────────────
	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		slog.Warn("tracing disabled", "err", err)
	}

	// ── Storage ──────────────────────────────────────────────────────────────
	store, err := backend.Open(cfg.Storage)
	if err != nil {
		slog.Error("failed to open storage", "backend", cfg.Storage.Backend, "path", cfg.Storage.Path, "err", err)
		os.Exit(1)
	}
	slog.Info("storage opened", "backend", cfg.Storage.Backend, "path", cfg.Storage.Path)

	// ── Services ─────────────────────────────────────────────────────────────
	rec := replay.New(store, cfg.Replay.Workers, logger)
	tweets := tweet.NewService(tweet.NewRepository(repository.Config{
		Log:       store,
		Documents: store,
		Replayer:  rec,
		Clock:     event.Now,
		Logger:    logger,
	}))
	users := user.NewStore(store, 0)

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	// Only the log level is applied live; storage and listener changes need a restart.
	loader.OnChange(func(newCfg *config.Config) {
		l, err := config.ParseLevel(newCfg.Log.Level)
		if err != nil {
			slog.Warn("hot-reload skipped: bad log level", "err", err)
			return
		}
		level.Set(l)
		slog.Info("config hot-reloaded", "log_level", newCfg.Log.Level)
	})
	if *cfgPath != "" {
		stopWatch, err := loader.Watch()
		if err != nil {
			slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
		} else {
			defer stopWatch()
		}
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := api.New(api.Deps{
		Tweets: tweets,
		Users:  users,
		Events: store,
		Loader: loader,
		Logger: logger,
	})
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	cancel()
	if err := store.Close(); err != nil {
		slog.Warn("storage close failed", "err", err)
	}
	if err := shutdownTracing(shutCtx); err != nil {
		slog.Warn("tracing shutdown failed", "err", err)
	}
	slog.Info("goodbye")
}
