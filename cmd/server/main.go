package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/stonecat/internal/app"
	"github.com/JonMunkholm/stonecat/internal/config"
	"github.com/JonMunkholm/stonecat/internal/core"
	"github.com/JonMunkholm/stonecat/internal/logging"
	"github.com/JonMunkholm/stonecat/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"catalog", cfg.Catalog.URL,
		"max_concurrent_runs", cfg.Import.MaxConcurrentRuns,
		"rate_limit", cfg.Server.RateLimit,
	)

	ctx := context.Background()
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to start service", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	server := web.NewServer(a.Service, cfg)

	// Cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go a.Service.StartRetentionScheduler(jobCtx, core.RetentionConfig{
		MaxAge:        cfg.OpLog.MaxAge,
		CheckInterval: cfg.OpLog.SweepInterval,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if status := a.Service.LimiterStatus(); status.Active > 0 {
			slog.Info("waiting for imports to complete", "active", status.Active)
		}
		if err := a.Service.Shutdown(shutdownCtx); err != nil {
			slog.Warn("imports did not complete in time", "error", err)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		cancelJobs()
		return
	}
	<-done
	slog.Info("server stopped")
}
