package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"saldo/internal/config"
	"saldo/internal/connectivity"
	apphttp "saldo/internal/http"
	"saldo/internal/ledger"
	"saldo/internal/remote"
	"saldo/internal/remote/google"
	"saldo/internal/remote/memory"
	"saldo/internal/syncer"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting saldo")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	store, err := ledger.Open(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to open ledger store", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer store.Close()

	// Choose remote backend (default: memory).
	var remoteStore remote.Store
	switch cfg.RemoteBackend {
	case "sheets":
		cli, err := google.NewFromEnv(context.Background())
		if err != nil {
			logger.Error("Failed to initialize Google Sheets remote", "error", err)
			os.Exit(1)
		}
		remoteStore = cli
		logger.Info("Initialized Google Sheets remote", "backend", cfg.RemoteBackend)
	default:
		remoteStore = memory.New()
		logger.Info("Initialized memory remote", "backend", cfg.RemoteBackend)
	}

	engine := syncer.New(store, remoteStore, syncer.StaticIdentity(cfg.OwnerID),
		syncer.Config{PushWorkers: cfg.PushWorkers})

	monitor := connectivity.NewMonitor(remoteStore, store, cfg.OwnerID, connectivity.Config{
		ProbeInterval: cfg.ProbeInterval,
		OnOnline: func(ctx context.Context) {
			if _, err := engine.Reconcile(ctx); err != nil && err != syncer.ErrSyncInProgress {
				slog.ErrorContext(ctx, "Reconciliation on reconnect failed", "error", err)
			}
		},
	})

	// Graceful shutdown handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := monitor.Start(ctx); err != nil {
		logger.Error("Failed to start connectivity monitor", "error", err)
		os.Exit(1)
	}

	srv := apphttp.NewServer(":"+cfg.Port, cfg.OwnerID, store, engine, monitor)
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := monitor.Stop(shutdownCtx); err != nil {
			logger.Error("Monitor shutdown error", "error", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting saldo server", "port", cfg.Port, "backend", cfg.RemoteBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
