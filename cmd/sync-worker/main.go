package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"saldo/internal/amqp"
	"saldo/internal/config"
	"saldo/internal/connectivity"
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

	logger.Info("Starting sync-worker")

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

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reconcile := func(ctx context.Context) {
		if _, err := engine.Reconcile(ctx); err != nil && err != syncer.ErrSyncInProgress {
			slog.ErrorContext(ctx, "Reconciliation failed", "error", err)
		}
	}

	// The monitor probes the remote and reconciles on every reconnect; the
	// ticker inside it doubles as the periodic catch-up for anything the
	// broker never told us about.
	monitor := connectivity.NewMonitor(remoteStore, store, cfg.OwnerID, connectivity.Config{
		ProbeInterval: cfg.ProbeInterval,
		OnOnline:      reconcile,
	})
	if err := monitor.Start(ctx); err != nil {
		logger.Error("Failed to start connectivity monitor", "error", err)
		os.Exit(1)
	}

	// Initialize AMQP client for consuming pending-record notifications
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()

		go func() {
			err := amqpClient.ConsumeRecordPending(ctx, func(msg *amqp.RecordPendingMessage) error {
				// A pass in flight already covers this notification.
				_, err := engine.Reconcile(ctx)
				if err == syncer.ErrSyncInProgress {
					return nil
				}
				return err
			})
			if err != nil && err != context.Canceled {
				logger.Error("Message consumption failed", "error", err)
				cancel()
			}
		}()
	} else {
		logger.Info("AMQP disabled - reconciling on probe interval only")
	}

	// Run an initial pass on startup to drain anything left from last run.
	logger.Info("Performing startup reconciliation...")
	reconcile(ctx)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Shutting down sync-worker...")
	if err := monitor.Stop(shutdownCtx); err != nil {
		logger.Error("Monitor shutdown error", "error", err)
	}
	cancel()

	select {
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout reached")
	case <-time.After(2 * time.Second):
		logger.Info("Sync-worker shutdown complete")
	}
}
