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
	"saldo/internal/ledger"
	"saldo/internal/recurrence"
	"saldo/internal/remote"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting recurring-worker")

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

	// Initialize AMQP client for nudging the sync-worker after new
	// transactions are materialized. Optional: the sync-worker catches up
	// on its probe interval regardless.
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without notifications", "error", err)
			amqpClient = nil
		} else {
			defer amqpClient.Close()
			logger.Info("AMQP client initialized - materialized transactions will trigger sync")
		}
	} else {
		logger.Info("AMQP disabled - materialized transactions sync on the next pass")
	}

	processor := recurrence.NewProcessor(store)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Recurring rule processor configured",
		"interval", cfg.RecurringInterval,
		"sqlite_db", cfg.SQLiteDBPath)

	process := func(ctx context.Context, now time.Time) {
		count, err := processor.ProcessDueRules(ctx, cfg.OwnerID, now)
		if err != nil {
			slog.ErrorContext(ctx, "Recurring processing failed", "error", err)
			return
		}
		if count > 0 && amqpClient != nil {
			msg := amqp.NewRecordPendingMessage(remote.KindTransaction, "")
			if err := amqpClient.PublishRecordPending(ctx, msg); err != nil {
				slog.ErrorContext(ctx, "Failed to publish pending notification", "error", err)
			}
		}
	}

	ticker := time.NewTicker(cfg.RecurringInterval)
	defer ticker.Stop()

	// Run initial processing on startup
	logger.Info("Running initial recurring rule processing...")
	process(ctx, time.Now())

	// Start periodic processing
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				process(ctx, now)
			}
		}
	}()

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

	logger.Info("Shutting down recurring-worker...")
	cancel()

	select {
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout reached")
	case <-time.After(2 * time.Second):
		logger.Info("Recurring-worker shutdown complete")
	}
}
