package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zkescrow/gateway/middleware"
	"zkescrow/observability/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := logging.Setup("escrow-gateway", os.Getenv("ZKE_ENV"))

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	store, err := NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		logger.Error("Failed to open sqlite store", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	auth := NewAuthenticator(cfg.APIKeys, cfg.AllowedTimestampSkew, cfg.NonceTTL, cfg.NonceCapacity, nil, store)
	if err := auth.HydrateNonces(context.Background(), time.Now().Add(-cfg.NonceTTL)); err != nil {
		logger.Warn("Failed to hydrate persisted nonces", slog.Any("error", err))
	}

	node := NewRPCNodeClient(cfg.NodeURL, cfg.NodeAuthToken)
	queue := NewWebhookQueue(
		WithWebhookTaskCapacity(cfg.WebhookQueueCapacity),
		WithWebhookHistoryCapacity(cfg.WebhookHistorySize),
		WithWebhookTTL(cfg.WebhookQueueTTL),
	)

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: "escrow-gateway",
		Enabled:     true,
	}, nil)
	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{
		"escrows": {RatePerSecond: 10, Burst: 20},
		"proofs":  {RatePerSecond: 5, Burst: 10},
		"actions": {RatePerSecond: 10, Burst: 20},
		"events":  {RatePerSecond: 10, Burst: 20},
	}, nil)

	server := NewServer(auth, node, store, queue, ServerOptions{
		AdminJWTSecret: cfg.AdminJWTSecret,
		Logger:         logger,
		Observability:  obs,
		RateLimiter:    limiter,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker := NewWebhookWorker(store, queue)
	go worker.Run(ctx)

	watcher := NewEventWatcher(node, store, queue, logger)
	watcher.pollInterval = cfg.EventPollInterval
	go watcher.Run(ctx)

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("escrow gateway listening", slog.String("addr", cfg.ListenAddress))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server stopped", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("escrow gateway shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Graceful shutdown failed", slog.Any("error", err))
	}
}
