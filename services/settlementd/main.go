package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"zkescrow/observability/logging"
	"zkescrow/services/settlementd/models"
	"zkescrow/services/settlementd/recon"
)

func main() {
	logger := logging.Setup("settlementd", os.Getenv("ZKE_ENV"))

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		logger.Error("Failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	if err := models.AutoMigrate(db); err != nil {
		logger.Error("Schema migration failed", slog.Any("error", err))
		os.Exit(1)
	}

	client := NewRPCFeedClient(cfg.NodeURL, cfg.NodeToken)
	ingestor := NewIngestor(db, client, logger)
	ingestor.pollInterval = cfg.PollInterval
	ingestor.batchSize = cfg.BatchSize

	reconciler, err := recon.NewReconciler(recon.Config{
		DB:        db,
		TZ:        cfg.Location,
		OutputDir: cfg.OutputDir,
		DryRun:    cfg.DryRun,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("Reconciler init failed", slog.Any("error", err))
		os.Exit(1)
	}
	scheduler := recon.NewScheduler(recon.SchedulerConfig{
		Reconciler: reconciler,
		Window:     cfg.ReconWindow,
		RunHour:    cfg.RunHour,
		RunMinute:  cfg.RunMinute,
		Location:   cfg.Location,
		Logger:     logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go scheduler.Start(ctx)

	logger.Info("settlementd running",
		slog.String("node", cfg.NodeURL),
		slog.Duration("poll", cfg.PollInterval))
	ingestor.Run(ctx)

	logger.Info("settlementd shutting down")
}
