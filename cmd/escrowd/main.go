package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"zkescrow/action"
	"zkescrow/cmd/internal/secret"
	"zkescrow/config"
	"zkescrow/core"
	"zkescrow/escrow"
	"zkescrow/ledger"
	"zkescrow/observability"
	"zkescrow/observability/logging"
	"zkescrow/observability/otel"
	"zkescrow/rpc"
	"zkescrow/storage"
)

const (
	rpcTokenEnv     = "ZKE_RPC_TOKEN"
	otlpEndpointEnv = "ZKE_OTLP_ENDPOINT"
	otlpHeadersEnv  = "ZKE_OTLP_HEADERS"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("ZKE_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	var logger *slog.Logger
	if strings.TrimSpace(cfg.LogFile) != "" {
		logger = logging.SetupRotating("escrowd", env, cfg.LogFile)
	} else {
		logger = logging.Setup("escrowd", env)
	}

	tokenSource := secret.NewSource(rpcTokenEnv, "Enter RPC auth token: ")
	token, err := tokenSource.Get()
	if err != nil {
		logger.Error("Failed to resolve RPC auth token", slog.Any("error", err))
		os.Exit(1)
	}

	shutdownTelemetry := setupTelemetry(env, logger)
	defer shutdownTelemetry()

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.String("dir", cfg.DataDir), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	store := escrow.NewKVStore(db)
	if ids, err := store.IDs(); err == nil && len(ids) > 0 {
		logger.Info("Loaded existing escrows", slog.Int("count", len(ids)))
	}

	trigger, archive, err := buildTrigger(cfg)
	if err != nil {
		logger.Error("Failed to configure action trigger", slog.Any("error", err))
		os.Exit(1)
	}
	if archive != nil {
		defer archive.Close()
	}

	coordinator, err := core.NewCoordinator(core.Config{
		Store:          store,
		Ledger:         ledger.NewSimLedger(),
		Trigger:        trigger,
		DefaultTimeout: cfg.DefaultTimeoutSeconds,
	})
	if err != nil {
		logger.Error("Failed to assemble coordinator", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go recordLifecycle(ctx, coordinator)

	server := rpc.NewServer(coordinator)
	server.SetAuthToken(token)
	server.SetStrictAddresses(cfg.StrictAddresses)

	go func() {
		if err := server.Start(cfg.RPCAddress); err != nil {
			logger.Error("RPC server stopped", slog.Any("error", err))
			stop()
		}
	}()

	logger.Info("escrowd started",
		slog.String("rpc", cfg.RPCAddress),
		slog.String("network", cfg.NetworkName),
		slog.String("data_dir", cfg.DataDir))

	<-ctx.Done()
	logger.Info("escrowd shutting down")
}

// buildTrigger wires the environment registry, receiver and durable archive.
// A missing environments file is not fatal: the daemon runs without a
// downstream dispatch surface and release reports dispatch failures instead.
func buildTrigger(cfg *config.Config) (*action.Trigger, *action.ResultStore, error) {
	var envs []action.Environment
	if path := strings.TrimSpace(cfg.EnvironmentsFile); path != "" {
		loaded, err := action.LoadEnvironments(path)
		if err != nil {
			return nil, nil, err
		}
		envs = loaded
	}
	registry := action.NewRegistry(envs...)
	trigger := action.NewTrigger(registry, action.NewRPCReceiver())

	var archive *action.ResultStore
	if path := strings.TrimSpace(cfg.ArchiveFile); path != "" {
		store, err := action.NewResultStore(path, nil)
		if err != nil {
			return nil, nil, err
		}
		archive = store
		trigger.SetArchive(archive)
	}
	return trigger, archive, nil
}

// recordLifecycle feeds engine events into the lifecycle counter so operators
// see transitions without scraping the event feed.
func recordLifecycle(ctx context.Context, coordinator *core.Coordinator) {
	events, cancel, backlog := coordinator.SubscribeEvents(ctx, 0)
	defer cancel()
	for _, evt := range backlog {
		observability.Events().RecordLifecycle(evt.Type)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			observability.Events().RecordLifecycle(evt.Type)
		}
	}
}

func setupTelemetry(env string, logger *slog.Logger) func() {
	endpoint := strings.TrimSpace(os.Getenv(otlpEndpointEnv))
	if endpoint == "" {
		return func() {}
	}
	shutdown, err := otel.Init(context.Background(), otel.Config{
		ServiceName: "escrowd",
		Environment: env,
		Endpoint:    endpoint,
		Insecure:    true,
		Headers:     otel.ParseHeaders(os.Getenv(otlpHeadersEnv)),
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		logger.Warn("Telemetry disabled", slog.Any("error", err))
		return func() {}
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.Warn("Telemetry shutdown failed", slog.Any("error", err))
		}
	}
}
