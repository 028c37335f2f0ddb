package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the environment-driven settings for the settlement daemon.
type Config struct {
	DatabaseDSN  string
	NodeURL      string
	NodeToken    string
	PollInterval time.Duration
	BatchSize    int
	OutputDir    string
	ReconWindow  time.Duration
	RunHour      int
	RunMinute    int
	DryRun       bool
	Location     *time.Location
}

// LoadConfigFromEnv reads ZKE_SETTLEMENT_* variables and applies defaults.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		DatabaseDSN:  strings.TrimSpace(os.Getenv("ZKE_SETTLEMENT_DB_DSN")),
		NodeURL:      strings.TrimSpace(os.Getenv("ZKE_SETTLEMENT_NODE_URL")),
		NodeToken:    strings.TrimSpace(os.Getenv("ZKE_SETTLEMENT_NODE_TOKEN")),
		PollInterval: 5 * time.Second,
		BatchSize:    200,
		OutputDir:    strings.TrimSpace(os.Getenv("ZKE_SETTLEMENT_OUTPUT_DIR")),
		ReconWindow:  24 * time.Hour,
		RunHour:      2,
		RunMinute:    0,
		Location:     time.UTC,
	}
	if cfg.DatabaseDSN == "" {
		return Config{}, fmt.Errorf("ZKE_SETTLEMENT_DB_DSN is required")
	}
	if cfg.NodeURL == "" {
		return Config{}, fmt.Errorf("ZKE_SETTLEMENT_NODE_URL is required")
	}
	if raw := strings.TrimSpace(os.Getenv("ZKE_SETTLEMENT_POLL_INTERVAL")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("invalid ZKE_SETTLEMENT_POLL_INTERVAL %q", raw)
		}
		cfg.PollInterval = d
	}
	if raw := strings.TrimSpace(os.Getenv("ZKE_SETTLEMENT_BATCH")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid ZKE_SETTLEMENT_BATCH %q", raw)
		}
		cfg.BatchSize = n
	}
	if raw := strings.TrimSpace(os.Getenv("ZKE_SETTLEMENT_RECON_WINDOW")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("invalid ZKE_SETTLEMENT_RECON_WINDOW %q", raw)
		}
		cfg.ReconWindow = d
	}
	if raw := strings.TrimSpace(os.Getenv("ZKE_SETTLEMENT_RUN_HOUR")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 23 {
			return Config{}, fmt.Errorf("invalid ZKE_SETTLEMENT_RUN_HOUR %q", raw)
		}
		cfg.RunHour = n
	}
	if raw := strings.TrimSpace(os.Getenv("ZKE_SETTLEMENT_RUN_MINUTE")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 59 {
			return Config{}, fmt.Errorf("invalid ZKE_SETTLEMENT_RUN_MINUTE %q", raw)
		}
		cfg.RunMinute = n
	}
	if raw := strings.TrimSpace(os.Getenv("ZKE_SETTLEMENT_DRY_RUN")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ZKE_SETTLEMENT_DRY_RUN %q", raw)
		}
		cfg.DryRun = v
	}
	if raw := strings.TrimSpace(os.Getenv("ZKE_SETTLEMENT_TZ")); raw != "" {
		loc, err := time.LoadLocation(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ZKE_SETTLEMENT_TZ %q: %w", raw, err)
		}
		cfg.Location = loc
	}
	return cfg, nil
}
