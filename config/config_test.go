package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadParsesSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `RPCAddress = "0.0.0.0:9000"
DataDir = "./data"
EnvironmentsFile = "./environments.yaml"
ArchiveFile = "./actions.db"
DefaultTimeoutSeconds = 3600
StrictAddresses = true
NetworkName = "testnet"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != "0.0.0.0:9000" {
		t.Fatalf("RPCAddress = %s", cfg.RPCAddress)
	}
	if cfg.DataDir != "./data" {
		t.Fatalf("DataDir = %s", cfg.DataDir)
	}
	if cfg.EnvironmentsFile != "./environments.yaml" {
		t.Fatalf("EnvironmentsFile = %s", cfg.EnvironmentsFile)
	}
	if cfg.ArchiveFile != "./actions.db" {
		t.Fatalf("ArchiveFile = %s", cfg.ArchiveFile)
	}
	if cfg.DefaultTimeoutSeconds != 3600 {
		t.Fatalf("DefaultTimeoutSeconds = %d", cfg.DefaultTimeoutSeconds)
	}
	if !cfg.StrictAddresses {
		t.Fatal("StrictAddresses not set")
	}
	if cfg.NetworkName != "testnet" {
		t.Fatalf("NetworkName = %s", cfg.NetworkName)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":8080" {
		t.Fatalf("RPCAddress = %s", cfg.RPCAddress)
	}
	if cfg.DataDir != filepath.Join(dir, "zke-data") {
		t.Fatalf("DataDir = %s", cfg.DataDir)
	}
	if cfg.ArchiveFile != filepath.Join(cfg.DataDir, "actions.db") {
		t.Fatalf("ArchiveFile = %s", cfg.ArchiveFile)
	}
	if cfg.NetworkName != "zke-local" {
		t.Fatalf("NetworkName = %s", cfg.NetworkName)
	}
	if cfg.DefaultTimeoutSeconds != 0 {
		t.Fatalf("DefaultTimeoutSeconds = %d", cfg.DefaultTimeoutSeconds)
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if cfg.RPCAddress != ":8080" || cfg.NetworkName != "zke-local" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.DataDir != cfg.DataDir {
		t.Fatalf("reloaded DataDir = %s, want %s", reloaded.DataDir, cfg.DataDir)
	}
}

func TestLoadRejectsDeprecatedReceiverToken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `RPCAddress = ":9000"
ReceiverToken = "secret"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "ReceiverToken") {
		t.Fatalf("expected deprecation error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"nil", nil, true},
		{"missing rpc address", &Config{DataDir: "./data"}, true},
		{"missing data dir", &Config{RPCAddress: ":8080"}, true},
		{"negative timeout", &Config{RPCAddress: ":8080", DataDir: "./data", DefaultTimeoutSeconds: -1}, true},
		{"ok", &Config{RPCAddress: ":8080", DataDir: "./data"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.cfg)
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
