package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the escrow daemon's TOML configuration. Secrets stay out of this
// file: the RPC bearer token comes from the environment and receiver
// credentials live in the environments file.
type Config struct {
	RPCAddress            string `toml:"RPCAddress"`
	DataDir               string `toml:"DataDir"`
	EnvironmentsFile      string `toml:"EnvironmentsFile"`
	ArchiveFile           string `toml:"ArchiveFile"`
	DefaultTimeoutSeconds int64  `toml:"DefaultTimeoutSeconds"`
	StrictAddresses       bool   `toml:"StrictAddresses"`
	NetworkName           string `toml:"NetworkName"`
	LogFile               string `toml:"LogFile"`
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}

	for _, undecoded := range meta.Undecoded() {
		if len(undecoded) == 1 && undecoded[0] == "ReceiverToken" {
			return nil, fmt.Errorf("config file %s uses deprecated ReceiverToken field; move the token to auth_token entries in the environments file", path)
		}
	}

	applyDefaults(cfg, path)
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config, path string) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = defaultDataDir(path)
	}
	if strings.TrimSpace(cfg.ArchiveFile) == "" {
		cfg.ArchiveFile = filepath.Join(cfg.DataDir, "actions.db")
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "zke-local"
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:  ":8080",
		NetworkName: "zke-local",
	}
	applyDefaults(cfg, path)

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultDataDir(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "zke-data")
}
