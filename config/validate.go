package config

import "fmt"

// Validate rejects configurations the daemon cannot start with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	if cfg.RPCAddress == "" {
		return fmt.Errorf("config: RPCAddress required")
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if cfg.DefaultTimeoutSeconds < 0 {
		return fmt.Errorf("config: DefaultTimeoutSeconds must not be negative")
	}
	return nil
}
