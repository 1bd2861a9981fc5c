// Package config loads the bridge daemon's TOML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type BridgeConfig struct {
	BridgeID    string   `toml:"bridge_id"`
	Version     string   `toml:"version"`
	AdminAddr   string   `toml:"admin_addr"`
	AdminToken  string   `toml:"admin_token"`
	CorsOrigins []string `toml:"cors_origins"`
	Heartbeat   string   `toml:"heartbeat"`

	Channel   ChannelConfig   `toml:"channel"`
	Keyring   KeyringConfig   `toml:"keyring"`
	Directory DirectoryConfig `toml:"directory"`
}

// ChannelConfig selects the host channel transport. An empty URL runs the
// daemon on an in-process loopback channel, which is only useful for
// local experiments.
type ChannelConfig struct {
	URL    string `toml:"url"`
	Origin string `toml:"origin"`
}

type KeyringConfig struct {
	Private []string `toml:"private"`
	Public  []string `toml:"public"`
}

// DirectoryConfig points at the remote key directory. An empty URL
// disables remote lookups; locally unknown recipients then stay invalid.
type DirectoryConfig struct {
	URL       string `toml:"url"`
	TimeoutMS int64  `toml:"timeout_ms"`
}

func LoadBridgeConfig(path string) (BridgeConfig, error) {
	var cfg BridgeConfig
	if err := loadToml(path, &cfg); err != nil {
		return BridgeConfig{}, err
	}
	if cfg.BridgeID == "" {
		cfg.BridgeID = "bridge.local"
	}
	if cfg.Version == "" {
		cfg.Version = "0.0.1"
	}
	if cfg.Heartbeat == "" {
		cfg.Heartbeat = "5s"
	}
	if cfg.Directory.TimeoutMS <= 0 {
		cfg.Directory.TimeoutMS = 3000
	}
	if err := ValidateBridgeConfig(cfg); err != nil {
		return BridgeConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateBridgeConfig(cfg BridgeConfig) error {
	if strings.TrimSpace(cfg.BridgeID) == "" {
		return fmt.Errorf("bridge config missing bridge_id")
	}
	if _, err := time.ParseDuration(cfg.Heartbeat); err != nil {
		return fmt.Errorf("bridge config heartbeat invalid: %w", err)
	}
	if strings.TrimSpace(cfg.Channel.URL) != "" {
		url := strings.TrimSpace(cfg.Channel.URL)
		if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
			return fmt.Errorf("bridge config channel url must be ws:// or wss://")
		}
	}
	if len(cfg.Keyring.Private) == 0 {
		return fmt.Errorf("bridge config keyring needs at least one private identity")
	}
	return nil
}

// HeartbeatInterval parses the heartbeat field. Validate has already
// rejected unparseable values.
func (c BridgeConfig) HeartbeatInterval() time.Duration {
	d, err := time.ParseDuration(c.Heartbeat)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// DirectoryTimeout returns the remote lookup timeout.
func (c BridgeConfig) DirectoryTimeout() time.Duration {
	return time.Duration(c.Directory.TimeoutMS) * time.Millisecond
}
