package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/glasswire/e2ebind/internal/bridge"
	"github.com/glasswire/e2ebind/internal/config"
	"github.com/glasswire/e2ebind/internal/logging"
	"github.com/glasswire/e2ebind/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "path to bridge TOML config")
	flag.Parse()

	logging.Configure(logging.ProfileRuntime)
	observability.InitLogger("bridgectl")

	cfg := bridge.DefaultServiceConfig()
	if *configPath != "" {
		loaded, err := config.LoadBridgeConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bridgectl: %v\n", err)
			os.Exit(1)
		}
		cfg = serviceConfig(loaded)
	}

	svc := bridge.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "bridgectl: %v\n", err)
		os.Exit(1)
	}
}

func serviceConfig(cfg config.BridgeConfig) bridge.ServiceConfig {
	return bridge.ServiceConfig{
		BridgeID:          cfg.BridgeID,
		Version:           cfg.Version,
		AdminAddr:         cfg.AdminAddr,
		AdminToken:        cfg.AdminToken,
		CorsOrigins:       cfg.CorsOrigins,
		HeartbeatInterval: cfg.HeartbeatInterval(),
		ChannelURL:        cfg.Channel.URL,
		ChannelOrigin:     cfg.Channel.Origin,
		PrivateIdentities: cfg.Keyring.Private,
		PublicIdentities:  cfg.Keyring.Public,
		DirectoryURL:      cfg.Directory.URL,
		DirectoryTimeout:  cfg.DirectoryTimeout(),
	}
}
