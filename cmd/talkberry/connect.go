package main

import (
	"context"
	"errors"
	"os"

	"github.com/blockberries/talkberry/client"
	"github.com/blockberries/talkberry/config"
	"github.com/blockberries/talkberry/logging"
)

// loadConfig merges the config file, the --socket flag, and defaults.
// The flag wins over the file.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if socketPath != "" {
		cfg.Socket.Path = socketPath
	}
	if cfg.Socket.Path == "" {
		return nil, errors.New("no socket path; pass --socket or set socket.path in the config file")
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func connectClient(ctx context.Context) (*client.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log := logging.NewNopLogger()
	if verbose {
		log = logging.NewTextLogger(os.Stderr, logging.ParseLevel(cfg.Logging.Level))
	}
	return client.ConnectWithConfig(ctx, cfg, client.WithLogger(log))
}
