// Package relay parses relay command flags and composes the service entrypoint.
package relay

import (
	"context"
	"flag"
	"fmt"

	entrypoint "github.com/deskrelay/deskrelay/internal/platform/cmd"
	server "github.com/deskrelay/deskrelay/internal/relay/app"
)

// Config holds relay command configuration.
type Config struct {
	HTTPAddr    string `env:"DESKRELAY_HTTP_ADDR"    envDefault:":8080"`
	TokenSecret string `env:"DESKRELAY_TOKEN_SECRET"`
	StoragePath string `env:"DESKRELAY_STORAGE_PATH" envDefault:"relay.db"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "relay HTTP listen address")
	fs.StringVar(&cfg.TokenSecret, "token-secret", cfg.TokenSecret, "shared secret for bearer token verification")
	fs.StringVar(&cfg.StoragePath, "storage-path", cfg.StoragePath, "SQLite database path")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the relay app and serves it until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRelay, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:    cfg.HTTPAddr,
			TokenSecret: cfg.TokenSecret,
			StoragePath: cfg.StoragePath,
		}); err != nil {
			return fmt.Errorf("serve relay: %w", err)
		}
		return nil
	})
}
