// Package main provides the stream-gateway CLI entrypoint.
//
// Usage:
//
//	stream-gateway [--config FILE] [--env-file FILE] [--port N] [--debug] [command]
//
// Without a command the gateway is served. Commands:
//   - serve:        run the HTTP gateway (default)
//   - check-config: print the effective configuration and exit
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/compresr/stream-gateway/internal/config"
)

// version is set via ldflags at build time.
var version = "dev"

const defaultEnvFile = ".env"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "stream-gateway",
		Usage:   "OpenAI-compatible streaming gateway for Dify-style chat APIs",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file (defaults + environment when omitted)",
				EnvVars: []string{"STREAM_GATEWAY_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file loaded before the config; missing default file is ignored",
				Value: defaultEnvFile,
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "override server.port",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "debug logging",
			},
		},
		Action: serveAction,
		Commands: []*cli.Command{
			serveCommand(),
			checkConfigCommand(),
		},
	}
}

// loadConfig applies, in order: env file, config file (or defaults), environment
// overrides, command-line overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("env-file"); path != "" {
		if err := godotenv.Load(path); err != nil {
			missing := errors.Is(err, fs.ErrNotExist)
			if !missing || c.IsSet("env-file") {
				return nil, fmt.Errorf("load env file %s: %w", path, err)
			}
		}
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}
	if c.Bool("debug") {
		cfg.Monitoring.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
