package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/compresr/stream-gateway/internal/utils"
)

func checkConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "check-config",
		Usage: "Validate and print the effective configuration",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			if cfg.Upstream.APIKey != "" {
				cfg.Upstream.APIKey = utils.MaskKeyShort(cfg.Upstream.APIKey)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(c.App.Writer, string(out))
			return err
		},
	}
}
