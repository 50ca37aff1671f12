// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package config implements the config command, which checks a config file and prints the settings it holds.
package config

import (
	"context"

	"github.com/matt-FFFFFF/linerun/internal/config"
	"github.com/matt-FFFFFF/linerun/internal/ctxlog"
	"github.com/urfave/cli/v3"
)

const (
	urlArg     = "url"
	cliExitStr = ""
)

// ConfigCmd is the command that validates a config file.
var ConfigCmd = &cli.Command{
	Name:  "config",
	Usage: "Check a config file and print the settings it holds",
	Description: `Fetch and decode a YAML (.yaml, .yml) or HCL (.hcl) config file and print the
settings it holds as YAML. Unknown keys and out of range values are reported as errors.
In HCL files the environment is available as env.NAME.`,
	ArgsUsage: "URL",
	Arguments: []cli.Argument{
		&cli.StringArg{
			Name:      urlArg,
			UsageText: "URL",
			Config: cli.StringConfig{
				TrimSpace: true,
			},
		},
	},
	Action: actionFunc,
}

func actionFunc(ctx context.Context, cmd *cli.Command) error {
	url := cmd.StringArg(urlArg)
	if url == "" {
		ctxlog.Error(ctx, "Please provide the URL of the config file.")
		return cli.Exit(cliExitStr, 1)
	}

	cfg, err := config.Load(ctx, url)
	if err != nil {
		ctxlog.Error(ctx, "invalid config file", "url", url, "error", err)
		return cli.Exit(cliExitStr, 1)
	}

	b, err := cfg.YAML()
	if err != nil {
		ctxlog.Error(ctx, "failed to render config", "error", err)
		return cli.Exit(cliExitStr, 1)
	}

	if _, err := cmd.Writer.Write(b); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	return nil
}
