// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package cmdstate holds what the subcommands share: common flags, the config file merged under them,
// and the wiring of termination signals to a worker pool.
package cmdstate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/matt-FFFFFF/linerun/internal/config"
	"github.com/matt-FFFFFF/linerun/internal/ctxlog"
	"github.com/urfave/cli/v3"
)

// Flag names shared by several subcommands.
const (
	ConfigFlag  = "config"
	JobsFlag    = "jobs"
	LogfileFlag = "logfile"
	RetryFlag   = "retry"
	OneOnlyFlag = "one-only"
	ShellFlag   = "shell"
	PortFlag    = "port"

	// DefaultPort is the TCP port a server listens on and a worker dials.
	DefaultPort = 9998

	envPrefix = "LINERUN_"
)

// Env returns the environment variable source for a flag, e.g. LINERUN_ONE_ONLY for one-only.
func Env(flag string) cli.ValueSourceChain {
	return cli.EnvVars(envPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_")))
}

// ConfigFlagDef is the --config flag.
func ConfigFlagDef() cli.Flag {
	return &cli.StringFlag{
		Name:    ConfigFlag,
		Aliases: []string{"c"},
		Usage: "Read settings from a YAML or HCL file. " +
			"Supports Hashicorp's go-getter syntax for fetching files from various sources. " +
			"Command line flags take precedence over the file.",
		TakesFile: true,
		Sources:   Env(ConfigFlag),
		OnlyOnce:  true,
	}
}

// JobsFlagDef is the --jobs flag with the given default.
func JobsFlagDef(value int, usage string) cli.Flag {
	return &cli.IntFlag{
		Name:    JobsFlag,
		Aliases: []string{"j"},
		Usage:   usage,
		Value:   value,
		Sources: Env(JobsFlag),
		Validator: func(v int) error {
			if v < 0 {
				return fmt.Errorf("--%s must not be negative", JobsFlag)
			}

			return nil
		},
	}
}

// LogfileFlagDef is the --logfile flag.
func LogfileFlagDef() cli.Flag {
	return &cli.StringFlag{
		Name:      LogfileFlag,
		Aliases:   []string{"l"},
		Usage:     "Append the output of every job to this file, which must already exist",
		TakesFile: true,
		Sources:   Env(LogfileFlag),
	}
}

// RetryFlagDef is the --retry flag.
func RetryFlagDef() cli.Flag {
	return &cli.BoolFlag{
		Name:        RetryFlag,
		Aliases:     []string{"r"},
		Usage:       "Also claim jobs that previously failed or errored",
		DefaultText: "false",
		Sources:     Env(RetryFlag),
	}
}

// OneOnlyFlagDef is the --one-only flag.
func OneOnlyFlagDef() cli.Flag {
	return &cli.BoolFlag{
		Name:        OneOnlyFlag,
		Aliases:     []string{"1"},
		Usage:       "Stop claiming jobs once one job has succeeded",
		DefaultText: "false",
		Sources:     Env(OneOnlyFlag),
	}
}

// ShellFlagDef is the --shell flag.
func ShellFlagDef() cli.Flag {
	return &cli.StringFlag{
		Name:    ShellFlag,
		Usage:   "Interpreter and arguments used to run each job, e.g. \"/bin/bash -c\". Defaults to $SHELL -c",
		Sources: Env(ShellFlag),
	}
}

// PortFlagDef is the --port flag.
func PortFlagDef() cli.Flag {
	return &cli.IntFlag{
		Name:    PortFlag,
		Aliases: []string{"p"},
		Usage:   "TCP port of the server",
		Value:   DefaultPort,
		Sources: Env(PortFlag),
		Validator: func(v int) error {
			if v < 1 || v > 65535 {
				return fmt.Errorf("--%s must be between 1 and 65535", PortFlag)
			}

			return nil
		},
	}
}

// LoadConfig loads the file named by --config. Without one it returns an empty config.
func LoadConfig(ctx context.Context, cmd *cli.Command) (*config.Config, error) {
	url := cmd.String(ConfigFlag)
	if url == "" {
		return new(config.Config), nil
	}

	cfg, err := config.Load(ctx, url)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	ctxlog.Debug(ctx, "config loaded", "url", url)

	return cfg, nil
}

// Int resolves an int setting. A flag given on the command line or through the environment wins,
// then the config file, then the flag default.
func Int(cmd *cli.Command, flag string, fromFile *int) int {
	if cmd.IsSet(flag) || fromFile == nil {
		return cmd.Int(flag)
	}

	return *fromFile
}

// String resolves a string setting the same way as Int.
func String(cmd *cli.Command, flag string, fromFile *string) string {
	if cmd.IsSet(flag) || fromFile == nil {
		return cmd.String(flag)
	}

	return *fromFile
}

// Bool resolves a bool setting the same way as Int.
func Bool(cmd *cli.Command, flag string, fromFile *bool) bool {
	if cmd.IsSet(flag) || fromFile == nil {
		return cmd.Bool(flag)
	}

	return *fromFile
}

// Duration resolves a duration setting the same way as Int.
func Duration(cmd *cli.Command, flag string, fromFile time.Duration, fileSet bool) time.Duration {
	if cmd.IsSet(flag) || !fileSet {
		return cmd.Duration(flag)
	}

	return fromFile
}
