// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package cmd contains the command-line interface (CLI) for the module.
package cmd

import (
	"fmt"
	"os"

	"github.com/matt-FFFFFF/linerun"
	"github.com/matt-FFFFFF/linerun/cmd/config"
	"github.com/matt-FFFFFF/linerun/cmd/run"
	"github.com/matt-FFFFFF/linerun/cmd/serve"
	"github.com/matt-FFFFFF/linerun/cmd/show"
	"github.com/matt-FFFFFF/linerun/cmd/work"
	"github.com/urfave/cli/v3"
)

// RootCmd is the root command for the CLI.
var RootCmd = &cli.Command{
	Commands: []*cli.Command{
		run.RunCmd,
		serve.ServeCmd,
		work.WorkCmd,
		show.ShowCmd,
		config.ConfigCmd,
	},
	Writer:    os.Stdout,
	ErrWriter: os.Stderr,
	Name:      "linerun",
	Version:   fmt.Sprintf("%s (commit: %s)", linerun.Version, linerun.Commit),
	Description: `linerun works through a text file of shell command lines, one job per line,
marking each line as it is claimed and finished. Several linerun processes, on one host or many,
can share the same file: either directly through POSIX record locks on a shared filesystem,
or through a linerun server that owns the file and hands jobs out over TCP.

Job lines start with a status marker and a space: "." new, "r" running, "d" done,
"!" failed and "e" error. Every other line is left untouched.`,
	Usage:     "linerun run jobs.txt",
	Copyright: "Copyright (c) matt-FFFFFF 2025. All rights reserved.",
	Authors: []any{
		"Matt White (matt-FFFFFF)",
	},
	EnableShellCompletion: true,
}
