// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package run implements the run command, which works through a run file shared over a lock-capable filesystem.
package run

import (
	"context"

	"github.com/matt-FFFFFF/linerun/cmd/cmdstate"
	"github.com/matt-FFFFFF/linerun/internal/backend/fsbackend"
	"github.com/matt-FFFFFF/linerun/internal/ctxlog"
	"github.com/urfave/cli/v3"
)

const (
	fileArg    = "file"
	cliExitStr = ""
)

// RunCmd is the command that executes the jobs of a run file in filesystem mode.
var RunCmd = &cli.Command{
	Name:  "run",
	Usage: "Execute the jobs listed in a run file",
	Description: `Execute the jobs listed in a run file, one per line starting with ". ".
Each job is marked r while it runs and d, ! or e once it has finished.
Any number of run commands, on any number of hosts, may work on the same file at once
as long as the filesystem honours POSIX record locks.`,
	ArgsUsage: "RUNFILE",
	Arguments: []cli.Argument{
		&cli.StringArg{
			Name:      fileArg,
			UsageText: "RUNFILE",
			Config: cli.StringConfig{
				TrimSpace: true,
			},
		},
	},
	Flags: []cli.Flag{
		cmdstate.JobsFlagDef(0, "Set the number of jobs to run at once. Defaults to the number of CPU cores available."),
		cmdstate.LogfileFlagDef(),
		cmdstate.RetryFlagDef(),
		cmdstate.OneOnlyFlagDef(),
		cmdstate.ShellFlagDef(),
		cmdstate.ConfigFlagDef(),
	},
	Action: actionFunc,
}

func actionFunc(ctx context.Context, cmd *cli.Command) error {
	ctx = ctxlog.With(ctx, "command", cmd.Name)

	file := cmd.StringArg(fileArg)
	if file == "" {
		ctxlog.Error(ctx, "Please provide the run file to work on.")
		return cli.Exit(cliExitStr, 1)
	}

	cfg, err := cmdstate.LoadConfig(ctx, cmd)
	if err != nil {
		ctxlog.Error(ctx, "failed to load config", "error", err)
		return cli.Exit(cliExitStr, 1)
	}

	sink, closeSink, err := cmdstate.OpenSink(cmdstate.String(cmd, cmdstate.LogfileFlag, cfg.Logfile))
	if err != nil {
		ctxlog.Error(ctx, "failed to open log file", "error", err)
		return cli.Exit(cliExitStr, 1)
	}

	defer closeSink() //nolint:errcheck

	b, err := fsbackend.Open(ctx, file, fsbackend.Options{
		Retry: cmdstate.Bool(cmd, cmdstate.RetryFlag, cfg.Retry),
		Sink:  sink,
	})
	if err != nil {
		ctxlog.Error(ctx, "failed to open run file", "file", file, "error", err)
		return cli.Exit(cliExitStr, 1)
	}

	defer b.Close() //nolint:errcheck

	p := cmdstate.NewPool(ctx, b, cmd.Writer, cmdstate.WorkerOptions{
		Jobs:    cmdstate.Int(cmd, cmdstate.JobsFlag, cfg.Jobs),
		OneOnly: cmdstate.Bool(cmd, cmdstate.OneOnlyFlag, cfg.OneOnly),
		Shell:   cmdstate.String(cmd, cmdstate.ShellFlag, cfg.Shell),
	})

	ctxlog.Info(ctx, "running jobs", "file", file, "owner", b.Owner().String(), "jobs", p.Size())

	sum, err := cmdstate.RunPool(ctx, p)

	return cmdstate.Finish(ctx, sum, err)
}
