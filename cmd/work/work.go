// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package work implements the work command, which runs jobs handed out by a linerun server.
package work

import (
	"context"
	"net"
	"strconv"

	"github.com/matt-FFFFFF/linerun/cmd/cmdstate"
	"github.com/matt-FFFFFF/linerun/internal/backend/netbackend"
	"github.com/matt-FFFFFF/linerun/internal/ctxlog"
	"github.com/matt-FFFFFF/linerun/internal/token"
	"github.com/urfave/cli/v3"
)

const (
	hostArg         = "host"
	tokenFlag       = "token"
	dialTimeoutFlag = "dial-timeout"
	cliExitStr      = ""
)

// WorkCmd is the command that runs jobs claimed from a server.
var WorkCmd = &cli.Command{
	Name:  "work",
	Usage: "Run jobs handed out by a linerun server",
	Description: `Connect to a server started with "linerun serve" and run the jobs it hands out
until none are left. Job output is sent back to the server for its log file.

The token may be given literally or as the path of a file ending in .token.
Without --token the default token file is read.`,
	ArgsUsage: "HOST",
	Arguments: []cli.Argument{
		&cli.StringArg{
			Name:      hostArg,
			UsageText: "HOST",
			Config: cli.StringConfig{
				TrimSpace: true,
			},
		},
	},
	Flags: []cli.Flag{
		cmdstate.PortFlagDef(),
		&cli.StringFlag{
			Name:        tokenFlag,
			Aliases:     []string{"t"},
			Usage:       "Token printed by the server, or a file ending in .token holding it",
			DefaultText: "~/.linerun.token",
			Sources:     cmdstate.Env(tokenFlag),
		},
		&cli.DurationFlag{
			Name:    dialTimeoutFlag,
			Usage:   "Give up connecting to the server after this long",
			Value:   netbackend.DefaultDialTimeout,
			Sources: cmdstate.Env(dialTimeoutFlag),
		},
		cmdstate.JobsFlagDef(0, "Set the number of jobs to run at once. Defaults to the number of CPU cores available."),
		cmdstate.OneOnlyFlagDef(),
		cmdstate.ShellFlagDef(),
		cmdstate.ConfigFlagDef(),
	},
	Action: actionFunc,
}

func actionFunc(ctx context.Context, cmd *cli.Command) error {
	ctx = ctxlog.With(ctx, "command", cmd.Name)

	host := cmd.StringArg(hostArg)
	if host == "" {
		ctxlog.Error(ctx, "Please provide the host running linerun serve.")
		return cli.Exit(cliExitStr, 1)
	}

	cfg, err := cmdstate.LoadConfig(ctx, cmd)
	if err != nil {
		ctxlog.Error(ctx, "failed to load config", "error", err)
		return cli.Exit(cliExitStr, 1)
	}

	tok, err := resolveToken(cmd, cfg.Token, cfg.TokenFile)
	if err != nil {
		ctxlog.Error(ctx, "failed to resolve token", "error", err)
		return cli.Exit(cliExitStr, 1)
	}

	fileTimeout, fileSet := cfg.DialTimeoutDuration()

	client, err := netbackend.NewClient(netbackend.ClientOptions{
		Addr:        net.JoinHostPort(host, strconv.Itoa(cmdstate.Int(cmd, cmdstate.PortFlag, cfg.Port))),
		Token:       tok,
		DialTimeout: cmdstate.Duration(cmd, dialTimeoutFlag, fileTimeout, fileSet),
	})
	if err != nil {
		ctxlog.Error(ctx, "failed to create client", "error", err)
		return cli.Exit(cliExitStr, 1)
	}

	defer client.Close() //nolint:errcheck

	p := cmdstate.NewPool(ctx, client, cmd.Writer, cmdstate.WorkerOptions{
		Jobs:    cmdstate.Int(cmd, cmdstate.JobsFlag, cfg.Jobs),
		OneOnly: cmdstate.Bool(cmd, cmdstate.OneOnlyFlag, cfg.OneOnly),
		Shell:   cmdstate.String(cmd, cmdstate.ShellFlag, cfg.Shell),
	})

	ctxlog.Info(ctx, "working for server", "remote", host, "owner", client.Owner().String(), "jobs", p.Size())

	sum, err := cmdstate.RunPool(ctx, p)

	return cmdstate.Finish(ctx, sum, err)
}

// resolveToken picks the token from the flag, then the config token, then the config token file,
// then the default token file.
func resolveToken(cmd *cli.Command, cfgToken, cfgTokenFile *string) (string, error) {
	switch {
	case cmd.IsSet(tokenFlag):
		return token.Resolve(cmd.String(tokenFlag)) //nolint:wrapcheck
	case cfgToken != nil:
		return token.Resolve(*cfgToken) //nolint:wrapcheck
	case cfgTokenFile != nil:
		return token.ReadFile(*cfgTokenFile) //nolint:wrapcheck
	}

	path, err := token.DefaultPath()
	if err != nil {
		return "", err //nolint:wrapcheck
	}

	return token.ReadFile(path) //nolint:wrapcheck
}
