// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package serve implements the serve command, which owns a run file and hands its jobs to network workers.
package serve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/matt-FFFFFF/linerun/cmd/cmdstate"
	"github.com/matt-FFFFFF/linerun/internal/backend"
	"github.com/matt-FFFFFF/linerun/internal/backend/coordinator"
	"github.com/matt-FFFFFF/linerun/internal/backend/netbackend"
	"github.com/matt-FFFFFF/linerun/internal/ctxlog"
	"github.com/matt-FFFFFF/linerun/internal/pool"
	"github.com/matt-FFFFFF/linerun/internal/token"
	"github.com/urfave/cli/v3"
)

const (
	fileArg       = "file"
	bindFlag      = "bind"
	tokenFileFlag = "token-file"
	defaultBind   = "0.0.0.0"
	cliExitStr    = ""

	shutdownGrace = 5 * time.Second
)

// ServeCmd is the command that serves a run file to network workers.
var ServeCmd = &cli.Command{
	Name:  "serve",
	Usage: "Serve the jobs of a run file to network workers",
	Description: `Serve the jobs of a run file to workers started with "linerun work".
A random token is generated at startup, printed and written to the token file;
workers must present it before they may claim jobs. The token file is removed on shutdown.

The server runs until it receives a termination signal. It then stops handing out jobs
and waits for the jobs already handed out to be committed. A second signal stops waiting.`,
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
		cmdstate.PortFlagDef(),
		&cli.StringFlag{
			Name:    bindFlag,
			Usage:   "Address to listen on",
			Value:   defaultBind,
			Sources: cmdstate.Env(bindFlag),
		},
		&cli.StringFlag{
			Name:        tokenFileFlag,
			Aliases:     []string{"t"},
			Usage:       "Write the token to this file, which must not exist yet",
			DefaultText: "~/.linerun.token",
			TakesFile:   true,
			Sources:     cmdstate.Env(tokenFileFlag),
		},
		cmdstate.JobsFlagDef(0, "Also run this many jobs in the server process"),
		cmdstate.LogfileFlagDef(),
		cmdstate.RetryFlagDef(),
		cmdstate.ShellFlagDef(),
		cmdstate.ConfigFlagDef(),
	},
	Action: actionFunc,
}

func actionFunc(ctx context.Context, cmd *cli.Command) error {
	ctx = ctxlog.With(ctx, "command", cmd.Name)

	file := cmd.StringArg(fileArg)
	if file == "" {
		ctxlog.Error(ctx, "Please provide the run file to serve.")
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

	coord, err := coordinator.Open(ctx, file, coordinator.Options{
		Retry: cmdstate.Bool(cmd, cmdstate.RetryFlag, cfg.Retry),
		Sink:  sink,
	})
	if err != nil {
		ctxlog.Error(ctx, "failed to open run file", "file", file, "error", err)
		return cli.Exit(cliExitStr, 1)
	}

	defer coord.Close() //nolint:errcheck

	tokenFile, err := tokenPath(cmd, cfg.TokenFile)
	if err != nil {
		ctxlog.Error(ctx, "failed to resolve token file", "error", err)
		return cli.Exit(cliExitStr, 1)
	}

	tok, err := token.Generate()
	if err != nil {
		ctxlog.Error(ctx, "failed to generate token", "error", err)
		return cli.Exit(cliExitStr, 1)
	}

	if err := token.WriteFile(tokenFile, tok); err != nil {
		ctxlog.Error(ctx, "failed to write token file", "error", err)
		return cli.Exit(cliExitStr, 1)
	}

	defer func() {
		if err := token.Remove(tokenFile); err != nil {
			ctxlog.Warn(ctx, "failed to remove token file", "error", err)
		}
	}()

	addr := net.JoinHostPort(
		cmdstate.String(cmd, bindFlag, cfg.Bind),
		strconv.Itoa(cmdstate.Int(cmd, cmdstate.PortFlag, cfg.Port)),
	)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		ctxlog.Error(ctx, "failed to listen", "addr", addr, "error", err)
		return cli.Exit(cliExitStr, 1)
	}

	var p *pool.Pool

	if jobs := cmdstate.Int(cmd, cmdstate.JobsFlag, cfg.Jobs); jobs > 0 {
		owner, err := backend.LocalOwner()
		if err != nil {
			_ = ln.Close()

			ctxlog.Error(ctx, "failed to identify local worker", "error", err)

			return cli.Exit(cliExitStr, 1)
		}

		p = cmdstate.NewPool(ctx, coord.Local(owner), cmd.Writer, cmdstate.WorkerOptions{
			Jobs:  jobs,
			Shell: cmdstate.String(cmd, cmdstate.ShellFlag, cfg.Shell),
		})
	}

	fmt.Fprintf(cmd.Writer, "Token for linerun work: %s (written to %s)\n", tok, tokenFile) //nolint:errcheck

	sum, err := serve(ctx, netbackend.NewServer(coord, tok), coord, ln, p)

	return cmdstate.Finish(ctx, sum, err)
}

// serve runs the server, and the local pool when there is one, until a termination signal,
// then drains the server and shuts it down.
func serve(
	ctx context.Context,
	srv *netbackend.Server,
	coord *coordinator.Coordinator,
	ln net.Listener,
	p *pool.Pool,
) (pool.Summary, error) {
	stopped := make(chan struct{})

	hard, stop := cmdstate.Interruptible(ctx, func() {
		srv.StartDrain()

		if p != nil {
			p.Stop()
		}

		close(stopped)
	})
	defer stop()

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- srv.Serve(hard, ln)
	}()

	var (
		sum  pool.Summary
		errs *multierror.Error
	)

	if p != nil {
		s, err := p.Run(hard)
		if err != nil {
			errs = multierror.Append(errs, err)
		}

		sum = s

		ctxlog.Info(ctx, "local jobs finished, still serving", "summary", sum.String())
	}

	var served error

	select {
	case <-stopped:
	case <-hard.Done():
	case served = <-serveErr:
	}

	ctxlog.Info(ctx, "draining, waiting for running jobs to be committed", "live", coord.Live())

	if err := srv.Drain(hard); err != nil {
		ctxlog.Warn(ctx, "jobs still running at shutdown", "live", coord.Live(), "error", err)
	}

	shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutCtx); err != nil {
		ctxlog.Warn(ctx, "connections closed forcibly at shutdown", "error", err)
	}

	if served == nil {
		served = <-serveErr
	}

	if !errors.Is(served, netbackend.ErrServerClosed) && !errors.Is(served, context.Canceled) {
		errs = multierror.Append(errs, served)
	}

	return sum, errs.ErrorOrNil()
}

func tokenPath(cmd *cli.Command, fromFile *string) (string, error) {
	if p := cmdstate.String(cmd, tokenFileFlag, fromFile); p != "" {
		return p, nil
	}

	return token.DefaultPath() //nolint:wrapcheck
}
