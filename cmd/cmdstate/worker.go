// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package cmdstate

import (
	"context"
	"io"
	"os"

	"github.com/matt-FFFFFF/linerun/internal/aggregator"
	"github.com/matt-FFFFFF/linerun/internal/backend"
	"github.com/matt-FFFFFF/linerun/internal/ctxlog"
	"github.com/matt-FFFFFF/linerun/internal/events"
	"github.com/matt-FFFFFF/linerun/internal/executor"
	"github.com/matt-FFFFFF/linerun/internal/pool"
	"github.com/matt-FFFFFF/linerun/internal/signalbroker"
	"github.com/urfave/cli/v3"
)

const cliExitStr = ""

// NotifySignals creates the channel termination signals arrive on. It is a variable so tests can stub it.
var NotifySignals = func(ctx context.Context) chan os.Signal {
	return signalbroker.New(ctx)
}

// WorkerOptions configures the pool of a subcommand.
type WorkerOptions struct {
	Jobs    int
	OneOnly bool
	// Shell is the interpreter command line. Empty means executor.DefaultShell.
	Shell string
}

// NewPool builds a pool of executors over b that print job events to w.
func NewPool(ctx context.Context, b backend.Backend, w io.Writer, opts WorkerOptions) *pool.Pool {
	shell := executor.ShellFromString(opts.Shell)
	if len(shell) == 0 {
		shell = executor.DefaultShell(ctx)
	}

	exec := &executor.Executor{
		Backend:  b,
		Reporter: events.NewConsole(w),
		Shell:    shell,
	}

	return pool.New(b, exec, pool.Options{Jobs: opts.Jobs, OneOnly: opts.OneOnly})
}

// OpenSink opens the aggregator file at path. An empty path disables aggregation and returns a nil sink.
// The returned close function is always safe to call.
func OpenSink(path string) (aggregator.Sink, func() error, error) {
	if path == "" {
		return nil, func() error { return nil }, nil
	}

	f, err := aggregator.Open(path)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck
	}

	return f, f.Close, nil
}

// Interruptible returns a context for running jobs.
// The first termination signal calls drain; a second one of the same type cancels the returned context.
// The stop function releases the signal handler and must be called.
func Interruptible(ctx context.Context, drain func()) (context.Context, func()) {
	hard, cancel := context.WithCancel(ctx)
	watchCtx, stopWatch := context.WithCancel(ctx)

	sigCh := NotifySignals(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		signalbroker.Watch(watchCtx, sigCh, drain, cancel)
	}()

	return hard, func() {
		stopWatch()
		<-done
		cancel()
	}
}

// RunPool runs p until it returns. The first termination signal stops p claiming and calls onDrain;
// the second kills the running jobs.
func RunPool(ctx context.Context, p *pool.Pool, onDrain ...func()) (pool.Summary, error) {
	hard, stop := Interruptible(ctx, func() {
		p.Stop()

		for _, fn := range onDrain {
			fn()
		}
	})
	defer stop()

	return p.Run(hard)
}

// Finish logs the result of a pool and turns it into the exit status of the subcommand.
func Finish(ctx context.Context, sum pool.Summary, err error) error {
	if err != nil {
		ctxlog.Error(ctx, "jobs could not be coordinated", "error", err, "summary", sum.String())
		return cli.Exit(cliExitStr, 1)
	}

	if !sum.OK() {
		ctxlog.Error(ctx, "some jobs did not succeed", "summary", sum.String())
		return cli.Exit(cliExitStr, 1)
	}

	ctxlog.Info(ctx, "all jobs succeeded", "summary", sum.String())

	return nil
}
