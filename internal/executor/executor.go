// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package executor runs one claimed job through the shell, streams its output and commits its outcome.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/matt-FFFFFF/linerun/internal/backend"
	"github.com/matt-FFFFFF/linerun/internal/ctxlog"
	"github.com/matt-FFFFFF/linerun/internal/events"
	"github.com/matt-FFFFFF/linerun/internal/linewriter"
	"github.com/matt-FFFFFF/linerun/internal/runfile"
)

const (
	exitCannotExecute = 126
	exitNotFound      = 127
)

var (
	// ErrCouldNotStartProcess is returned when the interpreter could not be started.
	ErrCouldNotStartProcess = errors.New("could not start process")
	// ErrFailedToCreatePipe is returned when the output pipes could not be created.
	ErrFailedToCreatePipe = errors.New("failed to create pipe")
	// ErrNotExecutable is recorded when the interpreter reports the command could not be found or run.
	ErrNotExecutable = errors.New("command not found or not executable")
	// ErrKilled is recorded when the job was killed because its context was cancelled.
	ErrKilled = errors.New("job killed on cancellation")
	// ErrPanic is recorded when executing a job panicked.
	ErrPanic = errors.New("panic while executing job")
)

// Executor runs claimed jobs.
type Executor struct {
	Backend  backend.Backend
	Reporter events.Reporter
	// Shell is the interpreter and its command switch. Nil means DefaultShell.
	Shell []string
	// Dir is the working directory of jobs. Empty means the current directory.
	Dir string
}

// Run executes the job held by cl and commits its outcome exactly once, whatever happens.
// Cancelling ctx kills the job; the outcome is then committed with a context that is not cancelled.
// The returned error is the commit error, if any.
func (e *Executor) Run(ctx context.Context, cl *backend.Claim) (out backend.Outcome, err error) {
	ctx = ctxlog.With(ctx, "job", cl.Job.Number, "lease", cl.Lease)

	defer func() {
		if r := recover(); r != nil {
			ctxlog.Error(ctx, "job execution panicked", "panic", r)
			out = backend.Outcome{
				Status:   runfile.StatusError,
				ExitCode: -1,
				PID:      out.PID,
				Err:      fmt.Errorf("%w: %v", ErrPanic, r),
			}
		}

		err = e.commit(ctx, cl, out)
	}()

	e.report(events.Event{Type: events.EventClaimed, Job: cl.Job, Host: cl.Owner.Host, PID: cl.Owner.PID})

	return e.execute(ctx, cl), nil
}

func (e *Executor) commit(ctx context.Context, cl *backend.Claim, out backend.Outcome) error {
	pid := out.PID
	if pid == 0 {
		pid = cl.Owner.PID
	}

	e.report(events.Event{
		Type:     events.EventFinished,
		Job:      cl.Job,
		Status:   out.Status,
		Host:     cl.Owner.Host,
		PID:      pid,
		ExitCode: out.ExitCode,
		Err:      out.Err,
	})

	if err := e.Backend.Commit(context.WithoutCancel(ctx), cl, out); err != nil {
		ctxlog.Error(ctx, "commit failed", "status", out.Status.String(), "error", err)
		return err //nolint:wrapcheck
	}

	e.report(events.Event{Type: events.EventCommitted, Job: cl.Job, Status: out.Status, Host: cl.Owner.Host, PID: pid})

	return nil
}

func (e *Executor) execute(ctx context.Context, cl *backend.Claim) backend.Outcome {
	failed := func(err error) backend.Outcome {
		return backend.Outcome{Status: runfile.StatusError, ExitCode: -1, Err: err}
	}

	shell := e.Shell
	if len(shell) == 0 {
		shell = DefaultShell(ctx)
	}

	path, err := exec.LookPath(shell[0])
	if err != nil {
		return failed(errors.Join(ErrCouldNotStartProcess, err))
	}

	dir := e.Dir
	if dir == "" {
		if dir, err = os.Getwd(); err != nil {
			return failed(errors.Join(ErrCouldNotStartProcess, err))
		}
	}

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return failed(errors.Join(ErrCouldNotStartProcess, err))
	}
	defer devNull.Close() //nolint:errcheck

	rOut, wOut, err := os.Pipe()
	if err != nil {
		return failed(errors.Join(ErrFailedToCreatePipe, err))
	}
	defer rOut.Close() //nolint:errcheck

	rErr, wErr, err := os.Pipe()
	if err != nil {
		_ = wOut.Close()
		return failed(errors.Join(ErrFailedToCreatePipe, err))
	}
	defer rErr.Close() //nolint:errcheck

	args := append(append([]string{}, shell...), cl.Job.Command)

	ctxlog.Debug(ctx, "starting process", "path", path, "args", args, "cwd", dir)

	ps, err := os.StartProcess(path, args, &os.ProcAttr{
		Dir:   dir,
		Env:   os.Environ(),
		Files: []*os.File{devNull, wOut, wErr},
	})

	// The child holds its own copies; ours must go so the readers see EOF when it exits.
	_ = wOut.Close()
	_ = wErr.Close()

	if err != nil {
		return failed(errors.Join(ErrCouldNotStartProcess, err))
	}

	host := cl.Owner.Host
	pid := ps.Pid

	var (
		readers  sync.WaitGroup
		panicMu  sync.Mutex
		panicErr error
		finished bool
		done     = make(chan struct{})
		killed   = make(chan struct{})
	)

	// A panic before the process was waited for must not leave it or the readers running.
	defer func() {
		if finished {
			return
		}

		killPs(ctx, ps)
		_, _ = ps.Wait()
		close(done)
		_ = rOut.Close()
		_ = rErr.Close()
		readers.Wait()
	}()

	e.report(events.Event{Type: events.EventStarted, Job: cl.Job, Host: host, PID: pid, Time: time.Now()})
	e.forward(ctx, cl, events.Output{Stream: events.StreamForked, PID: pid, Text: dir})

	for stream, src := range map[events.Stream]io.Reader{events.StreamStdout: rOut, events.StreamStderr: rErr} {
		readers.Add(1)

		go func() {
			defer readers.Done()

			defer func() {
				if r := recover(); r != nil {
					panicMu.Lock()
					panicErr = errors.Join(panicErr, fmt.Errorf("%w: %v", ErrPanic, r))
					panicMu.Unlock()

					// Keep draining so the job does not block on a full pipe.
					_, _ = io.Copy(io.Discard, src)
				}
			}()

			lw := linewriter.New(func(line string) {
				e.forward(ctx, cl, events.Output{Stream: stream, PID: pid, Text: line})
			})

			if _, err := io.Copy(lw, src); err != nil && !errors.Is(err, os.ErrClosed) {
				ctxlog.Debug(ctx, "reading job output failed", "stream", stream.String(), "error", err)
			}

			lw.Flush()
		}()
	}

	go func() {
		select {
		case <-ctx.Done():
			killPs(ctx, ps)
			close(killed)
		case <-done:
		}
	}()

	state, waitErr := ps.Wait()
	finished = true

	close(done)

	wasKilled := interrupted(state, killed)
	if wasKilled {
		// Descendants of the shell may still hold the pipes open.
		_ = rOut.Close()
		_ = rErr.Close()
	}

	readers.Wait()

	out := backend.Outcome{PID: pid}

	switch {
	case wasKilled:
		out.Status, out.ExitCode, out.Err = runfile.StatusError, -1, ErrKilled
	case panicErr != nil:
		out.Status, out.ExitCode, out.Err = runfile.StatusError, -1, panicErr
	case waitErr != nil:
		out.Status, out.ExitCode, out.Err = runfile.StatusError, -1, waitErr
	default:
		out.ExitCode = state.ExitCode()
		out.Status = statusForExit(out.ExitCode)

		if out.Status == runfile.StatusError {
			out.Err = ErrNotExecutable
		}
	}

	ctxlog.Debug(ctx, "process finished", "pid", pid, "exit", out.ExitCode, "status", out.Status.String())

	return out
}

// interrupted reports whether the process was killed before it exited on its own.
// A kill that lands after a normal exit does not count, and the output still buffered in the pipes is read.
func interrupted(state *os.ProcessState, killed <-chan struct{}) bool {
	select {
	case <-killed:
		return state == nil || !state.Exited()
	default:
		return false
	}
}

func statusForExit(code int) runfile.Status {
	switch code {
	case 0:
		return runfile.StatusDone
	case exitCannotExecute, exitNotFound:
		return runfile.StatusError
	default:
		return runfile.StatusFailed
	}
}

// forward prints an output line and passes it to the backend.
func (e *Executor) forward(ctx context.Context, cl *backend.Claim, o events.Output) {
	if o.Stream != events.StreamForked {
		e.report(events.Event{Type: events.EventOutput, Job: cl.Job, Host: cl.Owner.Host, PID: o.PID, Output: o})
	}

	if err := e.Backend.Report(ctx, cl, o); err != nil {
		ctxlog.Debug(ctx, "output not passed to backend", "stream", o.Stream.String(), "error", err)
	}
}

func (e *Executor) report(ev events.Event) {
	if e.Reporter == nil {
		return
	}

	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	e.Reporter.Report(ev)
}

func killPs(ctx context.Context, ps *os.Process) {
	if err := ps.Kill(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			ctxlog.Debug(ctx, "process already done", "pid", ps.Pid)
			return
		}

		ctxlog.Error(ctx, "process kill error", "pid", ps.Pid, "error", err)

		return
	}

	ctxlog.Info(ctx, "process killed", "pid", ps.Pid)
}
