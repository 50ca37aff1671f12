// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

//go:build unix

package executor

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/matt-FFFFFF/linerun/internal/backend"
	"github.com/matt-FFFFFF/linerun/internal/ctxlog"
	"github.com/matt-FFFFFF/linerun/internal/events"
	"github.com/matt-FFFFFF/linerun/internal/runfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var sh = []string{"/bin/sh", "-c"}

type fakeBackend struct {
	mu         sync.Mutex
	outputs    []events.Output
	commits    []backend.Outcome
	commitErr  error
	panicOnOut bool
}

func (f *fakeBackend) Claim(context.Context) (*backend.Claim, error) {
	return nil, backend.ErrExhausted
}

func (f *fakeBackend) Report(_ context.Context, _ *backend.Claim, o events.Output) error {
	if f.panicOnOut && o.Stream == events.StreamStdout {
		panic("backend exploded")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.outputs = append(f.outputs, o)

	return nil
}

func (f *fakeBackend) Commit(ctx context.Context, _ *backend.Claim, o backend.Outcome) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.commits = append(f.commits, o)

	return f.commitErr
}

func (f *fakeBackend) Close() error { return nil }

func (f *fakeBackend) lines(s events.Stream) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var res []string

	for _, o := range f.outputs {
		if o.Stream == s {
			res = append(res, o.Text)
		}
	}

	return res
}

func claim(command string) *backend.Claim {
	return &backend.Claim{
		Job:   runfile.Job{Number: 1, Command: command, Status: runfile.StatusRunning},
		Owner: runfile.Owner{Host: "node1", PID: 99},
		Lease: "L1",
	}
}

func run(t *testing.T, ctx context.Context, e *Executor, command string) backend.Outcome {
	t.Helper()

	out, err := e.Run(ctx, claim(command))
	require.NoError(t, err)

	return out
}

func quietCtx() context.Context {
	return ctxlog.New(context.Background(), ctxlog.Discard())
}

func TestRun_Success(t *testing.T) {
	be := &fakeBackend{}
	rec := &events.Recorder{}
	dir := t.TempDir()
	e := &Executor{Backend: be, Reporter: rec, Shell: sh, Dir: dir}

	out := run(t, quietCtx(), e, "echo hello; echo world; printf partial")

	assert.Equal(t, runfile.StatusDone, out.Status)
	assert.Zero(t, out.ExitCode)
	assert.NotZero(t, out.PID)
	assert.NoError(t, out.Err)

	assert.Equal(t, []string{"hello", "world", "partial"}, be.lines(events.StreamStdout))
	assert.Equal(t, []string{dir}, be.lines(events.StreamForked))
	require.Len(t, be.commits, 1)
	assert.Equal(t, out, be.commits[0])

	assert.Len(t, rec.OfType(events.EventClaimed), 1)
	require.Len(t, rec.OfType(events.EventStarted), 1)
	assert.Equal(t, out.PID, rec.OfType(events.EventStarted)[0].PID)
	assert.Len(t, rec.OfType(events.EventOutput), 3)
	assert.Len(t, rec.OfType(events.EventFinished), 1)
	assert.Len(t, rec.OfType(events.EventCommitted), 1)
}

func TestRun_Outcomes(t *testing.T) {
	testCases := []struct {
		name     string
		shell    []string
		command  string
		status   runfile.Status
		exitCode int
		err      error
	}{
		{name: "nonzero exit", shell: sh, command: "exit 3", status: runfile.StatusFailed, exitCode: 3},
		{name: "command not found", shell: sh, command: "no-such-command-linerun-test", status: runfile.StatusError, exitCode: 127, err: ErrNotExecutable},
		{name: "not executable", shell: sh, command: "/dev/null", status: runfile.StatusError, exitCode: 126, err: ErrNotExecutable},
		{name: "missing interpreter", shell: []string{"/nonexistent/shell", "-c"}, command: "true", status: runfile.StatusError, exitCode: -1, err: ErrCouldNotStartProcess},
		{name: "killed by signal", shell: sh, command: "kill -9 $$", status: runfile.StatusFailed, exitCode: -1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			be := &fakeBackend{}
			e := &Executor{Backend: be, Shell: tc.shell, Dir: t.TempDir()}

			out := run(t, quietCtx(), e, tc.command)

			assert.Equal(t, tc.status, out.Status)
			assert.Equal(t, tc.exitCode, out.ExitCode)

			if tc.err != nil {
				assert.ErrorIs(t, out.Err, tc.err)
			}

			require.Len(t, be.commits, 1, "exactly one commit")
		})
	}
}

func TestRun_Stderr(t *testing.T) {
	be := &fakeBackend{}
	rec := &events.Recorder{}
	e := &Executor{Backend: be, Reporter: rec, Shell: sh, Dir: t.TempDir()}

	run(t, quietCtx(), e, "echo oops >&2")

	assert.Equal(t, []string{"oops"}, be.lines(events.StreamStderr))
	assert.Empty(t, be.lines(events.StreamStdout))
}

func TestRun_StdinIsNullDevice(t *testing.T) {
	be := &fakeBackend{}
	e := &Executor{Backend: be, Shell: sh, Dir: t.TempDir()}

	out := run(t, quietCtx(), e, "cat; echo eof")

	assert.Equal(t, runfile.StatusDone, out.Status)
	assert.Equal(t, []string{"eof"}, be.lines(events.StreamStdout))
}

func TestRun_CancelKillsJob(t *testing.T) {
	be := &fakeBackend{}
	e := &Executor{Backend: be, Shell: sh, Dir: t.TempDir()}

	ctx, cancel := context.WithCancel(quietCtx())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	out := run(t, ctx, e, "sleep 30")

	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, runfile.StatusError, out.Status)
	assert.ErrorIs(t, out.Err, ErrKilled)
	require.Len(t, be.commits, 1, "commit must not see the cancelled context")
}

func TestRun_PanicIsCommittedAsError(t *testing.T) {
	be := &fakeBackend{panicOnOut: true}
	e := &Executor{Backend: be, Shell: sh, Dir: t.TempDir()}

	out := run(t, quietCtx(), e, "echo boom; echo after")

	assert.Equal(t, runfile.StatusError, out.Status)
	assert.ErrorIs(t, out.Err, ErrPanic)
	require.Len(t, be.commits, 1)
}

type panicReporter struct{}

func (panicReporter) Report(e events.Event) {
	if e.Type == events.EventStarted {
		panic("reporter exploded")
	}
}

func TestRun_PanicAfterStartStopsProcess(t *testing.T) {
	be := &fakeBackend{}
	e := &Executor{Backend: be, Reporter: panicReporter{}, Shell: sh, Dir: t.TempDir()}

	start := time.Now()
	out := run(t, quietCtx(), e, "sleep 30")

	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, runfile.StatusError, out.Status)
	assert.ErrorIs(t, out.Err, ErrPanic)
	require.Len(t, be.commits, 1)
}

func TestRun_CommitErrorIsReturned(t *testing.T) {
	be := &fakeBackend{commitErr: errors.New("lost")}
	e := &Executor{Backend: be, Shell: sh, Dir: t.TempDir()}

	out, err := e.Run(quietCtx(), claim("true"))
	require.Error(t, err)
	assert.Equal(t, runfile.StatusDone, out.Status)
}

func TestDefaultShell(t *testing.T) {
	t.Setenv("SHELL", "/bin/bash")
	assert.Equal(t, []string{"/bin/bash", "-c"}, DefaultShell(quietCtx()))

	t.Setenv("SHELL", "")
	assert.Equal(t, []string{"/bin/sh", "-c"}, DefaultShell(quietCtx()))

	assert.Equal(t, []string{"/bin/zsh", "-c"}, ShellFromString("/bin/zsh"))
	assert.Nil(t, ShellFromString(""))
	assert.Nil(t, ShellFromString("  "))
	assert.Equal(t, []string{"/bin/bash", "-eu", "-c"}, ShellFromString("/bin/bash -eu -c"))
}

func TestInterrupted(t *testing.T) {
	start := func(script string) *os.Process {
		ps, err := os.StartProcess(sh[0], append(sh, script), &os.ProcAttr{})
		require.NoError(t, err)

		return ps
	}

	closed := make(chan struct{})
	close(closed)

	exited, err := start("exit 0").Wait()
	require.NoError(t, err)

	ps := start("sleep 10")
	require.NoError(t, ps.Kill())

	signalled, err := ps.Wait()
	require.NoError(t, err)

	assert.False(t, interrupted(exited, make(chan struct{})), "no kill")
	assert.False(t, interrupted(exited, closed), "kill after a normal exit")
	assert.True(t, interrupted(signalled, closed), "killed")
	assert.True(t, interrupted(nil, closed), "wait failed after kill")
}
