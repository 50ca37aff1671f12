// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

//go:build unix

package serve

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/matt-FFFFFF/linerun/cmd/cmdstate"
	"github.com/matt-FFFFFF/linerun/cmd/work"
	"github.com/matt-FFFFFF/linerun/internal/backend/coordinator"
	"github.com/matt-FFFFFF/linerun/internal/backend/netbackend"
	"github.com/matt-FFFFFF/linerun/internal/ctxlog"
	"github.com/matt-FFFFFF/linerun/internal/pool"
	"github.com/prashantv/gostub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
	"go.uber.org/goleak"
)

const testToken = "ABCDEFGH12345678"

func quietCtx() context.Context {
	return ctxlog.New(context.Background(), ctxlog.Discard())
}

func TestServeAndWork(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	runFile := filepath.Join(dir, "jobs.run")
	logFile := filepath.Join(dir, "jobs.log")

	require.NoError(t, os.WriteFile(runFile, []byte(". echo one\n# skip\n. echo two\n. exit 4\n"), 0o600))
	require.NoError(t, os.WriteFile(logFile, nil, 0o600))

	sink, closeSink, err := cmdstate.OpenSink(logFile)
	require.NoError(t, err)

	defer closeSink() //nolint:errcheck

	ctx := quietCtx()

	coord, err := coordinator.Open(ctx, runFile, coordinator.Options{Sink: sink})
	require.NoError(t, err)

	defer coord.Close() //nolint:errcheck

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	sigs := make(chan os.Signal, 1)

	var out bytes.Buffer

	exitCode := 0
	stubs := gostub.StubFunc(&cmdstate.NotifySignals, sigs)
	stubs.Stub(&cli.OsExiter, func(code int) { exitCode = code })
	stubs.Stub(&work.WorkCmd.Writer, &out)
	stubs.Stub(&work.WorkCmd.ErrWriter, &out)
	defer stubs.Reset()

	type result struct {
		sum pool.Summary
		err error
	}

	served := make(chan result, 1)

	go func() {
		sum, err := serve(ctx, netbackend.NewServer(coord, testToken), coord, ln, nil)
		served <- result{sum, err}
	}()

	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
	err = work.WorkCmd.Run(ctx, []string{
		"work", "--port", port, "--token", testToken, "--jobs", "2", "--shell", "/bin/sh", "127.0.0.1",
	})
	require.Error(t, err)
	assert.Equal(t, 1, exitCode)

	got, err := os.ReadFile(runFile)
	require.NoError(t, err)
	assert.Equal(t, "d echo one\n# skip\nd echo two\n! exit 4\n", string(got))

	sigs <- os.Interrupt

	select {
	case r := <-served:
		require.NoError(t, r.err)
		assert.Equal(t, pool.Summary{}, r.sum)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop after a signal")
	}

	log, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(log), ".-> echo one")
	assert.Contains(t, string(log), `exit 4 "exit 4"`)
}

func TestServeCmdRefusesExistingTokenFile(t *testing.T) {
	dir := t.TempDir()
	runFile := filepath.Join(dir, "jobs.run")
	tokenFile := filepath.Join(dir, "linerun.token")

	require.NoError(t, os.WriteFile(runFile, []byte(". echo one\n"), 0o600))
	require.NoError(t, os.WriteFile(tokenFile, []byte("OLDTOKEN\n"), 0o600))

	var out bytes.Buffer

	exitCode := 0
	stubs := gostub.Stub(&cli.OsExiter, func(code int) { exitCode = code })
	stubs.Stub(&ServeCmd.Writer, &out)
	stubs.Stub(&ServeCmd.ErrWriter, &out)
	defer stubs.Reset()

	err := ServeCmd.Run(quietCtx(), []string{"serve", "--token-file", tokenFile, runFile})
	require.Error(t, err)
	assert.Equal(t, 1, exitCode)

	got, err := os.ReadFile(tokenFile)
	require.NoError(t, err)
	assert.Equal(t, "OLDTOKEN\n", string(got))
	assert.NotContains(t, out.String(), "Token for linerun work")
}
