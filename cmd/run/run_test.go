// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

//go:build unix

package run

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matt-FFFFFF/linerun/cmd/cmdstate"
	"github.com/matt-FFFFFF/linerun/internal/ctxlog"
	"github.com/prashantv/gostub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
	"go.uber.org/goleak"
)

func TestRunCmd(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	runFile := filepath.Join(dir, "jobs.txt")
	logFile := filepath.Join(dir, "jobs.log")

	require.NoError(t, os.WriteFile(runFile, []byte(
		"# nightly batch\n"+
			". echo one\n"+
			"d echo already done\n"+
			". echo two >&2\n"+
			". exit 3\n"+
			"\n"), 0o600))
	require.NoError(t, os.WriteFile(logFile, nil, 0o600))

	var out bytes.Buffer

	exitCode := -1
	stubs := gostub.Stub(&cli.OsExiter, func(code int) { exitCode = code })
	stubs.StubFunc(&cmdstate.NotifySignals, make(chan os.Signal, 1))
	stubs.Stub(&RunCmd.Writer, &out)
	stubs.Stub(&RunCmd.ErrWriter, &out)
	defer stubs.Reset()

	ctx := ctxlog.New(context.Background(), ctxlog.Discard())
	err := RunCmd.Run(ctx, []string{"run", "--jobs", "2", "--logfile", logFile, "--shell", "/bin/sh", runFile})
	require.Error(t, err)
	assert.Equal(t, 1, exitCode)

	got, err := os.ReadFile(runFile)
	require.NoError(t, err)
	assert.Equal(t,
		"# nightly batch\n"+
			"d echo one\n"+
			"d echo already done\n"+
			"d echo two >&2\n"+
			"! exit 3\n"+
			"\n", string(got))

	log, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(log), ".-> "))
	assert.Contains(t, string(log), "): one\n")
	assert.Contains(t, string(log), "! stderr (")
	assert.Contains(t, string(log), `exit 3 "exit 3"`)
	assert.NotContains(t, string(log), "already done")

	assert.Contains(t, out.String(), "one")
}
