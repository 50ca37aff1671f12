// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package executor

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/matt-FFFFFF/linerun/internal/ctxlog"
)

const (
	goosWindows          = "windows"
	commandSwitchWindows = "/C"
	commandSwitchUnix    = "-c"
	winSystem32          = "System32"
	cmdExe               = "cmd.exe"
	binSh                = "/bin/sh"
	winSystemRootEnv     = "SystemRoot"
	shellEnv             = "SHELL"
)

// DefaultShell returns the interpreter used to run job commands, including its command switch.
// It is $SHELL -c, falling back to /bin/sh, or cmd.exe /C on Windows.
func DefaultShell(ctx context.Context) []string {
	if runtime.GOOS == goosWindows {
		systemRoot := os.Getenv(winSystemRootEnv)
		if systemRoot == "" {
			systemRoot = `C:\Windows`
		}

		return []string{fmt.Sprintf(`%s\%s\%s`, systemRoot, winSystem32, cmdExe), commandSwitchWindows}
	}

	if shell := os.Getenv(shellEnv); shell != "" {
		ctxlog.Debug(ctx, "using SHELL environment variable", "shell", shell)
		return []string{shell, commandSwitchUnix}
	}

	return []string{binSh, commandSwitchUnix}
}

// ShellFromString builds an interpreter from a configured shell.
// A bare path gets the platform command switch appended; a value with arguments is used as given.
func ShellFromString(shell string) []string {
	fields := strings.Fields(shell)

	switch {
	case len(fields) == 0:
		return nil
	case len(fields) > 1:
		return fields
	case runtime.GOOS == goosWindows:
		return []string{fields[0], commandSwitchWindows}
	default:
		return []string{fields[0], commandSwitchUnix}
	}
}
