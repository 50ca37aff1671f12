// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package main is the entry point for the linerun command-line application.
package main

import (
	"context"
	"os"

	"github.com/matt-FFFFFF/linerun/cmd"
	"github.com/matt-FFFFFF/linerun/internal/ctxlog"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = ctxlog.New(ctx, ctxlog.DefaultLogger)

	// Termination signals are handled by the subcommands, which drain their workers before exiting.
	err := cmd.RootCmd.Run(ctx, os.Args) // Exit codes are handled by the cli framework

	cancel()

	if err != nil {
		ctxlog.Error(ctx, "command execution failed", "error", err)
		os.Exit(1)
	}

	ctxlog.Debug(ctx, "command completed successfully")
}
