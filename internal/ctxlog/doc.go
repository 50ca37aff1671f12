// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package ctxlog carries a *slog.Logger in a context.Context.
//
// Diagnostics go to stderr so they never mix with job output on stdout.
// The level comes from the LINERUN_LOG_LEVEL environment variable and defaults to WARN.
package ctxlog
