// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package signalbroker

import (
	"context"
	"os"
	"os/signal"

	"github.com/matt-FFFFFF/linerun/internal/ctxlog"
)

// Watch handles signals arriving on sigCh until ctx is done.
// The first signal calls drain, which should stop new work from starting.
// A second signal of a type already seen calls cancel, which should stop running work, and Watch returns.
// On return sigCh no longer receives notifications.
func Watch(ctx context.Context, sigCh chan os.Signal, drain func(), cancel context.CancelFunc) {
	defer signal.Stop(sigCh)

	seen := make(map[os.Signal]struct{})

	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-sigCh:
			if !ok {
				return
			}

			if _, dup := seen[sig]; dup {
				ctxlog.Warn(ctx, "watchdog", "detail", "received second signal of type, terminating running jobs", "signal", sig.String())
				cancel()

				return
			}

			if len(seen) == 0 {
				ctxlog.Warn(ctx, "watchdog", "detail", "received signal, no new jobs will start", "signal", sig.String())
				drain()
			}

			seen[sig] = struct{}{}
		}
	}
}
