// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package fsbackend coordinates workers through an exclusive record lock on the run file itself.
// Any number of processes on any number of hosts sharing the file through a filesystem with working
// POSIX record locks can claim from it.
package fsbackend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/matt-FFFFFF/linerun/internal/aggregator"
	"github.com/matt-FFFFFF/linerun/internal/backend"
	"github.com/matt-FFFFFF/linerun/internal/ctxlog"
	"github.com/matt-FFFFFF/linerun/internal/events"
	"github.com/matt-FFFFFF/linerun/internal/flock"
	"github.com/matt-FFFFFF/linerun/internal/runfile"
)

// ErrOpen is returned when the run file cannot be opened.
var ErrOpen = errors.New("could not open run file")

// Options configures a Backend.
type Options struct {
	// Owner identifies this worker. The zero value means backend.LocalOwner.
	Owner runfile.Owner
	// Retry makes failed and errored jobs claimable.
	Retry bool
	// Sink receives the output block of every committed job. Nil disables aggregation.
	Sink aggregator.Sink
}

// Backend implements backend.Backend over a run file on a shared filesystem.
type Backend struct {
	h         *flock.Handle
	store     *runfile.Store
	owner     runfile.Owner
	retry     bool
	collector *aggregator.Collector

	mu     sync.Mutex
	leases map[string]struct{}
	closed bool
}

var _ backend.Backend = (*Backend)(nil)

// Open opens the run file at path and reports any job already marked running.
func Open(ctx context.Context, path string, opts Options) (*Backend, error) {
	owner := opts.Owner
	if owner.IsZero() {
		o, err := backend.LocalOwner()
		if err != nil {
			return nil, errors.Join(ErrOpen, err)
		}

		owner = o
	}

	h, err := flock.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Join(ErrOpen, err)
	}

	b := &Backend{
		h:         h,
		store:     runfile.NewStore(h, h),
		owner:     owner,
		retry:     opts.Retry,
		collector: aggregator.NewCollector(opts.Sink),
		leases:    make(map[string]struct{}),
	}

	if err := b.surfaceRunning(ctx); err != nil {
		_ = h.Close()
		return nil, err
	}

	return b, nil
}

// Owner returns the identity this backend claims jobs with.
func (b *Backend) Owner() runfile.Owner {
	return b.owner
}

func (b *Backend) surfaceRunning(ctx context.Context) error {
	return b.store.View(ctx, func(rf *runfile.RunFile) error {
		for _, j := range rf.Running() {
			ctxlog.Warn(ctx, "job already marked running, it will not be claimed",
				"job", j.Number, "command", j.Command, "file", b.h.Path())
		}

		return nil
	})
}

// Claim implements backend.Backend.
func (b *Backend) Claim(ctx context.Context) (*backend.Claim, error) {
	if b.isClosed() {
		return nil, backend.ErrClosed
	}

	var job runfile.Job

	err := b.store.Update(ctx, func(tx *runfile.Tx) error {
		var err error
		job, err = tx.ClaimNext(b.owner, b.retry)

		return err
	})
	if err != nil {
		return nil, err
	}

	c := &backend.Claim{Job: job, Owner: b.owner, Lease: uuid.NewString()}

	b.mu.Lock()
	b.leases[c.Lease] = struct{}{}
	b.mu.Unlock()

	b.collector.Start(c.Lease, job.Command, b.owner)
	ctxlog.Debug(ctx, "claimed job", "job", job.Number, "lease", c.Lease)

	return c, nil
}

// Report implements backend.Backend.
func (b *Backend) Report(_ context.Context, c *backend.Claim, o events.Output) error {
	if !b.holds(c.Lease) {
		return fmt.Errorf("%w: %s", backend.ErrUnknownLease, c.Lease)
	}

	b.collector.Add(c.Lease, o)

	return nil
}

// Commit implements backend.Backend. The output block is appended after the run file was updated.
func (b *Backend) Commit(ctx context.Context, c *backend.Claim, o backend.Outcome) error {
	b.mu.Lock()
	_, ok := b.leases[c.Lease]
	delete(b.leases, c.Lease)
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", backend.ErrUnknownLease, c.Lease)
	}

	err := b.store.Update(ctx, func(tx *runfile.Tx) error {
		return tx.Finish(c.Job, o.Status)
	})
	if err != nil {
		b.collector.Discard(c.Lease)
		return err
	}

	ctxlog.Debug(ctx, "committed job", "job", c.Job.Number, "status", o.Status.String(), "lease", c.Lease)

	return b.collector.Finish(ctx, c.Lease, o.ExitCode)
}

// Close implements backend.Backend. Claims still open are left running in the file.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true

	if n := len(b.leases); n > 0 {
		ctxlog.Warn(context.Background(), "closing with uncommitted claims", "count", n, "file", b.h.Path())
	}

	return b.h.Close()
}

func (b *Backend) holds(lease string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.leases[lease]

	return ok
}

func (b *Backend) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.closed
}
