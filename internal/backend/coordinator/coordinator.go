// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package coordinator owns a run file for the lifetime of a server and arbitrates claims from
// remote sessions and local workers.
//
// The coordinator holds an exclusive record lock on the run file from Open to Close, so filesystem-mode
// workers wait while it runs and a second coordinator on the same file is refused. Every transaction
// still re-reads the file, so edits made by an operator between transactions are observed.
package coordinator

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

var (
	// ErrAlreadyServed is returned by Open when another process or coordinator holds the run file.
	ErrAlreadyServed = errors.New("run file is already held by another server or worker")
	// ErrAlreadyCommitted is returned when a lease is committed again with a different status.
	ErrAlreadyCommitted = errors.New("lease already committed with another status")
	// ErrNoOwner is returned when claiming without identifying the owner.
	ErrNoOwner = errors.New("claim without owner")
)

// Options configures a Coordinator.
type Options struct {
	// Retry makes failed and errored jobs claimable.
	Retry bool
	// Sink receives the output block of every committed job. Nil disables aggregation.
	Sink aggregator.Sink
}

type lease struct {
	claim backend.Claim
}

// Coordinator serializes every transaction on a run file behind one mutex.
type Coordinator struct {
	h         *flock.Handle
	store     *runfile.Store
	retry     bool
	collector *aggregator.Collector

	mu     sync.Mutex
	leases map[string]*lease
	done   map[string]runfile.Status
	closed bool
}

// heldLock is the store's lock while the coordinator holds the file: callers already hold Coordinator.mu.
type heldLock struct{}

func (heldLock) Lock(ctx context.Context) error { return ctx.Err() }

func (heldLock) Unlock() error { return nil }

// Open opens the run file at path and takes it for the lifetime of the coordinator.
func Open(ctx context.Context, path string, opts Options) (*Coordinator, error) {
	h, err := flock.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open run file: %w", err)
	}

	if err := h.TryHold(); err != nil {
		_ = h.Close()

		if errors.Is(err, flock.ErrLocked) {
			return nil, errors.Join(ErrAlreadyServed, err)
		}

		return nil, err //nolint:wrapcheck
	}

	c := &Coordinator{
		h:         h,
		store:     runfile.NewStore(h, heldLock{}),
		retry:     opts.Retry,
		collector: aggregator.NewCollector(opts.Sink),
		leases:    make(map[string]*lease),
		done:      make(map[string]runfile.Status),
	}

	err = c.store.View(ctx, func(rf *runfile.RunFile) error {
		for _, j := range rf.Running() {
			ctxlog.Warn(ctx, "job already marked running, it will not be claimed",
				"job", j.Number, "command", j.Command, "file", h.Path())
		}

		return nil
	})
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	return c, nil
}

// Path returns the absolute path of the run file.
func (c *Coordinator) Path() string {
	return c.h.Path()
}

// Claim marks the next claimable job as running for owner and grants a lease on it.
func (c *Coordinator) Claim(ctx context.Context, owner runfile.Owner) (*backend.Claim, error) {
	if owner.IsZero() {
		return nil, ErrNoOwner
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, backend.ErrClosed
	}

	var job runfile.Job

	err := c.store.Update(ctx, func(tx *runfile.Tx) error {
		var err error
		job, err = tx.ClaimNext(owner, c.retry)

		return err
	})
	if err != nil {
		return nil, err
	}

	cl := backend.Claim{Job: job, Owner: owner, Lease: uuid.NewString()}
	c.leases[cl.Lease] = &lease{claim: cl}
	c.collector.Start(cl.Lease, job.Command, owner)

	ctxlog.Info(ctx, "claimed job", "job", job.Number, "host", owner.Host, "pid", owner.PID, "lease", cl.Lease)

	return &cl, nil
}

// Report records output for a live lease.
func (c *Coordinator) Report(leaseID string, o events.Output) error {
	if !c.Holds(leaseID) {
		return fmt.Errorf("%w: %s", backend.ErrUnknownLease, leaseID)
	}

	c.collector.Add(leaseID, o)

	return nil
}

// Commit writes the terminal status of the job held by a live lease.
// Committing a lease again with the status it was committed with succeeds without changing anything.
func (c *Coordinator) Commit(ctx context.Context, leaseID string, o backend.Outcome) error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return backend.ErrClosed
	}

	if st, ok := c.done[leaseID]; ok {
		c.mu.Unlock()

		if st != o.Status {
			return fmt.Errorf("%w: %s is %s", ErrAlreadyCommitted, leaseID, st)
		}

		return nil
	}

	l, ok := c.leases[leaseID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", backend.ErrUnknownLease, leaseID)
	}

	err := c.store.Update(ctx, func(tx *runfile.Tx) error {
		return tx.Finish(l.claim.Job, o.Status)
	})
	if err != nil {
		if !errors.Is(err, runfile.ErrInvalidTerminal) {
			delete(c.leases, leaseID)
			c.collector.Discard(leaseID)
		}

		c.mu.Unlock()

		return err
	}

	delete(c.leases, leaseID)
	c.done[leaseID] = o.Status
	c.mu.Unlock()

	ctxlog.Info(ctx, "committed job", "job", l.claim.Job.Number, "status", o.Status.String(),
		"exit", o.ExitCode, "host", l.claim.Owner.Host, "pid", o.PID, "lease", leaseID)

	return c.collector.Finish(ctx, leaseID, o.ExitCode)
}

// Holds reports whether leaseID is a live lease.
func (c *Coordinator) Holds(leaseID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.leases[leaseID]

	return ok
}

// Live returns the number of claims not yet committed.
func (c *Coordinator) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.leases)
}

// Snapshot returns a copy of the run file as currently on disk.
func (c *Coordinator) Snapshot(ctx context.Context) (*runfile.RunFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var res *runfile.RunFile

	err := c.store.View(ctx, func(rf *runfile.RunFile) error {
		res = rf
		return nil
	})

	return res, err
}

// Close releases the run file. Jobs still claimed stay marked running.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	if n := len(c.leases); n > 0 {
		ctxlog.Warn(context.Background(), "closing with uncommitted claims", "count", n, "file", c.h.Path())
	}

	return errors.Join(c.h.Release(), c.h.Close())
}

// Local returns a backend.Backend claiming from the coordinator as owner, for workers in the server process.
// Closing it does not close the coordinator.
func (c *Coordinator) Local(owner runfile.Owner) backend.Backend {
	return &local{c: c, owner: owner}
}

type local struct {
	c     *Coordinator
	owner runfile.Owner
}

func (l *local) Claim(ctx context.Context) (*backend.Claim, error) {
	return l.c.Claim(ctx, l.owner)
}

func (l *local) Report(_ context.Context, cl *backend.Claim, o events.Output) error {
	return l.c.Report(cl.Lease, o)
}

func (l *local) Commit(ctx context.Context, cl *backend.Claim, o backend.Outcome) error {
	return l.c.Commit(ctx, cl.Lease, o)
}

func (l *local) Close() error {
	return nil
}
