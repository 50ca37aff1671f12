// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package backend defines how workers claim jobs from a run file and commit their outcome,
// independently of whether the run file is shared through a filesystem lock or a network server.
package backend

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/matt-FFFFFF/linerun/internal/events"
	"github.com/matt-FFFFFF/linerun/internal/runfile"
)

var (
	// ErrExhausted is returned by Claim when no claimable job is left.
	ErrExhausted = runfile.ErrExhausted
	// ErrUnknownLease is returned when reporting or committing a claim the backend does not know.
	ErrUnknownLease = errors.New("unknown lease")
	// ErrClosed is returned when using a backend after Close.
	ErrClosed = errors.New("backend is closed")
)

// Hostname resolves the name of this host. It is a variable so tests can stub it.
var Hostname = os.Hostname

// Claim is the proof that a worker holds a job. Only the holder may commit it.
type Claim struct {
	Job   runfile.Job
	Owner runfile.Owner
	Lease string
}

// String implements the Stringer interface for Claim.
func (c *Claim) String() string {
	return fmt.Sprintf("%s lease %s by %s", c.Job, c.Lease, c.Owner)
}

// Outcome is the result of executing a claimed job.
type Outcome struct {
	Status   runfile.Status
	ExitCode int
	PID      int // pid of the job process, 0 if it never started
	Err      error
}

// Backend is the capability shared by every way of coordinating workers.
type Backend interface {
	// Claim atomically marks the next claimable job as running and returns the claim.
	// It returns ErrExhausted when nothing is left to claim.
	Claim(ctx context.Context) (*Claim, error)
	// Report passes one line of job output to the backend for aggregation.
	Report(ctx context.Context, c *Claim, o events.Output) error
	// Commit writes the terminal status of a claimed job. It must be called exactly once per claim.
	Commit(ctx context.Context, c *Claim, o Outcome) error
	// Close releases the resources of the backend.
	Close() error
}

// LocalOwner identifies this process as a job owner.
func LocalOwner() (runfile.Owner, error) {
	host, err := Hostname()
	if err != nil {
		return runfile.Owner{}, fmt.Errorf("resolve hostname: %w", err)
	}

	return runfile.Owner{Host: host, PID: os.Getpid()}, nil
}
