// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package pool keeps up to a fixed number of jobs running, claiming a new one whenever a slot frees up.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/matt-FFFFFF/linerun/internal/backend"
	"github.com/matt-FFFFFF/linerun/internal/ctxlog"
	"github.com/matt-FFFFFF/linerun/internal/runfile"
)

// Runner executes a claimed job and commits its outcome.
type Runner interface {
	Run(ctx context.Context, cl *backend.Claim) (backend.Outcome, error)
}

// Options configures a Pool.
type Options struct {
	// Jobs is the number of jobs run at once. Zero means the number of CPUs.
	Jobs int
	// OneOnly stops claiming once a job has finished successfully.
	OneOnly bool
}

// Summary counts the jobs a pool ran.
type Summary struct {
	Claimed int
	Done    int
	Failed  int
	Errored int
}

// OK reports whether every job that ran succeeded.
func (s Summary) OK() bool {
	return s.Failed == 0 && s.Errored == 0
}

// String implements the Stringer interface for Summary.
func (s Summary) String() string {
	return fmt.Sprintf("%d claimed, %d done, %d failed, %d errored", s.Claimed, s.Done, s.Failed, s.Errored)
}

// Pool runs jobs claimed from a backend.
type Pool struct {
	backend backend.Backend
	runner  Runner
	jobs    int
	oneOnly bool

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a pool.
func New(b backend.Backend, r Runner, opts Options) *Pool {
	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}

	return &Pool{
		backend: b,
		runner:  r,
		jobs:    jobs,
		oneOnly: opts.OneOnly,
		stop:    make(chan struct{}),
	}
}

// Size returns the number of jobs run at once.
func (p *Pool) Size() int {
	return p.jobs
}

// Stop makes the pool stop claiming. Running jobs are left to finish. It is safe to call more than once.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *Pool) stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// Run claims and runs jobs until nothing is left to claim, Stop is called, ctx is done or a claim fails.
// It returns once every job it started has been committed.
// The error aggregates the claim failure and every commit failure.
func (p *Pool) Run(ctx context.Context) (Summary, error) {
	var (
		sem     = make(chan struct{}, p.jobs)
		wg      sync.WaitGroup
		mu      sync.Mutex
		summary Summary
		errs    *multierror.Error
	)

	ctxlog.Debug(ctx, "pool starting", "jobs", p.jobs, "oneOnly", p.oneOnly)

claim:
	for {
		select {
		case sem <- struct{}{}:
		case <-p.stop:
			break claim
		case <-ctx.Done():
			break claim
		}

		if p.stopped() || ctx.Err() != nil {
			<-sem
			break
		}

		cl, err := p.backend.Claim(ctx)
		if err != nil {
			<-sem

			if !errors.Is(err, backend.ErrExhausted) {
				ctxlog.Error(ctx, "claim failed, no more jobs will be started", "error", err)

				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("claim: %w", err))
				mu.Unlock()
			}

			break
		}

		mu.Lock()
		summary.Claimed++
		mu.Unlock()

		wg.Add(1)

		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			out, err := p.runner.Run(ctx, cl)

			mu.Lock()
			defer mu.Unlock()

			switch out.Status {
			case runfile.StatusDone:
				summary.Done++
			case runfile.StatusFailed:
				summary.Failed++
			default:
				summary.Errored++
			}

			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("job %d: %w", cl.Job.Number, err))
			}

			if p.oneOnly && out.Status == runfile.StatusDone {
				p.Stop()
			}
		}()
	}

	wg.Wait()

	ctxlog.Debug(ctx, "pool drained", "summary", summary.String())

	return summary, errs.ErrorOrNil()
}
